// Package server holds the process plumbing shared by the eostre binaries:
// configuration bootstrap, store selection and the listener lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"eostre.org/internal/obs"
)

const defaultShutdownTimeout = 10 * time.Second

// Runner serves HTTP and, when configured, gRPC until its context ends, then
// shuts both down gracefully.
type Runner struct {
	HTTP *http.Server
	// HTTPListener overrides HTTP.Addr when set.
	HTTPListener net.Listener

	GRPC     *grpc.Server
	GRPCAddr string

	ShutdownTimeout time.Duration
}

// Run blocks until ctx is cancelled or a listener fails.
func (r *Runner) Run(ctx context.Context) error {
	if r.HTTP == nil {
		return errors.New("server: http server is required")
	}
	log := obs.Named("server")

	httpLn := r.HTTPListener
	if httpLn == nil {
		var err error
		if httpLn, err = net.Listen("tcp", r.HTTP.Addr); err != nil {
			return fmt.Errorf("listen http %s: %w", r.HTTP.Addr, err)
		}
	}
	var grpcLn net.Listener
	if r.GRPC != nil && r.GRPCAddr != "" {
		var err error
		if grpcLn, err = net.Listen("tcp", r.GRPCAddr); err != nil {
			_ = httpLn.Close()
			return fmt.Errorf("listen grpc %s: %w", r.GRPCAddr, err)
		}
	}

	// Long-lived handlers such as event streams watch the request context,
	// which is cancelled as soon as shutdown begins.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	if r.HTTP.BaseContext == nil {
		r.HTTP.BaseContext = func(net.Listener) context.Context { return baseCtx }
	}
	r.HTTP.RegisterOnShutdown(cancelBase)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http listening", zap.String("addr", httpLn.Addr().String()))
		if err := r.HTTP.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})

	if grpcLn != nil {
		g.Go(func() error {
			log.Info("grpc listening", zap.String("addr", grpcLn.Addr().String()))
			if err := r.GRPC.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc serve: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		timeout := r.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		sctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		log.Info("shutting down", zap.Duration("timeout", timeout))
		obs.SetReady(false)
		if grpcLn != nil {
			stopGRPC(sctx, r.GRPC)
		}
		if err := r.HTTP.Shutdown(sctx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	if err == nil {
		log.Info("stopped")
	}
	return err
}

// stopGRPC drains in-flight RPCs and forces the stop once ctx expires.
func stopGRPC(ctx context.Context, s *grpc.Server) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.Stop()
		<-done
	}
}
