package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"eostre.org/internal/audit"
	"eostre.org/internal/auth"
	"eostre.org/internal/config"
	"eostre.org/internal/httpapi"
	"eostre.org/internal/mail"
	"eostre.org/internal/obs"
	"eostre.org/internal/server"
	"eostre.org/internal/store/memory"
	"eostre.org/internal/tokenevent"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		inMemory     bool
		demoUser     string
		demoPassword string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP API (and gRPC health when grpc_addr is set)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if inMemory {
				cfg.Storage.Driver = "memory"
			}
			if err := cfg.Validate(true); err != nil {
				return fmt.Errorf("config: %w", err)
			}
			server.InitObservability(cfg, serviceName, version, commit)
			defer func() { _ = obs.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, demoUser, demoPassword)
		},
	}
	cmd.Flags().BoolVar(&inMemory, "memory", false, "use in-memory storage instead of postgres")
	cmd.Flags().StringVar(&demoUser, "demo-user", "demo", "username seeded into in-memory storage")
	cmd.Flags().StringVar(&demoPassword, "demo-password", "", "password for the seeded demo user; empty skips seeding")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, demoUser, demoPassword string) error {
	log := obs.Named("adminserver")

	store, closeStore, err := server.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	if ms, ok := store.(*memory.Store); ok && demoPassword != "" {
		demo, err := memory.SeedDemo(ctx, ms, demoUser, demoPassword)
		if err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
		log.Info("demo data seeded", zap.String("account_id", demo.Account.ID), zap.String("user", demo.User.Name))
	}

	codec, err := server.NewCodec(cfg, true)
	if err != nil {
		return err
	}
	sessions, err := auth.NewService(store, codec,
		auth.WithAccessTTL(cfg.AccessTTL()),
		auth.WithRefreshTTL(cfg.RefreshTTL()))
	if err != nil {
		return err
	}
	admin, err := auth.NewAdminService(store)
	if err != nil {
		return err
	}

	events, closeEvents, err := openTokenEvents(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeEvents()

	validatorOpts := []auth.ValidatorOption{auth.WithValidationTTL(cfg.ValidationTTL())}
	if cfg.Email.Enabled {
		validatorOpts = append(validatorOpts, auth.WithMailer(mail.NewSMTPSender(mail.Config{
			Host:               cfg.Email.Host,
			Port:               cfg.Email.Port,
			From:               cfg.Email.From,
			Username:           cfg.Email.Username,
			Password:           cfg.Email.Password,
			TLSMode:            cfg.Email.TLS,
			InsecureSkipVerify: cfg.Email.InsecureSkipVerify,
		})))
	} else {
		log.Warn("email delivery disabled; validation links are returned in API responses")
	}

	proxies, err := httpapi.ParseTrustedProxies(cfg.RateLimit.TrustedProxies)
	if err != nil {
		return err
	}

	ready := httpapi.ReadyProbe{Store: store}
	api, err := httpapi.NewAdmin(httpapi.AdminDeps{
		Sessions: sessions,
		Codec:    codec,
		Admin:    admin,
		Emails:   auth.NewEmailValidator(store, events, cfg.App.URL, validatorOpts...),
		Audit:    audit.NewRecorder(store),
		Ready:    ready,
		Version:  version,
		Cookies: httpapi.CookieConfig{
			Name:   cfg.Cookie.Name,
			Domain: cfg.Cookie.Domain,
			Secure: cfg.SecureCookies(),
		},
		CORS: cfg.Server.CORSAllowedOrigins,
		RateLimit: httpapi.RateLimitConfig{
			Enabled:        cfg.RateLimit.Enabled,
			Burst:          cfg.RateLimit.Burst,
			PerSecond:      cfg.RateLimit.PerSecond,
			TrustedProxies: proxies,
		},
	})
	if err != nil {
		return err
	}

	runner := &server.Runner{
		HTTP: &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           api.Handler(),
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		GRPCAddr:        cfg.Server.GRPCAddr,
		ShutdownTimeout: cfg.ShutdownTimeout(),
	}
	if cfg.Server.GRPCAddr != "" {
		runner.GRPC = httpapi.NewGRPCServer(ready, serviceName, codec)
	}

	log.Info("starting",
		zap.String("addr", cfg.Server.Addr),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("token_events", cfg.TokenEvents.Backend),
		zap.Duration("access_ttl", cfg.AccessTTL()))
	obs.SetReady(true)
	return runner.Run(ctx)
}

func openTokenEvents(ctx context.Context, cfg *config.Config) (auth.TokenEventStore, func(), error) {
	if cfg.TokenEvents.Backend != "redis" {
		return tokenevent.NewMemory(), func() {}, nil
	}
	r := cfg.TokenEvents.Redis
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	store, err := tokenevent.DialRedis(dialCtx, r.Addr, r.Password, r.DB, r.Prefix)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}
