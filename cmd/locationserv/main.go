// Command locationserv serves account scoped locations. It verifies tokens
// minted by adminserver with the public key only.
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

	"eostre.org/internal/config"
	"eostre.org/internal/httpapi"
	"eostre.org/internal/location"
	"eostre.org/internal/obs"
	"eostre.org/internal/server"
	"eostre.org/internal/stream"
)

const (
	serviceName  = "eostre-locationserv"
	streamBuffer = 64
)

var (
	version = "0.1.0"
	commit  = ""
)

func main() {
	var configPath, envFile string
	root := &cobra.Command{
		Use:           "locationserv",
		Short:         "Eostre location service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (env EOSTRE_CONFIG)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config, if present")

	var inMemory bool
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the location HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := server.LoadConfig(configPath, envFile)
			if err != nil {
				return err
			}
			if inMemory {
				cfg.Storage.Driver = "memory"
			}
			if err := cfg.Validate(false); err != nil {
				return fmt.Errorf("config: %w", err)
			}
			server.InitObservability(cfg, serviceName, version, commit)
			defer func() { _ = obs.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	serveCmd.Flags().BoolVar(&inMemory, "memory", false, "use in-memory storage instead of postgres")
	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "locationserv:", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := obs.Named("locationserv")

	store, closeStore, err := server.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	codec, err := server.NewCodec(cfg, false)
	if err != nil {
		return err
	}

	opts := []location.Option{location.WithHub(stream.New[location.Change](streamBuffer))}
	if cfg.MQTT.Broker != "" {
		pub, err := location.ConnectMQTT(location.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
			QoS:      byte(cfg.MQTT.QoS),
		})
		if err != nil {
			return err
		}
		defer pub.Close()
		opts = append(opts, location.WithPublisher(pub))
		log.Info("publishing location changes", zap.String("broker", cfg.MQTT.Broker), zap.String("topic", cfg.MQTT.Topic))
	}
	svc, err := location.NewService(store, opts...)
	if err != nil {
		return err
	}

	ready := httpapi.ReadyProbe{Store: store}
	api, err := httpapi.NewLocation(httpapi.LocationDeps{
		Locations:  svc,
		Codec:      codec,
		CookieName: cfg.Cookie.Name,
		Ready:      ready,
		Version:    version,
		CORS:       cfg.Server.CORSAllowedOrigins,
	})
	if err != nil {
		return err
	}

	runner := &server.Runner{
		HTTP: &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 15 * time.Second,
			// No write timeout: /location/stream holds the response open.
			IdleTimeout: 60 * time.Second,
		},
		GRPCAddr:        cfg.Server.GRPCAddr,
		ShutdownTimeout: cfg.ShutdownTimeout(),
	}
	if cfg.Server.GRPCAddr != "" {
		runner.GRPC = httpapi.NewGRPCServer(ready, serviceName, codec)
	}

	log.Info("starting", zap.String("addr", cfg.Server.Addr), zap.String("storage", cfg.Storage.Driver))
	obs.SetReady(true)
	return runner.Run(ctx)
}
