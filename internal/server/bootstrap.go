package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"eostre.org/internal/auth"
	"eostre.org/internal/config"
	"eostre.org/internal/location"
	"eostre.org/internal/obs"
	"eostre.org/internal/store/memory"
	"eostre.org/internal/store/pg"
)

// Store is what both binaries need from persistence.
type Store interface {
	auth.Store
	location.Store
	Ping(ctx context.Context) error
}

// LoadConfig reads envFile into the environment when it exists, then loads
// the YAML config at path with EOSTRE_* overrides applied.
func LoadConfig(path, envFile string) (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if path == "" {
		path = os.Getenv("EOSTRE_CONFIG")
	}
	return config.Load(path)
}

// InitObservability sets up the shared logger, the metric collectors and the
// build_info gauge.
func InitObservability(cfg *config.Config, service, version, commit string) *zap.Logger {
	l := obs.InitLogger(obs.LogConfig{
		Env:     cfg.App.Env,
		Level:   cfg.App.LogLevel,
		Service: service,
		Version: version,
	})
	obs.Init()
	obs.InitBuildInfo(obs.BuildInfo{Service: service, Version: version, Commit: commit})
	return l
}

// OpenStore opens the configured storage driver. The returned func releases it.
func OpenStore(ctx context.Context, cfg *config.Config) (Store, func() error, error) {
	switch cfg.Storage.Driver {
	case "memory":
		obs.Named("server").Warn("using in-memory storage; data is lost on restart")
		return memory.New(), func() error { return nil }, nil
	case "postgres":
		st, err := pg.Open(cfg.Storage.DSN, pg.Pool{
			MaxOpenConns:    cfg.Storage.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := st.Ping(ctx); err != nil {
			// Readiness reports the outage; the process still starts.
			obs.Named("server").Warn("postgres not reachable at startup", zap.Error(err))
		}
		return st, st.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}

// NewCodec loads the key pair and builds the token codec. Verifying binaries
// pass signing=false and never touch the private key.
func NewCodec(cfg *config.Config, signing bool) (*auth.Codec, error) {
	keys, err := cfg.LoadKeys(signing)
	if err != nil {
		return nil, fmt.Errorf("load keys: %w", err)
	}
	return auth.NewCodec(keys, cfg.CodecOptions()...)
}
