package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"eostre.org/internal/auth"
	"eostre.org/internal/migrate"
	"eostre.org/internal/obs"
	"eostre.org/internal/store/pg"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var (
		dsn             string
		servicePassword string
		serviceUser     string
	)

	withManager := func(cmd *cobra.Command, fn func(ctx context.Context, st *pg.Store, mgr *migrate.Manager) error) error {
		cfg, err := opts.load()
		if err != nil {
			return err
		}
		if dsn != "" {
			cfg.Storage.DSN = dsn
		}
		if cfg.Storage.DSN == "" {
			return errors.New("missing DSN: provide --dsn, storage.dsn or EOSTRE_PG_DSN")
		}
		obs.InitLogger(obs.LogConfig{Env: cfg.App.Env, Level: cfg.App.LogLevel, Service: serviceName})
		defer func() { _ = obs.Sync() }()

		st, err := pg.Open(cfg.Storage.DSN, pg.Pool{MaxOpenConns: 2, MaxIdleConns: 1})
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer st.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		migrations, seeds := migrate.Embedded()
		return fn(ctx, st, migrate.NewManager(st.DB(), migrations, seeds))
	}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or inspect the schema and demo seeds",
	}
	cmd.PersistentFlags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN (overrides config)")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, func(ctx context.Context, _ *pg.Store, mgr *migrate.Manager) error {
				return mgr.Up(ctx)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, func(ctx context.Context, _ *pg.Store, mgr *migrate.Manager) error {
				return mgr.Down(ctx)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, func(ctx context.Context, _ *pg.Store, mgr *migrate.Manager) error {
				history, err := mgr.Status(ctx)
				if err != nil {
					return err
				}
				for _, item := range history {
					fmt.Fprintln(cmd.OutOrStdout(), item)
				}
				return nil
			})
		},
	})

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the demo permissions, role, account and service user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, func(ctx context.Context, st *pg.Store, mgr *migrate.Manager) error {
				if err := mgr.Seed(ctx); err != nil {
					return err
				}
				if servicePassword == "" {
					return nil
				}
				hash, err := auth.HashPassword(servicePassword)
				if err != nil {
					return err
				}
				changed, err := st.SetPasswordHash(ctx, serviceUser, hash)
				if err != nil {
					return fmt.Errorf("set %s password: %w", serviceUser, err)
				}
				if !changed {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s already has a password; left unchanged\n", serviceUser)
				}
				return nil
			})
		},
	}
	seedCmd.Flags().StringVar(&servicePassword, "service-password", "", "password for the seeded service user (locked when empty)")
	seedCmd.Flags().StringVar(&serviceUser, "service-user", "location-sync", "name of the seeded service user")
	cmd.AddCommand(seedCmd)

	return cmd
}
