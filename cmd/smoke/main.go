// Command smoke drives a running adminserver and locationserv through a
// login, refresh and location round trip and exits non-zero on any failure.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"eostre.org/internal/client"
	"eostre.org/internal/ids"
	"eostre.org/internal/location"
)

func main() {
	var (
		adminURL    string
		locationURL string
		username    string
		password    string
		timeout     time.Duration
	)
	cmd := &cobra.Command{
		Use:           "smoke",
		Short:         "Smoke test a running eostre deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				password = os.Getenv("EOSTRE_SMOKE_PASSWORD")
			}
			if password == "" {
				return errors.New("missing password: pass --password or set EOSTRE_SMOKE_PASSWORD")
			}
			ctx, cancel := client.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return run(ctx, cmd, adminURL, locationURL, username, password)
		},
	}
	cmd.Flags().StringVar(&adminURL, "admin-url", envOr("EOSTRE_ADMIN_URL", "http://localhost:8080"), "adminserver base URL")
	cmd.Flags().StringVar(&locationURL, "location-url", envOr("EOSTRE_LOCATION_URL", "http://localhost:8081"), "locationserv base URL")
	cmd.Flags().StringVar(&username, "user", "demo", "username or email to log in with")
	cmd.Flags().StringVar(&password, "password", "", "password (env EOSTRE_SMOKE_PASSWORD)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "overall deadline")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "smoke:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cobra.Command, adminURL, locationURL, username, password string) error {
	admin, err := client.New(adminURL)
	if err != nil {
		return err
	}
	tok, err := admin.Login(ctx, username, password, "")
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	me, err := admin.Me(ctx)
	if err != nil {
		return fmt.Errorf("me: %w", err)
	}
	if me.AccountID != tok.AccountID {
		return fmt.Errorf("me reports account %s, token was issued for %s", me.AccountID, tok.AccountID)
	}
	if tok, err = admin.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	locs, err := client.New(locationURL, client.WithTokens(tok))
	if err != nil {
		return err
	}
	created, err := locs.CreateLocation(ctx, location.Input{
		Name:     "smoke-" + ids.New(),
		GeoPoint: location.GeoPoint{Type: "Point", Coordinates: []float64{0, 0}},
	})
	if err != nil {
		return fmt.Errorf("create location: %w", err)
	}
	got, err := locs.ListLocations(ctx, created.ID)
	if err != nil {
		return fmt.Errorf("list location: %w", err)
	}
	if len(got) != 1 || got[0].AccountID != tok.AccountID {
		return fmt.Errorf("location %s not readable in account %s", created.ID, tok.AccountID)
	}
	if _, err := locs.DeleteLocation(ctx, created.ID); err != nil {
		return fmt.Errorf("delete location: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "smoke test passed: user=%s account=%s location=%s\n", me.Username, tok.AccountID, created.ID)
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
