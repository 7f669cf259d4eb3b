// Command adminserver issues and rotates session tokens and serves the
// account administration API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"eostre.org/internal/config"
	"eostre.org/internal/server"
)

const serviceName = "eostre-adminserver"

// Set through -ldflags at build time.
var (
	version = "0.1.0"
	commit  = ""
)

type rootOptions struct {
	configPath string
	envFile    string
}

func (o *rootOptions) load() (*config.Config, error) {
	return server.LoadConfig(o.configPath, o.envFile)
}

func main() {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "adminserver",
		Short:         "Eostre admin server: login, token rotation and account administration",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config.yaml (env EOSTRE_CONFIG)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config, if present")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newMigrateCmd(opts))
	root.AddCommand(newKeygenCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "adminserver:", err)
		os.Exit(1)
	}
}
