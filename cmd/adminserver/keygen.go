package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"eostre.org/internal/auth"
)

func newKeygenCmd() *cobra.Command {
	var (
		outDir string
		bits   int
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Write a new RSA key pair for token signing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			privPath := filepath.Join(outDir, "jwt_private.pem")
			pubPath := filepath.Join(outDir, "jwt_public.pem")
			if !force {
				for _, p := range []string{privPath, pubPath} {
					if _, err := os.Stat(p); err == nil {
						return fmt.Errorf("%s exists; pass --force to overwrite", p)
					} else if !errors.Is(err, fs.ErrNotExist) {
						return err
					}
				}
			}

			priv, pub, err := auth.GenerateKeyPEM(bits)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(privPath, priv, 0o600); err != nil {
				return err
			}
			if err := os.WriteFile(pubPath, pub, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "private key: %s\npublic key:  %s\n", privPath, pubPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "keys", "output directory")
	cmd.Flags().IntVar(&bits, "bits", 2048, "RSA key size")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}
