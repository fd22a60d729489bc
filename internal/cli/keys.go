package cli

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"blockci-gh/internal/security"

	"github.com/spf13/cobra"
)

func newKeysCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the ledger signing keys",
	}

	var (
		dir   string
		force bool
	)
	gen := &cobra.Command{
		Use:   "generate",
		Short: "Generate an ed25519 keypair for signing ledger blocks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = opts.cfg.Ledger.KeyDir
			}
			pubPath := filepath.Join(dir, security.PublicKeyFile)
			privPath := filepath.Join(dir, security.PrivateKeyFile)
			if _, err := os.Stat(pubPath); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to replace it", pubPath)
			}

			pub, priv, err := security.GenerateKeyPair()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
			if err := security.SaveKeyPair(pub, priv, pubPath, privPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s\npublic key: %s\n", pubPath, privPath, hex.EncodeToString(pub))
			return nil
		},
	}
	gen.Flags().StringVar(&dir, "dir", "", "key directory (default ledger.key_dir)")
	gen.Flags().BoolVar(&force, "force", false, "overwrite an existing keypair")

	cmd.AddCommand(gen)
	return cmd
}
