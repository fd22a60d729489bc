package cli

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"blockci-gh/internal/ledger"
	"blockci-gh/internal/security"

	"github.com/spf13/cobra"
)

func newLedgerCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and verify the signed ledger",
	}

	open := func(args []string) (*ledger.Ledger, error) {
		path := opts.cfg.Ledger.Path
		if len(args) == 1 {
			path = args[0]
		}
		// Open creates missing files; inspecting a typo should fail instead.
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
		return ledger.Open(path)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "inspect [ledger.jsonl]",
		Short: "List ledger blocks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := open(args)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, b := range l.Blocks() {
				fmt.Fprintf(w, "Index=%d Time=%s Stage=%s Step=%s Agent=%s Hash=%s Result=%s\n",
					b.Index, b.Timestamp, b.Stage, b.Step, b.AgentID, b.ShortHash(), b.Result)
			}
			return nil
		},
	})

	var pubHex string
	verify := &cobra.Command{
		Use:   "verify [ledger.jsonl]",
		Short: "Verify hashes, links and signatures against the trusted key",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, err := trustedKey(opts, pubHex)
			if err != nil {
				return err
			}
			l, err := open(args)
			if err != nil {
				return err
			}
			if err := l.VerifyWith(pub); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "❌ Verification FAILED: %v\n", err)
				return errors.New("ledger verification failed")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Ledger verification OK (%d blocks)\n", l.NextIndex())
			return nil
		},
	}
	verify.Flags().StringVar(&pubHex, "pubkey", "", "hex ed25519 public key of the signer (default ledger.key_dir/"+security.PublicKeyFile+")")
	cmd.AddCommand(verify)
	return cmd
}

func trustedKey(opts *options, pubHex string) (ed25519.PublicKey, error) {
	if pubHex == "" {
		path := filepath.Join(opts.cfg.Ledger.KeyDir, security.PublicKeyFile)
		pub, err := security.LoadPublicKey(path)
		if err != nil {
			return nil, fmt.Errorf("load trusted key (or pass --pubkey): %w", err)
		}
		return pub, nil
	}
	raw, err := hex.DecodeString(strings.TrimSpace(pubHex))
	if err != nil {
		return nil, fmt.Errorf("--pubkey: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("--pubkey: want %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}
