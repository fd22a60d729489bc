package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"blockci-gh/internal/config"
	"blockci-gh/internal/ctxlog"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X blockci-gh/internal/cli.Version=...".
var Version = "dev"

type options struct {
	configPath string
	logLevel   string
	cfg        *config.Config
	logger     *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cmd := newRootCmd(stderr)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd.ExecuteContext(ctx)
}

func newRootCmd(logOut io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "blockci-gh",
		Short:         "GitHub App CI status server with a signed delivery ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.LogLevel = opts.logLevel
			}
			opts.cfg = cfg
			opts.logger = ctxlog.New(cfg.LogLevel, logOut)
			cmd.SetContext(ctxlog.WithLogger(cmd.Context(), opts.logger))
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default "+config.DefaultPath+")")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newServeCmd(opts),
		newRunCmd(opts),
		newWorkflowCmd(opts),
		newLedgerCmd(opts),
		newKeysCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "blockci-gh %s\n", Version)
			},
		},
	)
	return root
}
