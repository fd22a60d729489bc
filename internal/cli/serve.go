package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blockci-gh/internal/auth"
	"blockci-gh/internal/ctxlog"
	"blockci-gh/internal/handler"
	"blockci-gh/internal/ledger"
	"blockci-gh/internal/recorder"
	"blockci-gh/internal/security"
	"blockci-gh/internal/storage"
	"blockci-gh/internal/webhook"
	"blockci-gh/internal/workflow"

	"github.com/spf13/cobra"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
}

func serve(ctx context.Context, opts *options) error {
	cfg := opts.cfg
	logger := ctxlog.FromContext(ctx)

	if err := cfg.Validate(); err != nil {
		return err
	}
	wf, err := workflow.Load(cfg.Workflow.Path)
	if err != nil {
		return err
	}
	appCfg, err := cfg.AppConfig()
	if err != nil {
		return err
	}

	pub, priv, created, err := security.EnsureKeyPair(cfg.Ledger.KeyDir)
	if err != nil {
		return fmt.Errorf("init ledger keys: %w", err)
	}
	if created {
		logger.Info("generated new ledger keys", "dir", cfg.Ledger.KeyDir)
	}
	l, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	if err := l.VerifyWith(pub); err != nil {
		logger.Warn("existing ledger fails verification", "path", cfg.Ledger.Path, "err", err)
	}

	rec := recorder.New(storage.NewLogStorage(cfg.Storage.Dir), l, pub, priv)
	h := handler.New(wf, cfg.Workflow.StatusContext, cfg.Workflow.TargetURL)

	router, err := webhook.Router(ctx, webhook.Config{
		App:           appCfg,
		WebhookSecret: []byte(cfg.GitHub.WebhookSecret),
	}, auth.NewGitHubApp(), h, rec)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen, "workflow", cfg.Workflow.Path, "jobs", len(wf.Jobs))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
