package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/bookmark-archiver/internal/app"
	"github.com/JakeFAU/bookmark-archiver/internal/config"
)

// Runner is the slice of app.App the serve command drives. It lets tests
// inject a fake service.
type Runner interface {
	Run(ctx context.Context) error
	Close(ctx context.Context) error
}

var newRunner = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runner, error) {
	return app.New(ctx, cfg, app.Options{Logger: logger})
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP command surface and the event workers",
		Args:  cobra.NoArgs,
		RunE:  runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := newRunner(ctx, e.cfg, e.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := runner.Close(closeCtx); cerr != nil {
			e.logger.Warn("failed to close services", zap.Error(cerr))
		}
	}()

	if err := runner.Run(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	e.logger.Info("shutdown complete")
	return nil
}
