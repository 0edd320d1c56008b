// Command orgctl administers organizations directly against the configured
// store, without going through the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/WailSalutem-Health-Care/tenant-service/internal/app"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/config"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/logging"
)

type globalFlags struct {
	configPath string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "orgctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "orgctl",
		Short:         "Manage tenant organizations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newApplyCommand(flags),
		newGetCommand(flags),
		newDeleteCommand(flags),
		newRenameCommand(flags),
		newTokenCommand(flags),
		newSweepCommand(flags),
	)
	return cmd
}

// withApp loads configuration, opens the backends and runs fn.
func withApp(ctx context.Context, flags *globalFlags, fn func(a *app.App) error) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(flags.logLevel, "console")
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.Warn("Failed to close backends", zap.Error(err))
		}
	}()
	return fn(a)
}
