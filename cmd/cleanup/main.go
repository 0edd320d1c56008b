package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/WailSalutem-Health-Care/tenant-service/internal/app"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/config"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	dryRun := flag.Bool("dry-run", false, "list orphan namespaces without dropping them")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall time limit")
	flag.Parse()

	if err := run(*configPath, *dryRun, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "cleanup: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, dryRun bool, timeout time.Duration) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Info("Orphan namespace sweep starting",
		zap.Bool("dry_run", dryRun),
		zap.Duration("grace", cfg.Sweeper.Grace),
	)

	a, err := app.New(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	sweeper := a.Sweeper()
	sweeper.DryRun = dryRun

	result, err := sweeper.Sweep(ctx)
	if result != nil {
		logger.Info("Orphan namespace sweep finished",
			zap.Strings("orphans", result.Orphans),
			zap.Strings("dropped", result.Dropped),
		)
	}
	return err
}
