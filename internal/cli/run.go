package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/valuator/internal/control"
	redisclient "github.com/vietddude/valuator/internal/infra/redis"
	"github.com/vietddude/valuator/internal/valuation/batch"
)

var (
	runMigrate bool
	runDryRun  bool
	runNoLock  bool
	runSeed    []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process the pending queue until it is empty",
	RunE:  runBatch,
}

func init() {
	runCmd.Flags().BoolVar(&runMigrate, "migrate", false, "apply database migrations before running")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "use an in-memory queue instead of PostgreSQL")
	runCmd.Flags().BoolVar(&runNoLock, "no-lock", false, "skip the Redis run lock")
	runCmd.Flags().StringSliceVar(&runSeed, "seed", nil, "dry-run records as PLATE[:MILEAGE[:SALVAGE]]")
	rootCmd.AddCommand(runCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	seed, err := control.ParseSeed(runSeed)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := control.New(ctx, cfg, control.Options{
		DryRun:  runDryRun,
		Seed:    seed,
		Migrate: runMigrate,
		NoLock:  runNoLock,
	})
	if err != nil {
		slog.Error("Failed to initialize valuator", "error", err)
		return err
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer closeCancel()
		if err := app.Close(closeCtx); err != nil {
			slog.Error("Error during shutdown", "error", err)
		}
	}()

	// First signal finishes the current record, second aborts it, third exits.
	sigChan := make(chan os.Signal, 3)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		count := 0
		for sig := range sigChan {
			count++
			switch count {
			case 1:
				slog.Info("Received signal, finishing current record...", "signal", sig)
				app.Stop()
			case 2:
				slog.Warn("Received second signal, aborting current record", "signal", sig)
				cancel()
			default:
				slog.Error("Forced exit")
				os.Exit(130)
			}
		}
	}()

	slog.Info("Valuator started", "config", cfgPath, "run_id", app.RunID(), "dry_run", runDryRun)
	summary, err := app.Run(ctx)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, batch.ErrAborted):
		slog.Error("Batch aborted", append([]any{"error", err}, summary.LogArgs()...)...)
		return &exitError{code: 2, err: err}
	case errors.Is(err, redisclient.ErrLockHeld):
		slog.Error("Another valuator is already running", "error", err)
		return &exitError{code: 3, err: err}
	case errors.Is(err, context.Canceled):
		slog.Warn("Batch cancelled, interrupted record left pending")
		return &exitError{code: 130, err: err}
	default:
		slog.Error("Batch failed", "error", err)
		return err
	}
}
