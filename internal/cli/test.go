package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vietddude/valuator/internal/control"
	"github.com/vietddude/valuator/internal/core/domain"
)

var testSalvage string

var testCmd = &cobra.Command{
	Use:   "test [plate] [mileage]",
	Short: "Valuate a single vehicle with the full retry policy, without persisting",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runTest,
}

func init() {
	testCmd.Flags().StringVar(&testSalvage, "salvage", "", "salvage category (CAT N, CAT S)")
	rootCmd.AddCommand(testCmd)
}

func runTest(cmd *cobra.Command, args []string) error {
	rec := domain.Record{ID: "test", Plate: args[0], SalvageCategory: domain.SalvageCategory(testSalvage)}
	if len(args) == 2 {
		m, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid mileage: %w", err)
		}
		rec.Mileage = m
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := control.ValuateOne(ctx, cfg, rec)
	if err != nil {
		return err
	}

	if !out.Succeeded() {
		fmt.Printf("%s: failed (%s) after %d attempt(s): %s\n", rec.NormalizedPlate(), out.Reason, out.Attempts, out.FailureMessage())
		return &exitError{code: 1, err: errors.New(string(out.Reason))}
	}

	v := domain.NewValuation(out.Amount, rec.SalvageCategory)
	if v.OriginalAmount != nil {
		fmt.Printf("%s: £%.2f (%s, site £%.2f) after %d attempt(s)\n",
			rec.NormalizedPlate(), v.Amount, rec.SalvageCategory, *v.OriginalAmount, out.Attempts)
	} else {
		fmt.Printf("%s: £%.2f after %d attempt(s)\n", rec.NormalizedPlate(), v.Amount, out.Attempts)
	}
	slog.Debug("Test valuation", "mileage_submitted", rec.FormMileage())
	return nil
}
