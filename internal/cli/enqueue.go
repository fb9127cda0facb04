package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vietddude/valuator/internal/control"
	"github.com/vietddude/valuator/internal/infra/storage/postgres"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [PLATE[:MILEAGE[:SALVAGE]]...]",
	Short: "Add vehicles to the pending queue",
	Long: `Add vehicles to the pending queue. Ids already pending are skipped.
An id that was already valuated or failed drops that result and is retried.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runEnqueue,
}

var enqueuePrefix string

func init() {
	enqueueCmd.Flags().StringVar(&enqueuePrefix, "id-prefix", "", "prefix for generated ids (default: plate)")
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	records, err := control.ParseSeed(args)
	if err != nil {
		return err
	}
	for i := range records {
		if enqueuePrefix != "" {
			records[i].ID = fmt.Sprintf("%s-%d", enqueuePrefix, i+1)
		} else {
			records[i].ID = records[i].NormalizedPlate()
		}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()

	n, err := postgres.NewRecordRepo(db).Enqueue(ctx, records)
	if err != nil {
		return err
	}
	slog.Info("Records enqueued", "inserted", n, "skipped", len(records)-n)
	return nil
}
