package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/spf13/cobra"

	"github.com/vietddude/valuator/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue sizes, schema version and host resources",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	counts, err := postgres.NewRecordRepo(db).Counts(ctx)
	if err != nil {
		return err
	}
	version, err := postgres.SchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "QUEUE\tRECORDS")
	_, _ = fmt.Fprintf(w, "pending\t%d\n", counts.Pending)
	_, _ = fmt.Fprintf(w, "valuated\t%d\n", counts.Valuated)
	_, _ = fmt.Fprintf(w, "failed\t%d\n", counts.Failed)
	_ = w.Flush()

	fmt.Printf("\nschema version: %d\n", version)

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		fmt.Printf("memory: %d MB available of %d MB (%.1f%% used)\n",
			vm.Available/1024/1024, vm.Total/1024/1024, vm.UsedPercent)
	}
	if cores, err := cpu.CountsWithContext(ctx, true); err == nil {
		fmt.Printf("cpus: %d\n", cores)
	}
	fmt.Printf("recycle: every %d records or at %d MB\n", cfg.Recycling.Threshold, cfg.Recycling.MaxMemoryMB)
	return nil
}
