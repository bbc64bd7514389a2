// Package cartctl implements administrative maintenance utilities for the
// cart journal and read model: outbox inspection and recovery, and read
// model rebuilds.
package cartctl

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/tkarolak/cartledger/internal/cart/projection"
	"github.com/tkarolak/cartledger/internal/cart/storage/sqlite"
	entrypoint "github.com/tkarolak/cartledger/internal/platform/cmd"
)

// Config holds cartctl configuration.
type Config struct {
	EventsDBPath      string `env:"CARTLEDGER_EVENTS_DB_PATH" envDefault:"data/cartledger-events.db"`
	ProjectionsDBPath string `env:"CARTLEDGER_PROJECTIONS_DB_PATH" envDefault:"data/cartledger-projections.db"`
}

// ParseConfig loads cartctl configuration from the environment.
func ParseConfig() (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run dispatches one cartctl subcommand and writes its report to out.
func Run(ctx context.Context, cfg Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: cartctl <outbox|requeue|rebuild> [flags]")
	}

	events, err := sqlite.OpenEvents(cfg.EventsDBPath)
	if err != nil {
		return fmt.Errorf("open events store: %w", err)
	}
	defer events.Close()

	switch args[0] {
	case "outbox":
		return runOutbox(ctx, events, args[1:], out)
	case "requeue":
		return runRequeue(ctx, events, args[1:], out)
	case "rebuild":
		return runRebuild(ctx, cfg, events, args[1:], out)
	default:
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}

func runOutbox(ctx context.Context, events *sqlite.EventStore, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("cartctl outbox", flag.ContinueOnError)
	jsonOutput := fs.Bool("json", false, "output the summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	summary, err := events.GetOutboxSummary(ctx)
	if err != nil {
		return fmt.Errorf("outbox summary: %w", err)
	}
	if *jsonOutput {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(summary)
	}
	fmt.Fprintf(out, "pending=%d processing=%d failed=%d dead=%d\n",
		summary.PendingCount, summary.ProcessingCount, summary.FailedCount, summary.DeadCount)
	if summary.OldestCartID != "" {
		fmt.Fprintf(out, "oldest waiting: cart=%s version=%d due=%s\n",
			summary.OldestCartID, summary.OldestVersion, summary.OldestDueAt.Format("2006-01-02T15:04:05.000Z07:00"))
	}
	return nil
}

func runRequeue(ctx context.Context, events *sqlite.EventStore, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("cartctl requeue", flag.ContinueOnError)
	limit := fs.Int("limit", 100, "max dead rows to requeue")
	if err := fs.Parse(args); err != nil {
		return err
	}

	requeued, err := events.RequeueDeadOutboxRows(ctx, *limit, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("requeue dead rows: %w", err)
	}
	fmt.Fprintf(out, "requeued %d dead outbox rows\n", requeued)
	return nil
}

func runRebuild(ctx context.Context, cfg Config, events *sqlite.EventStore, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("cartctl rebuild", flag.ContinueOnError)
	cartID := fs.String("cart", "", "rebuild one cart's read model row")
	all := fs.Bool("all", false, "rebuild every cart in the journal")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*cartID == "") == !*all {
		return fmt.Errorf("exactly one of -cart or -all is required")
	}

	readModel, err := sqlite.OpenProjections(cfg.ProjectionsDBPath)
	if err != nil {
		return fmt.Errorf("open projections store: %w", err)
	}
	defer readModel.Close()

	rebuilder := projection.NewRebuilder(events, projection.NewApplier(readModel))
	if *all {
		rebuilt, err := rebuilder.RebuildAll(ctx)
		if err != nil {
			return fmt.Errorf("rebuild all: %w", err)
		}
		fmt.Fprintf(out, "rebuilt %d carts\n", rebuilt)
		return nil
	}
	if err := rebuilder.Rebuild(ctx, *cartID); err != nil {
		return fmt.Errorf("rebuild %s: %w", *cartID, err)
	}
	fmt.Fprintf(out, "rebuilt cart %s\n", *cartID)
	return nil
}
