package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/whit3rabbit/specsync/internal/config"
	"github.com/whit3rabbit/specsync/internal/logging"
	"github.com/whit3rabbit/specsync/internal/observability"
	"github.com/whit3rabbit/specsync/pkg/specstore"
	"github.com/whit3rabbit/specsync/pkg/syncservice"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the current sync-state and queue counters for a workspace",
		RunE:  runStatus,
	}
}

// openService hydrates a Service against a workspace without starting the
// processing loop, for the one-shot status/enqueue/cleanup subcommands.
func openService() (*syncservice.Service, *config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, ServiceName: cfg.Logging.ServiceName})

	store, err := specstore.Open(cfg.Workspace+"/.specsync/specs", log)
	if err != nil {
		return nil, nil, fmt.Errorf("open spec store: %w", err)
	}
	svc := syncservice.New(cfg, log, observability.NoopTracer(), specstore.Handler(store), nil)
	if err := svc.Initialize(context.Background(), cfg.Workspace); err != nil {
		return nil, nil, fmt.Errorf("initialize sync service: %w", err)
	}
	return svc, cfg, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	svc, _, err := openService()
	if err != nil {
		return err
	}
	defer svc.Dispose(context.Background())

	state := svc.Status()
	stats := svc.QueueStats()
	conflicts := svc.Conflicts()

	bold := color.New(color.Bold)
	bold.Println("Sync State")
	fmt.Printf("  extension_online: %v\n", state.ExtensionOnline)
	fmt.Printf("  server_online:    %v\n", state.ServerOnline)
	fmt.Printf("  pending:          %d\n", state.PendingOperations)
	fmt.Printf("  in_progress:      %d\n", state.InProgressOperations)
	fmt.Printf("  completed:        %d\n", state.CompletedOperations)
	fmt.Printf("  failed:           %d\n", state.FailedOperations)
	fmt.Printf("  active_conflicts: %d\n", state.ActiveConflicts)

	bold.Println("\nQueue Stats")
	fmt.Printf("  total_processed: %d\n", stats.TotalProcessed)
	fmt.Printf("  success_count:   %d\n", stats.SuccessCount)
	fmt.Printf("  failure_count:   %d\n", stats.FailureCount)
	fmt.Printf("  avg_duration_ms: %.1f\n", stats.AverageProcessingTimeMs)

	if len(conflicts) > 0 {
		bold.Println("\nUnresolved Conflicts")
		for _, c := range conflicts {
			fmt.Printf("  [%s] %s — %s (severity=%s)\n", c.ID, c.Type, c.Description, c.Severity)
		}
	}
	return nil
}
