package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"

	"github.com/whit3rabbit/specsync/internal/config"
	"github.com/whit3rabbit/specsync/internal/logging"
	"github.com/whit3rabbit/specsync/internal/observability"
	"github.com/whit3rabbit/specsync/pkg/observerapi"
	"github.com/whit3rabbit/specsync/pkg/specstore"
	"github.com/whit3rabbit/specsync/pkg/syncservice"
)

func serveCmd() *cobra.Command {
	var tracing bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync service against a workspace, processing the queue until stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, tracing)
		},
	}
	cmd.Flags().String("workspace-dir", "", "workspace directory (default: config's workspace, then cwd)")
	cmd.Flags().BoolVar(&tracing, "tracing", false, "export spans to stdout")
	return cmd
}

func runServe(cmd *cobra.Command, tracing bool) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if dir, _ := cmd.Flags().GetString("workspace-dir"); dir != "" {
		cfg.Workspace = dir
	}

	log := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, ServiceName: cfg.Logging.ServiceName})

	var tracer = observability.NoopTracer()
	var shutdownTracing func(context.Context) error = func(context.Context) error { return nil }
	if tracing {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}
		tp := observability.NewTracerProvider(exporter)
		tracer = tp.Tracer("specsyncd")
		shutdownTracing = func(ctx context.Context) error { return observability.Shutdown(ctx, tp) }
	}

	metrics := observability.NewMetrics()

	storeDir := cfg.Workspace + "/.specsync/specs"
	store, err := specstore.Open(storeDir, log)
	if err != nil {
		return fmt.Errorf("open spec store: %w", err)
	}

	svc := syncservice.New(cfg, log, tracer, specstore.Handler(store), metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Initialize(ctx, cfg.Workspace); err != nil {
		return fmt.Errorf("initialize sync service: %w", err)
	}

	var observer *observerapi.Server
	if cfg.Observer.Enabled {
		observer, err = observerapi.New(cfg.Observer, svc, metrics, log)
		if err != nil {
			return fmt.Errorf("start observer api: %w", err)
		}
		token, err := observer.Token(24 * time.Hour)
		if err != nil {
			return fmt.Errorf("mint observer token: %w", err)
		}
		fmt.Fprintln(os.Stderr, color.CyanString("observer api listening on %s", cfg.Observer.Listen))
		fmt.Fprintln(os.Stderr, color.YellowString("observer api bearer token (valid 24h): %s", token))

		go func() {
			if err := observer.Serve(ctx); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("observer api stopped")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Queue.ProcessingInterval())
	defer ticker.Stop()

	fmt.Fprintln(os.Stderr, color.GreenString("specsyncd serving workspace %s", cfg.Workspace))

	for {
		select {
		case <-ticker.C:
			if err := svc.Process(ctx, cfg.Queue.MaxBatchSize); err != nil {
				log.Error().Err(err).Msg("process batch failed")
			}
		case <-sigCh:
			fmt.Fprintln(os.Stderr, color.YellowString("shutting down..."))
			cancel()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := svc.Dispose(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("dispose failed")
			}
			_ = shutdownTracing(shutdownCtx)
			shutdownCancel()
			return nil
		}
	}
}
