package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaharia-lab/dispatchd/internal/api"
	"github.com/shaharia-lab/dispatchd/internal/build"
	"github.com/shaharia-lab/dispatchd/internal/config"
	"github.com/shaharia-lab/dispatchd/internal/dispatch"
	"github.com/shaharia-lab/dispatchd/internal/eventbus"
	"github.com/shaharia-lab/dispatchd/internal/logger"
	"github.com/shaharia-lab/dispatchd/internal/metrics"
	"github.com/shaharia-lab/dispatchd/internal/scheduler"
	"github.com/shaharia-lab/dispatchd/internal/server"
	"github.com/shaharia-lab/dispatchd/internal/service"
	"github.com/shaharia-lab/dispatchd/internal/telemetry"
)

const eventBusWorkers = 2

// NewServeCmd returns the "serve" subcommand that runs the dispatcher and
// its HTTP API.
func NewServeCmd(cfg *config.AppConfig) *cobra.Command {
	var port int
	var logStderr bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the notification dispatcher and REST API",
		Long: `Start the dispatchd HTTP server and the background dispatcher. Pending
notifications left over from a previous run are re-queued on startup.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// CLI flags override env config.
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}

			serverURL := fmt.Sprintf("http://localhost:%d", cfg.Port)
			logFile := logger.SystemLogPath(cfg.LogDir())
			printBanner(build.Version, serverURL, logFile, cfg.ProvidersFile())

			if err := runServe(cfg, logStderr); err != nil {
				fmt.Fprintf(os.Stderr, "An error occurred: %v\nPlease check the logs at: %s\n", err, logFile)
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", cfg.Port, "HTTP server port (overrides PORT env var)")
	cmd.Flags().BoolVar(&logStderr, "log-stderr", false, "Mirror logs to standard error")

	return cmd
}

func runServe(cfg *config.AppConfig, logStderr bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    "dispatchd",
		ServiceVersion: build.Version,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       true,
		Registerer:     m.Registry(),
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	sysLogger, logCloser, err := logger.NewSystemLogger(cfg.LogDir(), cfg.SlogLevel(), logger.Options{
		Stderr: logStderr,
		Extra:  tel.LogHandler(),
	})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logCloser.Close() }()

	sysLogger.Info("dispatchd starting",
		slog.Int("port", cfg.Port),
		slog.String("data_dir", cfg.DataDir),
		slog.String("version", build.Version),
		slog.String("commit", build.CommitSHA),
		slog.String("build_date", build.BuildDate),
	)

	db, store, err := openStore(cfg, sysLogger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	registry, err := loadRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	for _, p := range registry.Providers() {
		sysLogger.Info("provider registered", "type", p.Type, "provider", p.Name, "enabled", p.Enabled)
	}

	bus := eventbus.New(eventBusWorkers, sysLogger)
	defer bus.Close()
	bus.Subscribe(func(e eventbus.Event) {
		sysLogger.Debug("notification event", "event", e.Type, "payload", e.Payload)
	})

	processor, err := dispatch.New(dispatch.Config{
		Store:                store,
		Providers:            registry,
		Logger:               sysLogger,
		Metrics:              m,
		EventPublisher:       bus,
		Interval:             cfg.TickInterval,
		BatchSize:            cfg.BatchSize,
		StaleProcessingAfter: cfg.StaleProcessingAfter,
	})
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}

	notificationSvc := service.NewNotificationService(store, processor, registry, bus, m, sysLogger)

	maintenance, err := scheduler.New(scheduler.Config{
		Purger:        notificationSvc,
		Logger:        sysLogger,
		Retention:     cfg.Retention,
		RetentionCron: cfg.RetentionCron,
	})
	if err != nil {
		return fmt.Errorf("creating maintenance scheduler: %w", err)
	}

	if err := processor.Start(ctx); err != nil {
		return fmt.Errorf("starting dispatcher: %w", err)
	}
	if err := maintenance.Start(ctx); err != nil {
		return errors.Join(fmt.Errorf("starting maintenance scheduler: %w", err), processor.Stop())
	}
	if next, ok := maintenance.NextRetentionRun(); ok {
		sysLogger.Info("retention sweep scheduled", "next_run", next, "retention", cfg.Retention)
	}

	apiSrv := api.New(notificationSvc, sysLogger)
	srv := server.New(apiSrv, server.Config{
		Port:           cfg.Port,
		AllowedOrigins: cfg.AllowedOrigins(),
		MetricsHandler: m.Handler(),
		Logger:         sysLogger,
	})

	sysLogger.Info("server ready", "url", fmt.Sprintf("http://localhost:%d", cfg.Port))
	runErr := srv.Run(ctx)

	// The HTTP server is down, so nothing new can be enqueued. Let the
	// in-flight batch finish before closing the store.
	stopErr := errors.Join(maintenance.Stop(), processor.Stop())
	if stopErr != nil {
		sysLogger.Error("shutdown incomplete", "error", stopErr)
	}
	sysLogger.Info("dispatchd stopped", "queued", processor.QueueDepth())
	return errors.Join(runErr, stopErr)
}
