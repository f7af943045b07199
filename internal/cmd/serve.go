package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/caretaker/internal/health"
	"github.com/felixgeelhaar/caretaker/internal/log"
	"github.com/felixgeelhaar/caretaker/internal/metrics"
	"github.com/felixgeelhaar/caretaker/internal/pipeline"
	"github.com/felixgeelhaar/caretaker/internal/scheduler"
	"github.com/felixgeelhaar/caretaker/internal/server"
	"github.com/felixgeelhaar/caretaker/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run caretaker as a service",
	Long: `Run caretaker as a long-lived service. Runs are triggered by the cron
schedule (schedule.cron) and by GitHub webhook deliveries on POST /webhook.
All triggers share one queue, so at most concurrency.max_workers repositories
are processed at a time.

Endpoints:
  POST /webhook        GitHub push and installation events
  GET  /health/live    Liveness probe
  GET  /health/ready   Readiness probe (GitHub API and provider checks)
  GET  /health/startup Startup probe
  GET  /metrics        Prometheus metrics

SIGINT or SIGTERM stops the schedule, drains HTTP connections and cancels
in-flight runs.`,
	RunE: runServe,
}

var (
	serveAddress    string
	serveNoSchedule bool
	serveRunOnStart bool
)

func init() {
	serveCmd.Flags().StringVar(&serveAddress, "address", "", "override server.address")
	serveCmd.Flags().BoolVar(&serveNoSchedule, "no-schedule", false, "only run on webhook deliveries")
	serveCmd.Flags().BoolVar(&serveRunOnStart, "run-on-start", false, "queue a run of the configured repositories at startup")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	reg, m := metrics.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a, err := newApp(ctx, cfg, logger, m, nil)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	pm := health.NewProbeManager(version.GetInfo().Version)
	pm.AddChecker(health.NewGitHubChecker(a.github))
	pm.AddChecker(health.NewProviderChecker(a.provider))
	pm.AddChecker(health.NewCheckFunc("cache", func(context.Context) *health.Result {
		st := a.cache.Stats()
		return health.Healthy("fingerprint cache").
			WithDetail("entries", st.Size).
			WithDetail("hits", st.Hits).
			WithDetail("misses", st.Misses)
	}))

	trigger := scheduler.NewTrigger(scheduler.DefaultTriggerBuffer, logger)

	address := cfg.Server.Address
	if serveAddress != "" {
		address = serveAddress
	}
	srv := server.New(pm, trigger, server.Config{
		Address:         address,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		WebhookSecret:   cfg.GitHub.WebhookSecret,
		Allowed:         server.AllowList(cfg.GitHub.Repositories),
		Gatherer:        reg,
	}, logger)

	// The trigger loop exits only when ctx is cancelled, so every return
	// below this point must cancel before waiting on loopDone.
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		trigger.Loop(ctx, a.scheduler, cfg.Concurrency.MaxWorkers, func(outcomes map[string]scheduler.Outcome) {
			logBatch(logger, outcomes)
		})
	}()

	var sched *cron.Cron
	if !serveNoSchedule {
		sched, err = startSchedule(cfg.Schedule.Cron, logger, func() {
			if err := trigger.Submit(cfg.Repositories()); err != nil {
				logger.WithError(err).Warn("scheduled run skipped")
			}
		})
		if err != nil {
			cancel()
			<-loopDone
			return err
		}
	}

	if serveRunOnStart {
		if err := trigger.Submit(cfg.Repositories()); err != nil {
			logger.WithError(err).Warn("startup run skipped")
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	logger.Info("caretaker serving",
		"version", version.GetInfo().Short(),
		"address", address,
		"schedule", cfg.Schedule.Cron,
		"repositories", len(cfg.Repositories()),
		"workers", cfg.Concurrency.MaxWorkers,
	)

	var runErr error
	select {
	case err := <-serverErr:
		runErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	if sched != nil {
		<-sched.Stop().Done()
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	cancel()
	<-loopDone
	return runErr
}

// startSchedule starts a cron scheduler calling fn on expr, a standard
// five-field expression.
func startSchedule(expr string, logger *log.Logger, fn func()) (*cron.Cron, error) {
	cl := cronLogger{logger.With("component", "schedule")}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(expr, fn); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	c.Start()

	if entries := c.Entries(); len(entries) > 0 {
		logger.Info("schedule started", "cron", expr, "next", entries[0].Next.Format(time.RFC3339))
	}
	return c, nil
}

// cronLogger adapts *log.Logger to cron.Logger.
type cronLogger struct {
	logger *log.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.WithError(err).Error(msg, keysAndValues...)
}

func logBatch(logger *log.Logger, outcomes map[string]scheduler.Outcome) {
	counts := map[pipeline.Outcome]int{}
	for _, o := range outcomes {
		counts[o.Status]++
	}
	logger.Info("batch finished",
		"repos", len(outcomes),
		"done", counts[pipeline.OutcomeDone],
		"degraded", counts[pipeline.OutcomeDegraded],
		"failed", counts[pipeline.OutcomeFailed],
	)
}
