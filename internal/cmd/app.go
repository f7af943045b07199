package cmd

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/caretaker/internal/cache"
	"github.com/felixgeelhaar/caretaker/internal/config"
	"github.com/felixgeelhaar/caretaker/internal/github"
	"github.com/felixgeelhaar/caretaker/internal/log"
	"github.com/felixgeelhaar/caretaker/internal/metrics"
	"github.com/felixgeelhaar/caretaker/internal/notify"
	"github.com/felixgeelhaar/caretaker/internal/pipeline"
	"github.com/felixgeelhaar/caretaker/internal/plugin"
	"github.com/felixgeelhaar/caretaker/internal/provider"
	"github.com/felixgeelhaar/caretaker/internal/scheduler"
	"github.com/felixgeelhaar/caretaker/internal/stage"
	"github.com/felixgeelhaar/caretaker/internal/telemetry"
)

// app holds the wired process: one cache, runner and scheduler shared by
// every repository run.
type app struct {
	cfg       *config.Config
	logger    *log.Logger
	metrics   *metrics.Metrics
	github    *github.Client
	provider  *provider.OpenAIClient
	cache     *cache.Cache
	plugins   *plugin.Host
	runner    *pipeline.Runner
	scheduler *scheduler.Scheduler

	shutdownTracing func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config, logger *log.Logger, m *metrics.Metrics, observer scheduler.Observer) (*app, error) {
	shutdownTracing, err := telemetry.InitProvider(ctx, telemetry.FromConfig(cfg.Telemetry))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	gh, err := github.New(cfg.GitHub, cfg.FileExtensions, logger)
	if err != nil {
		return nil, err
	}

	llm, err := provider.NewOpenAIClient(cfg.Provider, logger)
	if err != nil {
		return nil, err
	}

	c := cache.New(cfg.Cache.MaxSize, cfg.Cache.TTL)
	host := plugin.NewHost(plugin.DefaultRegistry(), cfg.Plugins, logger, plugin.WithMetrics(m),
		plugin.WithDefaultTimeout(cfg.Limits.PluginTimeout))

	runner, err := pipeline.NewRunner(pipeline.Deps{
		Snapshots: gh,
		Publisher: gh,
		Provider:  llm,
		Cache:     c,
		Stages:    stage.BuiltinRegistry(),
		Config:    cfg,
		Plugins:   host,
		Logger:    logger,
		Metrics:   m,
	})
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(runner, cfg, scheduler.Options{
		Reporter: gh,
		Notifier: notify.FromConfig(cfg.Notify, logger),
		Observer: observer,
		Metrics:  m,
		Logger:   logger,
	})

	return &app{
		cfg:             cfg,
		logger:          logger,
		metrics:         m,
		github:          gh,
		provider:        llm,
		cache:           c,
		plugins:         host,
		runner:          runner,
		scheduler:       sched,
		shutdownTracing: shutdownTracing,
	}, nil
}

func (a *app) close(ctx context.Context) {
	if err := a.shutdownTracing(ctx); err != nil {
		a.logger.Warn("tracing shutdown failed", "error", err)
	}
}
