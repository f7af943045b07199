// Package scheduler runs repository pipelines on a bounded worker pool.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/felixgeelhaar/caretaker/internal/changeset"
	"github.com/felixgeelhaar/caretaker/internal/config"
	"github.com/felixgeelhaar/caretaker/internal/errors"
	"github.com/felixgeelhaar/caretaker/internal/log"
	"github.com/felixgeelhaar/caretaker/internal/metrics"
	"github.com/felixgeelhaar/caretaker/internal/notify"
	"github.com/felixgeelhaar/caretaker/internal/pipeline"
)

// RepoRunner executes one full repository run. *pipeline.Runner implements it.
type RepoRunner interface {
	Run(ctx context.Context, repoID string) *pipeline.Run
}

// Outcome is the terminal result of one repository.
type Outcome struct {
	Status pipeline.Outcome
	// Reason explains a failed outcome.
	Reason string
	// Run is nil when the run panicked or never started.
	Run *pipeline.Run
}

// Observer is notified when a worker starts and finishes a repository.
// Calls come from worker goroutines.
type Observer interface {
	OnStart(repoID string)
	OnFinish(repoID string, outcome Outcome)
}

// Options are the optional collaborators of a Scheduler.
type Options struct {
	// Reporter files summary issues for degraded and failed runs when
	// report.summary_issues is set.
	Reporter changeset.Publisher
	Notifier *notify.Dispatcher
	Observer Observer
	Metrics  *metrics.Metrics
	Logger   *log.Logger
}

// Scheduler fans repository runs out over a fixed number of workers.
type Scheduler struct {
	runner   RepoRunner
	cfg      *config.Config
	reporter changeset.Publisher
	notifier *notify.Dispatcher
	observer Observer
	metrics  *metrics.Metrics
	logger   *log.Logger
}

// New creates a Scheduler.
func New(runner RepoRunner, cfg *config.Config, opts Options) *Scheduler {
	return &Scheduler{
		runner:   runner,
		cfg:      cfg,
		reporter: opts.Reporter,
		notifier: opts.Notifier,
		observer: opts.Observer,
		metrics:  opts.Metrics,
		logger:   log.OrDefault(opts.Logger).With("component", "scheduler"),
	}
}

// RunAll runs every repository in repoIDs on at most maxWorkers goroutines
// and returns once each one reached a terminal outcome. Duplicates are
// processed once; maxWorkers <= 0 means 1; limits.max_repos truncates the
// list. A failure or panic in one repository never affects the others.
func (s *Scheduler) RunAll(ctx context.Context, repoIDs []string, maxWorkers int) map[string]Outcome {
	repos := s.queue(repoIDs)
	outcomes := make(map[string]Outcome, len(repos))
	if len(repos) == 0 {
		return outcomes
	}

	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if maxWorkers > len(repos) {
		maxWorkers = len(repos)
	}

	s.logger.Info("starting repository runs", "repos", len(repos), "workers", maxWorkers)
	start := time.Now()

	// Create worker pool
	repoChan := make(chan string, len(repos))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < maxWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for repoID := range repoChan {
				outcome := s.process(ctx, repoID)
				mu.Lock()
				outcomes[repoID] = outcome
				mu.Unlock()
			}
		}()
	}

	for _, repoID := range repos {
		repoChan <- repoID
	}
	close(repoChan)

	wg.Wait()

	counts := map[pipeline.Outcome]int{}
	for _, o := range outcomes {
		counts[o.Status]++
	}
	s.logger.Info("repository runs finished",
		"done", counts[pipeline.OutcomeDone],
		"degraded", counts[pipeline.OutcomeDegraded],
		"failed", counts[pipeline.OutcomeFailed],
		"duration", time.Since(start))
	return outcomes
}

// queue removes duplicates, keeping first occurrence order, and applies
// limits.max_repos.
func (s *Scheduler) queue(repoIDs []string) []string {
	seen := make(map[string]bool, len(repoIDs))
	out := make([]string, 0, len(repoIDs))
	for _, id := range repoIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}

	if limit := s.cfg.Limits.MaxRepos; limit > 0 && len(out) > limit {
		s.logger.Warn("repository list truncated", "max_repos", limit, "dropped", len(out)-limit)
		out = out[:limit]
	}
	return out
}

// process runs one repository and performs the after-run reporting.
func (s *Scheduler) process(ctx context.Context, repoID string) Outcome {
	if s.observer != nil {
		s.observer.OnStart(repoID)
	}

	outcome := s.runIsolated(ctx, repoID)

	if outcome.Status != pipeline.OutcomeDone && s.cfg.Report.SummaryIssues {
		s.fileSummary(ctx, repoID, outcome)
	}
	s.notify(ctx, repoID, outcome)

	if s.observer != nil {
		s.observer.OnFinish(repoID, outcome)
	}
	return outcome
}

// runIsolated converts a panic inside a run into a failed outcome.
func (s *Scheduler) runIsolated(ctx context.Context, repoID string) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.New(errors.ErrCodeSchedulerPanic, fmt.Sprintf("run of %s panicked: %v", repoID, r))
			s.metrics.RecordError(err)
			s.logger.WithError(err).Error("repository run panicked", "repo", repoID, "stack", string(debug.Stack()))
			outcome = Outcome{Status: pipeline.OutcomeFailed, Reason: err.Message}
		}
	}()

	if err := ctx.Err(); err != nil {
		return Outcome{Status: pipeline.OutcomeFailed, Reason: err.Error()}
	}

	run := s.runner.Run(ctx, repoID)
	if run == nil {
		return Outcome{Status: pipeline.OutcomeFailed, Reason: "runner returned no run"}
	}

	outcome = Outcome{Status: run.Outcome(), Run: run}
	if run.Err != nil {
		outcome.Reason = run.Err.Error()
	}
	return outcome
}

func (s *Scheduler) fileSummary(ctx context.Context, repoID string, outcome Outcome) {
	if s.reporter == nil {
		return
	}
	title, body := SummaryIssue(repoID, outcome, time.Now())
	if _, err := s.reporter.CreateIssue(ctx, repoID, title, body, []string{SummaryLabel}); err != nil {
		s.logger.WithError(errors.NewPublishError(errors.ErrCodePublishIssue, title, err)).
			Warn("failed to file run summary", "repo", repoID)
	}
}

func (s *Scheduler) notify(ctx context.Context, repoID string, outcome Outcome) {
	if s.notifier.Len() == 0 {
		return
	}
	s.notifier.NotifyAll(ctx, NewEvent(repoID, outcome, time.Now()))
}
