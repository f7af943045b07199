package pipeline

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/felixgeelhaar/caretaker/internal/cache"
	"github.com/felixgeelhaar/caretaker/internal/changeset"
	"github.com/felixgeelhaar/caretaker/internal/config"
	"github.com/felixgeelhaar/caretaker/internal/errors"
	"github.com/felixgeelhaar/caretaker/internal/log"
	"github.com/felixgeelhaar/caretaker/internal/metrics"
	"github.com/felixgeelhaar/caretaker/internal/plugin"
	"github.com/felixgeelhaar/caretaker/internal/provider"
	"github.com/felixgeelhaar/caretaker/internal/snapshot"
	"github.com/felixgeelhaar/caretaker/internal/stage"
	"github.com/felixgeelhaar/caretaker/internal/telemetry"
)

// PluginStageID tags the issues filed for plugin results.
const PluginStageID = "plugins"

// Deps are the collaborators of a Runner. Snapshots, Publisher, Provider,
// Cache, Stages and Config are required.
type Deps struct {
	Snapshots snapshot.Provider
	Publisher changeset.Publisher
	Provider  provider.Provider
	Cache     *cache.Cache
	Stages    *stage.Registry
	Config    *config.Config

	// Plugins is optional; without it no plugins run.
	Plugins *plugin.Host
	Logger  *log.Logger
	Metrics *metrics.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

// Runner executes repository runs. One Runner is shared by all workers; each
// run keeps its state in its own Run and change set.
type Runner struct {
	snapshots snapshot.Provider
	publisher changeset.Publisher
	provider  provider.Provider
	cache     *cache.Cache
	stages    *stage.Registry
	plugins   *plugin.Host
	cfg       *config.Config
	logger    *log.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewRunner creates a Runner from deps.
func NewRunner(deps Deps) (*Runner, error) {
	switch {
	case deps.Snapshots == nil:
		return nil, fmt.Errorf("pipeline: snapshot provider is required")
	case deps.Publisher == nil:
		return nil, fmt.Errorf("pipeline: publisher is required")
	case deps.Provider == nil:
		return nil, fmt.Errorf("pipeline: intelligence provider is required")
	case deps.Cache == nil:
		return nil, fmt.Errorf("pipeline: cache is required")
	case deps.Stages == nil:
		return nil, fmt.Errorf("pipeline: stage registry is required")
	case deps.Config == nil:
		return nil, fmt.Errorf("pipeline: config is required")
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		snapshots: deps.Snapshots,
		publisher: deps.Publisher,
		provider:  deps.Provider,
		cache:     deps.Cache,
		stages:    deps.Stages,
		plugins:   deps.Plugins,
		cfg:       deps.Config,
		logger:    log.OrDefault(deps.Logger).With("component", "pipeline"),
		metrics:   deps.Metrics,
		now:       now,
	}, nil
}

// Run prepares the working branch of repoID, fetches its snapshot and runs
// the enabled stages. Failures are recorded on the returned Run.
func (r *Runner) Run(ctx context.Context, repoID string) *Run {
	run := newRun(repoID, r.now())
	logger := r.logger.WithRepo(repoID, run.ID)

	ctx, span := telemetry.StartRunSpan(ctx, repoID, run.ID)
	defer span.End()
	r.metrics.RunStarted()
	defer r.finish(run, logger)

	branch, err := r.snapshots.DateBranch(ctx, repoID)
	if err != nil {
		r.fail(run, errors.NewBranchError(repoID, err))
		telemetry.RecordError(span, run.Err)
		return run
	}
	run.Branch = branch
	run.transition(StateBranchReady)

	snap, err := r.snapshots.Snapshot(ctx, repoID, branch)
	if err != nil {
		r.fail(run, errors.NewSnapshotError(repoID, err))
		telemetry.RecordError(span, run.Err)
		return run
	}

	r.execute(ctx, run, snap, r.stages.Enabled(r.cfg), logger.With("branch", branch))
	if run.Err != nil {
		telemetry.RecordError(span, run.Err)
	} else {
		telemetry.RecordSuccess(span)
	}
	return run
}

// Execute runs stages over an already fetched snapshot.
func (r *Runner) Execute(ctx context.Context, snap *snapshot.Snapshot, stages []stage.Descriptor) *Run {
	run := newRun(snap.RepoID, r.now())
	run.Branch = snap.Branch
	logger := r.logger.WithRepo(snap.RepoID, run.ID).With("branch", snap.Branch)

	r.metrics.RunStarted()
	defer r.finish(run, logger)

	run.transition(StateBranchReady)
	r.execute(ctx, run, snap, stages, logger)
	return run
}

func (r *Runner) execute(ctx context.Context, run *Run, snap *snapshot.Snapshot, stages []stage.Descriptor, logger *log.Logger) {
	run.transition(StateStageExecuting)

	builder := changeset.NewBuilder(snap, logger)
	files := snap.Filter(r.cfg.FileExtensions, r.cfg.Limits.MaxFilesPerRepo)
	artifacts := make(map[string]stage.Artifact)

	for _, d := range stages {
		if err := ctx.Err(); err != nil {
			r.fail(run, err)
			return
		}

		res := r.runStage(ctx, run, d, builder, stage.Input{
			Snapshot:  snap,
			Files:     files,
			Artifacts: artifacts,
			Config:    r.cfg,
			Now:       r.now(),
		}, logger.With("stage", d.ID))
		run.Stages = append(run.Stages, res)

		if res.Status == StatusDegraded && d.Critical {
			r.fail(run, errors.Wrap(errors.ErrCodeStageCritical,
				fmt.Sprintf("critical stage %s failed", d.ID), res.Err))
			return
		}
		if res.Status == StatusOK && d.Output != "" {
			artifacts[d.Output] = res.Artifacts
		}

		r.record(run, builder.FlushStage(ctx, d.ID, r.publisher), logger)
	}

	run.transition(StatePublishing)

	if r.plugins != nil {
		run.Plugins = r.plugins.RunAll(ctx, snap, run.Branch)
		for _, res := range run.Plugins {
			builder.Add(changeset.CreateIssue{
				Stage: PluginStageID,
				Title: "Plugin result: " + res.Name,
				Body:  formatPluginResult(res.Result),
			})
		}
	}
	r.record(run, builder.Flush(ctx, r.publisher), logger)

	run.transition(StateDone)
}

// runStage executes one stage and classifies its result.
func (r *Runner) runStage(ctx context.Context, run *Run, d stage.Descriptor, builder *changeset.Builder, in stage.Input, logger *log.Logger) StageResult {
	res := StageResult{StageID: d.ID}

	for _, name := range d.Inputs {
		if _, ok := in.Artifacts[name]; !ok {
			res.Status = StatusSkipped
			logger.Info("stage skipped, input not produced", "input", name)
			r.metrics.RecordStage(d.ID, string(res.Status), 0)
			return res
		}
	}

	selected := make(map[string]stage.Artifact, len(d.Inputs)+len(d.Optional))
	for _, name := range append(append([]string(nil), d.Inputs...), d.Optional...) {
		if a, ok := in.Artifacts[name]; ok {
			selected[name] = a
		}
	}
	in.Artifacts = selected

	ctx, span := telemetry.StartStageSpan(ctx, d.ID)
	defer span.End()

	env := &stageEnv{runner: r, run: run, stage: d, builder: builder, logger: logger}
	start := r.now()
	artifact, err := r.invoke(ctx, d, env, in)
	res.Duration = r.now().Sub(start)
	telemetry.RecordDuration(span, "stage", res.Duration)

	switch {
	case err == nil:
		res.Status = StatusOK
		res.Artifacts = artifact
		telemetry.RecordSuccess(span)
		logger.Debug("stage finished", "duration", res.Duration)
	case stderrors.Is(err, stage.ErrSkip):
		res.Status = StatusSkipped
		telemetry.RecordSuccess(span)
		logger.Info("stage skipped", "reason", err.Error())
	default:
		// artifacts of a failed stage are discarded; emitted operations are
		// still published
		res.Status = StatusDegraded
		res.Err = err
		if !errors.HasCode(err, errors.ErrCodeStagePanic) {
			res.Err = errors.NewStageError(d.ID, err)
		}
		run.Degraded = true
		r.metrics.RecordError(res.Err)
		telemetry.RecordError(span, res.Err)
		logger.WithError(res.Err).Warn("stage degraded", "critical", d.Critical)
	}

	r.metrics.RecordStage(d.ID, string(res.Status), res.Duration)
	return res
}

// invoke calls the handler, converting a panic into a stage error.
func (r *Runner) invoke(ctx context.Context, d stage.Descriptor, env stage.Env, in stage.Input) (artifact stage.Artifact, err error) {
	defer func() {
		if p := recover(); p != nil {
			env.Logger().Debug("stage stack", "stack", string(debug.Stack()))
			artifact = nil
			err = errors.New(errors.ErrCodeStagePanic, fmt.Sprintf("stage %s panicked: %v", d.ID, p))
		}
	}()
	return d.Handler(ctx, env, in)
}

// record merges a publish report into the run. Publish errors degrade the run.
func (r *Runner) record(run *Run, report changeset.Report, logger *log.Logger) {
	run.Report.Merge(report)

	for _, w := range report.Writes {
		result := "ok"
		if w.Skipped {
			result = "skipped"
		}
		r.metrics.RecordPublish(string(changeset.KindWriteFile), result)
	}
	for range report.Issues {
		r.metrics.RecordPublish(string(changeset.KindCreateIssue), "ok")
	}
	for range report.PullRequests {
		r.metrics.RecordPublish(string(changeset.KindCreatePullRequest), "ok")
	}
	for range report.Releases {
		r.metrics.RecordPublish(string(changeset.KindCreateRelease), "ok")
	}
	for _, pe := range report.Errors {
		run.Degraded = true
		r.metrics.RecordPublish(string(pe.Op.Kind()), "error")
		r.metrics.RecordError(pe.Err)
		logger.WithError(pe.Err).Warn("publish failed", "op", pe.Op.Summary(), "stage", pe.Op.StageID())
	}
}

func (r *Runner) fail(run *Run, err error) {
	run.Err = err
	run.transition(StateFailed)
}

func (r *Runner) finish(run *Run, logger *log.Logger) {
	run.Finished = r.now()
	outcome := run.Outcome()

	r.metrics.RunFinished(string(outcome), run.Duration())
	r.metrics.SetCacheEntries(r.cache.Len())

	args := []any{
		"outcome", outcome,
		"duration", run.Duration(),
		"commits", len(run.Report.Commits),
		"issues", len(run.Report.Issues),
		"provider_calls", run.ProviderCalls,
		"cache_hits", run.CacheHits,
	}
	switch outcome {
	case OutcomeFailed:
		r.metrics.RecordError(run.Err)
		logger.WithError(run.Err).Error("run failed", args...)
	case OutcomeDegraded:
		logger.Warn("run degraded", append(args, "degraded_stages", run.DegradedStages())...)
	default:
		logger.Info("run finished", args...)
	}
}

func formatPluginResult(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return "```json\n" + string(data) + "\n```\n"
}
