package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/felixgeelhaar/caretaker/internal/cache"
	"github.com/felixgeelhaar/caretaker/internal/changeset"
	"github.com/felixgeelhaar/caretaker/internal/log"
	"github.com/felixgeelhaar/caretaker/internal/snapshot"
	"github.com/felixgeelhaar/caretaker/internal/stage"
	"github.com/felixgeelhaar/caretaker/internal/telemetry"
)

// stageEnv is the stage.Env of one stage within one run.
type stageEnv struct {
	runner  *Runner
	run     *Run
	stage   stage.Descriptor
	builder *changeset.Builder
	logger  *log.Logger
}

var _ stage.Env = (*stageEnv)(nil)

func (e *stageEnv) Ask(ctx context.Context, fingerprint, templateID string, vars map[string]string) (string, error) {
	providerID := e.runner.provider.ID()
	key := cache.Key(fingerprint, e.stage.ID, providerID)

	// compute may outlive this call when ctx is cancelled, so it only
	// touches the run through invoked
	var invoked atomic.Bool
	value, hit, err := e.runner.cache.GetOrCompute(ctx, key, e.runner.cfg.Cache.TTL, func(ctx context.Context) (string, error) {
		ctx, span := telemetry.StartProviderSpan(ctx, providerID, templateID)
		defer span.End()

		invoked.Store(true)
		start := e.runner.now()
		out, err := e.runner.provider.Invoke(ctx, templateID, vars)
		e.runner.metrics.RecordProviderCall(providerID, templateID, err == nil, e.runner.now().Sub(start))
		if err != nil {
			telemetry.RecordError(span, err)
			return "", err
		}
		telemetry.RecordSuccess(span)
		return out, nil
	})
	if invoked.Load() {
		e.run.ProviderCalls++
	}

	e.runner.metrics.RecordCacheLookup(hit)
	if hit {
		e.run.CacheHits++
		e.logger.Debug("cache hit", "template", templateID, "fingerprint", fingerprint)
	}
	return value, err
}

func (e *stageEnv) Emit(op changeset.Op) {
	op = changeset.WithStage(op, e.stage.ID)
	if w, ok := op.(changeset.WriteFile); ok && w.Message == "" {
		w.Message = e.stage.CommitMessage
		op = w
	}
	e.builder.Add(op)
}

func (e *stageEnv) Published() []string {
	return e.builder.Published()
}

func (e *stageEnv) OpenIssues(ctx context.Context) ([]snapshot.Issue, error) {
	src, ok := e.runner.snapshots.(snapshot.IssueSource)
	if !ok {
		return nil, nil
	}
	return src.OpenIssues(ctx, e.run.RepoID)
}

func (e *stageEnv) LatestReleaseTag(ctx context.Context) (string, error) {
	if src, ok := e.runner.snapshots.(snapshot.ReleaseSource); ok {
		return src.LatestReleaseTag(ctx, e.run.RepoID)
	}
	if src, ok := e.runner.publisher.(snapshot.ReleaseSource); ok {
		return src.LatestReleaseTag(ctx, e.run.RepoID)
	}
	return "", nil
}

func (e *stageEnv) RepoLabels(ctx context.Context) ([]string, error) {
	src, ok := e.runner.snapshots.(snapshot.LabelSource)
	if !ok {
		return nil, nil
	}
	return src.Labels(ctx, e.run.RepoID)
}

func (e *stageEnv) RepoStats(ctx context.Context) (*snapshot.RepoStats, error) {
	src, ok := e.runner.snapshots.(snapshot.StatsSource)
	if !ok {
		return nil, nil
	}
	stats, err := src.RepoStats(ctx, e.run.RepoID)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (e *stageEnv) Logger() *log.Logger {
	return e.logger
}
