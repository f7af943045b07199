package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/caretaker/internal/cache"
	"github.com/felixgeelhaar/caretaker/internal/changeset"
	"github.com/felixgeelhaar/caretaker/internal/config"
	"github.com/felixgeelhaar/caretaker/internal/errors"
	"github.com/felixgeelhaar/caretaker/internal/log"
	"github.com/felixgeelhaar/caretaker/internal/plugin"
	"github.com/felixgeelhaar/caretaker/internal/snapshot"
	"github.com/felixgeelhaar/caretaker/internal/stage"
)

var fixedNow = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Features.Changelog = false
	return cfg
}

type fixture struct {
	repo     *memoryRepo
	provider *countingProvider
	cache    *cache.Cache
	cfg      *config.Config
}

func newFixture(files ...snapshot.File) *fixture {
	cfg := testConfig()
	return &fixture{
		repo:     newMemoryRepo(files...),
		provider: newCountingProvider(),
		cache:    cache.New(cfg.Cache.MaxSize, cfg.Cache.TTL),
		cfg:      cfg,
	}
}

func (f *fixture) runner(t *testing.T, stages *stage.Registry, plugins *plugin.Host) *Runner {
	t.Helper()
	r, err := NewRunner(Deps{
		Snapshots: f.repo,
		Publisher: f.repo,
		Provider:  f.provider,
		Cache:     f.cache,
		Stages:    stages,
		Config:    f.cfg,
		Plugins:   plugins,
		Logger:    log.Discard(),
		Now:       func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return r
}

func registry(t *testing.T, ds ...stage.Descriptor) *stage.Registry {
	t.Helper()
	r, err := stage.NewRegistry(ds...)
	require.NoError(t, err)
	return r
}

func pyFiles() []snapshot.File {
	return []snapshot.File{
		snapshot.NewFile("app.py", []byte("print('app')\n")),
		snapshot.NewFile("util.py", []byte("def add(a, b):\n    return a + b\n")),
	}
}

// askStage asks the provider once per input file and emits nothing.
func askStage(id string) stage.Descriptor {
	return stage.Descriptor{
		ID:     id,
		Output: id,
		Handler: func(ctx context.Context, env stage.Env, in stage.Input) (stage.Artifact, error) {
			out := stage.Artifact{}
			for _, f := range in.Files {
				v, err := env.Ask(ctx, f.Fingerprint, "review_code", map[string]string{"path": f.Path})
				if err != nil {
					return nil, err
				}
				out[f.Path] = v
			}
			return out, nil
		},
	}
}

func failingStage(id string, critical bool) stage.Descriptor {
	return stage.Descriptor{
		ID:       id,
		Output:   id,
		Critical: critical,
		Handler: func(context.Context, stage.Env, stage.Input) (stage.Artifact, error) {
			return nil, fmt.Errorf("%s exploded", id)
		},
	}
}

func TestNewRunnerRequiresDeps(t *testing.T) {
	_, err := NewRunner(Deps{})
	assert.Error(t, err)
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateInit, StateBranchReady, true},
		{StateInit, StateFailed, true},
		{StateBranchReady, StateStageExecuting, true},
		{StateStageExecuting, StatePublishing, true},
		{StateStageExecuting, StateFailed, true},
		{StatePublishing, StateDone, true},
		{StatePublishing, StateFailed, false},
		{StateInit, StateDone, false},
		{StateDone, StateInit, false},
		{StateFailed, StateBranchReady, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
	assert.True(t, StateDone.Terminal())
	assert.False(t, StatePublishing.Terminal())
}

func TestCacheIdempotence(t *testing.T) {
	f := newFixture(snapshot.NewFile("app.py", []byte("print('app')\n")))
	r := f.runner(t, registry(t, askStage("review")), nil)
	snap, _ := f.repo.Snapshot(context.Background(), "acme/api", "update-2026-10-16")

	var outputs []string
	for i := 0; i < 5; i++ {
		run := r.Execute(context.Background(), snap, []stage.Descriptor{askStage("review")})
		require.Equal(t, OutcomeDone, run.Outcome())
		res, ok := run.Stage("review")
		require.True(t, ok)
		outputs = append(outputs, res.Artifacts["app.py"])
	}

	assert.Equal(t, 1, f.provider.total(), "provider is invoked once for one (fingerprint, stage, provider)")
	for _, o := range outputs[1:] {
		assert.Equal(t, outputs[0], o)
	}
}

func TestCacheKeyIncludesStage(t *testing.T) {
	f := newFixture(snapshot.NewFile("app.py", []byte("print('app')\n")))
	stages := []stage.Descriptor{askStage("first"), askStage("second")}
	r := f.runner(t, registry(t, stages...), nil)

	run := r.Execute(context.Background(), f.repo.snap, stages)
	assert.Equal(t, OutcomeDone, run.Outcome())
	assert.Equal(t, 2, run.ProviderCalls)
	assert.Equal(t, 0, run.CacheHits)
}

func TestStageFaultIsolation(t *testing.T) {
	f := newFixture(pyFiles()...)

	var lastRan bool
	panicking := stage.Descriptor{
		ID: "panicking",
		Handler: func(context.Context, stage.Env, stage.Input) (stage.Artifact, error) {
			panic("nil map")
		},
	}
	last := stage.Descriptor{
		ID: "last",
		Handler: func(_ context.Context, env stage.Env, _ stage.Input) (stage.Artifact, error) {
			lastRan = true
			env.Emit(changeset.CreateIssue{Title: "still here"})
			return stage.Artifact{}, nil
		},
	}
	stages := []stage.Descriptor{askStage("first"), failingStage("broken", false), panicking, last}
	r := f.runner(t, registry(t, stages...), nil)

	run := r.Run(context.Background(), "acme/api")

	assert.Equal(t, StateDone, run.State)
	assert.Equal(t, OutcomeDegraded, run.Outcome())
	assert.Equal(t, 1, f.repo.branches, "the working branch is prepared once per run")
	assert.True(t, lastRan, "stages after a failing stage still execute")
	assert.Equal(t, []string{"broken", "panicking"}, run.DegradedStages())

	broken, _ := run.Stage("broken")
	assert.True(t, errors.HasCode(broken.Err, errors.ErrCodeStageFailed))
	p, _ := run.Stage("panicking")
	assert.True(t, errors.HasCode(p.Err, errors.ErrCodeStagePanic))

	assert.Equal(t, []string{"still here"}, f.repo.issues)
}

func TestDependentStageSkipped(t *testing.T) {
	f := newFixture(pyFiles()...)

	var ran bool
	dependent := stage.Descriptor{
		ID:     "dependent",
		Inputs: []string{"producer"},
		Handler: func(context.Context, stage.Env, stage.Input) (stage.Artifact, error) {
			ran = true
			return stage.Artifact{}, nil
		},
	}
	stages := []stage.Descriptor{failingStage("producer", false), dependent}
	r := f.runner(t, registry(t, stages...), nil)

	run := r.Run(context.Background(), "acme/api")

	assert.False(t, ran)
	res, ok := run.Stage("dependent")
	require.True(t, ok)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.NoError(t, res.Err)
	assert.Equal(t, OutcomeDegraded, run.Outcome())
}

func TestInputsPassedForward(t *testing.T) {
	f := newFixture(pyFiles()...)

	var got map[string]stage.Artifact
	consumer := stage.Descriptor{
		ID:       "consumer",
		Inputs:   []string{"producer"},
		Optional: []string{"absent"},
		Handler: func(_ context.Context, _ stage.Env, in stage.Input) (stage.Artifact, error) {
			got = in.Artifacts
			return stage.Artifact{}, nil
		},
	}
	stages := []stage.Descriptor{askStage("producer"), askStage("unrelated"), consumer}
	r := f.runner(t, registry(t, stages...), nil)

	run := r.Run(context.Background(), "acme/api")
	require.Equal(t, OutcomeDone, run.Outcome())

	require.Contains(t, got, "producer")
	assert.NotContains(t, got, "unrelated", "only declared inputs are passed")
	assert.Len(t, got["producer"], 2)
}

func TestSkipIsNotDegraded(t *testing.T) {
	f := newFixture(pyFiles()...)
	nothing := stage.Descriptor{
		ID: "nothing",
		Handler: func(context.Context, stage.Env, stage.Input) (stage.Artifact, error) {
			return nil, stage.ErrSkip
		},
	}
	r := f.runner(t, registry(t, nothing), nil)

	run := r.Run(context.Background(), "acme/api")
	assert.Equal(t, OutcomeDone, run.Outcome())
	res, _ := run.Stage("nothing")
	assert.Equal(t, StatusSkipped, res.Status)
}

func TestCriticalStageFailsRun(t *testing.T) {
	f := newFixture(pyFiles()...)

	var afterRan bool
	after := stage.Descriptor{
		ID: "after",
		Handler: func(context.Context, stage.Env, stage.Input) (stage.Artifact, error) {
			afterRan = true
			return stage.Artifact{}, nil
		},
	}
	stages := []stage.Descriptor{failingStage("gate", true), after}
	r := f.runner(t, registry(t, stages...), nil)

	run := r.Run(context.Background(), "acme/api")

	assert.Equal(t, StateFailed, run.State)
	assert.Equal(t, OutcomeFailed, run.Outcome())
	assert.True(t, errors.HasCode(run.Err, errors.ErrCodeStageCritical))
	assert.Equal(t, 1, f.repo.branches)
	assert.False(t, afterRan)
	assert.Len(t, run.Stages, 1)
}

func TestRunFailsBeforeStages(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*memoryRepo)
		code    errors.ErrorCode
		history []State
	}{
		{"branch creation", func(m *memoryRepo) { m.branchErr = fmt.Errorf("403 forbidden") }, errors.ErrCodeSnapshotBranch,
			[]State{StateFailed}},
		{"snapshot fetch", func(m *memoryRepo) { m.snapErr = fmt.Errorf("404 not found") }, errors.ErrCodeSnapshotFetch,
			[]State{StateBranchReady, StateFailed}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(pyFiles()...)
			tt.setup(f.repo)
			r := f.runner(t, registry(t, askStage("review")), nil)

			run := r.Run(context.Background(), "acme/api")

			assert.Equal(t, StateFailed, run.State)
			assert.Equal(t, tt.history, run.History)
			assert.Equal(t, OutcomeFailed, run.Outcome())
			assert.True(t, errors.HasCode(run.Err, tt.code))
			assert.Empty(t, run.Stages)
			assert.Zero(t, f.provider.total())
			assert.False(t, run.Finished.IsZero())
		})
	}
}

func TestMaxFilesPerRepo(t *testing.T) {
	f := newFixture(append(pyFiles(), snapshot.NewFile("notes.txt", []byte("x")), snapshot.NewFile("z.py", []byte("z")))...)
	f.cfg.Limits.MaxFilesPerRepo = 2

	var seen []string
	collect := stage.Descriptor{
		ID: "collect",
		Handler: func(_ context.Context, _ stage.Env, in stage.Input) (stage.Artifact, error) {
			for _, file := range in.Files {
				seen = append(seen, file.Path)
			}
			return stage.Artifact{}, nil
		},
	}
	r := f.runner(t, registry(t, collect), nil)
	r.Run(context.Background(), "acme/api")

	assert.Equal(t, []string{"app.py", "util.py"}, seen)
}

func TestPublishErrorDegradesRun(t *testing.T) {
	f := newFixture(pyFiles()...)
	f.repo.failOn["doomed"] = true
	emit := stage.Descriptor{
		ID: "emit",
		Handler: func(_ context.Context, env stage.Env, _ stage.Input) (stage.Artifact, error) {
			env.Emit(changeset.CreateIssue{Title: "doomed"})
			env.Emit(changeset.CreateIssue{Title: "fine"})
			return stage.Artifact{}, nil
		},
	}
	r := f.runner(t, registry(t, emit), nil)

	run := r.Run(context.Background(), "acme/api")

	assert.Equal(t, StateDone, run.State)
	assert.Equal(t, OutcomeDegraded, run.Outcome())
	require.Len(t, run.Report.Errors, 1)
	assert.Equal(t, []string{"fine"}, f.repo.issues)
	st, _ := run.Stage("emit")
	assert.Equal(t, StatusOK, st.Status)
}

func TestCommitMessageFromDescriptor(t *testing.T) {
	f := newFixture(pyFiles()...)
	write := stage.Descriptor{
		ID:            "write",
		CommitMessage: "Tidy files",
		Handler: func(_ context.Context, env stage.Env, _ stage.Input) (stage.Artifact, error) {
			env.Emit(changeset.WriteFile{Path: "new.py", Content: "x = 1\n"})
			return stage.Artifact{}, nil
		},
	}
	r := f.runner(t, registry(t, write), nil)
	r.Run(context.Background(), "acme/api")

	assert.Equal(t, []string{"c1 Tidy files"}, f.repo.commits)
}

type staticPlugin struct{ name string }

func (p staticPlugin) Run(context.Context, *snapshot.Snapshot, string) (plugin.Result, error) {
	return plugin.Result{Name: p.name, Result: map[string]int{"files": 2}}, nil
}

func TestPluginResultsFiledAsIssues(t *testing.T) {
	f := newFixture(pyFiles()...)

	reg := plugin.NewRegistry()
	require.NoError(t, reg.Register("static", func(map[string]any) (plugin.Plugin, error) {
		return staticPlugin{name: "Static"}, nil
	}))
	require.NoError(t, reg.Register("broken", func(map[string]any) (plugin.Plugin, error) {
		return nil, fmt.Errorf("cannot load")
	}))
	host := plugin.NewHost(reg, []config.PluginConfig{
		{Name: "broken", Enabled: true},
		{Name: "static", Enabled: true},
	}, log.Discard())

	r := f.runner(t, registry(t, askStage("review")), host)
	run := r.Run(context.Background(), "acme/api")

	assert.Equal(t, OutcomeDone, run.Outcome(), "plugin failures do not degrade the run")
	require.Len(t, run.Plugins, 1)
	assert.Equal(t, []string{"Plugin result: Static"}, f.repo.issues)
}

func TestFormatPluginResult(t *testing.T) {
	body := formatPluginResult(map[string]int{"files": 2})
	assert.Equal(t, "```json\n{\n  \"files\": 2\n}\n```\n", body)
}

func TestCancelledContextFailsRun(t *testing.T) {
	f := newFixture(pyFiles()...)
	r := f.runner(t, registry(t, askStage("review")), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	run := r.Run(ctx, "acme/api")

	assert.Equal(t, OutcomeFailed, run.Outcome())
	assert.ErrorIs(t, run.Err, context.Canceled)
}
