package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/caretaker/internal/config"
	"github.com/felixgeelhaar/caretaker/internal/log"
	"github.com/felixgeelhaar/caretaker/internal/notify"
	"github.com/felixgeelhaar/caretaker/internal/pipeline"
)

type runnerFunc func(ctx context.Context, repoID string) *pipeline.Run

func (f runnerFunc) Run(ctx context.Context, repoID string) *pipeline.Run { return f(ctx, repoID) }

func finishedRun(repoID string, degraded bool) *pipeline.Run {
	return &pipeline.Run{
		ID:       "run-" + repoID,
		RepoID:   repoID,
		Branch:   "update-2026-10-16",
		State:    pipeline.StateDone,
		Degraded: degraded,
		Stages: []pipeline.StageResult{
			{StageID: "code_review", Status: pipeline.StatusOK},
		},
	}
}

func failedRun(repoID string) *pipeline.Run {
	return &pipeline.Run{
		ID:     "run-" + repoID,
		RepoID: repoID,
		State:  pipeline.StateFailed,
		Err:    fmt.Errorf("snapshot fetch failed"),
	}
}

func newScheduler(r RepoRunner, cfg *config.Config, opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	return New(r, cfg, opts)
}

// boundObserver tracks the number of repositories in flight.
type boundObserver struct {
	active  atomic.Int32
	maxSeen atomic.Int32
	mu      sync.Mutex
	order   []string
}

func (o *boundObserver) OnStart(repoID string) {
	n := o.active.Add(1)
	for {
		m := o.maxSeen.Load()
		if n <= m || o.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
}

func (o *boundObserver) OnFinish(repoID string, _ Outcome) {
	o.active.Add(-1)
	o.mu.Lock()
	o.order = append(o.order, repoID)
	o.mu.Unlock()
}

func TestRunAllConcurrencyBound(t *testing.T) {
	cfg := config.Default()
	obs := &boundObserver{}
	s := newScheduler(runnerFunc(func(_ context.Context, repoID string) *pipeline.Run {
		time.Sleep(20 * time.Millisecond)
		return finishedRun(repoID, false)
	}), cfg, Options{Observer: obs})

	var repos []string
	for i := 0; i < 12; i++ {
		repos = append(repos, fmt.Sprintf("acme/repo-%d", i))
	}

	outcomes := s.RunAll(context.Background(), repos, 3)

	assert.Len(t, outcomes, 12)
	assert.LessOrEqual(t, obs.maxSeen.Load(), int32(3))
	assert.GreaterOrEqual(t, obs.maxSeen.Load(), int32(1))
	assert.Zero(t, obs.active.Load())
	for _, o := range outcomes {
		assert.Equal(t, pipeline.OutcomeDone, o.Status)
	}
}

func TestRunAllIsolatesFailures(t *testing.T) {
	cfg := config.Default()
	cfg.Report.SummaryIssues = false
	s := newScheduler(runnerFunc(func(_ context.Context, repoID string) *pipeline.Run {
		switch repoID {
		case "acme/panics":
			panic("index out of range")
		case "acme/fails":
			return failedRun(repoID)
		case "acme/nil":
			return nil
		case "acme/degraded":
			return finishedRun(repoID, true)
		}
		return finishedRun(repoID, false)
	}), cfg, Options{})

	outcomes := s.RunAll(context.Background(),
		[]string{"acme/ok", "acme/panics", "acme/fails", "acme/nil", "acme/degraded", "acme/ok2"}, 2)

	require.Len(t, outcomes, 6)
	assert.Equal(t, pipeline.OutcomeDone, outcomes["acme/ok"].Status)
	assert.Equal(t, pipeline.OutcomeDone, outcomes["acme/ok2"].Status)
	assert.Equal(t, pipeline.OutcomeDegraded, outcomes["acme/degraded"].Status)

	assert.Equal(t, pipeline.OutcomeFailed, outcomes["acme/panics"].Status)
	assert.Contains(t, outcomes["acme/panics"].Reason, "index out of range")
	assert.Nil(t, outcomes["acme/panics"].Run)

	assert.Equal(t, pipeline.OutcomeFailed, outcomes["acme/fails"].Status)
	assert.Equal(t, "snapshot fetch failed", outcomes["acme/fails"].Reason)
	assert.Equal(t, pipeline.OutcomeFailed, outcomes["acme/nil"].Status)
}

func TestRunAllDeduplicatesAndTruncates(t *testing.T) {
	cfg := config.Default()
	cfg.Limits.MaxRepos = 2

	var calls sync.Map
	s := newScheduler(runnerFunc(func(_ context.Context, repoID string) *pipeline.Run {
		n, _ := calls.LoadOrStore(repoID, new(atomic.Int32))
		n.(*atomic.Int32).Add(1)
		return finishedRun(repoID, false)
	}), cfg, Options{})

	outcomes := s.RunAll(context.Background(), []string{"acme/a", "acme/a", "", "acme/b", "acme/c"}, 0)

	var got []string
	for id := range outcomes {
		got = append(got, id)
	}
	sort.Strings(got)
	assert.Equal(t, []string{"acme/a", "acme/b"}, got)

	n, _ := calls.Load("acme/a")
	assert.Equal(t, int32(1), n.(*atomic.Int32).Load(), "duplicates run once")
}

func TestRunAllEmpty(t *testing.T) {
	s := newScheduler(runnerFunc(func(context.Context, string) *pipeline.Run {
		t.Fatal("runner must not be called")
		return nil
	}), config.Default(), Options{})

	assert.Empty(t, s.RunAll(context.Background(), nil, 4))
}

func TestRunAllCancelled(t *testing.T) {
	var called atomic.Bool
	s := newScheduler(runnerFunc(func(_ context.Context, repoID string) *pipeline.Run {
		called.Store(true)
		return finishedRun(repoID, false)
	}), config.Default(), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcomes := s.RunAll(ctx, []string{"acme/a", "acme/b"}, 2)

	assert.False(t, called.Load())
	for _, o := range outcomes {
		assert.Equal(t, pipeline.OutcomeFailed, o.Status)
		assert.Equal(t, context.Canceled.Error(), o.Reason)
	}
}

type issueRecorder struct {
	mu     sync.Mutex
	titles map[string][]string
	bodies map[string]string
	labels []string
}

func newIssueRecorder() *issueRecorder {
	return &issueRecorder{titles: map[string][]string{}, bodies: map[string]string{}}
}

func (r *issueRecorder) WriteFile(context.Context, string, string, string, []byte, string) (string, error) {
	return "", fmt.Errorf("not supported")
}

func (r *issueRecorder) CreateIssue(_ context.Context, repoID, title, body string, labels []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles[repoID] = append(r.titles[repoID], title)
	r.bodies[repoID] = body
	r.labels = labels
	return 1, nil
}

func (r *issueRecorder) CreatePullRequest(context.Context, string, string, string, string, string) (int, error) {
	return 0, fmt.Errorf("not supported")
}

func (r *issueRecorder) CreateRelease(context.Context, string, string, string, string, string) (int64, error) {
	return 0, fmt.Errorf("not supported")
}

func TestSummaryIssues(t *testing.T) {
	runner := runnerFunc(func(_ context.Context, repoID string) *pipeline.Run {
		switch repoID {
		case "acme/degraded":
			return finishedRun(repoID, true)
		case "acme/failed":
			return failedRun(repoID)
		}
		return finishedRun(repoID, false)
	})
	repos := []string{"acme/ok", "acme/degraded", "acme/failed"}

	t.Run("enabled", func(t *testing.T) {
		rec := newIssueRecorder()
		s := newScheduler(runner, config.Default(), Options{Reporter: rec})
		s.RunAll(context.Background(), repos, 2)

		assert.NotContains(t, rec.titles, "acme/ok")
		require.Len(t, rec.titles["acme/degraded"], 1)
		assert.Contains(t, rec.titles["acme/degraded"][0], "Caretaker run degraded on ")
		require.Len(t, rec.titles["acme/failed"], 1)
		assert.Contains(t, rec.bodies["acme/failed"], "snapshot fetch failed")
		assert.Equal(t, []string{SummaryLabel}, rec.labels)
	})

	t.Run("disabled", func(t *testing.T) {
		cfg := config.Default()
		cfg.Report.SummaryIssues = false
		rec := newIssueRecorder()
		s := newScheduler(runner, cfg, Options{Reporter: rec})
		s.RunAll(context.Background(), repos, 2)

		assert.Empty(t, rec.titles)
	})
}

type eventRecorder struct {
	mu     sync.Mutex
	events []*notify.Event
}

func (r *eventRecorder) Name() string { return "recorder" }

func (r *eventRecorder) Notify(_ context.Context, e *notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func TestNotifications(t *testing.T) {
	rec := &eventRecorder{}
	s := newScheduler(runnerFunc(func(_ context.Context, repoID string) *pipeline.Run {
		if repoID == "acme/failed" {
			return failedRun(repoID)
		}
		return finishedRun(repoID, false)
	}), config.Default(), Options{Notifier: notify.NewDispatcher(log.Discard(), rec)})

	s.RunAll(context.Background(), []string{"acme/ok", "acme/failed"}, 1)

	require.Len(t, rec.events, 2)
	types := map[string]notify.EventType{}
	for _, e := range rec.events {
		types[e.RepoID] = e.Type
	}
	assert.Equal(t, notify.EventRunDone, types["acme/ok"])
	assert.Equal(t, notify.EventRunFailed, types["acme/failed"])
}
