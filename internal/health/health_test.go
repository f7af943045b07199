package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func static(name string, status Status) Checker {
	return NewCheckFunc(name, func(context.Context) *Result {
		return NewResult(status, name)
	})
}

func TestResultChaining(t *testing.T) {
	r := Degraded("slow").WithDetail("latency_ms", 900).WithLatency(time.Second)

	assert.Equal(t, StatusDegraded, r.Status)
	assert.Equal(t, "slow", r.Message)
	assert.Equal(t, 900, r.Details["latency_ms"])
	assert.Equal(t, time.Second, r.Latency)
	assert.Equal(t, "degraded", r.Status.String())
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name    string
		results map[string]*Result
		want    Status
	}{
		{"empty", nil, StatusHealthy},
		{"all healthy", map[string]*Result{"a": Healthy(""), "b": Healthy("")}, StatusHealthy},
		{"one degraded", map[string]*Result{"a": Healthy(""), "b": Degraded("")}, StatusDegraded},
		{"unhealthy wins", map[string]*Result{"a": Degraded(""), "b": Unhealthy("")}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OverallStatus(tt.results))
		})
	}
}

func TestManagerCheck(t *testing.T) {
	m := NewManager()
	m.AddChecker(static("github-api", StatusHealthy))
	m.AddChecker(static("provider", StatusDegraded))
	m.AddChecker(NewCheckFunc("broken", func(context.Context) *Result { return nil }))

	results := m.Check(context.Background())
	require.Len(t, results, 3)
	assert.Equal(t, StatusHealthy, results["github-api"].Status)
	assert.Equal(t, StatusDegraded, results["provider"].Status)
	assert.Equal(t, StatusUnhealthy, results["broken"].Status)
	assert.Equal(t, []string{"github-api", "provider", "broken"}, m.CheckNames())
}

func TestManagerCheckTimeout(t *testing.T) {
	m := NewManager().WithTimeout(20 * time.Millisecond)
	m.AddChecker(NewCheckFunc("slow", func(ctx context.Context) *Result {
		<-ctx.Done()
		return Unhealthy(ctx.Err().Error())
	}))

	start := time.Now()
	results := m.Check(context.Background())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StatusUnhealthy, results["slow"].Status)
	assert.Positive(t, results["slow"].Latency)
}

func TestProbes(t *testing.T) {
	pm := NewProbeManager("1.2.3")
	pm.AddChecker(static("provider", StatusDegraded))
	ctx := context.Background()

	assert.Equal(t, StatusUnhealthy, pm.CheckStartup(ctx).Status)
	pm.MarkInitialized()
	assert.Equal(t, StatusHealthy, pm.CheckStartup(ctx).Status)

	live := pm.CheckLiveness(ctx)
	assert.Equal(t, StatusHealthy, live.Status)
	assert.Equal(t, "1.2.3", live.Version)
	assert.Empty(t, live.Checks)

	ready := pm.CheckReadiness(ctx)
	assert.Equal(t, StatusDegraded, ready.Status)
	assert.Contains(t, ready.Checks, "provider")

	pm.MarkShutdown()
	assert.True(t, pm.IsShuttingDown())
	assert.Equal(t, StatusDegraded, pm.CheckLiveness(ctx).Status)
	ready = pm.CheckReadiness(ctx)
	assert.Equal(t, StatusUnhealthy, ready.Status)
	assert.Empty(t, ready.Checks)
}

type fakeRateLimiter struct {
	remaining, limit int
	err              error
}

func (f fakeRateLimiter) RateLimit(context.Context) (int, int, error) {
	return f.remaining, f.limit, f.err
}

func TestGitHubChecker(t *testing.T) {
	tests := []struct {
		name    string
		limiter fakeRateLimiter
		want    Status
	}{
		{"plenty", fakeRateLimiter{remaining: 4000, limit: 5000}, StatusHealthy},
		{"low", fakeRateLimiter{remaining: 10, limit: 5000}, StatusDegraded},
		{"exhausted", fakeRateLimiter{remaining: 0, limit: 5000}, StatusUnhealthy},
		{"unreachable", fakeRateLimiter{err: errors.New("dial tcp: refused")}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewGitHubChecker(tt.limiter)
			assert.Equal(t, "github-api", c.Name())
			assert.Equal(t, tt.want, c.Check(context.Background()).Status)
		})
	}
}

type fakeProvider struct{ err error }

func (f fakeProvider) ID() string                   { return "openai/gpt-test" }
func (f fakeProvider) Health(context.Context) error { return f.err }

func TestProviderChecker(t *testing.T) {
	ok := NewProviderChecker(fakeProvider{}).Check(context.Background())
	assert.Equal(t, StatusHealthy, ok.Status)
	assert.Equal(t, "openai/gpt-test", ok.Details["provider"])

	down := NewProviderChecker(fakeProvider{err: errors.New("401")}).Check(context.Background())
	assert.Equal(t, StatusDegraded, down.Status)
	assert.Equal(t, "401", down.Details["error"])
}
