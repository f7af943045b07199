package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/caretaker/internal/errors"
	"github.com/felixgeelhaar/caretaker/internal/health"
	"github.com/felixgeelhaar/caretaker/internal/log"
	"github.com/felixgeelhaar/caretaker/internal/metrics"
)

const testSecret = "s3cret"

type recordingTrigger struct {
	mu      sync.Mutex
	batches [][]string
	err     error
}

func (r *recordingTrigger) Submit(repoIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, append([]string(nil), repoIDs...))
	return nil
}

func newTestServer(t *testing.T, trigger Submitter, cfg Config) (*Server, *health.ProbeManager) {
	t.Helper()
	pm := health.NewProbeManager("1.0.0")
	if cfg.WebhookSecret == "" {
		cfg.WebhookSecret = testSecret
	}
	return New(pm, trigger, cfg, log.Discard()), pm
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func pushDelivery(t *testing.T, repo, ref, secret string) *http.Request {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"ref":        ref,
		"repository": map[string]any{"full_name": repo},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-GitHub-Delivery", "delivery-1")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

func TestNewDefaults(t *testing.T) {
	s, _ := newTestServer(t, nil, Config{Address: ":8080"})

	assert.Equal(t, 30*time.Second, s.shutdownTimeout)
	assert.Equal(t, 10*time.Second, s.httpServer.ReadTimeout)
	assert.Equal(t, 10*time.Second, s.httpServer.WriteTimeout)
	assert.Equal(t, 60*time.Second, s.httpServer.IdleTimeout)
}

func TestProbeEndpoints(t *testing.T) {
	s, pm := newTestServer(t, nil, Config{})
	h := s.Handler()

	w := do(t, h, httptest.NewRequest(http.MethodGet, "/health/startup", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	pm.MarkInitialized()
	w = do(t, h, httptest.NewRequest(http.MethodGet, "/health/startup", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	var result health.ProbeResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Equal(t, health.StatusHealthy, result.Status)
	assert.Equal(t, "1.0.0", result.Version)

	pm.AddChecker(health.NewCheckFunc("github-api", func(context.Context) *health.Result {
		return health.Unhealthy("rate limit exhausted")
	}))
	for _, path := range []string{"/health/ready", "/healthz"} {
		w = do(t, h, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}

	pm.MarkShutdown()
	w = do(t, h, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Equal(t, health.StatusDegraded, result.Status)
}

func TestProbeMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t, nil, Config{})
	w := do(t, s.Handler(), httptest.NewRequest(http.MethodPost, "/health/live", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg, m := metrics.NewRegistry()
	m.RunStarted()

	s, _ := newTestServer(t, nil, Config{Gatherer: reg})
	w := do(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "caretaker_active_runs 1")
}

func TestWebhookQueuesRun(t *testing.T) {
	trigger := &recordingTrigger{}
	s, _ := newTestServer(t, trigger, Config{})

	w := do(t, s.Handler(), pushDelivery(t, "acme/api", "refs/heads/main", testSecret))
	assert.Equal(t, http.StatusAccepted, w.Code)

	var resp webhookResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "queued", resp.Status)
	assert.Equal(t, []string{"acme/api"}, resp.Repositories)
	assert.Equal(t, [][]string{{"acme/api"}}, trigger.batches)
}

func TestWebhookRejections(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		trigger  *recordingTrigger
		req      func(t *testing.T) *http.Request
		wantCode int
		wantBody string
	}{
		{
			name:     "bad signature",
			trigger:  &recordingTrigger{},
			req:      func(t *testing.T) *http.Request { return pushDelivery(t, "acme/api", "refs/heads/main", "wrong") },
			wantCode: http.StatusBadRequest,
			wantBody: "rejected",
		},
		{
			name:    "working branch push",
			trigger: &recordingTrigger{},
			req: func(t *testing.T) *http.Request {
				return pushDelivery(t, "acme/api", "refs/heads/update-2026-10-16", testSecret)
			},
			wantCode: http.StatusOK,
			wantBody: "ignored",
		},
		{
			name:     "repository not configured",
			cfg:      Config{Allowed: AllowList([]string{"acme/web"})},
			trigger:  &recordingTrigger{},
			req:      func(t *testing.T) *http.Request { return pushDelivery(t, "acme/api", "refs/heads/main", testSecret) },
			wantCode: http.StatusOK,
			wantBody: "ignored",
		},
		{
			name:     "queue full",
			trigger:  &recordingTrigger{err: errors.New(errors.ErrCodeSchedulerSubmit, "run queue is full")},
			req:      func(t *testing.T) *http.Request { return pushDelivery(t, "acme/api", "refs/heads/main", testSecret) },
			wantCode: http.StatusServiceUnavailable,
			wantBody: "busy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, tt.trigger, tt.cfg)
			w := do(t, s.Handler(), tt.req(t))

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
			assert.Empty(t, tt.trigger.batches)
		})
	}
}

func TestWebhookDisabledWithoutTrigger(t *testing.T) {
	s, _ := newTestServer(t, nil, Config{})
	w := do(t, s.Handler(), pushDelivery(t, "acme/api", "refs/heads/main", testSecret))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAllowList(t *testing.T) {
	assert.Nil(t, AllowList(nil))

	allowed := AllowList([]string{"acme/api"})
	assert.True(t, allowed("acme/api"))
	assert.False(t, allowed("acme/web"))
}

func TestServerLifecycle(t *testing.T) {
	s, pm := newTestServer(t, nil, Config{ShutdownTimeout: time.Second})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.Serve(l) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + l.Addr().String() + "/health/startup")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, pm.IsInitialized())
	assert.False(t, s.IsShuttingDown())

	require.NoError(t, s.Shutdown(context.Background()))
	assert.True(t, s.IsShuttingDown())
	assert.True(t, pm.IsShuttingDown())

	select {
	case err := <-serveErr:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}
