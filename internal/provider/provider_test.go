package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/caretaker/internal/config"
	"github.com/felixgeelhaar/caretaker/internal/errors"
	"github.com/felixgeelhaar/caretaker/internal/log"
)

func testConfig(baseURL string) config.ProviderConfig {
	return config.ProviderConfig{
		ID:         "openai",
		BaseURL:    baseURL,
		APIKey:     "test-key",
		Model:      "gpt-test",
		MaxRetries: 2,
		Timeout:    5 * time.Second,
	}
}

func newTestClient(t *testing.T, cfg config.ProviderConfig) *OpenAIClient {
	t.Helper()
	client, err := NewOpenAIClient(cfg, log.Discard(), WithRetryWait(time.Millisecond, 5*time.Millisecond))
	require.NoError(t, err)
	return client
}

func TestNewOpenAIClientRequiresKey(t *testing.T) {
	cfg := testConfig("")
	cfg.APIKey = ""

	_, err := NewOpenAIClient(cfg, log.Discard())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeProviderConfig, errors.CodeOf(err))
}

func TestOpenAIClientID(t *testing.T) {
	client := newTestClient(t, testConfig(""))
	assert.Equal(t, "openai/gpt-test", client.ID())
}

func TestOpenAIClientInvoke(t *testing.T) {
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Contains(t, req.Messages[1].Content, "File: app.py")
		assert.Contains(t, req.Messages[1].Content, "print('hi')")

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openAIResponse{
			Model:   "gpt-test",
			Choices: []openAIChoice{{Message: openAIMessage{Role: "assistant", Content: "- looks fine"}}},
		})
	}))

	client := newTestClient(t, testConfig(server.URL))
	out, err := client.Invoke(context.Background(), TemplateReviewCode, map[string]string{
		"path":    "app.py",
		"content": "print('hi')",
	})
	require.NoError(t, err)
	assert.Equal(t, "- looks fine", out)
}

func TestOpenAIClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(openAIResponse{
			Choices: []openAIChoice{{Message: openAIMessage{Content: "ok"}}},
		})
	}))

	client := newTestClient(t, testConfig(server.URL))
	out, err := client.Invoke(context.Background(), TemplateDocumentation, map[string]string{"path": "a.py"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenAIClientErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"api error body", http.StatusBadRequest, `{"error":{"message":"bad model"}}`, "bad model"},
		{"plain body", http.StatusUnauthorized, `nope`, "http error 401"},
		{"no choices", http.StatusOK, `{"choices":[]}`, "no choices"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))

			client := newTestClient(t, testConfig(server.URL))
			_, err := client.Invoke(context.Background(), TemplateReviewCode, nil)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, "PROVIDER"))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestOpenAIClientUnknownTemplate(t *testing.T) {
	client := newTestClient(t, testConfig("http://127.0.0.1:1"))
	_, err := client.Invoke(context.Background(), "no_such_template", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeProviderTemplate, errors.CodeOf(err))
}

func TestTemplatesOverride(t *testing.T) {
	tmpls, err := NewTemplates(map[string]string{
		TemplateReviewCode: "Review {{.path}} briefly",
		"custom":           "Hello {{.name}}{{.missing}}",
	})
	require.NoError(t, err)

	out, err := tmpls.Render(TemplateReviewCode, map[string]string{"path": "a.py"})
	require.NoError(t, err)
	assert.Equal(t, "Review a.py briefly", out)

	out, err = tmpls.Render("custom", map[string]string{"name": "bob"})
	require.NoError(t, err)
	assert.Equal(t, "Hello bob", out)

	assert.Contains(t, tmpls.IDs(), TemplateChangelogEntry)
	assert.Contains(t, tmpls.IDs(), TemplateSuggestPriority)

	_, err = NewTemplates(map[string]string{"broken": "{{.x"})
	assert.Error(t, err)
}

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"fenced with language", "Here you go:\n```python\nprint('x')\n```\nDone.", "print('x')\n"},
		{"fenced without language", "```\na = 1\nb = 2\n```", "a = 1\nb = 2\n"},
		{"no fence", "  plain text \n", "plain text\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCode(tt.in))
		})
	}
}

func TestOpenAIClientHealth(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/models", r.URL.Path)
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))

	cfg := testConfig(server.URL)
	cfg.MaxRetries = 0
	client := newTestClient(t, cfg)
	require.NoError(t, client.Health(context.Background()))

	status.Store(http.StatusUnauthorized)
	err := client.Health(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeProviderAPI, errors.CodeOf(err))
}
