package provider

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/felixgeelhaar/caretaker/internal/config"
	"github.com/felixgeelhaar/caretaker/internal/errors"
	"github.com/felixgeelhaar/caretaker/internal/log"
	"github.com/felixgeelhaar/caretaker/internal/version"
)

// OpenAIClient implements Provider against an OpenAI-compatible
// /chat/completions endpoint.
type OpenAIClient struct {
	id          string
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	client      *http.Client
	templates   *Templates
	logger      *log.Logger
}

// OpenAI API request/response structures
type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Index        int           `json:"index"`
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason,omitempty"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// ClientOption configures an OpenAIClient.
type ClientOption func(*retryablehttp.Client)

// WithRetryWait bounds the backoff between retries.
func WithRetryWait(minWait, maxWait time.Duration) ClientOption {
	return func(rc *retryablehttp.Client) {
		rc.RetryWaitMin = minWait
		rc.RetryWaitMax = maxWait
	}
}

// NewOpenAIClient creates a client from the provider configuration. Requests
// go through a retrying transport that retries connection errors and 429/5xx
// responses up to cfg.MaxRetries times.
func NewOpenAIClient(cfg config.ProviderConfig, logger *log.Logger, opts ...ClientOption) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New(errors.ErrCodeProviderConfig, "provider api_key is not set").
			WithSuggestion("Set provider.api_key or the OPENAI_API_KEY environment variable")
	}

	templates, err := NewTemplates(cfg.Prompts)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeProviderTemplate, "invalid prompt template override", err)
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	id := cfg.ID
	if id == "" {
		id = "openai"
	}

	logger = log.OrDefault(logger)

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.MaxRetries
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = logger.With("component", "provider").Slog()
	for _, opt := range opts {
		opt(rc)
	}

	return &OpenAIClient{
		id:          id + "/" + model,
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       model,
		temperature: 0.2,
		client:      rc.StandardClient(),
		templates:   templates,
		logger:      logger,
	}, nil
}

// ID implements Provider.
func (c *OpenAIClient) ID() string {
	return c.id
}

// Invoke implements Provider.
func (c *OpenAIClient) Invoke(ctx context.Context, templateID string, vars map[string]string) (string, error) {
	prompt, err := c.templates.Render(templateID, vars)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeProviderTemplate, "failed to render prompt", err)
	}

	reqBody, err := json.Marshal(openAIRequest{
		Model: c.model,
		Messages: []openAIMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: c.temperature,
	})
	if err != nil {
		return "", errors.NewProviderError(c.id, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", errors.NewProviderError(c.id, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("User-Agent", version.UserAgent())

	start := time.Now()
	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", errors.Wrap(errors.ErrCodeProviderTimeout, fmt.Sprintf("provider %s timed out", c.id), err)
		}
		return "", errors.NewProviderError(c.id, fmt.Errorf("send request: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", errors.NewProviderError(c.id, fmt.Errorf("read response: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		var errResp openAIResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != nil {
			return "", errors.NewProviderError(c.id, fmt.Errorf("openai error: %s", errResp.Error.Message))
		}
		return "", errors.NewProviderError(c.id, fmt.Errorf("http error %d: %s", httpResp.StatusCode, string(respBody)))
	}

	var oaiResp openAIResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return "", errors.NewProviderError(c.id, fmt.Errorf("unmarshal response: %w", err))
	}
	if len(oaiResp.Choices) == 0 {
		return "", errors.NewProviderError(c.id, fmt.Errorf("response contained no choices"))
	}

	c.logger.Debug("provider call finished",
		"template", templateID,
		"model", oaiResp.Model,
		"tokens", oaiResp.Usage.TotalTokens,
		"latency", time.Since(start),
	)

	return oaiResp.Choices[0].Message.Content, nil
}

// Health checks that the provider endpoint is reachable and accepts the
// configured key by listing models.
func (c *OpenAIClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.NewProviderError(c.id, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return errors.NewProviderError(c.id, fmt.Errorf("http error %d", resp.StatusCode))
	}
	return nil
}
