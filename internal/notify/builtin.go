package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/felixgeelhaar/caretaker/internal/log"
	"github.com/felixgeelhaar/caretaker/internal/version"
)

func newHTTPClient(timeout time.Duration, logger *log.Logger) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = log.OrDefault(logger).Slog()
	client := rc.StandardClient()
	client.Timeout = timeout
	return client
}

func post(ctx context.Context, client *http.Client, url string, payload any) (*http.Response, error) {
	req, err := newJSONRequest(ctx, url, payload)
	if err != nil {
		return nil, err
	}
	return client.Do(req)
}

func newJSONRequest(ctx context.Context, url string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	return req, nil
}

// WebhookNotifier POSTs the event as JSON
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a new webhook notifier
func NewWebhookNotifier(url string, timeout time.Duration, logger *log.Logger) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: newHTTPClient(timeout, logger)}
}

func (n *WebhookNotifier) Name() string { return "webhook" }

func (n *WebhookNotifier) Notify(ctx context.Context, event *Event) error {
	resp, err := post(ctx, n.client, n.url, event)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// SlackNotifier sends notifications to a Slack incoming webhook
type SlackNotifier struct {
	webhookURL string
	username   string
	iconEmoji  string
	client     *http.Client
}

// NewSlackNotifier creates a new Slack notifier
func NewSlackNotifier(webhookURL string, timeout time.Duration, logger *log.Logger) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		username:   "Caretaker",
		iconEmoji:  ":robot_face:",
		client:     newHTTPClient(timeout, logger),
	}
}

func (n *SlackNotifier) Name() string { return "slack" }

func (n *SlackNotifier) Notify(ctx context.Context, event *Event) error {
	payload := map[string]interface{}{
		"text":       FormatMessage(event),
		"username":   n.username,
		"icon_emoji": n.iconEmoji,
	}

	resp, err := post(ctx, n.client, n.webhookURL, payload)
	if err != nil {
		return fmt.Errorf("Slack request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Slack returned status %d", resp.StatusCode)
	}
	return nil
}

// JiraNotifier files one Task per finished run in a Jira project
type JiraNotifier struct {
	baseURL  string
	username string
	apiToken string
	project  string
	client   *http.Client
}

// NewJiraNotifier creates a Jira notifier for the project with key project
func NewJiraNotifier(baseURL, username, apiToken, project string, timeout time.Duration, logger *log.Logger) *JiraNotifier {
	return &JiraNotifier{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		apiToken: apiToken,
		project:  project,
		client:   newHTTPClient(timeout, logger),
	}
}

func (n *JiraNotifier) Name() string { return "jira" }

func (n *JiraNotifier) Notify(ctx context.Context, event *Event) error {
	payload := map[string]any{
		"fields": map[string]any{
			"project":     map[string]string{"key": n.project},
			"summary":     "Caretaker report for " + event.RepoID,
			"description": FormatMessage(event),
			"issuetype":   map[string]string{"name": "Task"},
		},
	}

	req, err := newJSONRequest(ctx, n.baseURL+"/rest/api/2/issue", payload)
	if err != nil {
		return err
	}
	req.SetBasicAuth(n.username, n.apiToken)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("Jira request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("Jira returned status %d", resp.StatusCode)
	}
	return nil
}

// FormatMessage renders event as a short chat message
func FormatMessage(event *Event) string {
	switch event.Type {
	case EventRunDone:
		return fmt.Sprintf("✅ Processed repository: %s\nBranch: %s | Commits: %d | Issues: %d | Duration: %s",
			event.RepoID, event.Branch, event.Commits, event.Issues, event.Duration.Round(time.Second))

	case EventRunDegraded:
		return fmt.Sprintf("⚠️ Processed repository with errors: %s\nBranch: %s | Degraded stages: %s",
			event.RepoID, event.Branch, strings.Join(event.DegradedStages, ", "))

	case EventRunFailed:
		return fmt.Sprintf("❌ Failed to process repository: %s\nError: %s", event.RepoID, event.Reason)

	default:
		return fmt.Sprintf("Event: %s for repository %s", event.Type, event.RepoID)
	}
}
