// Package github adapts the GitHub REST API to the snapshot provider and
// change publisher interfaces, and parses webhook deliveries.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	gh "github.com/google/go-github/v73/github"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/felixgeelhaar/caretaker/internal/config"
	"github.com/felixgeelhaar/caretaker/internal/log"
	"github.com/felixgeelhaar/caretaker/internal/version"
)

// DefaultMaxFileSize skips larger blobs when building a snapshot.
const DefaultMaxFileSize = 1 << 20

// Client is the GitHub adapter. It implements snapshot.Provider,
// snapshot.IssueSource, snapshot.ReleaseSource, changeset.Publisher and
// changeset.BatchWriter.
type Client struct {
	gh          *gh.Client
	cfg         config.GitHubConfig
	include     func(p string) bool
	maxFileSize int
	now         func() time.Time
	logger      *log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithInclude selects the files fetched into snapshots.
func WithInclude(fn func(p string) bool) Option {
	return func(c *Client) { c.include = fn }
}

// WithMaxFileSize overrides DefaultMaxFileSize.
func WithMaxFileSize(n int) Option {
	return func(c *Client) { c.maxFileSize = n }
}

// WithClock sets the clock used for date branch names.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithRetries sets the retry budget and backoff bounds of the transport.
func WithRetries(retries int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		rc := retryClient(c.logger)
		rc.RetryMax = retries
		rc.RetryWaitMin = waitMin
		rc.RetryWaitMax = waitMax
		c.gh = newGitHubClient(rc.StandardClient(), c.cfg.Token, c.gh.BaseURL)
	}
}

// New creates a GitHub adapter from cfg. Snapshots include the files whose
// extension is in extensions plus the files stages read by name.
func New(cfg config.GitHubConfig, extensions []string, logger *log.Logger, opts ...Option) (*Client, error) {
	logger = log.OrDefault(logger).With("component", "github")

	var base *url.URL
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid github base_url: %w", err)
		}
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		base = u
	}

	c := &Client{
		gh:          newGitHubClient(retryClient(logger).StandardClient(), cfg.Token, base),
		cfg:         cfg,
		include:     DefaultInclude(extensions),
		maxFileSize: DefaultMaxFileSize,
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func retryClient(logger *log.Logger) *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = logger.Slog()
	return rc
}

func newGitHubClient(hc *http.Client, token string, base *url.URL) *gh.Client {
	client := gh.NewClient(hc)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if base != nil {
		client.BaseURL = base
	}
	client.UserAgent = version.UserAgent()
	return client
}

// DefaultInclude matches files with one of extensions and the files read by
// name: requirements.txt, CHANGELOG.md and generated documentation.
func DefaultInclude(extensions []string) func(p string) bool {
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = true
	}
	return func(p string) bool {
		base := path.Base(p)
		switch {
		case exts[strings.ToLower(path.Ext(p))]:
			return true
		case base == "requirements.txt" || base == "CHANGELOG.md":
			return p == base
		case strings.HasSuffix(base, "_docs.md"):
			return true
		}
		return false
	}
}

func isNotFound(resp *gh.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusNotFound
}

// RateLimit reports the remaining core API budget of the token.
func (c *Client) RateLimit(ctx context.Context) (remaining, limit int, err error) {
	limits, _, err := c.gh.RateLimit.Get(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("get rate limit: %w", err)
	}
	core := limits.GetCore()
	return core.Remaining, core.Limit, nil
}
