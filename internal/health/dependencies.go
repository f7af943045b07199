package health

import (
	"context"
	"fmt"
)

// LowRateLimit is the remaining GitHub request budget below which the
// github-api check reports degraded.
const LowRateLimit = 100

// RateLimiter reports the remaining hosting API budget.
type RateLimiter interface {
	RateLimit(ctx context.Context) (remaining, limit int, err error)
}

// GitHubChecker checks that the GitHub API is reachable and that the token
// still has request budget left.
type GitHubChecker struct {
	client RateLimiter
}

// NewGitHubChecker creates a GitHubChecker.
func NewGitHubChecker(client RateLimiter) *GitHubChecker {
	return &GitHubChecker{client: client}
}

func (c *GitHubChecker) Name() string { return "github-api" }

func (c *GitHubChecker) Check(ctx context.Context) *Result {
	remaining, limit, err := c.client.RateLimit(ctx)
	if err != nil {
		return Unhealthy("github api unreachable").WithDetail("error", err.Error())
	}

	var r *Result
	switch {
	case remaining == 0:
		r = Unhealthy("github rate limit exhausted")
	case remaining < LowRateLimit:
		r = Degraded(fmt.Sprintf("github rate limit low (%d/%d)", remaining, limit))
	default:
		r = Healthy("github api reachable")
	}
	return r.WithDetail("remaining", remaining).WithDetail("limit", limit)
}

// HealthReporter is implemented by intelligence providers that can probe
// their endpoint.
type HealthReporter interface {
	ID() string
	Health(ctx context.Context) error
}

// ProviderChecker checks the intelligence provider. A failing provider only
// degrades readiness since stages recover from provider errors.
type ProviderChecker struct {
	provider HealthReporter
}

// NewProviderChecker creates a ProviderChecker.
func NewProviderChecker(p HealthReporter) *ProviderChecker {
	return &ProviderChecker{provider: p}
}

func (c *ProviderChecker) Name() string { return "provider" }

func (c *ProviderChecker) Check(ctx context.Context) *Result {
	if err := c.provider.Health(ctx); err != nil {
		return Degraded("provider unavailable").
			WithDetail("provider", c.provider.ID()).
			WithDetail("error", err.Error())
	}
	return Healthy("provider reachable").WithDetail("provider", c.provider.ID())
}
