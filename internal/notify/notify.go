// Package notify delivers run notifications to Slack, Jira and generic webhooks.
package notify

import (
	"context"
	"time"
)

// EventType represents the terminal outcome a notification reports
type EventType string

const (
	EventRunDone     EventType = "run_done"
	EventRunDegraded EventType = "run_degraded"
	EventRunFailed   EventType = "run_failed"
)

// Event is the notification payload for one finished repository run
type Event struct {
	// Type is the event type
	Type EventType `json:"type"`

	// Timestamp when the run finished
	Timestamp time.Time `json:"timestamp"`

	RepoID string `json:"repo"`
	RunID  string `json:"run_id"`
	Branch string `json:"branch,omitempty"`

	// Reason is the failure cause of a failed run
	Reason string `json:"reason,omitempty"`

	// DegradedStages lists stages that failed without aborting the run
	DegradedStages []string `json:"degraded_stages,omitempty"`

	Commits  int           `json:"commits"`
	Issues   int           `json:"issues"`
	Duration time.Duration `json:"duration"`
}

// Notifier is the interface that all notification targets implement
type Notifier interface {
	// Name returns the notifier name
	Name() string

	// Notify delivers one event
	Notify(ctx context.Context, event *Event) error
}

// Result contains the result of one delivery
type Result struct {
	Notifier string        `json:"notifier"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// DefaultTimeout is the default delivery timeout
const DefaultTimeout = 10 * time.Second
