package notify

import (
	"context"
	"sync"
	"time"

	"github.com/felixgeelhaar/caretaker/internal/config"
	"github.com/felixgeelhaar/caretaker/internal/log"
)

// Dispatcher delivers events to every configured notifier
type Dispatcher struct {
	notifiers []Notifier
	logger    *log.Logger

	// maxConcurrency limits concurrent deliveries
	maxConcurrency int

	// timeout bounds one delivery
	timeout time.Duration
}

// NewDispatcher creates a dispatcher for notifiers
func NewDispatcher(logger *log.Logger, notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{
		notifiers:      notifiers,
		logger:         log.OrDefault(logger).With("component", "notify"),
		maxConcurrency: 4,
		timeout:        DefaultTimeout,
	}
}

// FromConfig builds a dispatcher for the targets configured in cfg. It
// returns nil when no target is configured.
func FromConfig(cfg config.NotifyConfig, logger *log.Logger) *Dispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var notifiers []Notifier
	if cfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, NewSlackNotifier(cfg.SlackWebhookURL, timeout, logger))
	}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, NewWebhookNotifier(cfg.WebhookURL, timeout, logger))
	}
	if cfg.JiraURL != "" && cfg.JiraUsername != "" && cfg.JiraAPIToken != "" {
		notifiers = append(notifiers, NewJiraNotifier(cfg.JiraURL, cfg.JiraUsername, cfg.JiraAPIToken, cfg.JiraProject, timeout, logger))
	}
	if len(notifiers) == 0 {
		return nil
	}

	d := NewDispatcher(logger, notifiers...)
	d.timeout = timeout
	return d
}

// Len returns the number of notifiers
func (d *Dispatcher) Len() int {
	if d == nil {
		return 0
	}
	return len(d.notifiers)
}

// NotifyAll delivers event to every notifier concurrently. Failures are
// logged and returned in the results; they never propagate.
func (d *Dispatcher) NotifyAll(ctx context.Context, event *Event) []Result {
	if d.Len() == 0 {
		return nil
	}

	results := make([]Result, len(d.notifiers))
	var wg sync.WaitGroup

	// Use a semaphore to limit concurrency
	sem := make(chan struct{}, d.maxConcurrency)

	for i, n := range d.notifiers {
		wg.Add(1)
		go func(index int, n Notifier) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[index] = d.deliver(ctx, n, event)
		}(i, n)
	}

	wg.Wait()
	return results
}

func (d *Dispatcher) deliver(ctx context.Context, n Notifier, event *Event) Result {
	result := Result{Notifier: n.Name()}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	err := n.Notify(ctx, event)
	result.Duration = time.Since(start)

	if err != nil {
		result.Error = err.Error()
		d.logger.Warn("notification failed", "notifier", n.Name(), "repo", event.RepoID, "error", err.Error())
		return result
	}
	result.Success = true
	return result
}
