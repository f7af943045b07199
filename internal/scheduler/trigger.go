package scheduler

import (
	"context"

	"github.com/felixgeelhaar/caretaker/internal/errors"
	"github.com/felixgeelhaar/caretaker/internal/log"
)

// DefaultTriggerBuffer is the number of pending run requests a Trigger holds.
const DefaultTriggerBuffer = 64

// Trigger serializes run requests from webhooks and the schedule so that at
// most one RunAll, and therefore at most max_workers repositories, is in
// flight at a time.
type Trigger struct {
	requests chan []string
	logger   *log.Logger
}

// NewTrigger creates a Trigger holding up to buffer pending requests.
func NewTrigger(buffer int, logger *log.Logger) *Trigger {
	if buffer <= 0 {
		buffer = DefaultTriggerBuffer
	}
	return &Trigger{
		requests: make(chan []string, buffer),
		logger:   log.OrDefault(logger).With("component", "trigger"),
	}
}

// Submit queues a run of repoIDs without blocking.
func (t *Trigger) Submit(repoIDs []string) error {
	if len(repoIDs) == 0 {
		return nil
	}
	select {
	case t.requests <- repoIDs:
		return nil
	default:
		return errors.New(errors.ErrCodeSchedulerSubmit, "run queue is full").
			WithSuggestion("Retry the delivery later or raise concurrency.max_workers")
	}
}

// Loop runs queued requests on s until ctx is cancelled. Requests that
// arrive while a batch is running are merged into the next batch. done, if
// non-nil, receives the outcomes of each batch.
func (t *Trigger) Loop(ctx context.Context, s *Scheduler, maxWorkers int, done func(map[string]Outcome)) {
	for {
		var batch []string
		select {
		case <-ctx.Done():
			return
		case repos := <-t.requests:
			batch = append(batch, repos...)
		}

	drain:
		for {
			select {
			case repos := <-t.requests:
				batch = append(batch, repos...)
			default:
				break drain
			}
		}

		t.logger.Info("running triggered batch", "repos", len(batch))
		outcomes := s.RunAll(ctx, batch, maxWorkers)
		if done != nil {
			done(outcomes)
		}
	}
}
