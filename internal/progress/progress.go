// Package progress renders repository run progress for `caretaker run`.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/caretaker/internal/pipeline"
	"github.com/felixgeelhaar/caretaker/internal/scheduler"
)

// Indicator tracks repository runs. It implements scheduler.Observer and is
// safe for use from worker goroutines.
type Indicator struct {
	writer      io.Writer
	total       int
	startTime   time.Time
	mu          sync.Mutex
	running     int
	finished    map[pipeline.Outcome]int
	showSpinner bool
	spinnerIdx  int
	stopChan    chan struct{}
	stopOnce    sync.Once
	isCI        bool
}

var _ scheduler.Observer = (*Indicator)(nil)

// Config holds configuration for progress indicator
type Config struct {
	Writer      io.Writer
	Total       int
	ShowSpinner bool
	// IsCI prints one line per event instead of redrawing a status line.
	IsCI bool
}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// NewIndicator creates an indicator for total repositories.
func NewIndicator(cfg Config) *Indicator {
	if cfg.Writer == nil {
		cfg.Writer = os.Stderr
	}
	if !cfg.IsCI {
		cfg.IsCI = os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true"
	}

	return &Indicator{
		writer:      cfg.Writer,
		total:       cfg.Total,
		startTime:   time.Now(),
		finished:    make(map[pipeline.Outcome]int),
		showSpinner: cfg.ShowSpinner && !cfg.IsCI,
		stopChan:    make(chan struct{}),
		isCI:        cfg.IsCI,
	}
}

// Start begins redrawing the status line.
func (p *Indicator) Start() {
	if p.showSpinner {
		go p.spinnerLoop()
	}
}

// Stop stops redrawing and clears the status line.
func (p *Indicator) Stop() {
	p.stopOnce.Do(func() {
		if p.showSpinner {
			close(p.stopChan)
			p.mu.Lock()
			fmt.Fprintf(p.writer, "\r%s\r", strings.Repeat(" ", 80))
			p.mu.Unlock()
		}
	})
}

func (p *Indicator) spinnerLoop() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.mu.Lock()
			fmt.Fprint(p.writer, "\r"+p.statusLine())
			p.spinnerIdx = (p.spinnerIdx + 1) % len(spinnerFrames)
			p.mu.Unlock()
		}
	}
}

// statusLine renders the current counts. Callers hold p.mu.
func (p *Indicator) statusLine() string {
	done := p.completed()
	fraction := 0.0
	if p.total > 0 {
		fraction = float64(done) / float64(p.total)
	}

	barWidth := 20
	filled := int(float64(barWidth) * fraction)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	return fmt.Sprintf("%s [%s] %d/%d repos | running %d | ✓ %d | ! %d | ✗ %d | %s",
		spinnerFrames[p.spinnerIdx],
		bar,
		done,
		p.total,
		p.running,
		p.finished[pipeline.OutcomeDone],
		p.finished[pipeline.OutcomeDegraded],
		p.finished[pipeline.OutcomeFailed],
		formatDuration(time.Since(p.startTime)),
	)
}

func (p *Indicator) completed() int {
	n := 0
	for _, c := range p.finished {
		n += c
	}
	return n
}

// OnStart implements scheduler.Observer.
func (p *Indicator) OnStart(repoID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.running++
	if p.isCI {
		fmt.Fprintf(p.writer, "▶ %s [running]\n", repoID)
	}
}

// OnFinish implements scheduler.Observer.
func (p *Indicator) OnFinish(repoID string, outcome scheduler.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.running--
	p.finished[outcome.Status]++
	if !p.isCI {
		return
	}

	symbol := "✗"
	switch outcome.Status {
	case pipeline.OutcomeDone:
		symbol = "✓"
	case pipeline.OutcomeDegraded:
		symbol = "!"
	}
	msg := fmt.Sprintf("%s %s [%s] (%d/%d)", symbol, repoID, outcome.Status, p.completed(), p.total)
	if outcome.Reason != "" {
		msg += " - " + strings.SplitN(outcome.Reason, "\n", 2)[0]
	}
	fmt.Fprintln(p.writer, msg)
}

// Counts returns the number of finished repositories per outcome.
func (p *Indicator) Counts() map[pipeline.Outcome]int {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[pipeline.Outcome]int, len(p.finished))
	for k, v := range p.finished {
		out[k] = v
	}
	return out
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
