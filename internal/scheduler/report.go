package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/caretaker/internal/notify"
	"github.com/felixgeelhaar/caretaker/internal/pipeline"
)

// SummaryLabel labels run summary issues.
const SummaryLabel = "caretaker"

// SummaryIssue renders the title and body of the issue filed for a degraded
// or failed run.
func SummaryIssue(repoID string, o Outcome, now time.Time) (title, body string) {
	title = fmt.Sprintf("Caretaker run %s on %s", o.Status, now.Format("2006-01-02"))

	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s\nOutcome: **%s**\n", repoID, o.Status)
	if o.Reason != "" {
		fmt.Fprintf(&b, "\nReason:\n\n```\n%s\n```\n", o.Reason)
	}

	if run := o.Run; run != nil {
		fmt.Fprintf(&b, "\nRun: `%s` on branch `%s`\n", run.ID, run.Branch)
		if len(run.Stages) > 0 {
			b.WriteString("\n| Stage | Status | Error |\n|---|---|---|\n")
			for _, st := range run.Stages {
				msg := ""
				if st.Err != nil {
					msg = firstLine(st.Err.Error())
				}
				fmt.Fprintf(&b, "| %s | %s | %s |\n", st.StageID, st.Status, msg)
			}
		}
		if n := len(run.Report.Errors); n > 0 {
			fmt.Fprintf(&b, "\n%d operation(s) failed to publish:\n\n", n)
			for _, pe := range run.Report.Errors {
				fmt.Fprintf(&b, "- %s: %s\n", pe.Op.Summary(), firstLine(pe.Err.Error()))
			}
		}
	}
	return title, b.String()
}

// NewEvent builds the notification event of one outcome.
func NewEvent(repoID string, o Outcome, now time.Time) *notify.Event {
	e := &notify.Event{
		Timestamp: now,
		RepoID:    repoID,
		Reason:    o.Reason,
	}
	switch o.Status {
	case pipeline.OutcomeDone:
		e.Type = notify.EventRunDone
	case pipeline.OutcomeDegraded:
		e.Type = notify.EventRunDegraded
	default:
		e.Type = notify.EventRunFailed
	}

	if run := o.Run; run != nil {
		e.RunID = run.ID
		e.Branch = run.Branch
		e.DegradedStages = run.DegradedStages()
		e.Commits = len(run.Report.Commits)
		e.Issues = len(run.Report.Issues)
		e.Duration = run.Duration()
	}
	return e
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
