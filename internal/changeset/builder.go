package changeset

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/caretaker/internal/errors"
	"github.com/felixgeelhaar/caretaker/internal/log"
	"github.com/felixgeelhaar/caretaker/internal/snapshot"
)

// PublishError records one operation that could not be applied.
type PublishError struct {
	Op  Op
	Err error
}

func (e PublishError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op.Summary(), e.Op.StageID(), e.Err)
}

func (e PublishError) Unwrap() error {
	return e.Err
}

// WriteResult describes one file write that was published or skipped.
type WriteResult struct {
	Stage   string
	Path    string
	Commit  string
	Skipped bool
	Diff    DiffStat
}

// Report is the outcome of one or more flushes.
type Report struct {
	Commits      []string
	Writes       []WriteResult
	Issues       []int
	PullRequests []int
	Releases     []string
	Labeled      []int
	Errors       []PublishError
}

// SkippedWrites counts writes dropped because the content was unchanged.
func (r Report) SkippedWrites() int {
	n := 0
	for _, w := range r.Writes {
		if w.Skipped {
			n++
		}
	}
	return n
}

// Merge appends other to r.
func (r *Report) Merge(other Report) {
	r.Commits = append(r.Commits, other.Commits...)
	r.Writes = append(r.Writes, other.Writes...)
	r.Issues = append(r.Issues, other.Issues...)
	r.PullRequests = append(r.PullRequests, other.PullRequests...)
	r.Releases = append(r.Releases, other.Releases...)
	r.Labeled = append(r.Labeled, other.Labeled...)
	r.Errors = append(r.Errors, other.Errors...)
}

// Builder is the change set of one repository run. It is owned by a single
// worker and is not safe for concurrent use.
type Builder struct {
	repoID string
	branch string
	logger *log.Logger

	pending []Op
	// current content and fingerprint per path, from the snapshot and
	// updated by each successful write
	content     map[string]string
	fingerprint map[string]string
	published   []string
}

// NewBuilder creates an empty change set for snap.
func NewBuilder(snap *snapshot.Snapshot, logger *log.Logger) *Builder {
	b := &Builder{
		repoID:      snap.RepoID,
		branch:      snap.Branch,
		logger:      log.OrDefault(logger),
		content:     make(map[string]string, len(snap.Files)),
		fingerprint: make(map[string]string, len(snap.Files)),
	}
	for _, f := range snap.Files {
		b.content[f.Path] = string(f.Content)
		b.fingerprint[f.Path] = f.Fingerprint
	}
	return b
}

// Add queues op.
func (b *Builder) Add(op Op) {
	b.pending = append(b.pending, op)
}

// Pending returns the queued operations in order.
func (b *Builder) Pending() []Op {
	return append([]Op(nil), b.pending...)
}

// Published returns summaries of every operation applied so far, in order.
func (b *Builder) Published() []string {
	return append([]string(nil), b.published...)
}

// FlushStage publishes the queued operations of stageID and removes them from
// the queue. Operations of other stages stay queued.
func (b *Builder) FlushStage(ctx context.Context, stageID string, pub Publisher) Report {
	var mine, rest []Op
	for _, op := range b.pending {
		if op.StageID() == stageID {
			mine = append(mine, op)
		} else {
			rest = append(rest, op)
		}
	}
	b.pending = rest
	return b.publish(ctx, stageID, mine, pub)
}

// Flush publishes every queued operation, stage by stage in order of first
// appearance, and empties the queue.
func (b *Builder) Flush(ctx context.Context, pub Publisher) Report {
	var order []string
	byStage := make(map[string][]Op)
	for _, op := range b.pending {
		if _, ok := byStage[op.StageID()]; !ok {
			order = append(order, op.StageID())
		}
		byStage[op.StageID()] = append(byStage[op.StageID()], op)
	}
	b.pending = nil

	var report Report
	for _, stageID := range order {
		report.Merge(b.publish(ctx, stageID, byStage[stageID], pub))
	}
	return report
}

// publish applies ops of one stage. Every operation is attempted; failures
// are recorded in the report.
func (b *Builder) publish(ctx context.Context, stageID string, ops []Op, pub Publisher) Report {
	var report Report
	var writes []WriteFile

	for _, op := range ops {
		switch o := op.(type) {
		case WriteFile:
			writes = append(writes, o)
		case CreateIssue:
			n, err := pub.CreateIssue(ctx, b.repoID, o.Title, o.Body, o.Labels)
			if err != nil {
				b.fail(&report, o, errors.NewPublishError(errors.ErrCodePublishIssue, o.Title, err))
				continue
			}
			report.Issues = append(report.Issues, n)
			b.published = append(b.published, o.Summary())
		case CreatePullRequest:
			n, err := pub.CreatePullRequest(ctx, b.repoID, o.Title, o.Body, o.Head, o.Base)
			if err != nil {
				b.fail(&report, o, errors.NewPublishError(errors.ErrCodePublishPR, o.Title, err))
				continue
			}
			report.PullRequests = append(report.PullRequests, n)
			b.published = append(b.published, o.Summary())
		case CreateRelease:
			if _, err := pub.CreateRelease(ctx, b.repoID, o.Tag, o.Name, o.Body, o.Target); err != nil {
				b.fail(&report, o, errors.NewPublishError(errors.ErrCodePublishRelease, o.Tag, err))
				continue
			}
			report.Releases = append(report.Releases, o.Tag)
			b.published = append(b.published, o.Summary())
		case LabelIssue:
			target := fmt.Sprintf("labels on #%d", o.Number)
			labeler, ok := pub.(IssueLabeler)
			if !ok {
				b.fail(&report, o, errors.NewPublishError(errors.ErrCodePublishLabel, target,
					fmt.Errorf("publisher cannot label issues")))
				continue
			}
			if err := labeler.AddLabels(ctx, b.repoID, o.Number, o.Labels); err != nil {
				b.fail(&report, o, errors.NewPublishError(errors.ErrCodePublishLabel, target, err))
				continue
			}
			report.Labeled = append(report.Labeled, o.Number)
			b.published = append(b.published, o.Summary())
		}
	}

	if len(writes) > 0 {
		b.publishWrites(ctx, stageID, writes, pub, &report)
	}
	return report
}

// publishWrites commits the changed files of one stage under one message.
func (b *Builder) publishWrites(ctx context.Context, stageID string, writes []WriteFile, pub Publisher, report *Report) {
	// later writes to the same path within a stage replace earlier ones
	last := make(map[string]int, len(writes))
	for i, w := range writes {
		last[w.Path] = i
	}

	var changed []WriteFile
	for i, w := range writes {
		if last[w.Path] != i {
			continue
		}
		if fp, ok := b.fingerprint[w.Path]; ok && fp == snapshot.Fingerprint([]byte(w.Content)) {
			report.Writes = append(report.Writes, WriteResult{Stage: stageID, Path: w.Path, Skipped: true})
			b.logger.Debug("skipping unchanged file", "stage", stageID, "path", w.Path)
			continue
		}
		changed = append(changed, w)
	}
	if len(changed) == 0 {
		return
	}

	message := changed[0].Message
	if message == "" {
		message = fmt.Sprintf("caretaker: %s", stageID)
	}

	if bw, ok := pub.(BatchWriter); ok {
		files := make([]FileChange, len(changed))
		for i, w := range changed {
			files[i] = FileChange{Path: w.Path, Content: []byte(w.Content)}
		}
		commit, err := bw.WriteFiles(ctx, b.repoID, b.branch, files, message)
		if err != nil {
			for _, w := range changed {
				b.fail(report, w, errors.NewPublishError(errors.ErrCodePublishWrite, w.Path, err))
			}
			return
		}
		report.Commits = append(report.Commits, commit)
		for _, w := range changed {
			b.recordWrite(report, stageID, w, commit)
		}
		return
	}

	for _, w := range changed {
		commit, err := pub.WriteFile(ctx, b.repoID, b.branch, w.Path, []byte(w.Content), message)
		if err != nil {
			b.fail(report, w, errors.NewPublishError(errors.ErrCodePublishWrite, w.Path, err))
			continue
		}
		report.Commits = append(report.Commits, commit)
		b.recordWrite(report, stageID, w, commit)
	}
}

func (b *Builder) recordWrite(report *Report, stageID string, w WriteFile, commit string) {
	report.Writes = append(report.Writes, WriteResult{
		Stage:  stageID,
		Path:   w.Path,
		Commit: commit,
		Diff:   LineDiff(b.content[w.Path], w.Content),
	})
	b.content[w.Path] = w.Content
	b.fingerprint[w.Path] = snapshot.Fingerprint([]byte(w.Content))
	b.published = append(b.published, w.Summary())
}

func (b *Builder) fail(report *Report, op Op, err error) {
	report.Errors = append(report.Errors, PublishError{Op: op, Err: err})
	b.logger.WithError(err).Warn("publish failed", "stage", op.StageID(), "kind", string(op.Kind()))
}
