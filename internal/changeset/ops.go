// Package changeset accumulates the side effects of one repository run and
// publishes them through a Publisher.
package changeset

import (
	"context"
	"fmt"
	"strings"
)

// Kind identifies an operation type.
type Kind string

const (
	KindWriteFile         Kind = "write_file"
	KindCreateIssue       Kind = "create_issue"
	KindCreatePullRequest Kind = "create_pull_request"
	KindCreateRelease     Kind = "create_release"
	KindLabelIssue        Kind = "label_issue"
)

// Op is one pending operation, tagged with the stage that produced it.
type Op interface {
	Kind() Kind
	StageID() string
	// Summary is a one-line description used in logs and changelog input.
	Summary() string
}

// WriteFile creates or overwrites a file on the working branch. There is no
// delete operation.
type WriteFile struct {
	Stage   string
	Path    string
	Content string
	Message string
}

func (w WriteFile) Kind() Kind      { return KindWriteFile }
func (w WriteFile) StageID() string { return w.Stage }
func (w WriteFile) Summary() string { return fmt.Sprintf("%s: %s", w.Message, w.Path) }

// CreateIssue opens an issue.
type CreateIssue struct {
	Stage  string
	Title  string
	Body   string
	Labels []string
}

func (c CreateIssue) Kind() Kind      { return KindCreateIssue }
func (c CreateIssue) StageID() string { return c.Stage }
func (c CreateIssue) Summary() string { return "Issue: " + c.Title }

// CreatePullRequest opens a pull request from Head into Base.
type CreatePullRequest struct {
	Stage string
	Title string
	Body  string
	Head  string
	Base  string
}

func (c CreatePullRequest) Kind() Kind      { return KindCreatePullRequest }
func (c CreatePullRequest) StageID() string { return c.Stage }
func (c CreatePullRequest) Summary() string { return "Pull request: " + c.Title }

// CreateRelease publishes a release. An empty Target means the default branch.
type CreateRelease struct {
	Stage  string
	Tag    string
	Name   string
	Body   string
	Target string
}

func (c CreateRelease) Kind() Kind      { return KindCreateRelease }
func (c CreateRelease) StageID() string { return c.Stage }
func (c CreateRelease) Summary() string { return "Release " + c.Tag }

// LabelIssue adds labels to an existing issue.
type LabelIssue struct {
	Stage  string
	Number int
	Labels []string
}

func (l LabelIssue) Kind() Kind      { return KindLabelIssue }
func (l LabelIssue) StageID() string { return l.Stage }
func (l LabelIssue) Summary() string {
	return fmt.Sprintf("Labels on #%d: %s", l.Number, strings.Join(l.Labels, ", "))
}

// WithStage returns a copy of op tagged with stageID.
func WithStage(op Op, stageID string) Op {
	switch o := op.(type) {
	case WriteFile:
		o.Stage = stageID
		return o
	case CreateIssue:
		o.Stage = stageID
		return o
	case CreatePullRequest:
		o.Stage = stageID
		return o
	case CreateRelease:
		o.Stage = stageID
		return o
	case LabelIssue:
		o.Stage = stageID
		return o
	default:
		return op
	}
}

// Publisher applies operations to the hosting service.
type Publisher interface {
	WriteFile(ctx context.Context, repoID, branch, path string, content []byte, message string) (commitID string, err error)
	CreateIssue(ctx context.Context, repoID, title, body string, labels []string) (number int, err error)
	CreatePullRequest(ctx context.Context, repoID, title, body, head, base string) (number int, err error)
	CreateRelease(ctx context.Context, repoID, tag, name, body, target string) (id int64, err error)
}

// IssueLabeler is implemented by publishers that can label existing issues.
type IssueLabeler interface {
	AddLabels(ctx context.Context, repoID string, number int, labels []string) error
}

// FileChange is one file of a batched commit.
type FileChange struct {
	Path    string
	Content []byte
}

// BatchWriter is implemented by publishers that can commit several files at
// once. When available, each stage's writes become a single commit.
type BatchWriter interface {
	WriteFiles(ctx context.Context, repoID, branch string, files []FileChange, message string) (commitID string, err error)
}
