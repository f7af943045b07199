package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/caretaker/internal/changeset"
	"github.com/felixgeelhaar/caretaker/internal/provider"
	"github.com/felixgeelhaar/caretaker/internal/snapshot"
)

// memoryRepo is an in-memory snapshot provider and publisher.
type memoryRepo struct {
	mu        sync.Mutex
	snap      *snapshot.Snapshot
	branchErr error
	snapErr   error
	failOn    map[string]bool

	branches int
	commits  []string
	writes   map[string]string
	issues   []string
	prs      []string
	releases []string
}

func newMemoryRepo(files ...snapshot.File) *memoryRepo {
	return &memoryRepo{
		snap:   snapshot.New("acme/api", "update-2026-10-16", files),
		failOn: map[string]bool{},
		writes: map[string]string{},
	}
}

func (m *memoryRepo) DateBranch(context.Context, string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.branchErr != nil {
		return "", m.branchErr
	}
	m.branches++
	return m.snap.Branch, nil
}

func (m *memoryRepo) Snapshot(_ context.Context, repoID, branch string) (*snapshot.Snapshot, error) {
	if m.snapErr != nil {
		return nil, m.snapErr
	}
	return snapshot.New(repoID, branch, m.snap.Files), nil
}

func (m *memoryRepo) WriteFile(_ context.Context, _, _, path string, content []byte, message string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn[path] {
		return "", fmt.Errorf("409 conflict")
	}
	m.writes[path] = string(content)
	commit := fmt.Sprintf("c%d", len(m.commits)+1)
	m.commits = append(m.commits, commit+" "+message)
	return commit, nil
}

func (m *memoryRepo) CreateIssue(_ context.Context, _, title, _ string, _ []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn[title] {
		return 0, fmt.Errorf("rate limited")
	}
	m.issues = append(m.issues, title)
	return len(m.issues), nil
}

func (m *memoryRepo) CreatePullRequest(_ context.Context, _, title, _, _, _ string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prs = append(m.prs, title)
	return len(m.prs), nil
}

func (m *memoryRepo) CreateRelease(_ context.Context, _, tag, _, _, _ string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases = append(m.releases, tag)
	return int64(len(m.releases)), nil
}

// batchRepo adds single-commit multi-file writes to memoryRepo, like the
// GitHub adapter.
type batchRepo struct {
	*memoryRepo
	batches [][]string
}

func (b *batchRepo) WriteFiles(_ context.Context, _, _ string, files []changeset.FileChange, message string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	paths := make([]string, len(files))
	for i, f := range files {
		b.writes[f.Path] = string(f.Content)
		paths[i] = f.Path
	}
	b.batches = append(b.batches, paths)
	commit := fmt.Sprintf("c%d", len(b.commits)+1)
	b.commits = append(b.commits, commit+" "+message)
	return commit, nil
}

// curatedRepo adds issue, label and statistics sources to memoryRepo.
type curatedRepo struct {
	*memoryRepo
	open    []snapshot.Issue
	defined []string
	stats   snapshot.RepoStats
	labeled map[int][]string
}

func (c *curatedRepo) OpenIssues(context.Context, string) ([]snapshot.Issue, error) {
	return c.open, nil
}

func (c *curatedRepo) Labels(context.Context, string) ([]string, error) {
	return c.defined, nil
}

func (c *curatedRepo) AddLabels(_ context.Context, _ string, number int, labels []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.labeled == nil {
		c.labeled = map[int][]string{}
	}
	c.labeled[number] = append(c.labeled[number], labels...)
	return nil
}

func (c *curatedRepo) RepoStats(context.Context, string) (snapshot.RepoStats, error) {
	return c.stats, nil
}

// countingProvider answers every template deterministically and counts calls.
type countingProvider struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func newCountingProvider() *countingProvider {
	return &countingProvider{calls: map[string]int{}}
}

func (p *countingProvider) ID() string { return "fake/model-1" }

func (p *countingProvider) Invoke(_ context.Context, templateID string, vars map[string]string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[templateID]++
	if p.err != nil {
		return "", p.err
	}

	switch templateID {
	case provider.TemplateOptimizeCode:
		return "```python\n# optimized\n" + vars["content"] + "```\n", nil
	case provider.TemplateSuggestLabels:
		return "bug, question", nil
	case provider.TemplateSuggestPriority:
		return "medium", nil
	default:
		return templateID + " for " + vars["path"], nil
	}
}

func (p *countingProvider) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		n += c
	}
	return n
}
