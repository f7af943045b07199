// Package snapshot holds the read-only view of a repository branch that one
// pipeline run works on, and the interface used to obtain it.
package snapshot

import (
	"context"
	"encoding/binary"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// Fingerprint returns the stable content identifier of data: hex blake3.
func Fingerprint(data []byte) string {
	hasher := blake3.New()
	_, _ = hasher.Write(data)
	return fmt.Sprintf("%x", hasher.Sum(nil))
}

// File is one file of a snapshot. Fingerprint is computed once when the file
// is read and never changes afterwards.
type File struct {
	Path        string
	Content     []byte
	Fingerprint string
}

// NewFile builds a File and fingerprints its content.
func NewFile(p string, content []byte) File {
	return File{
		Path:        p,
		Content:     content,
		Fingerprint: Fingerprint(content),
	}
}

// Name returns the base name of the file.
func (f File) Name() string {
	return path.Base(f.Path)
}

// Snapshot is a point-in-time view of a repository branch.
type Snapshot struct {
	RepoID    string
	Branch    string
	Files     []File
	FetchedAt time.Time

	index map[string]int
}

// New builds a Snapshot from files in the given order.
func New(repoID, branch string, files []File) *Snapshot {
	s := &Snapshot{
		RepoID:    repoID,
		Branch:    branch,
		Files:     files,
		FetchedAt: time.Now(),
		index:     make(map[string]int, len(files)),
	}
	for i, f := range files {
		s.index[f.Path] = i
	}
	return s
}

// File looks a file up by path.
func (s *Snapshot) File(p string) (File, bool) {
	i, ok := s.index[p]
	if !ok {
		return File{}, false
	}
	return s.Files[i], true
}

// Filter returns the files whose extension is in exts, in snapshot order,
// truncated to limit when limit > 0. An empty exts matches every file.
func (s *Snapshot) Filter(exts []string, limit int) []File {
	var out []File
	for _, f := range s.Files {
		if len(exts) > 0 && !hasExt(f.Path, exts) {
			continue
		}
		out = append(out, f)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func hasExt(p string, exts []string) bool {
	ext := strings.ToLower(path.Ext(p))
	for _, e := range exts {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// Fingerprint identifies the whole snapshot: blake3 over the ordered
// (path, file fingerprint) pairs. Repository-level stages use it as their
// cache fingerprint.
func (s *Snapshot) Fingerprint() string {
	hasher := blake3.New()
	var lenBuf [8]byte
	for _, f := range s.Files {
		for _, part := range []string{f.Path, f.Fingerprint} {
			binary.BigEndian.PutUint64(lenBuf[:], uint64(len(part)))
			_, _ = hasher.Write(lenBuf[:])
			_, _ = hasher.Write([]byte(part))
		}
	}
	return fmt.Sprintf("%x", hasher.Sum(nil))
}

// Provider fetches snapshots and prepares the per-day working branch.
type Provider interface {
	// Snapshot fetches the files of repoID at branch.
	Snapshot(ctx context.Context, repoID, branch string) (*Snapshot, error)

	// DateBranch returns the working branch for today, creating it from the
	// default branch if it does not exist yet. Calling it twice on the same
	// day returns the same name without creating anything.
	DateBranch(ctx context.Context, repoID string) (string, error)
}

// Issue is an open issue of a repository, consumed by issue handling.
type Issue struct {
	Number int
	Title  string
	Body   string
	Labels []string
}

// IssueSource lists open issues. Snapshot providers may implement it.
type IssueSource interface {
	OpenIssues(ctx context.Context, repoID string) ([]Issue, error)
}

// BranchPrefix prefixes every working branch.
const BranchPrefix = "update-"

// DateBranchName returns the deterministic working branch name for t.
func DateBranchName(t time.Time) string {
	return BranchPrefix + t.Format("2006-01-02")
}

// SplitRepoID splits "owner/name" into its parts.
func SplitRepoID(repoID string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(repoID, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("repository id %q is not of the form owner/name", repoID)
	}
	return owner, name, nil
}

// ReleaseSource reports the newest release tag of a repository, or "" when
// it has none. Snapshot providers may implement it.
type ReleaseSource interface {
	LatestReleaseTag(ctx context.Context, repoID string) (string, error)
}

// LabelSource lists the label names defined in a repository. Snapshot
// providers may implement it.
type LabelSource interface {
	Labels(ctx context.Context, repoID string) ([]string, error)
}

// Contributor is one entry of a repository's contributor list.
type Contributor struct {
	Login         string
	Contributions int
}

// CommitSummary is one recent commit of a repository.
type CommitSummary struct {
	Message string
	Author  string
}

// RepoStats is the activity summary of a repository.
type RepoStats struct {
	Stars      int
	Forks      int
	OpenIssues int
	Watchers   int
	// Contributors and RecentCommits are newest or most active first.
	Contributors  []Contributor
	RecentCommits []CommitSummary
	// Languages maps a language to its size in bytes.
	Languages map[string]int
}

// StatsSource reports repository statistics. Snapshot providers may
// implement it.
type StatsSource interface {
	RepoStats(ctx context.Context, repoID string) (RepoStats, error)
}
