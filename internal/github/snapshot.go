package github

import (
	"context"
	"fmt"
	"strings"

	gh "github.com/google/go-github/v73/github"

	"github.com/felixgeelhaar/caretaker/internal/snapshot"
)

// DateBranch returns today's working branch, creating it from the default
// branch head when it does not exist yet.
func (c *Client) DateBranch(ctx context.Context, repoID string) (string, error) {
	owner, name, err := snapshot.SplitRepoID(repoID)
	if err != nil {
		return "", err
	}
	branch := snapshot.DateBranchName(c.now())

	_, resp, err := c.gh.Git.GetRef(ctx, owner, name, "heads/"+branch)
	if err == nil {
		return branch, nil
	}
	if !isNotFound(resp) {
		return "", fmt.Errorf("get ref %s: %w", branch, err)
	}

	base, err := c.defaultBranch(ctx, owner, name)
	if err != nil {
		return "", err
	}
	head, _, err := c.gh.Git.GetRef(ctx, owner, name, "heads/"+base)
	if err != nil {
		return "", fmt.Errorf("get ref %s: %w", base, err)
	}

	if err := c.createRef(ctx, owner, name, "refs/heads/"+branch, head.GetObject().GetSHA()); err != nil {
		return "", err
	}
	c.logger.Info("created working branch", "repo", repoID, "branch", branch, "from", base)
	return branch, nil
}

func (c *Client) defaultBranch(ctx context.Context, owner, name string) (string, error) {
	repo, _, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return "", fmt.Errorf("get repository: %w", err)
	}
	if b := repo.GetDefaultBranch(); b != "" {
		return b, nil
	}
	return c.cfg.DefaultBranch, nil
}

// createRef creates a git reference. A concurrent creation of the same ref
// (422) counts as success.
func (c *Client) createRef(ctx context.Context, owner, name, ref, sha string) error {
	_, resp, err := c.gh.Git.CreateRef(ctx, owner, name, &gh.Reference{
		Ref:    gh.Ptr(ref),
		Object: &gh.GitObject{SHA: gh.Ptr(sha)},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == 422 && strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return fmt.Errorf("create ref %s: %w", ref, err)
	}
	return nil
}

// Snapshot fetches the included files of branch in tree order.
func (c *Client) Snapshot(ctx context.Context, repoID, branch string) (*snapshot.Snapshot, error) {
	owner, name, err := snapshot.SplitRepoID(repoID)
	if err != nil {
		return nil, err
	}

	tree, _, err := c.gh.Git.GetTree(ctx, owner, name, branch, true)
	if err != nil {
		return nil, fmt.Errorf("get tree %s: %w", branch, err)
	}
	if tree.GetTruncated() {
		c.logger.Warn("repository tree truncated, snapshot is partial", "repo", repoID)
	}

	var files []snapshot.File
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" || !c.include(entry.GetPath()) {
			continue
		}
		if c.maxFileSize > 0 && entry.GetSize() > c.maxFileSize {
			c.logger.Debug("skipping large file", "repo", repoID, "path", entry.GetPath(), "size", entry.GetSize())
			continue
		}

		content, _, err := c.gh.Git.GetBlobRaw(ctx, owner, name, entry.GetSHA())
		if err != nil {
			return nil, fmt.Errorf("get blob %s: %w", entry.GetPath(), err)
		}
		files = append(files, snapshot.NewFile(entry.GetPath(), content))
	}

	snap := snapshot.New(repoID, branch, files)
	snap.FetchedAt = c.now()
	return snap, nil
}

// OpenIssues lists open issues, excluding pull requests.
func (c *Client) OpenIssues(ctx context.Context, repoID string) ([]snapshot.Issue, error) {
	owner, name, err := snapshot.SplitRepoID(repoID)
	if err != nil {
		return nil, err
	}

	opts := &gh.IssueListByRepoOptions{
		State:       "open",
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	var out []snapshot.Issue
	for {
		issues, resp, err := c.gh.Issues.ListByRepo(ctx, owner, name, opts)
		if err != nil {
			return nil, fmt.Errorf("list issues: %w", err)
		}
		for _, is := range issues {
			if is.IsPullRequest() {
				continue
			}
			labels := make([]string, 0, len(is.Labels))
			for _, l := range is.Labels {
				labels = append(labels, l.GetName())
			}
			out = append(out, snapshot.Issue{
				Number: is.GetNumber(),
				Title:  is.GetTitle(),
				Body:   is.GetBody(),
				Labels: labels,
			})
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.ListOptions.Page = resp.NextPage
	}
}

// LatestReleaseTag returns the tag of the latest release, or "" when the
// repository has none.
func (c *Client) LatestReleaseTag(ctx context.Context, repoID string) (string, error) {
	owner, name, err := snapshot.SplitRepoID(repoID)
	if err != nil {
		return "", err
	}

	rel, resp, err := c.gh.Repositories.GetLatestRelease(ctx, owner, name)
	if err != nil {
		if isNotFound(resp) {
			return "", nil
		}
		return "", fmt.Errorf("get latest release: %w", err)
	}
	return rel.GetTagName(), nil
}
