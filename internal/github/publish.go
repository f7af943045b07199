package github

import (
	"context"
	"fmt"

	gh "github.com/google/go-github/v73/github"

	"github.com/felixgeelhaar/caretaker/internal/changeset"
	"github.com/felixgeelhaar/caretaker/internal/snapshot"
)

var (
	_ changeset.Publisher    = (*Client)(nil)
	_ changeset.BatchWriter  = (*Client)(nil)
	_ snapshot.Provider      = (*Client)(nil)
	_ snapshot.IssueSource   = (*Client)(nil)
	_ snapshot.ReleaseSource = (*Client)(nil)
)

// WriteFile creates or updates one file on branch through the contents API.
func (c *Client) WriteFile(ctx context.Context, repoID, branch, filePath string, content []byte, message string) (string, error) {
	owner, name, err := snapshot.SplitRepoID(repoID)
	if err != nil {
		return "", err
	}

	opts := &gh.RepositoryContentFileOptions{
		Message: gh.Ptr(message),
		Content: content,
		Branch:  gh.Ptr(branch),
	}

	existing, _, resp, err := c.gh.Repositories.GetContents(ctx, owner, name, filePath, &gh.RepositoryContentGetOptions{Ref: branch})
	switch {
	case err == nil && existing != nil:
		opts.SHA = existing.SHA
		res, _, err := c.gh.Repositories.UpdateFile(ctx, owner, name, filePath, opts)
		if err != nil {
			return "", fmt.Errorf("update %s: %w", filePath, err)
		}
		return res.Commit.GetSHA(), nil
	case err == nil || isNotFound(resp):
		res, _, err := c.gh.Repositories.CreateFile(ctx, owner, name, filePath, opts)
		if err != nil {
			return "", fmt.Errorf("create %s: %w", filePath, err)
		}
		return res.Commit.GetSHA(), nil
	default:
		return "", fmt.Errorf("get %s: %w", filePath, err)
	}
}

// WriteFiles commits files to branch as one commit through the git data API.
func (c *Client) WriteFiles(ctx context.Context, repoID, branch string, files []changeset.FileChange, message string) (string, error) {
	owner, name, err := snapshot.SplitRepoID(repoID)
	if err != nil {
		return "", err
	}

	ref, _, err := c.gh.Git.GetRef(ctx, owner, name, "heads/"+branch)
	if err != nil {
		return "", fmt.Errorf("get ref %s: %w", branch, err)
	}
	parent := ref.GetObject().GetSHA()

	parentCommit, _, err := c.gh.Git.GetCommit(ctx, owner, name, parent)
	if err != nil {
		return "", fmt.Errorf("get commit %s: %w", parent, err)
	}

	entries := make([]*gh.TreeEntry, len(files))
	for i, f := range files {
		entries[i] = &gh.TreeEntry{
			Path:    gh.Ptr(f.Path),
			Mode:    gh.Ptr("100644"),
			Type:    gh.Ptr("blob"),
			Content: gh.Ptr(string(f.Content)),
		}
	}
	tree, _, err := c.gh.Git.CreateTree(ctx, owner, name, parentCommit.GetTree().GetSHA(), entries)
	if err != nil {
		return "", fmt.Errorf("create tree: %w", err)
	}

	commit, _, err := c.gh.Git.CreateCommit(ctx, owner, name, &gh.Commit{
		Message: gh.Ptr(message),
		Tree:    &gh.Tree{SHA: tree.SHA},
		Parents: []*gh.Commit{{SHA: gh.Ptr(parent)}},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("create commit: %w", err)
	}

	if _, _, err := c.gh.Git.UpdateRef(ctx, owner, name, &gh.Reference{
		Ref:    gh.Ptr("heads/" + branch),
		Object: &gh.GitObject{SHA: commit.SHA},
	}, false); err != nil {
		return "", fmt.Errorf("update ref %s: %w", branch, err)
	}
	return commit.GetSHA(), nil
}

// CreateIssue opens an issue and returns its number.
func (c *Client) CreateIssue(ctx context.Context, repoID, title, body string, labels []string) (int, error) {
	owner, name, err := snapshot.SplitRepoID(repoID)
	if err != nil {
		return 0, err
	}

	req := &gh.IssueRequest{Title: gh.Ptr(title), Body: gh.Ptr(body)}
	if len(labels) > 0 {
		req.Labels = &labels
	}
	issue, _, err := c.gh.Issues.Create(ctx, owner, name, req)
	if err != nil {
		return 0, fmt.Errorf("create issue: %w", err)
	}
	return issue.GetNumber(), nil
}

// CreatePullRequest opens a pull request from head into base.
func (c *Client) CreatePullRequest(ctx context.Context, repoID, title, body, head, base string) (int, error) {
	owner, name, err := snapshot.SplitRepoID(repoID)
	if err != nil {
		return 0, err
	}
	if base == "" {
		base = c.cfg.DefaultBranch
	}

	pr, _, err := c.gh.PullRequests.Create(ctx, owner, name, &gh.NewPullRequest{
		Title: gh.Ptr(title),
		Body:  gh.Ptr(body),
		Head:  gh.Ptr(head),
		Base:  gh.Ptr(base),
	})
	if err != nil {
		return 0, fmt.Errorf("create pull request: %w", err)
	}
	return pr.GetNumber(), nil
}

// CreateRelease publishes a release for tag.
func (c *Client) CreateRelease(ctx context.Context, repoID, tag, name, body, target string) (int64, error) {
	owner, repo, err := snapshot.SplitRepoID(repoID)
	if err != nil {
		return 0, err
	}

	rel := &gh.RepositoryRelease{
		TagName: gh.Ptr(tag),
		Name:    gh.Ptr(name),
		Body:    gh.Ptr(body),
	}
	if target != "" {
		rel.TargetCommitish = gh.Ptr(target)
	}
	created, _, err := c.gh.Repositories.CreateRelease(ctx, owner, repo, rel)
	if err != nil {
		return 0, fmt.Errorf("create release: %w", err)
	}
	return created.GetID(), nil
}
