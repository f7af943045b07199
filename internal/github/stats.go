package github

import (
	"context"
	"fmt"

	gh "github.com/google/go-github/v73/github"

	"github.com/felixgeelhaar/caretaker/internal/changeset"
	"github.com/felixgeelhaar/caretaker/internal/snapshot"
)

// statsDepth caps the contributors and commits listed in a report.
const statsDepth = 5

var (
	_ snapshot.LabelSource   = (*Client)(nil)
	_ snapshot.StatsSource   = (*Client)(nil)
	_ changeset.IssueLabeler = (*Client)(nil)
)

// Labels lists the names of every label defined in the repository.
func (c *Client) Labels(ctx context.Context, repoID string) ([]string, error) {
	owner, name, err := snapshot.SplitRepoID(repoID)
	if err != nil {
		return nil, err
	}

	opts := &gh.ListOptions{PerPage: 100}
	var out []string
	for {
		labels, resp, err := c.gh.Issues.ListLabels(ctx, owner, name, opts)
		if err != nil {
			return nil, fmt.Errorf("list labels: %w", err)
		}
		for _, l := range labels {
			out = append(out, l.GetName())
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// AddLabels adds labels to issue number, keeping the ones it already has.
func (c *Client) AddLabels(ctx context.Context, repoID string, number int, labels []string) error {
	owner, name, err := snapshot.SplitRepoID(repoID)
	if err != nil {
		return err
	}
	if _, _, err := c.gh.Issues.AddLabelsToIssue(ctx, owner, name, number, labels); err != nil {
		return fmt.Errorf("add labels to #%d: %w", number, err)
	}
	return nil
}

// RepoStats collects the counters, top contributors, recent commits and
// language breakdown of a repository.
func (c *Client) RepoStats(ctx context.Context, repoID string) (snapshot.RepoStats, error) {
	owner, name, err := snapshot.SplitRepoID(repoID)
	if err != nil {
		return snapshot.RepoStats{}, err
	}

	repo, _, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return snapshot.RepoStats{}, fmt.Errorf("get repository: %w", err)
	}
	stats := snapshot.RepoStats{
		Stars:      repo.GetStargazersCount(),
		Forks:      repo.GetForksCount(),
		OpenIssues: repo.GetOpenIssuesCount(),
		Watchers:   repo.GetWatchersCount(),
	}

	contributors, _, err := c.gh.Repositories.ListContributors(ctx, owner, name, &gh.ListContributorsOptions{
		ListOptions: gh.ListOptions{PerPage: statsDepth},
	})
	if err != nil {
		return snapshot.RepoStats{}, fmt.Errorf("list contributors: %w", err)
	}
	for _, ct := range contributors[:min(len(contributors), statsDepth)] {
		stats.Contributors = append(stats.Contributors, snapshot.Contributor{
			Login:         ct.GetLogin(),
			Contributions: ct.GetContributions(),
		})
	}

	commits, _, err := c.gh.Repositories.ListCommits(ctx, owner, name, &gh.CommitsListOptions{
		ListOptions: gh.ListOptions{PerPage: statsDepth},
	})
	if err != nil {
		return snapshot.RepoStats{}, fmt.Errorf("list commits: %w", err)
	}
	for _, rc := range commits[:min(len(commits), statsDepth)] {
		stats.RecentCommits = append(stats.RecentCommits, snapshot.CommitSummary{
			Message: rc.GetCommit().GetMessage(),
			Author:  rc.GetCommit().GetAuthor().GetName(),
		})
	}

	stats.Languages, _, err = c.gh.Repositories.ListLanguages(ctx, owner, name)
	if err != nil {
		return snapshot.RepoStats{}, fmt.Errorf("list languages: %w", err)
	}
	return stats, nil
}
