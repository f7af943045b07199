package stage

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/felixgeelhaar/caretaker/internal/changeset"
	"github.com/felixgeelhaar/caretaker/internal/snapshot"
)

func reportRepository(ctx context.Context, env Env, in Input) (Artifact, error) {
	stats, err := env.RepoStats(ctx)
	if err != nil {
		return nil, err
	}
	if stats == nil {
		return nil, ErrSkip
	}

	body := RenderRepoReport(in.Snapshot.RepoID, *stats)
	env.Emit(changeset.CreateIssue{
		Title:  "Repository report for " + in.Snapshot.RepoID,
		Body:   body,
		Labels: []string{"report"},
	})
	return Artifact{RepoScope: body}, nil
}

// RenderRepoReport renders stats as a Markdown report. Languages are listed
// largest first with their share of the total size.
func RenderRepoReport(repoID string, stats snapshot.RepoStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Caretaker report for %s\n\n", repoID)

	b.WriteString("## Repository Statistics\n\n")
	fmt.Fprintf(&b, "- Stars: %d\n", stats.Stars)
	fmt.Fprintf(&b, "- Forks: %d\n", stats.Forks)
	fmt.Fprintf(&b, "- Open Issues: %d\n", stats.OpenIssues)
	fmt.Fprintf(&b, "- Watchers: %d\n\n", stats.Watchers)

	b.WriteString("## Top Contributors\n\n")
	for _, c := range stats.Contributors {
		fmt.Fprintf(&b, "- %s: %d contributions\n", c.Login, c.Contributions)
	}
	b.WriteString("\n## Recent Activity\n\n")
	for _, c := range stats.RecentCommits {
		subject, _, _ := strings.Cut(c.Message, "\n")
		fmt.Fprintf(&b, "- %s (by %s)\n", subject, c.Author)
	}

	b.WriteString("\n## Language Breakdown\n\n")
	total := 0
	for _, n := range stats.Languages {
		total += n
	}
	langs := slices.SortedFunc(maps.Keys(stats.Languages), func(x, y string) int {
		if c := cmp.Compare(stats.Languages[y], stats.Languages[x]); c != 0 {
			return c
		}
		return cmp.Compare(x, y)
	})
	for _, lang := range langs {
		fmt.Fprintf(&b, "- %s: %.2f%%\n", lang, float64(stats.Languages[lang])/float64(total)*100)
	}
	return b.String()
}
