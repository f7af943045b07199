package stage

import (
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/caretaker/internal/changeset"
	"github.com/felixgeelhaar/caretaker/internal/provider"
	"github.com/felixgeelhaar/caretaker/internal/snapshot"
)

// Priorities are the levels a triaged issue can be given.
var Priorities = []string{"low", "medium", "high", "critical"}

// PriorityLabel is the label recording priority p on an issue.
func PriorityLabel(p string) string {
	return "priority: " + p
}

// triageIssues labels open issues that have no labels yet. Suggested labels
// are kept only when the repository defines them; the priority label is
// added for any recognized level.
func triageIssues(ctx context.Context, env Env, in Input) (Artifact, error) {
	issues, err := env.OpenIssues(ctx)
	if err != nil {
		return nil, err
	}

	var unlabeled []snapshot.Issue
	for _, is := range issues {
		if len(is.Labels) == 0 {
			unlabeled = append(unlabeled, is)
		}
	}
	if limit := in.Config.Limits.MaxIssuesPerRepo; limit > 0 && len(unlabeled) > limit {
		unlabeled = unlabeled[:limit]
	}
	if len(unlabeled) == 0 {
		return nil, ErrSkip
	}

	existing, err := env.RepoLabels(ctx)
	if err != nil {
		return nil, err
	}
	known := strings.Join(existing, ", ")

	out := make(Artifact, len(unlabeled))
	var errs []error
	for _, issue := range unlabeled {
		vars := map[string]string{"title": issue.Title, "body": issue.Body, "labels": known}
		content := issue.Title + "\x00" + issue.Body

		// both prompts share the stage's cache namespace, so each gets its
		// own fingerprint
		resp, err := env.Ask(ctx, snapshot.Fingerprint([]byte(content+"\x00labels\x00"+known)), provider.TemplateSuggestLabels, vars)
		if err != nil {
			errs = append(errs, fmt.Errorf("issue #%d: %w", issue.Number, err))
			continue
		}
		labels := FilterLabels(resp, existing)

		level, err := env.Ask(ctx, snapshot.Fingerprint([]byte(content+"\x00priority")), provider.TemplateSuggestPriority, vars)
		if err != nil {
			errs = append(errs, fmt.Errorf("issue #%d: %w", issue.Number, err))
		} else if p := ParsePriority(level); p != "" {
			labels = append(labels, PriorityLabel(p))
		}

		if len(labels) == 0 {
			continue
		}
		env.Emit(changeset.LabelIssue{Number: issue.Number, Labels: labels})
		out["#"+strconv.Itoa(issue.Number)] = strings.Join(labels, ", ")
	}
	return out, stderrors.Join(errs...)
}

// FilterLabels parses a comma-separated suggestion and keeps the labels
// present in existing, spelled as the repository spells them.
func FilterLabels(suggestion string, existing []string) []string {
	var out []string
	for _, raw := range strings.Split(suggestion, ",") {
		name := strings.Trim(strings.TrimSpace(raw), "`\"'.")
		if name == "" {
			continue
		}
		i := slices.IndexFunc(existing, func(l string) bool { return strings.EqualFold(l, name) })
		if i < 0 || slices.Contains(out, existing[i]) {
			continue
		}
		out = append(out, existing[i])
	}
	return out
}

// ParsePriority returns the priority level named by s, or "" when s names
// none of Priorities.
func ParsePriority(s string) string {
	p := strings.ToLower(strings.Trim(strings.TrimSpace(s), "`\"'."))
	if slices.Contains(Priorities, p) {
		return p
	}
	return ""
}
