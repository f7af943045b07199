package stage

import (
	"context"
	stderrors "errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/caretaker/internal/changeset"
	"github.com/felixgeelhaar/caretaker/internal/provider"
	"github.com/felixgeelhaar/caretaker/internal/snapshot"
)

const changelogPath = "CHANGELOG.md"

const requirementsPath = "requirements.txt"

// eachFile runs fn for every input file. A failing file does not stop the
// others; the joined error degrades the stage.
func eachFile(ctx context.Context, in Input, fn func(f snapshot.File) (string, error)) (Artifact, error) {
	if len(in.Files) == 0 {
		return nil, ErrSkip
	}

	out := make(Artifact, len(in.Files))
	var errs []error
	for _, f := range in.Files {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		v, err := fn(f)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.Path, err))
			continue
		}
		out[f.Path] = v
	}
	return out, stderrors.Join(errs...)
}

func fileVars(p, content string) map[string]string {
	return map[string]string{"path": p, "content": content}
}

func generateFeature(ctx context.Context, env Env, in Input) (Artifact, error) {
	paths := make([]string, len(in.Snapshot.Files))
	for i, f := range in.Snapshot.Files {
		paths[i] = f.Path
	}

	resp, err := env.Ask(ctx, in.Snapshot.Fingerprint(), provider.TemplateFeatureIdeas, map[string]string{
		"repo":  in.Snapshot.RepoID,
		"files": strings.Join(paths, "\n"),
	})
	if err != nil {
		return nil, err
	}

	env.Emit(changeset.WriteFile{
		Path:    fmt.Sprintf("features/feature_%s.py", in.Now.Format("2006-01-02")),
		Content: provider.ExtractCode(resp),
	})
	return Artifact{RepoScope: resp}, nil
}

func optimizeCode(ctx context.Context, env Env, in Input) (Artifact, error) {
	return eachFile(ctx, in, func(f snapshot.File) (string, error) {
		resp, err := env.Ask(ctx, f.Fingerprint, provider.TemplateOptimizeCode, fileVars(f.Path, string(f.Content)))
		if err != nil {
			return "", err
		}
		code := provider.ExtractCode(resp)
		env.Emit(changeset.WriteFile{Path: f.Path, Content: code})
		return code, nil
	})
}

// reviewCode reviews the optimized version of a file when this run produced
// one, otherwise the snapshot content.
func reviewCode(ctx context.Context, env Env, in Input) (Artifact, error) {
	optimized := in.Artifacts[ArtifactOptimizedCode]

	return eachFile(ctx, in, func(f snapshot.File) (string, error) {
		content, fp := string(f.Content), f.Fingerprint
		if o, ok := optimized[f.Path]; ok {
			content, fp = o, snapshot.Fingerprint([]byte(o))
		}

		review, err := env.Ask(ctx, fp, provider.TemplateReviewCode, fileVars(f.Path, content))
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(review) != "" {
			env.Emit(changeset.CreateIssue{
				Title:  "Code review for " + f.Name(),
				Body:   review,
				Labels: []string{"code review"},
			})
		}
		return review, nil
	})
}

func analyzeSecurity(ctx context.Context, env Env, in Input) (Artifact, error) {
	return eachFile(ctx, in, func(f snapshot.File) (string, error) {
		if found := ScanSecrets(f.Content); len(found) > 0 {
			env.Emit(changeset.CreateIssue{
				Title:  "Potential security risk in " + f.Path,
				Body:   secretIssueBody(f.Path, found),
				Labels: []string{"security", "needs review"},
			})
		}

		report, err := env.Ask(ctx, f.Fingerprint, provider.TemplateSecurityAnalysis, fileVars(f.Path, string(f.Content)))
		if err != nil {
			return "", err
		}
		env.Emit(changeset.CreateIssue{
			Title:  "Security analysis for " + f.Name(),
			Body:   report,
			Labels: []string{"security"},
		})
		return report, nil
	})
}

func suggestPerformance(ctx context.Context, env Env, in Input) (Artifact, error) {
	return eachFile(ctx, in, func(f snapshot.File) (string, error) {
		report, err := env.Ask(ctx, f.Fingerprint, provider.TemplatePerformance, fileVars(f.Path, string(f.Content)))
		if err != nil {
			return "", err
		}
		env.Emit(changeset.CreateIssue{
			Title:  "Performance suggestions for " + f.Name(),
			Body:   report,
			Labels: []string{"performance"},
		})
		return report, nil
	})
}

func handleIssues(ctx context.Context, env Env, in Input) (Artifact, error) {
	issues, err := env.OpenIssues(ctx)
	if err != nil {
		return nil, err
	}
	if limit := in.Config.Limits.MaxIssuesPerRepo; limit > 0 && len(issues) > limit {
		issues = issues[:limit]
	}
	if len(issues) == 0 {
		return nil, ErrSkip
	}

	out := make(Artifact, len(issues))
	var errs []error
	for _, issue := range issues {
		fp := snapshot.Fingerprint([]byte(issue.Title + "\x00" + issue.Body))
		resp, err := env.Ask(ctx, fp, provider.TemplateIssueSolution, map[string]string{
			"number": strconv.Itoa(issue.Number),
			"title":  issue.Title,
			"body":   issue.Body,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("issue #%d: %w", issue.Number, err))
			continue
		}

		env.Emit(changeset.CreatePullRequest{
			Title: fmt.Sprintf("Fix for issue #%d", issue.Number),
			Body:  fmt.Sprintf("Proposed fix for #%d.\n\n%s", issue.Number, resp),
			Head:  in.Snapshot.Branch,
			Base:  in.Config.GitHub.DefaultBranch,
		})
		out["#"+strconv.Itoa(issue.Number)] = resp
	}
	return out, stderrors.Join(errs...)
}

func updateDependencies(ctx context.Context, env Env, in Input) (Artifact, error) {
	f, ok := in.Snapshot.File(requirementsPath)
	if !ok {
		return nil, ErrSkip
	}

	resp, err := env.Ask(ctx, f.Fingerprint, provider.TemplateDependencyUpdate, map[string]string{
		"requirements": string(f.Content),
	})
	if err != nil {
		return nil, err
	}

	updated := provider.ExtractCode(resp)
	env.Emit(changeset.WriteFile{Path: requirementsPath, Content: updated})
	return Artifact{RepoScope: updated}, nil
}

func generateDocumentation(ctx context.Context, env Env, in Input) (Artifact, error) {
	return eachFile(ctx, in, func(f snapshot.File) (string, error) {
		doc, err := env.Ask(ctx, f.Fingerprint, provider.TemplateDocumentation, fileVars(f.Path, string(f.Content)))
		if err != nil {
			return "", err
		}
		env.Emit(changeset.WriteFile{Path: DocsPath(f.Path), Content: doc})
		return doc, nil
	})
}

// DocsPath returns where documentation for p is written: app/main.py becomes
// app/main_docs.md.
func DocsPath(p string) string {
	base := strings.TrimSuffix(path.Base(p), path.Ext(p))
	return path.Join(path.Dir(p), base+"_docs.md")
}

// updateChangelog summarizes what this run has published so far. Runs that
// published nothing leave the changelog alone.
func updateChangelog(ctx context.Context, env Env, in Input) (Artifact, error) {
	published := env.Published()
	if len(published) == 0 {
		return nil, ErrSkip
	}

	date := in.Now.Format("2006-01-02")
	changes := "- " + strings.Join(published, "\n- ")

	resp, err := env.Ask(ctx, snapshot.Fingerprint([]byte(date+"\n"+changes)), provider.TemplateChangelogEntry, map[string]string{
		"repo":    in.Snapshot.RepoID,
		"date":    date,
		"changes": changes,
	})
	if err != nil {
		return nil, err
	}

	entry := strings.TrimSpace(resp)
	var existing string
	if f, ok := in.Snapshot.File(changelogPath); ok {
		existing = string(f.Content)
	}
	env.Emit(changeset.WriteFile{Path: changelogPath, Content: PrependChangelog(existing, entry)})
	return Artifact{RepoScope: entry}, nil
}

// PrependChangelog inserts entry at the top of a changelog, below its title
// when it has one.
func PrependChangelog(existing, entry string) string {
	const title = "# Changelog"

	body := strings.TrimLeft(existing, "\n")
	if strings.HasPrefix(body, title) {
		body = strings.TrimLeft(strings.TrimPrefix(body, title), "\n")
	}

	out := title + "\n\n" + entry + "\n"
	if body != "" {
		out += "\n" + body
	}
	return out
}

func createRelease(ctx context.Context, env Env, in Input) (Artifact, error) {
	entry := in.Artifacts[ArtifactChangelogEntry].Value()

	latest, err := env.LatestReleaseTag(ctx)
	if err != nil {
		return nil, err
	}
	tag := NextVersion(latest)

	notes, err := env.Ask(ctx, snapshot.Fingerprint([]byte(tag+"\n"+entry)), provider.TemplateReleaseNotes, map[string]string{
		"repo":      in.Snapshot.RepoID,
		"tag":       tag,
		"changelog": entry,
	})
	if err != nil {
		return nil, err
	}

	env.Emit(changeset.CreateRelease{Tag: tag, Name: tag, Body: notes})
	return Artifact{RepoScope: tag}, nil
}
