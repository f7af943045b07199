package provider

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/template"
)

// Template ids used by the built-in stages.
const (
	TemplateFeatureIdeas     = "feature_ideas"
	TemplateOptimizeCode     = "optimize_code"
	TemplateReviewCode       = "review_code"
	TemplateSecurityAnalysis = "security_analysis"
	TemplatePerformance      = "performance_suggestions"
	TemplateIssueSolution    = "issue_solution"
	TemplateDependencyUpdate = "dependency_update"
	TemplateDocumentation    = "documentation"
	TemplateChangelogEntry   = "changelog_entry"
	TemplateReleaseNotes     = "release_notes"
	TemplateSuggestLabels    = "suggest_labels"
	TemplateSuggestPriority  = "suggest_priority"
)

// SystemPrompt is sent with every request.
const SystemPrompt = "You are a senior software engineer maintaining a repository. Answer with the requested artifact only."

var defaultTemplates = map[string]string{
	TemplateFeatureIdeas: `Suggest one small, self-contained feature for the repository {{.repo}} and implement it.
Existing files:
{{.files}}

Return the implementation as a single Python code block.`,

	TemplateOptimizeCode: `Optimize the following code for readability and performance without changing its behavior.
File: {{.path}}

{{.content}}

Return the complete optimized file as a single code block.`,

	TemplateReviewCode: `Review the following code and provide feedback:
File: {{.path}}

{{.content}}

Provide a concise code review focusing on code quality, best practices and potential bugs.
Format your response as a bulleted list.`,

	TemplateSecurityAnalysis: `Analyze the following code for security vulnerabilities:
File: {{.path}}

{{.content}}

List each finding with its severity and a suggested fix.`,

	TemplatePerformance: `Suggest performance improvements for the following code:
File: {{.path}}

{{.content}}`,

	TemplateIssueSolution: `Propose a fix for the following issue.
Issue #{{.number}}: {{.title}}

{{.body}}

Return the proposed change as a single code block.`,

	TemplateDependencyUpdate: `Update the following requirements.txt to current, mutually compatible versions:

{{.requirements}}

Return only the new requirements.txt content.`,

	TemplateDocumentation: `Write Markdown documentation for the following code:
File: {{.path}}

{{.content}}`,

	TemplateChangelogEntry: `Write a CHANGELOG entry for {{.repo}} dated {{.date}} summarizing these maintenance changes:
{{.changes}}

Use Markdown with a "## {{.date}}" heading.`,

	TemplateReleaseNotes: `Generate release notes for {{.repo}} version {{.tag}} from this changelog entry:

{{.changelog}}

Format the release notes in Markdown.`,

	TemplateSuggestLabels: `Suggest appropriate labels for the following GitHub issue:
Title: {{.title}}
Body: {{.body}}

Choose from the labels defined in this repository:
{{.labels}}

Answer with a comma-separated list of labels only.`,

	TemplateSuggestPriority: `Suggest a priority level for the following GitHub issue:
Title: {{.title}}
Body: {{.body}}

Answer with exactly one of: low, medium, high, critical.`,
}

// Templates is a parsed set of prompt templates.
type Templates struct {
	set map[string]*template.Template
}

// NewTemplates parses the built-in templates, replacing any whose id appears
// in overrides. Overrides may also add new ids.
func NewTemplates(overrides map[string]string) (*Templates, error) {
	sources := maps.Clone(defaultTemplates)
	maps.Copy(sources, overrides)

	t := &Templates{set: make(map[string]*template.Template, len(sources))}
	for id, src := range sources {
		parsed, err := template.New(id).Option("missingkey=zero").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("parse prompt template %s: %w", id, err)
		}
		t.set[id] = parsed
	}
	return t, nil
}

// Render executes template id with vars.
func (t *Templates) Render(id string, vars map[string]string) (string, error) {
	tmpl, ok := t.set[id]
	if !ok {
		return "", fmt.Errorf("unknown prompt template %q", id)
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, vars); err != nil {
		return "", fmt.Errorf("render prompt template %s: %w", id, err)
	}
	return b.String(), nil
}

// IDs lists the known template ids in sorted order.
func (t *Templates) IDs() []string {
	return slices.Sorted(maps.Keys(t.set))
}
