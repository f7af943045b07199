package stage

import "github.com/felixgeelhaar/caretaker/internal/config"

// Built-in stage ids, in execution order.
const (
	FeatureGeneration       = "feature_generation"
	CodeOptimization        = "code_optimization"
	CodeReview              = "code_review"
	SecurityAnalysis        = "security_analysis"
	PerformanceProfiling    = "performance_profiling"
	IssueHandling           = "issue_handling"
	DependencyUpdates       = "dependency_updates"
	DocumentationGeneration = "documentation_generation"
	Changelog               = "changelog"
	SemanticVersioning      = "semantic_versioning"
	IssueTriage             = "issue_triage"
	RepositoryReport        = "repository_report"
)

// Artifact names produced by the built-in stages.
const (
	ArtifactFeatureIdeas      = "feature_ideas"
	ArtifactOptimizedCode     = "optimized_code"
	ArtifactCodeReview        = "code_review"
	ArtifactSecurityReport    = "security_report"
	ArtifactPerformanceReport = "performance_report"
	ArtifactIssueFixes        = "issue_fixes"
	ArtifactDependencyUpdate  = "dependency_update"
	ArtifactDocumentation     = "documentation"
	ArtifactChangelogEntry    = "changelog_entry"
	ArtifactRelease           = "release"
	ArtifactIssueLabels       = "issue_labels"
	ArtifactRepoReport        = "repository_report"
)

// Builtin returns the descriptors of the built-in stages in execution order.
func Builtin() []Descriptor {
	return []Descriptor{
		{
			ID:            FeatureGeneration,
			Enabled:       func(c *config.Config) bool { return c.Features.FeatureGeneration },
			Handler:       generateFeature,
			Output:        ArtifactFeatureIdeas,
			CommitMessage: "Add generated feature",
		},
		{
			ID:            CodeOptimization,
			Enabled:       func(c *config.Config) bool { return c.Features.CodeOptimization },
			Handler:       optimizeCode,
			Output:        ArtifactOptimizedCode,
			CommitMessage: "Optimize code",
		},
		{
			ID:       CodeReview,
			Enabled:  func(c *config.Config) bool { return c.Features.CodeReview },
			Handler:  reviewCode,
			Optional: []string{ArtifactOptimizedCode},
			Output:   ArtifactCodeReview,
		},
		{
			ID:      SecurityAnalysis,
			Enabled: func(c *config.Config) bool { return c.Features.SecurityAnalysis },
			Handler: analyzeSecurity,
			Output:  ArtifactSecurityReport,
		},
		{
			ID:      PerformanceProfiling,
			Enabled: func(c *config.Config) bool { return c.Features.PerformanceProfiling },
			Handler: suggestPerformance,
			Output:  ArtifactPerformanceReport,
		},
		{
			ID:      IssueHandling,
			Enabled: func(c *config.Config) bool { return c.Features.IssueHandling },
			Handler: handleIssues,
			Output:  ArtifactIssueFixes,
		},
		{
			ID:      IssueTriage,
			Enabled: func(c *config.Config) bool { return c.Features.IssueTriage },
			Handler: triageIssues,
			Output:  ArtifactIssueLabels,
		},
		{
			ID:            DependencyUpdates,
			Enabled:       func(c *config.Config) bool { return c.Features.DependencyUpdates },
			Handler:       updateDependencies,
			Output:        ArtifactDependencyUpdate,
			CommitMessage: "Update dependencies",
		},
		{
			ID:            DocumentationGeneration,
			Enabled:       func(c *config.Config) bool { return c.Features.DocumentationGeneration },
			Handler:       generateDocumentation,
			Output:        ArtifactDocumentation,
			CommitMessage: "Add documentation",
		},
		{
			ID:            Changelog,
			Enabled:       func(c *config.Config) bool { return c.Features.Changelog },
			Handler:       updateChangelog,
			Output:        ArtifactChangelogEntry,
			CommitMessage: "Update CHANGELOG.md",
		},
		{
			ID:      SemanticVersioning,
			Enabled: func(c *config.Config) bool { return c.Features.SemanticVersioning },
			Handler: createRelease,
			Inputs:  []string{ArtifactChangelogEntry},
			Output:  ArtifactRelease,
		},
		{
			ID:      RepositoryReport,
			Enabled: func(c *config.Config) bool { return c.Features.RepositoryReport },
			Handler: reportRepository,
			Output:  ArtifactRepoReport,
		},
	}
}

// BuiltinRegistry returns a registry of the built-in stages.
func BuiltinRegistry() *Registry {
	// built-in ids are unique and every handler is set
	r, _ := NewRegistry(Builtin()...)
	return r
}
