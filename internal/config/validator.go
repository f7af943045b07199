package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/felixgeelhaar/caretaker/internal/snapshot"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "concurrency.max_workers")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidLogFormats returns the list of valid log formats
func ValidLogFormats() []string {
	return []string{"json", "text"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	errs = append(errs, c.validateLimits()...)
	errs = append(errs, c.validateCache()...)
	errs = append(errs, c.validateSchedule()...)
	errs = append(errs, c.validateGitHub()...)
	errs = append(errs, c.validateProvider()...)
	errs = append(errs, c.validatePlugins()...)
	errs = append(errs, c.validateLogging()...)
	errs = append(errs, c.validateServer()...)

	return errs
}

func (c *Config) validateLimits() []ValidationError {
	var errs []ValidationError

	nonNegative := map[string]int{
		"limits.max_files_per_repo":  c.Limits.MaxFilesPerRepo,
		"limits.max_issues_per_repo": c.Limits.MaxIssuesPerRepo,
		"limits.max_repos":           c.Limits.MaxRepos,
		"concurrency.max_workers":    c.Concurrency.MaxWorkers,
	}
	fields := make([]string, 0, len(nonNegative))
	for field := range nonNegative {
		fields = append(fields, field)
	}
	slices.Sort(fields)

	for _, field := range fields {
		if nonNegative[field] < 0 {
			errs = append(errs, ValidationError{
				Field:   field,
				Value:   nonNegative[field],
				Message: "must be non-negative",
			})
		}
	}
	if c.Limits.PluginTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "limits.plugin_timeout",
			Value:   c.Limits.PluginTimeout,
			Message: "must be positive",
		})
	}

	return errs
}

func (c *Config) validateCache() []ValidationError {
	var errs []ValidationError

	if c.Cache.MaxSize < 1 {
		errs = append(errs, ValidationError{
			Field:   "cache.max_size",
			Value:   c.Cache.MaxSize,
			Message: "must be at least 1",
		})
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, ValidationError{
			Field:   "cache.ttl",
			Value:   c.Cache.TTL,
			Message: "must be non-negative",
		})
	}

	return errs
}

func (c *Config) validateSchedule() []ValidationError {
	if c.Schedule.Cron == "" {
		return nil
	}
	if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
		return []ValidationError{{
			Field:   "schedule.cron",
			Value:   c.Schedule.Cron,
			Message: fmt.Sprintf("invalid cron expression: %v", err),
		}}
	}
	return nil
}

func (c *Config) validateGitHub() []ValidationError {
	var errs []ValidationError

	for i, repo := range c.GitHub.Repositories {
		if _, _, err := snapshot.SplitRepoID(repo); err != nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("github.repositories[%d]", i),
				Value:   repo,
				Message: "must be of the form owner/name",
			})
		}
	}
	if c.GitHub.DefaultBranch == "" {
		errs = append(errs, ValidationError{
			Field:   "github.default_branch",
			Value:   c.GitHub.DefaultBranch,
			Message: "must not be empty",
		})
	}

	return errs
}

func (c *Config) validateProvider() []ValidationError {
	var errs []ValidationError

	if c.Provider.ID == "" {
		errs = append(errs, ValidationError{
			Field:   "provider.id",
			Value:   c.Provider.ID,
			Message: "must not be empty",
		})
	}
	if c.Provider.MaxRetries < 0 {
		errs = append(errs, ValidationError{
			Field:   "provider.max_retries",
			Value:   c.Provider.MaxRetries,
			Message: "must be non-negative",
		})
	}
	if c.Provider.Timeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "provider.timeout",
			Value:   c.Provider.Timeout,
			Message: "must be non-negative",
		})
	}

	return errs
}

func (c *Config) validatePlugins() []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool)

	for i, p := range c.Plugins {
		field := fmt.Sprintf("plugins[%d]", i)
		if p.Name == "" {
			errs = append(errs, ValidationError{Field: field + ".name", Value: p.Name, Message: "must not be empty"})
			continue
		}
		if seen[p.Name] {
			errs = append(errs, ValidationError{Field: field + ".name", Value: p.Name, Message: "duplicate plugin name"})
		}
		seen[p.Name] = true

		switch p.Kind {
		case "", PluginKindBuiltin:
		case PluginKindExec:
			if p.Manifest == "" {
				errs = append(errs, ValidationError{Field: field + ".manifest", Value: p.Manifest, Message: "required for exec plugins"})
			}
		default:
			errs = append(errs, ValidationError{
				Field:   field + ".kind",
				Value:   p.Kind,
				Message: fmt.Sprintf("must be one of: %s, %s", PluginKindBuiltin, PluginKindExec),
			})
		}
		if p.Timeout < 0 {
			errs = append(errs, ValidationError{Field: field + ".timeout", Value: p.Timeout, Message: "must be non-negative"})
		}
	}

	return errs
}

func (c *Config) validateLogging() []ValidationError {
	var errs []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.Format != "" && !slices.Contains(ValidLogFormats(), strings.ToLower(c.Logging.Format)) {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Value:   c.Logging.Format,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogFormats(), ", ")),
		})
	}

	return errs
}

func (c *Config) validateServer() []ValidationError {
	if c.Server.ShutdownTimeout < 0 {
		return []ValidationError{{
			Field:   "server.shutdown_timeout",
			Value:   c.Server.ShutdownTimeout,
			Message: "must be non-negative",
		}}
	}
	return nil
}
