package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// Configuration errors (CONFIG-001 to CONFIG-099) abort process startup
	ErrCodeConfigNotFound ErrorCode = "CONFIG-001"
	ErrCodeConfigInvalid  ErrorCode = "CONFIG-002"
	ErrCodeConfigParse    ErrorCode = "CONFIG-003"

	// Snapshot errors (SNAPSHOT-001 to SNAPSHOT-099) are fatal to one repository run
	ErrCodeSnapshotFetch  ErrorCode = "SNAPSHOT-001"
	ErrCodeSnapshotBranch ErrorCode = "SNAPSHOT-002"
	ErrCodeSnapshotRepoID ErrorCode = "SNAPSHOT-003"

	// Stage errors (STAGE-001 to STAGE-099) degrade a run unless the stage is critical
	ErrCodeStageFailed   ErrorCode = "STAGE-001"
	ErrCodeStagePanic    ErrorCode = "STAGE-002"
	ErrCodeStageCritical ErrorCode = "STAGE-003"

	// Provider errors (PROVIDER-001 to PROVIDER-099) are recoverable at stage granularity
	ErrCodeProviderAPI      ErrorCode = "PROVIDER-001"
	ErrCodeProviderTimeout  ErrorCode = "PROVIDER-002"
	ErrCodeProviderTemplate ErrorCode = "PROVIDER-003"
	ErrCodeProviderConfig   ErrorCode = "PROVIDER-004"

	// Plugin errors (PLUGIN-001 to PLUGIN-099) are isolated to the failing plugin
	ErrCodePluginNotFound ErrorCode = "PLUGIN-001"
	ErrCodePluginLoad     ErrorCode = "PLUGIN-002"
	ErrCodePluginRun      ErrorCode = "PLUGIN-003"
	ErrCodePluginPanic    ErrorCode = "PLUGIN-004"

	// Publish errors (PUBLISH-001 to PUBLISH-099) are logged and never stop the queue
	ErrCodePublishWrite   ErrorCode = "PUBLISH-001"
	ErrCodePublishIssue   ErrorCode = "PUBLISH-002"
	ErrCodePublishRelease ErrorCode = "PUBLISH-003"
	ErrCodePublishPR      ErrorCode = "PUBLISH-004"
	ErrCodePublishLabel   ErrorCode = "PUBLISH-005"

	// Scheduler errors (SCHEDULER-001 to SCHEDULER-099)
	ErrCodeSchedulerSubmit ErrorCode = "SCHEDULER-001"
	ErrCodeSchedulerPanic  ErrorCode = "SCHEDULER-002"
)

// CaretakerError represents an enhanced error with code, suggestions, and documentation
type CaretakerError struct {
	Code        ErrorCode
	Message     string
	Suggestions []string
	DocsURL     string
	Cause       error
}

// Error implements the error interface
func (e *CaretakerError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  • %s", suggestion))
		}
	}

	if e.DocsURL != "" {
		b.WriteString(fmt.Sprintf("\n\nDocumentation: %s", e.DocsURL))
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *CaretakerError) Unwrap() error {
	return e.Cause
}

// Category returns the code prefix, e.g. "STAGE" for "STAGE-001"
func (c ErrorCode) Category() string {
	if i := strings.IndexByte(string(c), '-'); i > 0 {
		return string(c[:i])
	}
	return string(c)
}

// New creates a new CaretakerError
func New(code ErrorCode, message string) *CaretakerError {
	return &CaretakerError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CaretakerError wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *CaretakerError {
	return &CaretakerError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *CaretakerError) WithSuggestion(suggestion string) *CaretakerError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithSuggestions adds multiple suggestions to the error
func (e *CaretakerError) WithSuggestions(suggestions ...string) *CaretakerError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// WithDocs adds a documentation URL to the error
func (e *CaretakerError) WithDocs(url string) *CaretakerError {
	e.DocsURL = url
	return e
}

// As finds the first CaretakerError in err's chain
func As(err error) (*CaretakerError, bool) {
	var ce *CaretakerError
	if stderrors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// CodeOf returns the code of the first CaretakerError in err's chain, or "" if none
func CodeOf(err error) ErrorCode {
	if ce, ok := As(err); ok {
		return ce.Code
	}
	return ""
}

// HasCode reports whether any CaretakerError in err's chain carries code
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if ce, ok := err.(*CaretakerError); ok && ce.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// IsCategory reports whether the first CaretakerError in err's chain belongs to category
func IsCategory(err error, category string) bool {
	return CodeOf(err).Category() == category
}

// Common error constructors for frequently used errors

// NewConfigError creates a configuration error
func NewConfigError(details string, cause error) *CaretakerError {
	return Wrap(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", details), cause).
		WithSuggestion("Run 'caretaker config validate' to list every invalid field").
		WithSuggestion("Environment variables use the CARETAKER_ prefix, e.g. CARETAKER_CONCURRENCY_MAX_WORKERS")
}

// NewSnapshotError creates a snapshot fetch error for one repository
func NewSnapshotError(repoID string, cause error) *CaretakerError {
	return Wrap(ErrCodeSnapshotFetch, fmt.Sprintf("failed to fetch snapshot of %s", repoID), cause).
		WithSuggestion("Check that the token can read the repository contents")
}

// NewBranchError creates a working-branch creation error
func NewBranchError(repoID string, cause error) *CaretakerError {
	return Wrap(ErrCodeSnapshotBranch, fmt.Sprintf("failed to prepare working branch for %s", repoID), cause).
		WithSuggestion("Check that the token has contents:write permission")
}

// NewStageError creates a stage failure error
func NewStageError(stageID string, cause error) *CaretakerError {
	return Wrap(ErrCodeStageFailed, fmt.Sprintf("stage %s failed", stageID), cause)
}

// NewProviderError creates an intelligence provider error
func NewProviderError(providerID string, cause error) *CaretakerError {
	return Wrap(ErrCodeProviderAPI, fmt.Sprintf("provider %s request failed", providerID), cause).
		WithSuggestion("Check the provider base_url and api_key")
}

// NewPluginError creates a plugin load or run error
func NewPluginError(code ErrorCode, name string, cause error) *CaretakerError {
	return Wrap(code, fmt.Sprintf("plugin %s failed", name), cause)
}

// NewPublishError creates a publish error for one queued operation
func NewPublishError(code ErrorCode, target string, cause error) *CaretakerError {
	return Wrap(code, fmt.Sprintf("failed to publish %s", target), cause)
}
