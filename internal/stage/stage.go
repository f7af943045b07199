// Package stage defines pipeline stages and the ordered registry the pipeline
// runner evaluates once per run.
package stage

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/caretaker/internal/changeset"
	"github.com/felixgeelhaar/caretaker/internal/config"
	"github.com/felixgeelhaar/caretaker/internal/log"
	"github.com/felixgeelhaar/caretaker/internal/snapshot"
)

// ErrSkip is returned by a handler that found nothing to do. The runner
// records the stage as skipped instead of degraded.
var ErrSkip = stderrors.New("nothing to do")

// RepoScope is the artifact key used by repository-level stages.
const RepoScope = ""

// Artifact is a stage output, keyed by file path for per-file stages and by
// RepoScope for repository-level stages.
type Artifact map[string]string

// Value returns the repository-level value of the artifact.
func (a Artifact) Value() string {
	return a[RepoScope]
}

// Env is what the runner exposes to a handler.
type Env interface {
	// Ask returns the provider output for templateID, served from the cache
	// when (fingerprint, stage, provider) was computed before.
	Ask(ctx context.Context, fingerprint, templateID string, vars map[string]string) (string, error)

	// Emit queues an operation on the run's change set, tagged with the
	// current stage.
	Emit(op changeset.Op)

	// Published summarizes the operations already applied in this run.
	Published() []string

	// OpenIssues lists open issues, or nil when the snapshot provider
	// cannot list them.
	OpenIssues(ctx context.Context) ([]snapshot.Issue, error)

	// LatestReleaseTag returns the newest release tag, or "" if there is none.
	LatestReleaseTag(ctx context.Context) (string, error)

	// RepoLabels lists the labels defined in the repository, or nil when
	// the snapshot provider cannot list them.
	RepoLabels(ctx context.Context) ([]string, error)

	// RepoStats returns repository statistics, or nil when the snapshot
	// provider cannot report them.
	RepoStats(ctx context.Context) (*snapshot.RepoStats, error)

	Logger() *log.Logger
}

// Input is the read-only view a handler works on.
type Input struct {
	Snapshot *snapshot.Snapshot
	// Files are the snapshot files handed to per-file stages: filtered by
	// extension and capped at limits.max_files_per_repo.
	Files []snapshot.File
	// Artifacts holds the latest artifact for each declared input and each
	// optional input that was produced.
	Artifacts map[string]Artifact
	Config    *config.Config
	Now       time.Time
}

// Handler executes one stage.
type Handler func(ctx context.Context, env Env, in Input) (Artifact, error)

// Descriptor describes one stage.
type Descriptor struct {
	ID      string
	Enabled func(*config.Config) bool
	Handler Handler
	// Critical stages abort the run when they fail.
	Critical bool
	// Inputs must all have been produced, otherwise the stage is skipped.
	Inputs []string
	// Optional inputs are passed when available.
	Optional []string
	Output   string
	// CommitMessage is applied to file writes that carry no message.
	CommitMessage string
}

// IsEnabled evaluates the enabled predicate. A nil predicate means enabled.
func (d Descriptor) IsEnabled(cfg *config.Config) bool {
	return d.Enabled == nil || d.Enabled(cfg)
}

// Registry is an ordered list of stage descriptors.
type Registry struct {
	descriptors []Descriptor
	byID        map[string]int
}

// NewRegistry creates a registry holding ds in order.
func NewRegistry(ds ...Descriptor) (*Registry, error) {
	r := &Registry{byID: make(map[string]int, len(ds))}
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends d. Stage ids are unique and handlers are required.
func (r *Registry) Register(d Descriptor) error {
	if d.ID == "" {
		return fmt.Errorf("stage id cannot be empty")
	}
	if d.Handler == nil {
		return fmt.Errorf("stage %s has no handler", d.ID)
	}
	if _, exists := r.byID[d.ID]; exists {
		return fmt.Errorf("stage %s already registered", d.ID)
	}
	r.byID[d.ID] = len(r.descriptors)
	r.descriptors = append(r.descriptors, d)
	return nil
}

// All returns every descriptor in registry order.
func (r *Registry) All() []Descriptor {
	return append([]Descriptor(nil), r.descriptors...)
}

// Enabled returns the descriptors enabled by cfg, in registry order.
func (r *Registry) Enabled(cfg *config.Config) []Descriptor {
	var out []Descriptor
	for _, d := range r.descriptors {
		if d.IsEnabled(cfg) {
			out = append(out, d)
		}
	}
	return out
}

// Lookup finds a descriptor by id.
func (r *Registry) Lookup(id string) (Descriptor, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Descriptor{}, false
	}
	return r.descriptors[i], true
}
