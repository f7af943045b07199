// Package pipeline executes the ordered stages of one repository run and
// publishes their side effects.
package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/caretaker/internal/changeset"
	"github.com/felixgeelhaar/caretaker/internal/plugin"
	"github.com/felixgeelhaar/caretaker/internal/stage"
)

// State is the lifecycle state of a run.
type State string

const (
	StateInit           State = "INIT"
	StateBranchReady    State = "BRANCH_READY"
	StateStageExecuting State = "STAGE_EXECUTING"
	StatePublishing     State = "PUBLISHING"
	StateDone           State = "DONE"
	StateFailed         State = "FAILED"
)

var transitions = map[State][]State{
	StateInit:           {StateBranchReady, StateFailed},
	StateBranchReady:    {StateStageExecuting, StateFailed},
	StateStageExecuting: {StatePublishing, StateFailed},
	StatePublishing:     {StateDone},
}

// CanTransition reports whether a run may move from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s is DONE or FAILED.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Outcome is the terminal result of a run.
type Outcome string

const (
	OutcomeDone     Outcome = "done"
	OutcomeDegraded Outcome = "degraded"
	OutcomeFailed   Outcome = "failed"
)

// StageStatus is the result of one stage.
type StageStatus string

const (
	StatusOK       StageStatus = "ok"
	StatusDegraded StageStatus = "degraded"
	StatusSkipped  StageStatus = "skipped"
)

// StageResult records one executed or skipped stage.
type StageResult struct {
	StageID   string
	Artifacts stage.Artifact
	Status    StageStatus
	Err       error
	Duration  time.Duration
}

// Run is the record of one repository run. It is owned by the worker
// executing it.
type Run struct {
	ID     string
	RepoID string
	Branch string
	State  State
	// History lists every state entered after INIT, in order.
	History []State
	Stages  []StageResult
	Plugins []plugin.Result
	Report  changeset.Report
	// Degraded is set when a stage or publish operation failed without
	// aborting the run.
	Degraded bool
	// Err is the cause of a FAILED run.
	Err error
	// ProviderCalls counts provider invocations; cache hits are not counted.
	ProviderCalls int
	CacheHits     int
	Started       time.Time
	Finished      time.Time
}

func newRun(repoID string, now time.Time) *Run {
	return &Run{
		ID:      uuid.NewString(),
		RepoID:  repoID,
		State:   StateInit,
		Started: now,
	}
}

// transition moves the run to next. Invalid transitions are programming
// errors.
func (r *Run) transition(next State) {
	if !CanTransition(r.State, next) {
		panic(fmt.Sprintf("pipeline: invalid transition %s -> %s", r.State, next))
	}
	r.State = next
	r.History = append(r.History, next)
}

// Outcome derives the terminal outcome. A run that has not terminated
// reports failed.
func (r *Run) Outcome() Outcome {
	switch {
	case r.State != StateDone:
		return OutcomeFailed
	case r.Degraded:
		return OutcomeDegraded
	default:
		return OutcomeDone
	}
}

// Duration is the wall time of the run.
func (r *Run) Duration() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// Stage returns the result of stageID.
func (r *Run) Stage(stageID string) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.StageID == stageID {
			return s, true
		}
	}
	return StageResult{}, false
}

// DegradedStages lists the ids of stages that failed without aborting.
func (r *Run) DegradedStages() []string {
	var out []string
	for _, s := range r.Stages {
		if s.Status == StatusDegraded {
			out = append(out, s.StageID)
		}
	}
	return out
}
