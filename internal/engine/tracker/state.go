// Package tracker is the migration state machine and per-file progress
// bookkeeping with checkpoints for rollback.
package tracker

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"nsmigrate/internal/engine/planner"
)

type Kind string

const (
	KindNotStarted    Kind = "not-started"
	KindInProgress    Kind = "in-progress"
	KindPhaseComplete Kind = "phase-complete"
	KindVerified      Kind = "verified"
	KindComplete      Kind = "complete"
	KindFailed        Kind = "failed"
)

var ErrInvalidTransition = errors.New("invalid state transition")

// State is a value; transitions return a new State and never mutate the
// receiver. Phase is the current phase while in progress, the last
// completed phase for phase-complete, and the active phase when failed.
type State struct {
	Kind  Kind `json:"kind" yaml:"kind"`
	Phase int  `json:"phase,omitempty" yaml:"phase,omitempty"`
}

func Initial() State {
	return State{Kind: KindNotStarted}
}

func (s State) String() string {
	switch s.Kind {
	case KindPhaseComplete:
		return fmt.Sprintf("phase-%d-complete", s.Phase)
	case KindInProgress, KindFailed:
		if s.Phase > 0 {
			return fmt.Sprintf("%s:%d", s.Kind, s.Phase)
		}
	}
	return string(s.Kind)
}

// ParseState is the inverse of String.
func ParseState(v string) (State, error) {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "phase-") && strings.HasSuffix(v, "-complete") {
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(v, "phase-"), "-complete"))
		if err != nil || n < 1 || n > planner.PhaseCount {
			return State{}, fmt.Errorf("invalid state %q", v)
		}
		return State{Kind: KindPhaseComplete, Phase: n}, nil
	}
	kind, phase, hasPhase := strings.Cut(v, ":")
	s := State{Kind: Kind(kind)}
	switch s.Kind {
	case KindNotStarted, KindVerified, KindComplete:
		if hasPhase {
			return State{}, fmt.Errorf("invalid state %q", v)
		}
		return s, nil
	case KindInProgress, KindFailed:
		if hasPhase {
			n, err := strconv.Atoi(phase)
			if err != nil || n < 1 || n > planner.PhaseCount {
				return State{}, fmt.Errorf("invalid state %q", v)
			}
			s.Phase = n
		}
		return s, nil
	}
	return State{}, fmt.Errorf("invalid state %q", v)
}

func (s State) Terminal() bool {
	return s.Kind == KindComplete || s.Kind == KindFailed
}

// Running reports whether a run has begun and not reached a terminal state.
func (s State) Running() bool {
	return s.Kind == KindInProgress || s.Kind == KindPhaseComplete
}

// CompletedPhases is the number of phases fully applied.
func (s State) CompletedPhases() int {
	switch s.Kind {
	case KindPhaseComplete:
		return s.Phase
	case KindInProgress:
		return s.Phase - 1
	case KindVerified, KindComplete:
		return planner.PhaseCount
	}
	return 0
}

func invalid(s State, op string) error {
	return fmt.Errorf("%w: cannot %s from %s", ErrInvalidTransition, op, s)
}

// Start enters phase. A fresh run starts at phase 1, a completed phase is
// followed by the next one, and an in-progress phase may be resumed.
func (s State) Start(phase int) (State, error) {
	next := State{Kind: KindInProgress, Phase: phase}
	switch {
	case s.Kind == KindNotStarted && phase == 1:
		return next, nil
	case s.Kind == KindPhaseComplete && phase == s.Phase+1 && phase <= planner.PhaseCount:
		return next, nil
	case s.Kind == KindInProgress && phase == s.Phase:
		return next, nil
	}
	return s, invalid(s, fmt.Sprintf("start phase %d", phase))
}

func (s State) CompletePhase(phase int) (State, error) {
	if s.Kind != KindInProgress || s.Phase != phase {
		return s, invalid(s, fmt.Sprintf("complete phase %d", phase))
	}
	return State{Kind: KindPhaseComplete, Phase: phase}, nil
}

func (s State) MarkVerified() (State, error) {
	if s.Kind == KindVerified {
		return s, nil
	}
	if s.Kind != KindPhaseComplete || s.Phase != planner.PhaseCount {
		return s, invalid(s, "mark verified")
	}
	return State{Kind: KindVerified}, nil
}

func (s State) Complete() (State, error) {
	if s.Kind != KindVerified {
		return s, invalid(s, "complete")
	}
	return State{Kind: KindComplete}, nil
}

// Fail moves a running migration to the absorbing failed state.
func (s State) Fail() (State, error) {
	if !s.Running() {
		return s, invalid(s, "fail")
	}
	return State{Kind: KindFailed, Phase: s.Phase}, nil
}

// RollbackTo undoes phase and everything after it. Rolling back to phase 1
// restores the initial state.
func (s State) RollbackTo(phase int) (State, error) {
	if !s.Running() || phase < 1 || phase > s.Phase {
		return s, invalid(s, fmt.Sprintf("roll back to phase %d", phase))
	}
	if phase == 1 {
		return Initial(), nil
	}
	return State{Kind: KindInProgress, Phase: phase}, nil
}
