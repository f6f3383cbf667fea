package syncer

import (
	"errors"
	"fmt"
)

type State int

const (
	StateIdle State = iota
	StateLoadingCheckpoint
	StatePaginating
	StateNormalizing
	StateReconciling
	StateFinalizing
	StateDone
	StateAborted
)

var ErrInvalidTransition = errors.New("invalid state transition")

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoadingCheckpoint:
		return "loading_checkpoint"
	case StatePaginating:
		return "paginating"
	case StateNormalizing:
		return "normalizing"
	case StateReconciling:
		return "reconciling"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

var transitions = map[State][]State{
	StateIdle:              {StateLoadingCheckpoint},
	StateLoadingCheckpoint: {StatePaginating, StateAborted},
	StatePaginating:        {StateNormalizing, StateFinalizing, StateAborted},
	StateNormalizing:       {StateReconciling},
	StateReconciling:       {StateNormalizing, StatePaginating, StateFinalizing},
	StateFinalizing:        {StateDone, StateAborted},
}

type machine struct {
	state State
}

// to moves to next. Staying in the current state is always allowed.
func (m *machine) to(next State) error {
	if m.state == next {
		return nil
	}
	for _, allowed := range transitions[m.state] {
		if allowed == next {
			m.state = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, next)
}
