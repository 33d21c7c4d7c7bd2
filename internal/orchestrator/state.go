package orchestrator

import (
	"errors"
	"fmt"
)

// State is where a request sits in the pipeline.
type State string

const (
	StateIdle       State = "idle"
	StateDispatched State = "dispatched"
	StateValidating State = "validating"
	StateValidated  State = "validated"
	StateDenied     State = "denied"
	StateExecuting  State = "executing"
	StateCompleted  State = "completed"
	StateHalted     State = "halted"
)

var (
	ErrIllegalTransition = errors.New("orchestrator: illegal state transition")
	ErrDuplicateRequest  = errors.New("orchestrator: request already processed")
)

// Validated and Executing may also end in Denied: an unparseable action or a
// missing target window is discovered only after the gates passed.
var transitions = map[State][]State{
	StateIdle:       {StateDispatched},
	StateDispatched: {StateValidating},
	StateValidating: {StateValidated, StateDenied},
	StateValidated:  {StateExecuting, StateHalted, StateDenied},
	StateExecuting:  {StateCompleted, StateHalted, StateDenied},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDenied || s == StateCompleted || s == StateHalted
}

func checkTransition(from, to State) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}

// stateTable tracks request states. Terminal entries beyond the retention limit
// are evicted oldest first.
type stateTable struct {
	states    map[string]State
	order     []string
	retention int
}

func newStateTable(retention int) *stateTable {
	if retention <= 0 {
		retention = 1024
	}
	return &stateTable{states: make(map[string]State), retention: retention}
}

func (t *stateTable) get(id string) (State, bool) {
	s, ok := t.states[id]
	return s, ok
}

func (t *stateTable) set(id string, from, to State) error {
	cur, ok := t.states[id]
	if !ok {
		if to != StateIdle {
			return fmt.Errorf("%w: unknown request %s", ErrIllegalTransition, id)
		}
		t.states[id] = StateIdle
		t.order = append(t.order, id)
		t.evict()
		return nil
	}
	if cur != from {
		return fmt.Errorf("%w: request %s is %s, not %s", ErrIllegalTransition, id, cur, from)
	}
	if err := checkTransition(from, to); err != nil {
		return err
	}
	t.states[id] = to
	return nil
}

func (t *stateTable) evict() {
	for len(t.order) > t.retention {
		kept := t.order[:0]
		dropped := false
		for _, id := range t.order {
			if !dropped && t.states[id].Terminal() {
				delete(t.states, id)
				dropped = true
				continue
			}
			kept = append(kept, id)
		}
		t.order = kept
		if !dropped {
			return // everything still in flight
		}
	}
}
