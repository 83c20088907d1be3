package otp

import (
	"fmt"
	"sync"
)

// State is a step of one passcode retrieval cycle.
type State string

// Cycle states.
const (
	StateIdle         State = "IDLE"
	StatePolling      State = "POLLING"
	StateFound        State = "FOUND"
	StateExtracting   State = "EXTRACTING"
	StateCodeFound    State = "CODE_FOUND"
	StateCodeNotFound State = "CODE_NOT_FOUND"
	StateTimedOut     State = "TIMED_OUT"
	StateSubmitting   State = "SUBMITTING"
	StateDone         State = "DONE"
)

// Only polling retries internally; no transition loops back.
var transitions = map[State][]State{
	StateIdle:         {StatePolling},
	StatePolling:      {StateFound, StateTimedOut},
	StateFound:        {StateExtracting},
	StateExtracting:   {StateCodeFound, StateCodeNotFound},
	StateCodeFound:    {StateSubmitting, StateDone},
	StateCodeNotFound: {StateDone},
	StateTimedOut:     {StateDone},
	StateSubmitting:   {StateDone},
}

// Cycle tracks one retrieval from IDLE to DONE.
type Cycle struct {
	mu      sync.Mutex
	state   State
	history []State
}

// NewCycle returns a cycle in IDLE.
func NewCycle() *Cycle {
	return &Cycle{state: StateIdle, history: []State{StateIdle}}
}

// State returns the current state.
func (c *Cycle) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Advance moves to next. It returns an error, leaving the state unchanged,
// when next is not reachable from the current state.
func (c *Cycle) Advance(next State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range transitions[c.state] {
		if s == next {
			c.state = next
			c.history = append(c.history, next)
			return nil
		}
	}
	return fmt.Errorf("illegal otp cycle transition %s -> %s", c.state, next)
}

// History returns every state visited, starting with IDLE.
func (c *Cycle) History() []State {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]State, len(c.history))
	copy(out, c.history)
	return out
}

// Done reports whether the cycle has finished.
func (c *Cycle) Done() bool { return c.State() == StateDone }
