package agent

import (
	"sync"
	"time"

	"openui/cli/internal/apperr"
)

type State string

const (
	StateIdle                   State = "idle"
	StateWorking                State = "working"
	StateThinking               State = "thinking"
	StateCallingTool            State = "calling_tool"
	StateWaitingForUserResponse State = "waiting_for_user_response"
	StateCompleted              State = "completed"
	StateFailed                 State = "failed"
)

const (
	DefaultSettleDelay    = 200 * time.Millisecond
	CompletionDescription = "Prompt was added to the agents chatbox"
)

// Status is the state plus an optional human readable description.
type Status struct {
	State       State  `json:"state"`
	Description string `json:"description,omitempty"`
}

var progressStates = []State{StateWorking, StateThinking, StateCallingTool, StateWaitingForUserResponse}

var stateTransitions = func() map[State]map[State]bool {
	t := map[State]map[State]bool{
		StateIdle:      {StateIdle: true},
		StateCompleted: {StateIdle: true},
		StateFailed:    {StateIdle: true},
	}
	for _, from := range progressStates {
		t[StateIdle][from] = true
		t[StateCompleted][from] = true
		t[StateFailed][from] = true
		t[from] = map[State]bool{StateIdle: true, StateCompleted: true, StateFailed: true}
		for _, to := range progressStates {
			t[from][to] = true
		}
	}
	return t
}()

func ParseState(v string) (State, bool) {
	s := State(v)
	_, ok := stateTransitions[s]
	return s, ok
}

// Terminal states return to idle on their own after the settle delay.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Machine tracks the lifecycle of one dispatch. onChange runs under the
// machine lock so observers see transitions in order; it must not call back
// into the machine.
type Machine struct {
	mu       sync.Mutex
	status   Status
	settle   time.Duration
	timer    *time.Timer
	gen      uint64
	onChange func(Status)
}

func NewMachine(settle time.Duration, onChange func(Status)) *Machine {
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	return &Machine{status: Status{State: StateIdle}, settle: settle, onChange: onChange}
}

func (m *Machine) Current() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Set moves to state. Any pending auto-return to idle is cancelled, so a
// stale timer never overwrites a newer state.
func (m *Machine) Set(state State, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed, known := stateTransitions[m.status.State]
	if _, valid := stateTransitions[state]; !known || !valid || !allowed[state] {
		return apperr.New(apperr.CodeAgentStateTransitionInvalid, "invalid agent state transition",
			apperr.Field("from", string(m.status.State)), apperr.Field("to", string(state)))
	}

	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	next := Status{State: state, Description: description}
	changed := next != m.status
	m.status = next
	if state.Terminal() {
		gen := m.gen
		m.timer = time.AfterFunc(m.settle, func() { m.settleToIdle(gen) })
	}
	if changed && m.onChange != nil {
		m.onChange(next)
	}
	return nil
}

func (m *Machine) settleToIdle(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || !m.status.State.Terminal() {
		return
	}
	m.gen++
	m.timer = nil
	m.status = Status{State: StateIdle}
	if m.onChange != nil {
		m.onChange(m.status)
	}
}

// Stop cancels a pending auto-return.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
