package agent

import (
	"github.com/comigor/jarvis-go/types"
)

// TransitionHook observes every accepted transition.
type TransitionHook func(from, to State, event Event)

// MachineOption configures a StateMachine.
type MachineOption func(*StateMachine)

// WithTransitionHook registers a hook called after each accepted transition.
func WithTransitionHook(h TransitionHook) MachineOption {
	return func(m *StateMachine) {
		if h != nil {
			m.hooks = append(m.hooks, h)
		}
	}
}

// StateMachine 包装一个会话 Context 和当前状态，是唯一允许修改状态的组件。
//
// StateMachine 不是并发安全的：同一实例同一时刻只能有一个写者（Driver）。
type StateMachine struct {
	state State
	ctx   *Context
	hooks []TransitionHook
}

// NewStateMachine creates a machine in ReadyToCallLlm seeded with the given
// history and tool set.
func NewStateMachine(messages []types.Message, tools []types.ToolDefinition, opts ...MachineOption) (*StateMachine, error) {
	ctx, err := NewContext(messages, tools)
	if err != nil {
		return nil, err
	}
	m := &StateMachine{state: StateReadyToCallLlm, ctx: ctx}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// CurrentState returns the current state.
func (m *StateMachine) CurrentState() State {
	return m.state
}

// IsTerminal reports whether the machine reached Done or Error.
func (m *StateMachine) IsTerminal() bool {
	return m.state.IsTerminal()
}

// Transition moves the machine on event. On failure the state is unchanged and
// the returned *ErrInvalidTransition names the rejected pair.
func (m *StateMachine) Transition(event Event) error {
	to, ok := NextState(m.state, event)
	if !ok {
		return &ErrInvalidTransition{State: m.state, Event: event}
	}
	from := m.state
	m.state = to
	for _, h := range m.hooks {
		h(from, to, event)
	}
	return nil
}

// Context exposes the embedded conversation record.
func (m *StateMachine) Context() *Context {
	return m.ctx
}

// PrepareToolExecution returns a copy of the pending batch without clearing it.
func (m *StateMachine) PrepareToolExecution() []types.ToolCallRequest {
	return m.ctx.PendingToolCalls()
}

// AddToolExecutionResults appends results to the current batch. It never
// transitions; the caller decides between ToolsExecutionCompleted and
// ToolsExecutionFailed.
func (m *StateMachine) AddToolExecutionResults(results []types.ToolCallResult) {
	m.ctx.AddToolResults(results)
}

// GetFinalContent returns the latest assistant content or NoResponseAvailable.
func (m *StateMachine) GetFinalContent() string {
	return m.ctx.FinalContent()
}

// GetLastError returns the recorded failure, if any.
func (m *StateMachine) GetLastError() (string, bool) {
	return m.ctx.LastError()
}
