package agent

import "fmt"

// State 定义会话编排状态
type State string

const (
	StateReadyToCallLlm      State = "ReadyToCallLlm"      // 初始状态，可以调用模型
	StateAwaitingLlmResponse State = "AwaitingLlmResponse" // 等待模型响应
	StateExecutingTools      State = "ExecutingTools"      // 执行工具调用
	StateDone                State = "Done"                // 终态：得到最终回答
	StateError               State = "Error"               // 终态：不可恢复错误
)

// Event 驱动状态转换的事件
type Event string

const (
	EventProcessInput            Event = "ProcessInput"
	EventLlmRespondedWithContent Event = "LlmRespondedWithContent"
	EventLlmRequestedTools       Event = "LlmRequestedTools"
	EventToolsExecutionCompleted Event = "ToolsExecutionCompleted"
	EventToolsExecutionFailed    Event = "ToolsExecutionFailed"
	EventErrorOccurred           Event = "ErrorOccurred"
)

// AllStates 返回全部状态
func AllStates() []State {
	return []State{
		StateReadyToCallLlm,
		StateAwaitingLlmResponse,
		StateExecutingTools,
		StateDone,
		StateError,
	}
}

// AllEvents 返回全部事件
func AllEvents() []Event {
	return []Event{
		EventProcessInput,
		EventLlmRespondedWithContent,
		EventLlmRequestedTools,
		EventToolsExecutionCompleted,
		EventToolsExecutionFailed,
		EventErrorOccurred,
	}
}

// IsTerminal reports whether s is Done or Error.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateError
}

// Valid reports whether s is one of the five defined states.
func (s State) Valid() bool {
	switch s {
	case StateReadyToCallLlm, StateAwaitingLlmResponse, StateExecutingTools, StateDone, StateError:
		return true
	}
	return false
}

type transitionKey struct {
	from  State
	event Event
}

// transitionTable 定义合法的状态转换，未列出的 (state, event) 组合一律非法。
// 终态不出现在 from 列，因此吸收所有事件。
var transitionTable = map[transitionKey]State{
	{StateReadyToCallLlm, EventProcessInput}:                 StateAwaitingLlmResponse,
	{StateAwaitingLlmResponse, EventLlmRespondedWithContent}: StateDone,
	{StateAwaitingLlmResponse, EventLlmRequestedTools}:       StateExecutingTools,
	{StateExecutingTools, EventToolsExecutionCompleted}:      StateReadyToCallLlm,
	{StateExecutingTools, EventToolsExecutionFailed}:         StateError,
	{StateAwaitingLlmResponse, EventErrorOccurred}:           StateError,
	{StateExecutingTools, EventErrorOccurred}:                StateError,
}

// NextState looks up the table. ok is false for any illegal pair.
func NextState(from State, event Event) (State, bool) {
	to, ok := transitionTable[transitionKey{from: from, event: event}]
	return to, ok
}

// ErrInvalidTransition 非法状态转换错误
type ErrInvalidTransition struct {
	State State
	Event Event
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid transition: event %s not allowed in state %s", e.Event, e.State)
}
