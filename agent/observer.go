package agent

import "time"

// Observer receives conversation telemetry from the Driver.
// Implementations must be safe for concurrent use: tool outcomes are
// reported from the dispatching goroutines.
type Observer interface {
	ObserveTransition(from, to, event string)
	ObserveModelCall(status string, duration time.Duration)
	ObserveToolCall(tool, status string, duration time.Duration)
	ObserveConversation(state string, toolCycles int, duration time.Duration)
}

// Outcome labels passed to Observer.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeTimeout   = "timeout"
	OutcomeTransport = "transport_error"
)

type noopObserver struct{}

func (noopObserver) ObserveTransition(string, string, string) {}
func (noopObserver) ObserveModelCall(string, time.Duration) {}
func (noopObserver) ObserveToolCall(string, string, time.Duration) {}
func (noopObserver) ObserveConversation(string, int, time.Duration) {}
