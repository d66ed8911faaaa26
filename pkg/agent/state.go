package agent

// TurnState is the orchestrator state of a turn.
type TurnState int

const (
	StateAwaitingModel TurnState = iota
	StateDispatchingTools
	StateAwaitingContinuation
	StateDone
)

func (s TurnState) String() string {
	switch s {
	case StateAwaitingModel:
		return "AWAITING_MODEL"
	case StateDispatchingTools:
		return "DISPATCHING_TOOLS"
	case StateAwaitingContinuation:
		return "AWAITING_CONTINUATION"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}
