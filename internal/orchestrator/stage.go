package orchestrator

// Stage is a step of the per-turn state machine.
type Stage int

const (
	Received Stage = iota
	Gated
	Retrieved
	Assembled
	Dispatched
	Completed
	Failed
)

func (s Stage) String() string {
	switch s {
	case Received:
		return "received"
	case Gated:
		return "gated"
	case Retrieved:
		return "retrieved"
	case Assembled:
		return "assembled"
	case Dispatched:
		return "dispatched"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}
