package orchestrator

// Phase is the loop's current position in the generation cycle. Exposed
// for logging and inspection; transitions happen only on the loop
// goroutine. After CheckTermination the loop either starts the next
// generation at GeneratingAttacks or stops at Terminated.
type Phase int32

const (
	PhaseInitializing Phase = iota
	PhaseGeneratingAttacks
	PhaseEvaluating
	PhaseRecording
	PhaseSynthesizing
	PhaseSelecting
	PhaseCheckTermination
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseGeneratingAttacks:
		return "generating_attacks"
	case PhaseEvaluating:
		return "evaluating"
	case PhaseRecording:
		return "recording"
	case PhaseSynthesizing:
		return "synthesizing"
	case PhaseSelecting:
		return "selecting"
	case PhaseCheckTermination:
		return "check_termination"
	case PhaseTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
