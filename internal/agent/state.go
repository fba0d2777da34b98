// Package agent implements the step state machine that mediates between the
// language model and the tool registry: it relays tool-call proposals through
// the safety gate, records every step in the memory log, and streams the
// model's final answer to the event sink.
package agent

// Phase is the loop's position in the step state machine.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhasePlanning    Phase = "planning"
	PhaseDispatching Phase = "dispatching"
	PhaseObserving   Phase = "observing"
	PhaseConcluding  Phase = "concluding"
	PhaseDone        Phase = "done"
)

// StepKind classifies a memory log entry.
type StepKind string

const (
	StepPlan        StepKind = "plan"
	StepAction      StepKind = "action"
	StepObservation StepKind = "observation"
	StepReflection  StepKind = "reflection"
)

func (k StepKind) valid() bool {
	switch k {
	case StepPlan, StepAction, StepObservation, StepReflection:
		return true
	}
	return false
}

// TerminationReason states why a run ended.
type TerminationReason string

const (
	// ReasonModelConcluded: the model answered instead of proposing a call.
	ReasonModelConcluded TerminationReason = "model_concluded"
	// ReasonStepLimitReached: the per-session step budget ran out.
	ReasonStepLimitReached TerminationReason = "step_limit_reached"
	// ReasonAborted: an unrecoverable error ended the run.
	ReasonAborted TerminationReason = "aborted"
	// ReasonCancelled: the caller cancelled the context.
	ReasonCancelled TerminationReason = "cancelled"
)

// SessionState is owned by exactly one Run; it is never shared across
// concurrent sessions.
type SessionState struct {
	Phase      Phase
	StepCount  int
	MaxSteps   int
	Memory     *MemoryLog
	Terminated bool
	Reason     TerminationReason
}

// RunResult is what a completed run hands back to the caller.
type RunResult struct {
	FinalAnswer string
	Reason      TerminationReason
	Steps       int
	Memory      *MemoryLog
}
