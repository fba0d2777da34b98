package agent

// EventSink receives a run's observable output: the final answer's ordered
// text chunks, structured step events, and safety warnings. Implementations
// must be cheap; the loop calls them inline.
type EventSink interface {
	// AnswerChunk delivers one ordered fragment of streamed answer text.
	AnswerChunk(text string)
	// Step reports a memory log entry right after it is appended.
	Step(entry StepEntry)
	// Warning reports an AllowWithWarning verdict for a dispatched command.
	Warning(tool, command, reason string)
	// Done reports the run's termination.
	Done(reason TerminationReason, finalAnswer string)
}

// NopSink discards everything. Useful for tests and fire-and-forget runs.
type NopSink struct{}

func (NopSink) AnswerChunk(string)             {}
func (NopSink) Step(StepEntry)                 {}
func (NopSink) Warning(string, string, string) {}
func (NopSink) Done(TerminationReason, string) {}
