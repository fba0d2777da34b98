package protocol

// WebSocket event names pushed from server to client.
const (
	EventSystem   = "system"   // welcome / informational messages
	EventResponse = "response" // streamed agent answers
	EventStep     = "step"     // structured step entries (plan/action/observation/reflection)
	EventWarning  = "warning"  // safety gate warnings
	EventError    = "error"    // session-level failures
	EventShutdown = "shutdown" // server is going away
)

// Response event subtypes (in payload.type), matching the legacy UI stream.
const (
	ResponseEventStart = "response_start"
	ResponseEventChunk = "response_chunk"
	ResponseEventEnd   = "response_end"
)

// Step event subtypes (in payload.type)
const (
	StepEventPlan        = "plan"
	StepEventAction      = "action"
	StepEventObservation = "observation"
	StepEventReflection  = "reflection"
)

// RPC method names.
const (
	MethodConnect  = "connect"
	MethodHealth   = "health"
	MethodChatSend = "chat.send"
	MethodChatStop = "chat.stop"
	MethodToolList = "tools.list"
)
