package protocol

// Error codes returned in ResponseFrame.Error.Code.
const (
	ErrInvalidRequest    = "INVALID_REQUEST"
	ErrUnauthorized      = "UNAUTHORIZED"
	ErrUnavailable       = "UNAVAILABLE"
	ErrNotFound          = "NOT_FOUND"
	ErrResourceExhausted = "RESOURCE_EXHAUSTED"
	ErrAgentAborted      = "AGENT_ABORTED"
	ErrAgentCancelled    = "AGENT_CANCELLED"
	ErrInternal          = "INTERNAL"
)
