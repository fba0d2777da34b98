package tools

import (
	"errors"
	"fmt"
)

// Load-time errors. These are fatal: a registry that failed to load must not
// serve sessions.
var (
	// ErrBindingNotFound marks a manifest entry naming an implementation
	// binding that does not exist.
	ErrBindingNotFound = errors.New("tool binding not found")
)

// ManifestError reports a malformed or inconsistent tool manifest.
type ManifestError struct {
	Path string
	Err  error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("tool manifest %s: %v", e.Path, e.Err)
}

func (e *ManifestError) Unwrap() error { return e.Err }

// Per-invocation errors. The agent loop records these as observations and
// keeps the session alive.
var (
	// ErrUnknownTool marks an invocation of a name absent from the registry.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrToolTimeout marks an invocation that exceeded its time budget.
	ErrToolTimeout = errors.New("tool invocation timed out")
)

// SchemaViolationError reports arguments that do not satisfy a tool's
// parameter schema. The bound implementation is never called.
type SchemaViolationError struct {
	Tool   string
	Field  string
	Reason string
}

func (e *SchemaViolationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("tool %s: invalid arguments: %s", e.Tool, e.Reason)
	}
	return fmt.Sprintf("tool %s: invalid argument %q: %s", e.Tool, e.Field, e.Reason)
}

// ToolExecutionError wraps a failure inside a tool implementation, carrying
// the tool name and the arguments that triggered it.
type ToolExecutionError struct {
	Tool string
	Args map[string]interface{}
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }
