// Package tools holds the tool registry: manifest loading, argument
// validation, lifecycle management and the built-in tool implementations.
package tools

import (
	"context"
	"time"

	"github.com/termnetdev/termnet/internal/providers"
)

// Tool is the interface all tools must implement.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Starter is implemented by tools that hold resources needing setup before
// first use (browser sessions, store connections).
type Starter interface {
	Start(ctx context.Context) error
}

// Stopper is implemented by tools that must release resources at teardown.
type Stopper interface {
	Stop(ctx context.Context) error
}

// ShellCommander is implemented by tools that execute shell commands. The
// agent loop inspects the concrete command for safety classification before
// dispatch.
type ShellCommander interface {
	ShellCommand(args map[string]interface{}) (string, bool)
}

// TimeoutAware tools override the registry's default per-invocation timeout.
type TimeoutAware interface {
	InvokeTimeout() time.Duration
}

// ToProviderDef converts a Tool to a providers.ToolDefinition for LLM APIs.
func ToProviderDef(t Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}
