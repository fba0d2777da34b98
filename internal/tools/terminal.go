package tools

import (
	"context"
	"time"
)

// TerminalTool runs an arbitrary shell command proposed by the model. It is
// shell-typed: the raw command string is exposed to the safety gate before
// dispatch.
type TerminalTool struct {
	workingDir string
	timeout    time.Duration
}

// NewTerminalTool creates the run_shell built-in. workingDir may be empty.
func NewTerminalTool(workingDir string, timeout time.Duration) *TerminalTool {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &TerminalTool{workingDir: workingDir, timeout: timeout}
}

func (t *TerminalTool) Name() string { return "run_shell" }

func (t *TerminalTool) Description() string {
	return "Run a shell command and return its combined output. Destructive commands are blocked."
}

func (t *TerminalTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The shell command to execute",
			},
		},
		"required": []interface{}{"command"},
	}
}

func (t *TerminalTool) InvokeTimeout() time.Duration { return t.timeout }

// ShellCommand exposes the raw command for safety classification.
func (t *TerminalTool) ShellCommand(args map[string]interface{}) (string, bool) {
	command, _ := args["command"].(string)
	return command, true
}

func (t *TerminalTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	command, _ := args["command"].(string)
	if command == "" {
		return ErrorResult("command must not be empty")
	}
	return runShell(ctx, command, t.workingDir)
}
