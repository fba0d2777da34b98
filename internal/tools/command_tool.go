package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandTool runs a manifest-declared shell template. Templates use
// {{.key}} placeholders and all model-provided values are shell-escaped.
// It is shell-typed, so rendered commands pass through the safety gate.
type CommandTool struct {
	desc Descriptor
}

// NewCommandTool creates a Tool from a manifest command descriptor.
func NewCommandTool(desc Descriptor) *CommandTool {
	if desc.Parameters == nil {
		desc.Parameters = map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		}
	}
	return &CommandTool{desc: desc}
}

func (t *CommandTool) Name() string                       { return t.desc.Name }
func (t *CommandTool) Description() string                { return t.desc.Description }
func (t *CommandTool) Parameters() map[string]interface{} { return t.desc.Parameters }

// ShellCommand renders the template for safety classification.
func (t *CommandTool) ShellCommand(args map[string]interface{}) (string, bool) {
	return renderCommand(t.desc.Command, args), true
}

// InvokeTimeout honors the descriptor's timeout_seconds.
func (t *CommandTool) InvokeTimeout() time.Duration {
	if t.desc.TimeoutSeconds > 0 {
		return time.Duration(t.desc.TimeoutSeconds) * time.Second
	}
	return 0
}

func (t *CommandTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	command := renderCommand(t.desc.Command, args)
	return runShell(ctx, command, t.desc.WorkingDir)
}

// runShell executes a command through sh -c, capturing both streams.
func runShell(ctx context.Context, command, workingDir string) *Result {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if workingDir != "" {
		cmd.Dir = workingDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	var output string
	if stdout.Len() > 0 {
		output = stdout.String()
	}
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n"
		}
		output += "STDERR:\n" + stderr.String()
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ErrorResult("command timed out")
		}
		if output == "" {
			output = err.Error()
		}
		return ErrorResult(output)
	}

	if output == "" {
		output = "(command completed with no output)"
	}
	return SilentResult(output)
}

// renderCommand replaces {{.key}} placeholders with shell-escaped arg
// values. Uses simple string replacement (NOT Go text/template) so model
// output can never reach template evaluation.
func renderCommand(tmpl string, args map[string]interface{}) string {
	result := tmpl
	for key, val := range args {
		placeholder := "{{." + key + "}}"
		escaped := shellEscape(fmt.Sprint(val))
		result = strings.ReplaceAll(result, placeholder, escaped)
	}
	return result
}

// shellEscape wraps a value in single quotes, escaping embedded single quotes.
func shellEscape(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}
