package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/termnetdev/termnet/internal/notify"
)

const systemPromptBase = `You are TermNet, a goal-driven assistant with access to executable tools.

BEHAVIOR RULES:
- Think step-by-step before responding. Consider whether a tool is needed.
- If a tool can help, call it first before saying anything to the user.
- Never fabricate results. Always wait for tool output before using its information.
- After using a tool, reassess the goal and decide the next step.
- Chain multiple tool calls when the task needs them.
- Only respond to the user when you have useful or complete information.

TOOL USAGE:
- Tool arguments must be accurate and relevant.
- If a tool fails, recover gracefully and try another approach.
- Destructive shell commands are blocked by a safety policy; do not retry them.

COMMUNICATION STYLE:
- Be concise, clear, and confident.
- Summarize tool output naturally instead of dumping raw data.
- When the task is complete, explain what was done and any next steps.`

// SystemPromptConfig feeds the prompt builder.
type SystemPromptConfig struct {
	ToolNames     []string
	Notifications []notify.Notification
	Extra         string
}

// BuildSystemPrompt assembles the system prompt. It is rebuilt at every
// Planning transition so active notifications stay current.
func BuildSystemPrompt(cfg SystemPromptConfig) string {
	var b strings.Builder
	b.WriteString(systemPromptBase)

	if len(cfg.ToolNames) > 0 {
		fmt.Fprintf(&b, "\n\nAvailable tools: %s", strings.Join(cfg.ToolNames, ", "))
	}

	b.WriteString("\n\nActive notifications:\n")
	if len(cfg.Notifications) == 0 {
		b.WriteString("No active notifications.")
	} else {
		for i, n := range cfg.Notifications {
			fmt.Fprintf(&b, "%d. %s (added %s)\n", i+1, n.Message, n.CreatedAt.Format(time.RFC3339))
		}
	}

	if cfg.Extra != "" {
		b.WriteString("\n\n")
		b.WriteString(cfg.Extra)
	}
	return b.String()
}
