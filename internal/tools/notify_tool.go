package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/termnetdev/termnet/internal/notify"
)

// NotifyTool lets the model manage the user's notifications: add (with an
// optional reminder time or cron schedule), list, dismiss.
type NotifyTool struct {
	svc *notify.Service
}

func NewNotifyTool(svc *notify.Service) *NotifyTool {
	return &NotifyTool{svc: svc}
}

func (t *NotifyTool) Name() string { return "notify" }

func (t *NotifyTool) Description() string {
	return "Manage user notifications: add a notification (optionally with a reminder time or cron schedule), list active ones, or dismiss by id."
}

func (t *NotifyTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"description": "What to do",
				"enum":        []interface{}{"add", "list", "dismiss"},
			},
			"message": map[string]interface{}{
				"type":        "string",
				"description": "Notification text (for action=add)",
			},
			"remind_at": map[string]interface{}{
				"type":        "string",
				"description": "RFC3339 time to remind at (for action=add)",
			},
			"cron": map[string]interface{}{
				"type":        "string",
				"description": "5-field cron expression for a recurring reminder (for action=add)",
			},
			"id": map[string]interface{}{
				"type":        "string",
				"description": "Notification id (for action=dismiss)",
			},
		},
		"required": []interface{}{"action"},
	}
}

func (t *NotifyTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	action, _ := args["action"].(string)

	switch action {
	case "add":
		message, _ := args["message"].(string)
		cronExpr, _ := args["cron"].(string)

		var remindAt time.Time
		if raw, _ := args["remind_at"].(string); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return ErrorResult(fmt.Sprintf("remind_at must be RFC3339: %v", err))
			}
			remindAt = parsed
		}

		n, err := t.svc.Add(message, remindAt, cronExpr)
		if err != nil {
			return ErrorResult(err.Error())
		}
		if !n.NextFire.IsZero() {
			return NewResult(fmt.Sprintf("Notification %s saved, will surface at %s.", n.ID, n.NextFire.Format(time.RFC3339)))
		}
		return NewResult(fmt.Sprintf("Notification %s saved and active now.", n.ID))

	case "list":
		list := t.svc.List()
		if len(list) == 0 {
			return SilentResult("No active notifications.")
		}
		var b strings.Builder
		for _, n := range list {
			fmt.Fprintf(&b, "- %s: %s", n.ID, n.Message)
			if !n.NextFire.IsZero() {
				fmt.Fprintf(&b, " (fires %s)", n.NextFire.Format(time.RFC3339))
			}
			b.WriteString("\n")
		}
		return SilentResult(b.String())

	case "dismiss":
		id, _ := args["id"].(string)
		if id == "" {
			return ErrorResult("id is required for action=dismiss")
		}
		if err := t.svc.Dismiss(id); err != nil {
			return ErrorResult(err.Error())
		}
		return NewResult(fmt.Sprintf("Notification %s dismissed.", id))

	default:
		return ErrorResult(fmt.Sprintf("unknown action %q", action))
	}
}
