package agent

import (
	"strings"
	"testing"
	"time"

	"github.com/termnetdev/termnet/internal/notify"
)

func TestBuildSystemPrompt(t *testing.T) {
	prompt := BuildSystemPrompt(SystemPromptConfig{
		ToolNames: []string{"run_shell", "save_note"},
	})

	if !strings.Contains(prompt, "Available tools: run_shell, save_note") {
		t.Error("tool list missing from prompt")
	}
	if !strings.Contains(prompt, "No active notifications.") {
		t.Error("empty notification section missing")
	}
	if !strings.Contains(prompt, "safety policy") {
		t.Error("safety policy hint missing")
	}
}

func TestBuildSystemPromptWithNotifications(t *testing.T) {
	created := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	prompt := BuildSystemPrompt(SystemPromptConfig{
		Notifications: []notify.Notification{
			{ID: "n1", Message: "water the plants", CreatedAt: created},
			{ID: "n2", Message: "renew the certificate", CreatedAt: created},
		},
	})

	if strings.Contains(prompt, "No active notifications.") {
		t.Error("empty marker present despite notifications")
	}
	if !strings.Contains(prompt, "1. water the plants") {
		t.Errorf("first notification missing:\n%s", prompt)
	}
	if !strings.Contains(prompt, "2. renew the certificate") {
		t.Errorf("second notification missing:\n%s", prompt)
	}
}

func TestBuildSystemPromptExtra(t *testing.T) {
	prompt := BuildSystemPrompt(SystemPromptConfig{Extra: "Speak only in haiku."})
	if !strings.HasSuffix(prompt, "Speak only in haiku.") {
		t.Error("extra section not appended")
	}
}
