package agent

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/termnetdev/termnet/internal/providers"
)

// ErrInvalidEntry marks an append with an unknown kind or a non-monotonic
// index.
var ErrInvalidEntry = errors.New("invalid memory entry")

// StepEntry is one immutable record in the memory log.
type StepEntry struct {
	Index     int       `json:"index"`
	Kind      StepKind  `json:"kind"`
	Content   string    `json:"content"`
	ToolName  string    `json:"tool_name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MemoryLog is the append-only record of a session's steps. Entries are
// never mutated or reordered after append. The log performs no I/O;
// persistence, if any, is a sink concern.
type MemoryLog struct {
	entries []StepEntry
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Append adds an entry. The entry's Index must be exactly the current
// length of the log and its Kind must be known; anything else is rejected
// with ErrInvalidEntry.
func (m *MemoryLog) Append(e StepEntry) error {
	if !e.Kind.valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEntry, e.Kind)
	}
	if e.Index != len(m.entries) {
		return fmt.Errorf("%w: index %d, want %d", ErrInvalidEntry, e.Index, len(m.entries))
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	m.entries = append(m.entries, e)
	return nil
}

// Len returns the number of entries.
func (m *MemoryLog) Len() int { return len(m.entries) }

// Entries returns a copy of the log, oldest first.
func (m *MemoryLog) Entries() []StepEntry {
	out := make([]StepEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Render yields the log as model-readable text, oldest first. When the
// token budget is too small for everything, the OLDEST entries are dropped
// first; the surviving suffix stays in original order. Render never mutates
// the log.
func (m *MemoryLog) Render(maxTokens int) string {
	if len(m.entries) == 0 {
		return ""
	}

	lines := make([]string, len(m.entries))
	for i, e := range m.entries {
		lines[i] = renderEntry(e)
	}

	if maxTokens <= 0 {
		return strings.Join(lines, "\n")
	}

	// Walk backwards keeping the newest entries that fit.
	budget := maxTokens
	start := len(lines)
	for i := len(lines) - 1; i >= 0; i-- {
		cost := CountTokens(lines[i]) + 1 // newline
		if cost > budget {
			break
		}
		budget -= cost
		start = i
	}
	if start == len(lines) {
		return ""
	}
	return strings.Join(lines[start:], "\n")
}

// RenderMessages projects the log into provider conversation history.
// Observations become tool-role messages; everything else speaks as the
// assistant.
func (m *MemoryLog) RenderMessages() []providers.Message {
	msgs := make([]providers.Message, 0, len(m.entries))
	for _, e := range m.entries {
		role := "assistant"
		if e.Kind == StepObservation {
			role = "tool"
		}
		msgs = append(msgs, providers.Message{Role: role, Content: renderEntry(e)})
	}
	return msgs
}

func renderEntry(e StepEntry) string {
	if e.ToolName != "" {
		return fmt.Sprintf("[%s %d] (%s) %s", e.Kind, e.Index, e.ToolName, e.Content)
	}
	return fmt.Sprintf("[%s %d] %s", e.Kind, e.Index, e.Content)
}
