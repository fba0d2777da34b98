package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/termnetdev/termnet/internal/notify"
	"github.com/termnetdev/termnet/internal/providers"
	"github.com/termnetdev/termnet/internal/safety"
	"github.com/termnetdev/termnet/internal/tools"
)

const (
	defaultMaxSteps           = 10
	defaultMalformedRetries   = 2
	defaultUnknownToolRetries = 2
	defaultContextTokens      = 12000
	invocationCacheSize       = 64
	stepLimitFinalInstruction = "You have reached the maximum number of tool-assisted steps (%d). Provide a final response without calling tools."
)

// ErrInputRejected marks a user message blocked by the input guard.
var ErrInputRejected = errors.New("input rejected by guard")

// Config tunes one Loop.
type Config struct {
	SessionKey            string
	Model                 string
	MaxSteps              int
	MaxMalformedRetries   int
	MaxUnknownToolRetries int
	MaxContextTokens      int // token budget for the model context
	Options               map[string]interface{}
	GuardAction           GuardAction
	Reflect               bool // append a closing Reflection entry
}

// Loop drives one session through the step state machine. A Loop serves one
// run at a time; independent sessions get independent Loops.
type Loop struct {
	provider      providers.Provider
	tools         *tools.Registry
	gate          *safety.Gate
	sink          EventSink
	guard         *InputGuard
	notifications *notify.Service // nil when the service is disabled
	cfg           Config
	cache         *lru.Cache[string, string]
	tracer        trace.Tracer
	running       atomic.Bool
}

// Option configures a Loop.
type Option func(*Loop)

// WithNotifications injects the notification service so active reminders
// reach the system prompt.
func WithNotifications(svc *notify.Service) Option {
	return func(l *Loop) { l.notifications = svc }
}

// NewLoop wires a loop over its collaborators. sink may be nil.
func NewLoop(provider providers.Provider, reg *tools.Registry, gate *safety.Gate, sink EventSink, cfg Config, opts ...Option) *Loop {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaultMaxSteps
	}
	if cfg.MaxMalformedRetries <= 0 {
		cfg.MaxMalformedRetries = defaultMalformedRetries
	}
	if cfg.MaxUnknownToolRetries <= 0 {
		cfg.MaxUnknownToolRetries = defaultUnknownToolRetries
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = defaultContextTokens
	}
	if cfg.GuardAction == "" {
		cfg.GuardAction = GuardWarn
	}
	if sink == nil {
		sink = NopSink{}
	}

	cache, _ := lru.New[string, string](invocationCacheSize)
	l := &Loop{
		provider: provider,
		tools:    reg,
		gate:     gate,
		sink:     sink,
		guard:    NewInputGuard(),
		cfg:      cfg,
		cache:    cache,
		tracer:   otel.Tracer("termnet/agent"),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// IsRunning reports whether a run is in flight.
func (l *Loop) IsRunning() bool { return l.running.Load() }

// Run executes one user message to termination. The returned result always
// carries a termination reason; err is non-nil for Aborted and Cancelled.
func (l *Loop) Run(ctx context.Context, userMessage string) (*RunResult, error) {
	if !l.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("loop already running")
	}
	defer l.running.Store(false)

	ctx, span := l.tracer.Start(ctx, "agent.run",
		trace.WithAttributes(
			attribute.String("session", l.cfg.SessionKey),
			attribute.Int("max_steps", l.cfg.MaxSteps),
		))
	defer span.End()

	state := &SessionState{
		Phase:    PhaseIdle,
		MaxSteps: l.cfg.MaxSteps,
		Memory:   NewMemoryLog(),
	}

	if err := l.checkGuard(userMessage); err != nil {
		return l.finish(state, ReasonAborted, ""), err
	}

	messages := []providers.Message{
		{Role: "system", Content: l.systemPrompt()},
		{Role: "user", Content: userMessage},
	}

	malformed := 0
	unknownStreak := 0
	for {
		if err := l.transition(ctx, state, PhasePlanning); err != nil {
			return l.finish(state, ReasonCancelled, ""), err
		}

		// Rebuild the system prompt so new notifications surface.
		messages[0].Content = l.systemPrompt()
		messages = trimContext(messages, l.cfg.MaxContextTokens)

		resp, err := l.provider.ChatStream(ctx, providers.ChatRequest{
			Model:    l.cfg.Model,
			Messages: messages,
			Tools:    l.tools.ProviderDefs(),
			Options:  l.cfg.Options,
		}, l.streamToSink)
		if err != nil {
			if ctx.Err() != nil {
				return l.finish(state, ReasonCancelled, ""), ctx.Err()
			}
			if providers.IsMalformedProposal(err) {
				malformed++
				slog.Warn("malformed proposal", "session", l.cfg.SessionKey, "attempt", malformed, "error", err)
				if malformed <= l.cfg.MaxMalformedRetries {
					continue
				}
			}
			return l.finish(state, ReasonAborted, ""), err
		}
		malformed = 0

		// No proposals: the model is answering the user.
		if len(resp.ToolCalls) == 0 {
			if err := l.transition(ctx, state, PhaseConcluding); err != nil {
				return l.finish(state, ReasonCancelled, ""), err
			}
			l.conclude(state, resp.Content)
			return l.finish(state, ReasonModelConcluded, resp.Content), nil
		}

		// Plan entry goes in before any interpretation of the proposals.
		l.appendStep(state, StepPlan, planContent(resp), "")

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			if err := l.transition(ctx, state, PhaseDispatching); err != nil {
				return l.finish(state, ReasonCancelled, ""), err
			}

			observation, unknownTool := l.dispatch(ctx, state, call)
			if ctx.Err() != nil {
				return l.finish(state, ReasonCancelled, ""), ctx.Err()
			}

			if err := l.transition(ctx, state, PhaseObserving); err != nil {
				return l.finish(state, ReasonCancelled, ""), err
			}
			l.appendStep(state, StepObservation, observation, call.Name)
			state.StepCount++

			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    observation,
				ToolCallID: call.ID,
			})

			// A single miss is recoverable; a model stuck on nonexistent
			// tools is not.
			if unknownTool {
				unknownStreak++
				if unknownStreak > l.cfg.MaxUnknownToolRetries {
					return l.finish(state, ReasonAborted, ""),
						fmt.Errorf("%w: %q proposed %d times in a row", tools.ErrUnknownTool, call.Name, unknownStreak)
				}
			} else {
				unknownStreak = 0
			}

			if state.StepCount >= state.MaxSteps {
				return l.stepLimitFinal(ctx, state, messages)
			}
		}
	}
}

// dispatch runs one proposed call through the gate, the cache and the
// registry, and returns the observation text. Per-step failures come back
// as observations rather than aborting the run; unknownTool reports a miss
// so the caller can bound repeated ones.
func (l *Loop) dispatch(ctx context.Context, state *SessionState, call providers.ToolCall) (observation string, unknownTool bool) {
	ctx, span := l.tracer.Start(ctx, "agent.step",
		trace.WithAttributes(
			attribute.String("tool", call.Name),
			attribute.Int("step", state.StepCount),
		))
	defer span.End()

	argsJSON, _ := json.Marshal(call.Arguments)
	l.appendStep(state, StepAction, string(argsJSON), call.Name)

	warning := ""
	if command, isShell := l.tools.ShellCommand(call.Name, call.Arguments); isShell {
		verdict := l.gate.Classify(command)
		switch {
		case verdict.Blocked():
			slog.Warn("command blocked",
				"session", l.cfg.SessionKey, "tool", call.Name, "rule", verdict.Rule, "reason", verdict.Reason)
			return fmt.Sprintf("Command blocked by safety policy (%s): %s. Do not retry this command.",
				verdict.Rule, verdict.Reason), false
		case verdict.Warned():
			slog.Info("command warned",
				"session", l.cfg.SessionKey, "tool", call.Name, "rule", verdict.Rule, "reason", verdict.Reason)
			l.sink.Warning(call.Name, command, verdict.Reason)
			warning = fmt.Sprintf("[safety warning: %s]\n", verdict.Reason)
		}
	}

	cacheKey := call.Name + ":" + string(argsJSON)
	if cached, ok := l.cache.Get(cacheKey); ok {
		return warning + cached + "\n(cached result of an identical recent call)", false
	}

	result, err := l.tools.Invoke(ctx, call.Name, call.Arguments, l.cfg.SessionKey)
	if err != nil {
		// UnknownTool, SchemaViolation, Timeout and ToolExecutionError all
		// become observations the model can react to.
		return warning + "Error: " + err.Error(), errors.Is(err, tools.ErrUnknownTool)
	}

	l.cache.Add(cacheKey, result.ForLLM)
	return warning + result.ForLLM, false
}

// trimContext drops the oldest exchanges until the conversation fits the
// token budget, mirroring the memory log's oldest-first truncation. The
// system prompt and the user's message always survive, and an assistant
// message proposing tool calls is dropped together with the tool
// observations that answer it, so the history never strands an orphan
// tool-role message.
func trimContext(messages []providers.Message, budget int) []providers.Message {
	if budget <= 0 || len(messages) <= 2 {
		return messages
	}

	total := 0
	for _, m := range messages {
		total += messageTokens(m)
	}

	for total > budget && len(messages) > 2 {
		drop := 1
		if len(messages[2].ToolCalls) > 0 {
			for 2+drop < len(messages) && messages[2+drop].Role == "tool" {
				drop++
			}
		}
		for i := 2; i < 2+drop; i++ {
			total -= messageTokens(messages[i])
		}
		// Full-slice expression forces a copy so earlier requests holding
		// this backing array are not clobbered.
		messages = append(messages[:2:2], messages[2+drop:]...)
	}
	return messages
}

// messageTokens measures one message, including proposed tool calls.
func messageTokens(m providers.Message) int {
	n := CountTokens(m.Content) + 4 // role and framing overhead
	for _, tc := range m.ToolCalls {
		args, _ := json.Marshal(tc.Arguments)
		n += CountTokens(tc.Name) + CountTokens(string(args))
	}
	return n
}

// stepLimitFinal makes one last no-tools completion so the user still gets
// an answer when the step budget runs out.
func (l *Loop) stepLimitFinal(ctx context.Context, state *SessionState, messages []providers.Message) (*RunResult, error) {
	if err := l.transition(ctx, state, PhaseConcluding); err != nil {
		return l.finish(state, ReasonCancelled, ""), err
	}

	messages = append(messages, providers.Message{
		Role:    "system",
		Content: fmt.Sprintf(stepLimitFinalInstruction, state.MaxSteps),
	})
	messages = trimContext(messages, l.cfg.MaxContextTokens)

	resp, err := l.provider.ChatStream(ctx, providers.ChatRequest{
		Model:    l.cfg.Model,
		Messages: messages,
		Options:  l.cfg.Options,
	}, l.streamToSink)
	if err != nil {
		if ctx.Err() != nil {
			return l.finish(state, ReasonCancelled, ""), ctx.Err()
		}
		slog.Warn("step-limit final response failed", "session", l.cfg.SessionKey, "error", err)
		return l.finish(state, ReasonStepLimitReached, ""), nil
	}

	l.conclude(state, resp.Content)
	return l.finish(state, ReasonStepLimitReached, resp.Content), nil
}

// conclude optionally appends the closing Reflection entry.
func (l *Loop) conclude(state *SessionState, answer string) {
	if !l.cfg.Reflect || answer == "" {
		return
	}
	l.appendStep(state, StepReflection, answer, "")
}

// transition checks cancellation and moves the state machine.
func (l *Loop) transition(ctx context.Context, state *SessionState, next Phase) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	state.Phase = next
	return nil
}

func (l *Loop) finish(state *SessionState, reason TerminationReason, answer string) *RunResult {
	state.Phase = PhaseDone
	state.Terminated = true
	state.Reason = reason
	l.sink.Done(reason, answer)

	slog.Info("run finished",
		"session", l.cfg.SessionKey, "reason", reason, "steps", state.StepCount)

	return &RunResult{
		FinalAnswer: answer,
		Reason:      reason,
		Steps:       state.StepCount,
		Memory:      state.Memory,
	}
}

func (l *Loop) appendStep(state *SessionState, kind StepKind, content, toolName string) {
	entry := StepEntry{
		Index:    state.Memory.Len(),
		Kind:     kind,
		Content:  content,
		ToolName: toolName,
	}
	if err := state.Memory.Append(entry); err != nil {
		// The loop always appends with the next index; a failure here is a bug.
		slog.Error("memory append failed", "error", err)
		return
	}
	l.sink.Step(entry)
}

func (l *Loop) streamToSink(chunk providers.StreamChunk) {
	if chunk.Content != "" {
		l.sink.AnswerChunk(chunk.Content)
	}
}

func (l *Loop) systemPrompt() string {
	cfg := SystemPromptConfig{ToolNames: l.tools.List()}
	if l.notifications != nil {
		cfg.Notifications = l.notifications.Active()
	}
	return BuildSystemPrompt(cfg)
}

// checkGuard applies the configured injection policy to the user message.
func (l *Loop) checkGuard(message string) error {
	if l.cfg.GuardAction == GuardOff {
		return nil
	}
	matches := l.guard.Scan(message)
	if len(matches) == 0 {
		return nil
	}

	switch l.cfg.GuardAction {
	case GuardBlock:
		return fmt.Errorf("%w: matched %v", ErrInputRejected, matches)
	case GuardLog:
		slog.Info("input guard matched", "session", l.cfg.SessionKey, "patterns", matches)
	default:
		slog.Warn("input guard matched", "session", l.cfg.SessionKey, "patterns", matches)
	}
	return nil
}

// planContent summarizes a proposal response for the Plan entry.
func planContent(resp *providers.ChatResponse) string {
	if resp.Content != "" {
		return resp.Content
	}
	if resp.Thinking != "" {
		return resp.Thinking
	}
	names := make([]string, 0, len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		names = append(names, tc.Name)
	}
	return "Proposed tool calls: " + fmt.Sprint(names)
}
