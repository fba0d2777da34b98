package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/termnetdev/termnet/internal/providers"
)

const defaultInvokeTimeout = 60 * time.Second

// Registry manages tool registration, validation and execution.
type Registry struct {
	mu            sync.RWMutex
	tools         map[string]Tool
	rateLimiter   *ToolRateLimiter // nil = no rate limiting
	scrubbing     bool             // scrub credentials from output (default true)
	invokeTimeout time.Duration
	started       []string // names started so far, in order
}

func NewRegistry() *Registry {
	return &Registry{
		tools:         make(map[string]Tool),
		scrubbing:     true,
		invokeTimeout: defaultInvokeTimeout,
	}
}

// SetRateLimiter enables per-session tool rate limiting.
func (r *Registry) SetRateLimiter(rl *ToolRateLimiter) {
	r.rateLimiter = rl
}

// SetScrubbing enables or disables credential scrubbing on tool output.
func (r *Registry) SetScrubbing(enabled bool) {
	r.scrubbing = enabled
}

// SetInvokeTimeout changes the default per-invocation timeout. Tools
// implementing TimeoutAware still override it.
func (r *Registry) SetInvokeTimeout(d time.Duration) {
	if d > 0 {
		r.invokeTimeout = d
	}
}

// Register adds a tool. Names are unique per registry.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; exists {
		return fmt.Errorf("duplicate tool name %q", tool.Name())
	}
	r.tools[tool.Name()] = tool
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Unregister removes a tool from the registry by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// ShellCommand returns the concrete shell command a call would run, for
// safety classification. ok is false when the tool is not shell-typed.
func (r *Registry) ShellCommand(name string, args map[string]interface{}) (string, bool) {
	tool, found := r.Get(name)
	if !found {
		return "", false
	}
	sc, isShell := tool.(ShellCommander)
	if !isShell {
		return "", false
	}
	return sc.ShellCommand(args)
}

// Invoke validates args and executes the named tool with a per-invocation
// timeout. The error distinguishes the failure class:
//   - ErrUnknownTool: name not registered
//   - *SchemaViolationError: args rejected, implementation never called
//   - ErrToolTimeout: budget exceeded
//   - *ToolExecutionError: the implementation reported failure (the Result
//     is still returned alongside)
//
// sessionKey scopes rate limiting; pass "" to skip it.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]interface{}, sessionKey string) (*Result, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	if r.rateLimiter != nil && sessionKey != "" {
		if err := r.rateLimiter.Allow(sessionKey); err != nil {
			return nil, &ToolExecutionError{Tool: name, Args: args, Err: err}
		}
	}

	if err := ValidateArgs(name, tool.Parameters(), args); err != nil {
		return nil, err
	}

	timeout := r.invokeTimeout
	if ta, hinted := tool.(TimeoutAware); hinted {
		if d := ta.InvokeTimeout(); d > 0 {
			timeout = d
		}
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := runWithDeadline(execCtx, tool, args)
	duration := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("tool timed out", "tool", name, "timeout", timeout)
			return nil, fmt.Errorf("%w: %s after %s", ErrToolTimeout, name, timeout)
		}
		return nil, err // parent cancellation
	}

	if r.scrubbing {
		if result.ForLLM != "" {
			result.ForLLM = ScrubCredentials(result.ForLLM)
		}
		if result.ForUser != "" {
			result.ForUser = ScrubCredentials(result.ForUser)
		}
	}

	slog.Debug("tool executed",
		"tool", name,
		"duration_ms", duration.Milliseconds(),
		"is_error", result.IsError,
	)

	if result.IsError {
		return result, &ToolExecutionError{Tool: name, Args: args, Err: errors.New(result.ForLLM)}
	}
	return result, nil
}

// runWithDeadline executes the tool in its own goroutine so a hung
// implementation cannot stall the loop past its budget. The goroutine is
// leaked until the implementation returns; tools are expected to honor ctx.
func runWithDeadline(ctx context.Context, tool Tool, args map[string]interface{}) (*Result, error) {
	done := make(chan *Result, 1)
	go func() {
		res := tool.Execute(ctx, args)
		if res == nil {
			res = ErrorResult("tool returned no result")
		}
		done <- res
	}()

	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// StartAll starts every tool implementing Starter, in name order. If a
// start fails, tools already started are stopped in reverse order before
// the error is returned.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		starter, ok := r.tools[name].(Starter)
		if !ok {
			continue
		}
		if err := starter.Start(ctx); err != nil {
			r.stopLocked(ctx)
			return fmt.Errorf("start tool %s: %w", name, err)
		}
		r.started = append(r.started, name)
		slog.Debug("tool started", "tool", name)
	}
	return nil
}

// StopAll stops every started tool in reverse start order, collecting
// errors. Safe to call after a partial StartAll.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopLocked(ctx)
}

func (r *Registry) stopLocked(ctx context.Context) error {
	var errs []error
	for i := len(r.started) - 1; i >= 0; i-- {
		name := r.started[i]
		stopper, ok := r.tools[name].(Stopper)
		if !ok {
			continue
		}
		if err := stopper.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop tool %s: %w", name, err))
		}
	}
	r.started = nil
	return errors.Join(errs...)
}

// ProviderDefs returns tool definitions for LLM provider APIs, name-sorted
// for stable prompts.
func (r *Registry) ProviderDefs() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, ToProviderDef(r.tools[name]))
	}
	return defs
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
