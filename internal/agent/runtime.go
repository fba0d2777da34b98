package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/termnetdev/termnet/internal/bus"
)

// LoopFactory builds a loop for one run. The runtime constructs a fresh loop
// per request so each run starts with a clean memory log and step budget.
type LoopFactory func(sessionKey string, sink EventSink) *Loop

// Runtime consumes chat requests from the bus, runs agent loops, and
// broadcasts session events back. One run per session at a time; requests
// arriving while a session is busy are rejected with an error event.
type Runtime struct {
	bus     *bus.SessionBus
	factory LoopFactory

	debounceWindow time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // session key → in-flight run
	wg      sync.WaitGroup
}

func NewRuntime(sb *bus.SessionBus, factory LoopFactory, debounceWindow time.Duration) *Runtime {
	return &Runtime{
		bus:            sb,
		factory:        factory,
		debounceWindow: debounceWindow,
		cancels:        make(map[string]context.CancelFunc),
	}
}

// Run consumes requests until ctx is cancelled, then waits for in-flight
// runs to wind down.
func (r *Runtime) Run(ctx context.Context) error {
	debouncer := bus.NewRequestDebouncer(r.debounceWindow, func(req bus.ChatRequest) {
		r.dispatch(ctx, req)
	})

	for {
		req, ok := r.bus.ConsumeRequest(ctx)
		if !ok {
			break
		}
		debouncer.Push(req)
	}

	debouncer.Stop()
	r.wg.Wait()
	return ctx.Err()
}

// StopSession cancels the session's in-flight run. Reports whether a run
// was actually cancelled.
func (r *Runtime) StopSession(sessionKey string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[sessionKey]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (r *Runtime) dispatch(ctx context.Context, req bus.ChatRequest) {
	runCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	if _, busy := r.cancels[req.SessionKey]; busy {
		r.mu.Unlock()
		cancel()
		r.bus.Broadcast(bus.Event{
			Kind:       bus.EventError,
			SessionKey: req.SessionKey,
			RequestID:  req.RequestID,
			Payload:    "session busy: a run is already in progress",
		})
		return
	}
	r.cancels[req.SessionKey] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.cancels, req.SessionKey)
			r.mu.Unlock()
		}()

		sink := newBusSink(r.bus, req.SessionKey, req.RequestID)
		loop := r.factory(req.SessionKey, sink)

		if _, err := loop.Run(runCtx, req.Message); err != nil {
			slog.Warn("run failed", "session", req.SessionKey, "error", err)
			r.bus.Broadcast(bus.Event{
				Kind:       bus.EventError,
				SessionKey: req.SessionKey,
				RequestID:  req.RequestID,
				Payload:    err.Error(),
			})
		}
	}()
}

// busSink adapts the loop's event sink onto bus broadcasts. It emits an
// answer_start event before the first chunk.
type busSink struct {
	bus        *bus.SessionBus
	sessionKey string
	requestID  string
	started    bool
}

func newBusSink(sb *bus.SessionBus, sessionKey, requestID string) *busSink {
	return &busSink{bus: sb, sessionKey: sessionKey, requestID: requestID}
}

func (s *busSink) emit(kind bus.EventKind, payload interface{}) {
	s.bus.Broadcast(bus.Event{
		Kind:       kind,
		SessionKey: s.sessionKey,
		RequestID:  s.requestID,
		Payload:    payload,
	})
}

func (s *busSink) AnswerChunk(text string) {
	if !s.started {
		s.started = true
		s.emit(bus.EventAnswerStart, nil)
	}
	s.emit(bus.EventAnswerChunk, text)
}

func (s *busSink) Step(entry StepEntry) {
	s.emit(bus.EventStep, entry)
}

func (s *busSink) Warning(tool, command, reason string) {
	s.emit(bus.EventWarning, map[string]string{
		"tool":    tool,
		"command": command,
		"reason":  reason,
	})
}

func (s *busSink) Done(reason TerminationReason, finalAnswer string) {
	s.emit(bus.EventAnswerEnd, map[string]string{
		"reason":       string(reason),
		"final_answer": finalAnswer,
	})
}
