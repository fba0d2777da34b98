// Package bus decouples the gateway from the agent runtime: chat requests
// flow in through a queue, session events flow out to any number of
// subscribers (WebSocket clients, the CLI, tests).
package bus

import (
	"context"
	"sync"
)

// ChatRequest is one user message bound for the agent runtime.
type ChatRequest struct {
	SessionKey string
	RequestID  string // client-generated, used for dedupe and reply routing
	Message    string
}

// EventKind classifies a session event.
type EventKind string

const (
	EventAnswerStart  EventKind = "answer_start"
	EventAnswerChunk  EventKind = "answer_chunk"
	EventAnswerEnd    EventKind = "answer_end"
	EventStep         EventKind = "step"
	EventWarning      EventKind = "warning"
	EventError        EventKind = "error"
	EventNotification EventKind = "notification"
)

// Event is one observable moment of a session, broadcast to subscribers.
type Event struct {
	Kind       EventKind
	SessionKey string
	RequestID  string
	Seq        int64
	Payload    interface{}
}

// EventHandler receives broadcast events. Handlers must not block.
type EventHandler func(Event)

// SessionBus carries chat requests to the runtime and session events back.
type SessionBus struct {
	requests chan ChatRequest

	subMu       sync.RWMutex
	subscribers map[string]EventHandler

	seqMu sync.Mutex
	seq   int64
}

func New() *SessionBus {
	return &SessionBus{
		requests:    make(chan ChatRequest, 100),
		subscribers: make(map[string]EventHandler),
	}
}

// PublishRequest queues a chat request for the runtime. It blocks when the
// queue is full, applying backpressure to the gateway.
func (b *SessionBus) PublishRequest(ctx context.Context, req ChatRequest) error {
	select {
	case b.requests <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeRequest blocks until a request is available or ctx is cancelled.
func (b *SessionBus) ConsumeRequest(ctx context.Context) (ChatRequest, bool) {
	select {
	case req := <-b.requests:
		return req, true
	case <-ctx.Done():
		return ChatRequest{}, false
	}
}

// Subscribe registers an event subscriber under id. A second Subscribe with
// the same id replaces the handler.
func (b *SessionBus) Subscribe(id string, handler EventHandler) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.subscribers[id] = handler
}

// Unsubscribe removes an event subscriber.
func (b *SessionBus) Unsubscribe(id string) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	delete(b.subscribers, id)
}

// Broadcast stamps the event with the next sequence number and delivers it
// to every subscriber. Handlers must be non-blocking.
func (b *SessionBus) Broadcast(event Event) {
	b.seqMu.Lock()
	b.seq++
	event.Seq = b.seq
	b.seqMu.Unlock()

	b.subMu.RLock()
	defer b.subMu.RUnlock()
	for _, handler := range b.subscribers {
		handler(event)
	}
}
