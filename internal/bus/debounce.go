package bus

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// RequestDebouncer buffers rapid consecutive messages from the same session
// and merges them into one ChatRequest before handing it to flushFn. Users
// often send several short lines in quick succession; without merging, each
// line would start its own agent run.
type RequestDebouncer struct {
	window  time.Duration
	mu      sync.Mutex
	buffers map[string]*debounceBuffer
	flushFn func(ChatRequest)
}

type debounceBuffer struct {
	requests []ChatRequest
	timer    *time.Timer
}

// NewRequestDebouncer creates a debouncer over the given quiet window. A
// window <= 0 disables debouncing and passes requests through immediately.
func NewRequestDebouncer(window time.Duration, flushFn func(ChatRequest)) *RequestDebouncer {
	return &RequestDebouncer{
		window:  window,
		buffers: make(map[string]*debounceBuffer),
		flushFn: flushFn,
	}
}

// Push adds a request to its session's buffer and restarts the quiet timer.
func (d *RequestDebouncer) Push(req ChatRequest) {
	if d.window <= 0 {
		d.flushFn(req)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	buf, exists := d.buffers[req.SessionKey]
	if !exists {
		buf = &debounceBuffer{}
		d.buffers[req.SessionKey] = buf
	}

	buf.requests = append(buf.requests, req)

	if buf.timer != nil {
		buf.timer.Stop()
	}
	key := req.SessionKey
	buf.timer = time.AfterFunc(d.window, func() {
		d.flushKey(key)
	})

	slog.Debug("debounce buffering", "session", key, "buffered", len(buf.requests))
}

// Stop flushes all pending buffers immediately. Called at shutdown so no
// buffered message is lost.
func (d *RequestDebouncer) Stop() {
	d.mu.Lock()
	keys := make([]string, 0, len(d.buffers))
	for k := range d.buffers {
		keys = append(keys, k)
	}
	d.mu.Unlock()

	for _, key := range keys {
		d.flushKey(key)
	}
}

func (d *RequestDebouncer) flushKey(key string) {
	d.mu.Lock()
	buf, exists := d.buffers[key]
	if !exists || len(buf.requests) == 0 {
		d.mu.Unlock()
		return
	}
	if buf.timer != nil {
		buf.timer.Stop()
	}
	reqs := buf.requests
	delete(d.buffers, key)
	d.mu.Unlock()

	merged := mergeRequests(reqs)
	if len(reqs) > 1 {
		slog.Info("debounce merged requests", "session", key, "count", len(reqs))
	}
	d.flushFn(merged)
}

// mergeRequests joins buffered messages with newlines. The merged request
// keeps the LAST request's ID so the reply routes to the newest frame.
func mergeRequests(reqs []ChatRequest) ChatRequest {
	if len(reqs) == 1 {
		return reqs[0]
	}
	merged := reqs[len(reqs)-1]
	parts := make([]string, 0, len(reqs))
	for _, r := range reqs {
		if r.Message != "" {
			parts = append(parts, r.Message)
		}
	}
	merged.Message = strings.Join(parts, "\n")
	return merged
}
