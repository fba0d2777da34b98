// Package gateway serves the WebSocket protocol to UI clients: it
// authenticates connections, routes RPC requests, and relays session events
// from the bus as event frames.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/termnetdev/termnet/internal/bus"
	"github.com/termnetdev/termnet/internal/tools"
	"github.com/termnetdev/termnet/pkg/protocol"
)

// Config holds the gateway's runtime settings.
type Config struct {
	Addr      string // listen address, e.g. "127.0.0.1:8765"
	Token     string // shared auth token; empty disables auth
	RateRPM   int    // per-client chat.send budget, requests per minute
	RateBurst int
}

// SessionStopper cancels an in-flight run for a session. Implemented by the
// agent runtime.
type SessionStopper interface {
	StopSession(sessionKey string) bool
}

// Server owns the HTTP listener and the set of connected clients. The
// registry is read through an accessor so manifest hot reloads reach
// tools.list without restarting the gateway.
type Server struct {
	cfg      Config
	bus      *bus.SessionBus
	registry func() *tools.Registry
	router   *MethodRouter
	limiter  *RateLimiter
	dedupe   *bus.DedupeCache
	stopper  SessionStopper // nil until SetSessionStopper

	httpServer *http.Server
	upgrader   websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client
}

func NewServer(cfg Config, sb *bus.SessionBus, registry func() *tools.Registry) *Server {
	s := &Server{
		cfg:      cfg,
		bus:      sb,
		registry: registry,
		limiter:  NewRateLimiter(cfg.RateRPM, cfg.RateBurst),
		dedupe:   bus.NewDedupeCache(20*time.Minute, 5000),
		clients:  make(map[string]*Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The gateway binds to loopback by default; origin checks are
			// the deployment's concern when exposed further.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.router = NewMethodRouter(s)
	return s
}

// SetSessionStopper wires the runtime's cancellation hook. Must be called
// before Run.
func (s *Server) SetSessionStopper(st SessionStopper) { s.stopper = st }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.bus.Subscribe("gateway", s.relayEvent)
	defer s.bus.Unsubscribe("gateway")

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "addr", s.cfg.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.shutdown()
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, s)
	s.addClient(client)
	slog.Info("client connected", "client", client.id, "remote", r.RemoteAddr)

	client.Run(r.Context())

	s.removeClient(client.id)
	slog.Info("client disconnected", "client", client.id)
}

// relayEvent fans a bus event out to all authenticated clients as an event
// frame. It runs on the broadcaster's goroutine and must not block.
func (s *Server) relayEvent(e bus.Event) {
	frame := eventToFrame(e)
	if frame == nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if c.authenticated.Load() {
			c.SendEvent(*frame)
		}
	}
}

// eventToFrame maps bus events onto the wire protocol.
func eventToFrame(e bus.Event) *protocol.EventFrame {
	payload := map[string]interface{}{
		"session_key": e.SessionKey,
		"request_id":  e.RequestID,
	}

	var name string
	switch e.Kind {
	case bus.EventAnswerStart:
		name = protocol.EventResponse
		payload["type"] = protocol.ResponseEventStart
	case bus.EventAnswerChunk:
		name = protocol.EventResponse
		payload["type"] = protocol.ResponseEventChunk
		payload["content"] = e.Payload
	case bus.EventAnswerEnd:
		name = protocol.EventResponse
		payload["type"] = protocol.ResponseEventEnd
		payload["reason"] = e.Payload
	case bus.EventStep:
		name = protocol.EventStep
		payload["entry"] = e.Payload
	case bus.EventWarning:
		name = protocol.EventWarning
		payload["warning"] = e.Payload
	case bus.EventError:
		name = protocol.EventError
		payload["error"] = e.Payload
	case bus.EventNotification:
		name = protocol.EventSystem
		payload["notification"] = e.Payload
	default:
		return nil
	}

	frame := protocol.NewEvent(name, payload)
	frame.Seq = e.Seq
	frame.Timestamp = time.Now().UnixMilli()
	return frame
}

func (s *Server) addClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c
}

func (s *Server) removeClient(id string) {
	s.mu.Lock()
	c, ok := s.clients[id]
	delete(s.clients, id)
	s.mu.Unlock()
	if ok {
		c.Close()
	}
}

// ClientCount reports the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) shutdown() {
	s.mu.RLock()
	for _, c := range s.clients {
		c.SendEvent(*protocol.NewEvent(protocol.EventShutdown, nil))
	}
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Warn("gateway shutdown", "error", err)
	}
}
