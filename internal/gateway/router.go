package gateway

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/termnetdev/termnet/internal/bus"
	"github.com/termnetdev/termnet/internal/config"
	"github.com/termnetdev/termnet/pkg/protocol"
)

// serverVersion is reported in the connect handshake.
const serverVersion = "0.1.0"

// MethodHandler processes a single RPC method request.
type MethodHandler func(ctx context.Context, client *Client, req *protocol.RequestFrame)

// MethodRouter maps method names to handlers.
type MethodRouter struct {
	handlers map[string]MethodHandler
	server   *Server
}

func NewMethodRouter(server *Server) *MethodRouter {
	r := &MethodRouter{
		handlers: make(map[string]MethodHandler),
		server:   server,
	}
	r.registerDefaults()
	return r
}

// Register adds a method handler.
func (r *MethodRouter) Register(method string, handler MethodHandler) {
	r.handlers[method] = handler
}

// Handle dispatches a request to its handler.
func (r *MethodRouter) Handle(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	handler, ok := r.handlers[req.Method]
	if !ok {
		slog.Warn("unknown method", "method", req.Method, "client", client.id)
		client.SendResponse(protocol.NewErrorResponse(
			req.ID, protocol.ErrInvalidRequest, "unknown method: "+req.Method))
		return
	}

	slog.Debug("handling method", "method", req.Method, "client", client.id, "req_id", req.ID)
	handler(ctx, client, req)
}

func (r *MethodRouter) registerDefaults() {
	r.Register(protocol.MethodConnect, r.handleConnect)
	r.Register(protocol.MethodHealth, r.handleHealth)
	r.Register(protocol.MethodChatSend, r.handleChatSend)
	r.Register(protocol.MethodChatStop, r.handleChatStop)
	r.Register(protocol.MethodToolList, r.handleToolList)
}

func (r *MethodRouter) handleConnect(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	var params struct {
		Token      string `json:"token"`
		SessionKey string `json:"session_key"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	configToken := r.server.cfg.Token
	if configToken != "" && params.Token != configToken {
		slog.Warn("connect rejected", "client", client.id)
		client.SendResponse(protocol.NewErrorResponse(
			req.ID, protocol.ErrUnauthorized, "invalid token"))
		return
	}

	client.authenticated.Store(true)
	if params.SessionKey != "" {
		client.sessionKey = config.NormalizeSessionKey(params.SessionKey)
	}

	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"protocol":    protocol.ProtocolVersion,
		"session_key": client.sessionKey,
		"server": map[string]interface{}{
			"name":    "termnet",
			"version": serverVersion,
		},
	}))
}

func (r *MethodRouter) handleHealth(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"status":  "ok",
		"clients": r.server.ClientCount(),
	}))
}

func (r *MethodRouter) handleChatSend(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	var params struct {
		Message string `json:"message"`
	}
	if req.Params == nil || json.Unmarshal(req.Params, &params) != nil || params.Message == "" {
		client.SendResponse(protocol.NewErrorResponse(
			req.ID, protocol.ErrInvalidRequest, "chat.send requires a non-empty message"))
		return
	}

	if !r.server.limiter.Allow(client.id) {
		client.SendResponse(protocol.NewErrorResponse(
			req.ID, protocol.ErrResourceExhausted, "rate limit exceeded"))
		return
	}

	// Clients retry over reconnects; replayed request IDs are acknowledged
	// without queueing a second run.
	if req.ID != "" && r.server.dedupe.IsDuplicate(client.sessionKey+":"+req.ID) {
		client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
			"accepted":  true,
			"duplicate": true,
		}))
		return
	}

	err := r.server.bus.PublishRequest(ctx, bus.ChatRequest{
		SessionKey: client.sessionKey,
		RequestID:  req.ID,
		Message:    params.Message,
	})
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(
			req.ID, protocol.ErrUnavailable, "runtime unavailable: "+err.Error()))
		return
	}

	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"accepted": true,
	}))
}

func (r *MethodRouter) handleChatStop(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	if r.server.stopper == nil {
		client.SendResponse(protocol.NewErrorResponse(
			req.ID, protocol.ErrUnavailable, "runtime does not support stopping"))
		return
	}
	stopped := r.server.stopper.StopSession(client.sessionKey)
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"stopped": stopped,
	}))
}

func (r *MethodRouter) handleToolList(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	defs := r.server.registry().ProviderDefs()
	list := make([]map[string]interface{}, 0, len(defs))
	for _, d := range defs {
		list = append(list, map[string]interface{}{
			"name":        d.Function.Name,
			"description": d.Function.Description,
			"parameters":  d.Function.Parameters,
		})
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"tools": list,
	}))
}
