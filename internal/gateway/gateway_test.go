package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/termnetdev/termnet/internal/bus"
	"github.com/termnetdev/termnet/internal/tools"
	"github.com/termnetdev/termnet/pkg/protocol"
)

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "Echo the input back." }
func (echoTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text": map[string]interface{}{"type": "string"},
		},
	}
}
func (echoTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	text, _ := args["text"].(string)
	return tools.NewResult(text)
}

func newTestServer(t *testing.T, token string) (*Server, *bus.SessionBus, *httptest.Server) {
	t.Helper()
	sb := bus.New()
	reg := tools.NewRegistry()
	if err := reg.Register(echoTool{}); err != nil {
		t.Fatal(err)
	}
	srv := NewServer(Config{Token: token}, sb, func() *tools.Registry { return reg })

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.handleWS)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	srv.bus.Subscribe("gateway", srv.relayEvent)
	t.Cleanup(func() { srv.bus.Unsubscribe("gateway") })

	return srv, sb, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendRequest(t *testing.T, conn *websocket.Conn, id, method string, params interface{}) {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			t.Fatal(err)
		}
		raw = b
	}
	frame := protocol.RequestFrame{Type: protocol.FrameTypeRequest, ID: id, Method: method, Params: raw}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatal(err)
	}
}

func readResponse(t *testing.T, conn *websocket.Conn) *protocol.ResponseFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp protocol.ResponseFrame
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read response: %v", err)
	}
	return &resp
}

func connect(t *testing.T, conn *websocket.Conn, token string) *protocol.ResponseFrame {
	t.Helper()
	sendRequest(t, conn, "c1", protocol.MethodConnect, map[string]string{"token": token})
	return readResponse(t, conn)
}

func TestConnectWithValidToken(t *testing.T) {
	_, _, ts := newTestServer(t, "secret")
	conn := dial(t, ts)

	resp := connect(t, conn, "secret")
	if !resp.OK {
		t.Fatalf("connect failed: %+v", resp.Error)
	}
	payload := resp.Payload.(map[string]interface{})
	if payload["session_key"] == "" {
		t.Error("connect response missing session_key")
	}
}

func TestConnectWithInvalidToken(t *testing.T) {
	_, _, ts := newTestServer(t, "secret")
	conn := dial(t, ts)

	resp := connect(t, conn, "wrong")
	if resp.OK {
		t.Fatal("connect succeeded with a wrong token")
	}
	if resp.Error.Code != protocol.ErrUnauthorized {
		t.Errorf("error code = %q, want UNAUTHORIZED", resp.Error.Code)
	}
}

func TestConnectWithoutConfiguredToken(t *testing.T) {
	_, _, ts := newTestServer(t, "")
	conn := dial(t, ts)

	resp := connect(t, conn, "")
	if !resp.OK {
		t.Fatalf("open gateway rejected connect: %+v", resp.Error)
	}
}

func TestFirstRequestMustBeConnect(t *testing.T) {
	_, _, ts := newTestServer(t, "secret")
	conn := dial(t, ts)

	sendRequest(t, conn, "r1", protocol.MethodToolList, nil)
	resp := readResponse(t, conn)
	if resp.OK || resp.Error.Code != protocol.ErrUnauthorized {
		t.Fatalf("unauthenticated request not rejected: %+v", resp)
	}
}

func TestChatSendPublishesToBus(t *testing.T) {
	_, sb, ts := newTestServer(t, "")
	conn := dial(t, ts)
	connect(t, conn, "")

	sendRequest(t, conn, "r1", protocol.MethodChatSend, map[string]string{"message": "hello"})
	resp := readResponse(t, conn)
	if !resp.OK {
		t.Fatalf("chat.send failed: %+v", resp.Error)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, ok := sb.ConsumeRequest(ctx)
	if !ok {
		t.Fatal("no request reached the bus")
	}
	if req.Message != "hello" || req.RequestID != "r1" {
		t.Errorf("unexpected bus request: %+v", req)
	}
}

func TestChatSendEmptyMessageRejected(t *testing.T) {
	_, _, ts := newTestServer(t, "")
	conn := dial(t, ts)
	connect(t, conn, "")

	sendRequest(t, conn, "r1", protocol.MethodChatSend, map[string]string{"message": ""})
	resp := readResponse(t, conn)
	if resp.OK || resp.Error.Code != protocol.ErrInvalidRequest {
		t.Fatalf("empty message not rejected: %+v", resp)
	}
}

func TestChatSendDuplicateAcknowledged(t *testing.T) {
	_, sb, ts := newTestServer(t, "")
	conn := dial(t, ts)
	connect(t, conn, "")

	for i := 0; i < 2; i++ {
		sendRequest(t, conn, "same-id", protocol.MethodChatSend, map[string]string{"message": "hi"})
		resp := readResponse(t, conn)
		if !resp.OK {
			t.Fatalf("attempt %d failed: %+v", i, resp.Error)
		}
	}

	// Only the first send reaches the bus.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, ok := sb.ConsumeRequest(ctx); !ok {
		t.Fatal("first request missing from bus")
	}
	ctx2, cancel2 := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel2()
	if _, ok := sb.ConsumeRequest(ctx2); ok {
		t.Error("duplicate request reached the bus")
	}
}

func TestToolList(t *testing.T) {
	_, _, ts := newTestServer(t, "")
	conn := dial(t, ts)
	connect(t, conn, "")

	sendRequest(t, conn, "r1", protocol.MethodToolList, nil)
	resp := readResponse(t, conn)
	if !resp.OK {
		t.Fatalf("tools.list failed: %+v", resp.Error)
	}
	payload := resp.Payload.(map[string]interface{})
	list := payload["tools"].([]interface{})
	if len(list) != 1 {
		t.Fatalf("tools.list returned %d tools, want 1", len(list))
	}
	first := list[0].(map[string]interface{})
	if first["name"] != "echo" {
		t.Errorf("tool name = %v", first["name"])
	}
}

func TestUnknownMethod(t *testing.T) {
	_, _, ts := newTestServer(t, "")
	conn := dial(t, ts)
	connect(t, conn, "")

	sendRequest(t, conn, "r1", "no.such.method", nil)
	resp := readResponse(t, conn)
	if resp.OK || resp.Error.Code != protocol.ErrInvalidRequest {
		t.Fatalf("unknown method not rejected: %+v", resp)
	}
}

func TestEventRelayToClient(t *testing.T) {
	_, sb, ts := newTestServer(t, "")
	conn := dial(t, ts)
	connect(t, conn, "")

	sb.Broadcast(bus.Event{
		Kind:       bus.EventAnswerChunk,
		SessionKey: "s1",
		RequestID:  "r1",
		Payload:    "partial text",
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame protocol.EventFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if frame.Type != protocol.FrameTypeEvent || frame.Event != protocol.EventResponse {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	payload := frame.Payload.(map[string]interface{})
	if payload["type"] != protocol.ResponseEventChunk || payload["content"] != "partial text" {
		t.Errorf("unexpected payload: %+v", payload)
	}
	if frame.Seq == 0 {
		t.Error("event missing sequence number")
	}
}

func TestRelayDuringConnectHandshake(t *testing.T) {
	srv, _, ts := newTestServer(t, "")
	conn := dial(t, ts)

	// Hammer the broadcaster while the connect handshake lands on the
	// read-pump goroutine; -race flags any unsynchronized auth flag.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			srv.relayEvent(bus.Event{
				Kind:       bus.EventAnswerChunk,
				SessionKey: "s1",
				Payload:    "x",
			})
		}
	}()

	sendRequest(t, conn, "c1", protocol.MethodConnect, map[string]string{"token": ""})

	// Relayed events may interleave with the connect response once the
	// client authenticates; skip them until the response arrives.
	deadline := time.Now().Add(2 * time.Second)
	var resp protocol.ResponseFrame
	for {
		conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read during handshake: %v", err)
		}
		frameType, err := protocol.ParseFrameType(data)
		if err != nil {
			t.Fatal(err)
		}
		if frameType != protocol.FrameTypeResponse {
			continue
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			t.Fatal(err)
		}
		break
	}
	if !resp.OK {
		t.Fatalf("connect failed under concurrent relay: %+v", resp.Error)
	}
	<-done
}

type pingTool struct{}

func (pingTool) Name() string        { return "ping" }
func (pingTool) Description() string { return "Report liveness." }
func (pingTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}
func (pingTool) Execute(context.Context, map[string]interface{}) *tools.Result {
	return tools.NewResult("pong")
}

func TestToolListTracksRegistrySwap(t *testing.T) {
	first := tools.NewRegistry()
	if err := first.Register(echoTool{}); err != nil {
		t.Fatal(err)
	}
	var holder atomic.Pointer[tools.Registry]
	holder.Store(first)

	sb := bus.New()
	srv := NewServer(Config{}, sb, holder.Load)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.handleWS)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	conn := dial(t, ts)
	connect(t, conn, "")

	listTools := func(id string) []interface{} {
		sendRequest(t, conn, id, protocol.MethodToolList, nil)
		resp := readResponse(t, conn)
		if !resp.OK {
			t.Fatalf("tools.list failed: %+v", resp.Error)
		}
		return resp.Payload.(map[string]interface{})["tools"].([]interface{})
	}

	if got := listTools("r1"); len(got) != 1 {
		t.Fatalf("initial tools.list returned %d tools, want 1", len(got))
	}

	// A manifest reload swaps the registry; the gateway must serve the
	// fresh set without being rebuilt.
	second := tools.NewRegistry()
	if err := second.Register(echoTool{}); err != nil {
		t.Fatal(err)
	}
	if err := second.Register(pingTool{}); err != nil {
		t.Fatal(err)
	}
	holder.Store(second)

	if got := listTools("r2"); len(got) != 2 {
		t.Fatalf("tools.list after swap returned %d tools, want 2", len(got))
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	allowed := 0
	for i := 0; i < 5; i++ {
		if rl.Allow("client-1") {
			allowed++
		}
	}
	if allowed != 2 {
		t.Errorf("allowed %d requests, want burst of 2", allowed)
	}
	if !rl.Allow("client-2") {
		t.Error("independent client rate limited")
	}

	disabled := NewRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		if !disabled.Allow("x") {
			t.Fatal("disabled limiter denied a request")
		}
	}
}
