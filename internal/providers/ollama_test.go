package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaChatStream_Answer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"The answer"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":" is 42."},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":10,"eval_count":5}`)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3")
	var got string
	resp, err := p.ChatStream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "question"}},
	}, func(c StreamChunk) {
		got += c.Content
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if resp.Content != "The answer is 42." {
		t.Errorf("content = %q", resp.Content)
	}
	if got != "The answer is 42." {
		t.Errorf("streamed = %q", got)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("finish_reason = %q", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("total tokens = %d, want 15", resp.Usage.TotalTokens)
	}
}

func TestOllamaChat_ToolCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"add_note","arguments":{"text":"buy milk"}}}]},"done":true,"done_reason":"stop"}`)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3")
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "note this"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.Name != "add_note" {
		t.Errorf("name = %q", tc.Name)
	}
	if tc.Arguments["text"] != "buy milk" {
		t.Errorf("arguments = %v", tc.Arguments)
	}
}

func TestOllamaChat_NamelessToolCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","tool_calls":[{"function":{"arguments":{"x":1}}}]},"done":true}`)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3")
	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	if !IsMalformedProposal(err) {
		t.Fatalf("expected malformed proposal error, got %v", err)
	}
}

func TestOllamaChat_BackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"error":"model not found"}`)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3")
	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("in-band backend error should not be unavailability: %v", err)
	}
}

func TestOllamaChat_Unreachable(t *testing.T) {
	p := NewOllamaProvider("http://127.0.0.1:1", "llama3")
	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewOllamaProvider("", "llama3"))
	reg.Register(NewOpenAIProvider("openai", "k", "http://localhost:1234/v1", "gpt"))

	if _, err := reg.Get("ollama"); err != nil {
		t.Errorf("Get(ollama): %v", err)
	}
	if _, err := reg.Get("missing"); err == nil {
		t.Error("expected error for unknown provider")
	}

	names := reg.List()
	if len(names) != 2 || names[0] != "ollama" || names[1] != "openai" {
		t.Errorf("List() = %v", names)
	}
}
