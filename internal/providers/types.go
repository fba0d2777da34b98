// Package providers wraps the language-model backends TermNet can talk to.
//
// A provider either returns structured tool-call proposals or streams the
// model's final answer as ordered text chunks. Transport details (OpenAI
// compatible SSE, Ollama NDJSON) stay inside this package.
package providers

import "context"

// Message is one entry of the conversation sent to the model.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is the model's structured request to invoke a named tool.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolDefinition describes a tool in the shape provider APIs expect.
type ToolDefinition struct {
	Type     string             `json:"type"` // always "function"
	Function ToolFunctionSchema `json:"function"`
}

// ToolFunctionSchema is the function portion of a tool definition.
type ToolFunctionSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ChatRequest is a completion request.
type ChatRequest struct {
	Model    string
	Messages []Message
	Tools    []ToolDefinition
	Options  map[string]interface{} // temperature, max_tokens, ...
}

// ChatResponse is the model's reply: either ToolCalls (the model wants to
// act) or Content (the model is answering the user).
type ChatResponse struct {
	Content      string
	Thinking     string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// Usage reports token accounting when the backend supplies it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk is one unit of a streamed answer. The sequence is finite,
// single-pass and ordered; Done marks the final chunk.
type StreamChunk struct {
	Content  string
	Thinking string
	Done     bool
}

// Provider is implemented by every model backend.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// ChatStream behaves like Chat but delivers answer text incrementally
	// through onChunk. Implementations must call onChunk in order and emit
	// a final chunk with Done set.
	ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error)
}
