package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const openAIDefaultTimeout = 300 * time.Second

// OpenAIProvider speaks the OpenAI-compatible chat completions API
// (/v1/chat/completions). It covers OpenAI itself plus the many local
// servers that mimic it (LM Studio, vLLM, llama.cpp).
type OpenAIProvider struct {
	name    string
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
}

// NewOpenAIProvider creates a provider for an OpenAI-compatible endpoint.
// apiBase must include the version prefix, e.g. "http://localhost:1234/v1".
func NewOpenAIProvider(name, apiKey, apiBase, defaultModel string) *OpenAIProvider {
	return &OpenAIProvider{
		name:    name,
		apiKey:  apiKey,
		apiBase: strings.TrimRight(apiBase, "/"),
		model:   defaultModel,
		client:  &http.Client{Timeout: openAIDefaultTimeout},
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

// --- wire shapes ---

type oaToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"` // JSON-encoded string
	} `json:"function"`
}

type oaMessage struct {
	Role       string      `json:"role"`
	Content    string      `json:"content"`
	ToolCalls  []oaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
}

type oaResponse struct {
	Choices []struct {
		Message      oaMessage `json:"message"`
		FinishReason string    `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type oaStreamDelta struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			Reasoning string `json:"reasoning_content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// Chat sends a non-streaming completion request.
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := p.buildBody(req, false)

	raw, err := p.post(ctx, body)
	if err != nil {
		return nil, err
	}

	var resp oaResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &MalformedProposalError{Provider: p.name, Raw: excerpt(raw), Err: err}
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s: backend error: %s", p.name, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, &MalformedProposalError{Provider: p.name, Raw: excerpt(raw),
			Err: fmt.Errorf("response has no choices")}
	}

	choice := resp.Choices[0]
	out := &ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage:        resp.Usage,
	}

	for _, tc := range choice.Message.ToolCalls {
		call, err := decodeToolCall(p.name, tc.ID, tc.Function.Name, tc.Function.Arguments)
		if err != nil {
			return nil, err
		}
		out.ToolCalls = append(out.ToolCalls, call)
	}
	return out, nil
}

// ChatStream sends a streaming request, invoking onChunk per SSE delta.
// Tool-call deltas are accumulated and surfaced on the returned response,
// not through onChunk.
func (p *OpenAIProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	body := p.buildBody(req, true)

	httpReq, err := p.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, unavailable(p.name, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, p.statusError(httpResp.StatusCode, raw)
	}

	out := &ChatResponse{}
	var content strings.Builder
	var thinking strings.Builder

	// Partial tool calls accumulate by stream index until [DONE].
	type partialCall struct {
		id   string
		name string
		args strings.Builder
	}
	partials := map[int]*partialCall{}
	maxIndex := -1

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var delta oaStreamDelta
		if err := json.Unmarshal([]byte(data), &delta); err != nil {
			slog.Debug("openai: skipping unparsable stream line", "provider", p.name, "error", err)
			continue
		}
		if delta.Usage != nil {
			out.Usage = *delta.Usage
		}
		if len(delta.Choices) == 0 {
			continue
		}

		d := delta.Choices[0].Delta
		if d.Content != "" {
			content.WriteString(d.Content)
			if onChunk != nil {
				onChunk(StreamChunk{Content: d.Content})
			}
		}
		if d.Reasoning != "" {
			thinking.WriteString(d.Reasoning)
			if onChunk != nil {
				onChunk(StreamChunk{Thinking: d.Reasoning})
			}
		}
		for _, tc := range d.ToolCalls {
			pc := partials[tc.Index]
			if pc == nil {
				pc = &partialCall{}
				partials[tc.Index] = pc
				if tc.Index > maxIndex {
					maxIndex = tc.Index
				}
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			pc.args.WriteString(tc.Function.Arguments)
			if tc.Index > maxIndex {
				maxIndex = tc.Index
			}
		}
		if fr := delta.Choices[0].FinishReason; fr != "" {
			out.FinishReason = fr
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, unavailable(p.name, err)
	}

	for i := 0; i <= maxIndex; i++ {
		pc := partials[i]
		if pc == nil || pc.name == "" {
			continue
		}
		call, err := decodeToolCall(p.name, pc.id, pc.name, pc.args.String())
		if err != nil {
			return nil, err
		}
		out.ToolCalls = append(out.ToolCalls, call)
	}

	out.Content = content.String()
	out.Thinking = thinking.String()
	if onChunk != nil {
		onChunk(StreamChunk{Done: true})
	}
	return out, nil
}

func (p *OpenAIProvider) buildBody(req ChatRequest, stream bool) map[string]interface{} {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]oaMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		om := oaMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			otc := oaToolCall{ID: tc.ID, Type: "function"}
			otc.Function.Name = tc.Name
			otc.Function.Arguments = string(args)
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		messages = append(messages, om)
	}

	body := map[string]interface{}{
		"model":    model,
		"messages": messages,
	}
	if stream {
		body["stream"] = true
	}
	if len(req.Tools) > 0 {
		body["tools"] = CleanToolSchemas(p.name, req.Tools)
	}
	for k, v := range req.Options {
		body[k] = v
	}
	return body
}

func (p *OpenAIProvider) newRequest(ctx context.Context, body map[string]interface{}) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.apiBase+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	return httpReq, nil
}

func (p *OpenAIProvider) post(ctx context.Context, body map[string]interface{}) ([]byte, error) {
	httpReq, err := p.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, unavailable(p.name, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, unavailable(p.name, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, p.statusError(httpResp.StatusCode, raw)
	}
	return raw, nil
}

func (p *OpenAIProvider) statusError(status int, raw []byte) error {
	if status >= 500 || status == http.StatusBadGateway || status == http.StatusServiceUnavailable {
		return unavailable(p.name, fmt.Errorf("status %d: %s", status, excerpt(raw)))
	}
	return fmt.Errorf("%s: backend returned status %d: %s", p.name, status, excerpt(raw))
}

// decodeToolCall parses the JSON-encoded arguments of a proposed call.
func decodeToolCall(provider, id, name, rawArgs string) (ToolCall, error) {
	args := map[string]interface{}{}
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return ToolCall{}, &MalformedProposalError{
				Provider: provider,
				Raw:      rawArgs,
				Err:      fmt.Errorf("tool call %q has unparsable arguments: %w", name, err),
			}
		}
	}
	return ToolCall{ID: id, Name: name, Arguments: args}, nil
}
