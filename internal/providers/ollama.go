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

const (
	ollamaDefaultBase    = "http://localhost:11434"
	ollamaDefaultTimeout = 300 * time.Second
)

// OllamaProvider talks to a local Ollama server (/api/chat). Responses are
// newline-delimited JSON; tool calls arrive with arguments already decoded.
type OllamaProvider struct {
	apiBase string
	model   string
	client  *http.Client
}

// NewOllamaProvider creates an Ollama provider. apiBase defaults to the
// standard local address.
func NewOllamaProvider(apiBase, defaultModel string) *OllamaProvider {
	if apiBase == "" {
		apiBase = ollamaDefaultBase
	}
	return &OllamaProvider{
		apiBase: strings.TrimRight(apiBase, "/"),
		model:   defaultModel,
		client:  &http.Client{Timeout: ollamaDefaultTimeout},
	}
}

func (p *OllamaProvider) Name() string { return "ollama" }

// --- wire shapes ---

type ollamaToolCall struct {
	Function struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	} `json:"function"`
}

type ollamaChunk struct {
	Message struct {
		Role      string           `json:"role"`
		Content   string           `json:"content"`
		Thinking  string           `json:"thinking"`
		ToolCalls []ollamaToolCall `json:"tool_calls"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error"`
}

// Chat runs a completion without surfacing intermediate chunks.
func (p *OllamaProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.ChatStream(ctx, req, nil)
}

// ChatStream posts to /api/chat and consumes the NDJSON stream, invoking
// onChunk for each content fragment.
func (p *OllamaProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	body := map[string]interface{}{
		"model":    model,
		"messages": req.Messages,
		"stream":   true,
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
	}
	if len(req.Options) > 0 {
		body["options"] = req.Options
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.apiBase+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ollama: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, unavailable("ollama", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		if httpResp.StatusCode >= 500 {
			return nil, unavailable("ollama", fmt.Errorf("status %d: %s", httpResp.StatusCode, excerpt(raw)))
		}
		return nil, fmt.Errorf("ollama: backend returned status %d: %s", httpResp.StatusCode, excerpt(raw))
	}

	out := &ChatResponse{}
	var content strings.Builder
	var thinking strings.Builder

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk ollamaChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			slog.Debug("ollama: skipping unparsable stream line", "error", err)
			continue
		}
		if chunk.Error != "" {
			return nil, fmt.Errorf("ollama: backend error: %s", chunk.Error)
		}

		if chunk.Message.Content != "" {
			content.WriteString(chunk.Message.Content)
			if onChunk != nil {
				onChunk(StreamChunk{Content: chunk.Message.Content})
			}
		}
		if chunk.Message.Thinking != "" {
			thinking.WriteString(chunk.Message.Thinking)
			if onChunk != nil {
				onChunk(StreamChunk{Thinking: chunk.Message.Thinking})
			}
		}
		for _, tc := range chunk.Message.ToolCalls {
			if tc.Function.Name == "" {
				return nil, &MalformedProposalError{
					Provider: "ollama",
					Raw:      string(line),
					Err:      fmt.Errorf("tool call without a name"),
				}
			}
			args := tc.Function.Arguments
			if args == nil {
				args = map[string]interface{}{}
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        fmt.Sprintf("call_%d", len(out.ToolCalls)),
				Name:      tc.Function.Name,
				Arguments: args,
			})
		}

		if chunk.Done {
			out.FinishReason = chunk.DoneReason
			out.Usage = Usage{
				PromptTokens:     chunk.PromptEvalCount,
				CompletionTokens: chunk.EvalCount,
				TotalTokens:      chunk.PromptEvalCount + chunk.EvalCount,
			}
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, unavailable("ollama", err)
	}

	out.Content = content.String()
	out.Thinking = thinking.String()
	if onChunk != nil {
		onChunk(StreamChunk{Done: true})
	}
	return out, nil
}
