package adapters

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/skyrail-ai/skyrail-gateway/internal/config"
	"github.com/skyrail-ai/skyrail-gateway/internal/types"
)

// AnthropicAdapter handles communication with the Anthropic Messages API.
type AnthropicAdapter struct {
	cfg    config.ProviderConfig
	models []string
	client *http.Client
}

func NewAnthropicAdapter(cfg config.ProviderConfig, models []string, client *http.Client) *AnthropicAdapter {
	defaults := anthropicDefaults()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaults.APIVersion
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	return &AnthropicAdapter{cfg: cfg, models: models, client: client}
}

func anthropicDefaults() config.ProviderConfig {
	return config.ProviderConfig{
		Type:          "anthropic",
		BaseURL:       "https://api.anthropic.com/v1",
		APIVersion:    "2023-06-01",
		Timeout:       60 * time.Second,
		MaxConcurrent: 10,
	}
}

func (a *AnthropicAdapter) Name() string {
	if a.cfg.Name != "" {
		return a.cfg.Name
	}
	return "anthropic"
}

func (a *AnthropicAdapter) DefaultConfig() config.ProviderConfig { return anthropicDefaults() }

func (a *AnthropicAdapter) SupportedModels() []string { return a.models }

func (a *AnthropicAdapter) SupportsStreaming() bool { return true }

func (a *AnthropicAdapter) ValidateConfig() error {
	if a.cfg.APIKey == "" {
		return &InvalidProviderConfigError{Provider: a.Name(), Field: "api_key", Reason: "credential is required"}
	}
	if a.cfg.BaseURL == "" {
		return &InvalidProviderConfigError{Provider: a.Name(), Field: "base_url", Reason: "must not be empty"}
	}
	if !strings.HasPrefix(a.cfg.BaseURL, "http://") && !strings.HasPrefix(a.cfg.BaseURL, "https://") {
		return &InvalidProviderConfigError{Provider: a.Name(), Field: "base_url", Reason: "must be an http(s) URL"}
	}
	return nil
}

// thinkingBudget maps reasoning effort to an Anthropic thinking token budget.
func thinkingBudget(effort string) int {
	switch effort {
	case "low":
		return 1024
	case "high":
		return 16384
	default:
		return 4096
	}
}

func (a *AnthropicAdapter) buildRequest(ctx context.Context, req *types.SkyrailRequest, upstreamModel string, stream bool) (*http.Request, error) {
	// System messages move to the dedicated field
	var system string
	var messages []anthropicMessage
	for _, m := range req.Input {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		messages = append(messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	// Anthropic requires max_tokens
	maxTokens := 4096
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	body := anthropicRequestBody{
		Model:       upstreamModel,
		Messages:    messages,
		System:      system,
		MaxTokens:   maxTokens,
		Stream:      stream,
		Temperature: req.Temperature,
	}
	if req.Reasoning != nil && req.Reasoning.Effort != "" {
		budget := thinkingBudget(req.Reasoning.Effort)
		if body.MaxTokens <= budget {
			body.MaxTokens = budget + 4096
		}
		body.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: budget}
		// Thinking mode rejects explicit temperature
		body.Temperature = nil
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	url := a.cfg.BaseURL + "/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", a.cfg.APIVersion)
	for k, v := range a.cfg.Headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}

	return httpReq, nil
}

func (a *AnthropicAdapter) Invoke(ctx context.Context, req *types.SkyrailRequest, upstreamModel string) (*types.SkyrailResponse, error) {
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	httpReq, err := a.buildRequest(ctx, req, upstreamModel, false)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", a.Name(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", a.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{Provider: a.Name(), StatusCode: resp.StatusCode, Body: string(body)}
	}

	var antResp anthropicResponseBody
	if err := json.Unmarshal(body, &antResp); err != nil {
		return nil, fmt.Errorf("unmarshal %s response: %w", a.Name(), err)
	}

	out := &types.SkyrailResponse{
		Model:        antResp.Model,
		Provider:     a.Name(),
		FinishReason: mapStopReason(antResp.StopReason),
		Usage: types.Usage{
			PromptTokens:     antResp.Usage.InputTokens,
			CompletionTokens: antResp.Usage.OutputTokens,
			TotalTokens:      antResp.Usage.InputTokens + antResp.Usage.OutputTokens,
		},
	}

	var text, reasoning strings.Builder
	for _, block := range antResp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
			out.Output = append(out.Output, types.OutputItem{Type: "message", Role: "assistant", Content: block.Text})
		case "thinking":
			reasoning.WriteString(block.Thinking)
			out.Output = append(out.Output, types.OutputItem{Type: "reasoning", Content: block.Thinking})
		}
	}
	out.OutputText = text.String()
	out.ReasoningSummary = reasoning.String()

	return out, nil
}

func (a *AnthropicAdapter) InvokeStream(ctx context.Context, req *types.SkyrailRequest, upstreamModel string, onEvent func(types.StreamEvent)) (*types.SkyrailResponse, error) {
	httpReq, err := a.buildRequest(ctx, req, upstreamModel, true)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", a.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &HTTPError{Provider: a.Name(), StatusCode: resp.StatusCode, Body: string(body)}
	}

	out := &types.SkyrailResponse{Provider: a.Name()}
	var text, reasoning strings.Builder

	scanner := bufio.NewScanner(resp.Body)
	// Increase scanner buffer for large chunks
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue // skip unparseable chunks
		}

		switch event.Type {
		case "message_start":
			out.Model = event.Message.Model
			out.Usage.PromptTokens = event.Message.Usage.InputTokens
		case "content_block_delta":
			switch event.Delta.Type {
			case "text_delta":
				text.WriteString(event.Delta.Text)
				onEvent(types.StreamEvent{Type: types.EventOutputTextDelta, Delta: event.Delta.Text})
			case "thinking_delta":
				reasoning.WriteString(event.Delta.Thinking)
			}
		case "message_delta":
			if event.Delta.StopReason != "" {
				out.FinishReason = mapStopReason(event.Delta.StopReason)
			}
			out.Usage.CompletionTokens = event.Usage.OutputTokens
		case "message_stop":
			// fall through to scanner exit on stream close
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s stream: %w", a.Name(), err)
	}

	out.Usage.TotalTokens = out.Usage.PromptTokens + out.Usage.CompletionTokens
	out.OutputText = text.String()
	out.ReasoningSummary = reasoning.String()
	if out.ReasoningSummary != "" {
		out.Output = append(out.Output, types.OutputItem{Type: "reasoning", Content: out.ReasoningSummary})
	}
	out.Output = append(out.Output, types.OutputItem{Type: "message", Role: "assistant", Content: out.OutputText})

	return out, nil
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn":
		return "stop"
	case "max_tokens":
		return "length"
	case "stop_sequence":
		return "stop"
	default:
		return reason
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicRequestBody struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Stream      bool               `json:"stream,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	Thinking    *anthropicThinking `json:"thinking,omitempty"`
}

type anthropicResponseBody struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Model   string `json:"model"`
	Content []struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		Thinking string `json:"thinking"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// anthropicStreamEvent covers the union of fields across message_start,
// content_block_delta, message_delta, and message_stop events.
type anthropicStreamEvent struct {
	Type    string `json:"type"`
	Index   int    `json:"index"`
	Message struct {
		Model string `json:"model"`
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		Thinking   string `json:"thinking"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
