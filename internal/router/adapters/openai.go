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

// OpenAIAdapter handles communication with OpenAI-compatible chat completion
// APIs. Unknown provider types fall back to this adapter.
type OpenAIAdapter struct {
	cfg    config.ProviderConfig
	models []string
	client *http.Client
}

func NewOpenAIAdapter(cfg config.ProviderConfig, models []string, client *http.Client) *OpenAIAdapter {
	defaults := openAIDefaults()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	return &OpenAIAdapter{cfg: cfg, models: models, client: client}
}

func openAIDefaults() config.ProviderConfig {
	return config.ProviderConfig{
		Type:          "openai",
		BaseURL:       "https://api.openai.com/v1",
		Timeout:       60 * time.Second,
		MaxConcurrent: 10,
	}
}

func (a *OpenAIAdapter) Name() string {
	if a.cfg.Name != "" {
		return a.cfg.Name
	}
	return "openai"
}

func (a *OpenAIAdapter) DefaultConfig() config.ProviderConfig { return openAIDefaults() }

func (a *OpenAIAdapter) SupportedModels() []string { return a.models }

func (a *OpenAIAdapter) SupportsStreaming() bool { return true }

func (a *OpenAIAdapter) ValidateConfig() error {
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

func (a *OpenAIAdapter) buildRequest(ctx context.Context, req *types.SkyrailRequest, upstreamModel string, stream bool) (*http.Request, error) {
	body := openAIRequestBody{
		Model:       upstreamModel,
		Messages:    req.Input,
		Stream:      stream,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if stream {
		body.StreamOptions = &openAIStreamOptions{IncludeUsage: true}
	}
	if req.Reasoning != nil && req.Reasoning.Effort != "" {
		body.ReasoningEffort = req.Reasoning.Effort
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal openai request: %w", err)
	}

	url := a.cfg.BaseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	for k, v := range a.cfg.Headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}

	return httpReq, nil
}

func (a *OpenAIAdapter) Invoke(ctx context.Context, req *types.SkyrailRequest, upstreamModel string) (*types.SkyrailResponse, error) {
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

	var oaiResp openAIResponseBody
	if err := json.Unmarshal(body, &oaiResp); err != nil {
		return nil, fmt.Errorf("unmarshal %s response: %w", a.Name(), err)
	}
	if len(oaiResp.Choices) == 0 {
		return nil, fmt.Errorf("%s response contained no choices", a.Name())
	}

	choice := oaiResp.Choices[0]
	out := &types.SkyrailResponse{
		Model:      oaiResp.Model,
		Provider:   a.Name(),
		OutputText: choice.Message.Content,
		Output: []types.OutputItem{
			{Type: "message", Role: "assistant", Content: choice.Message.Content},
		},
		FinishReason: choice.FinishReason,
		Usage: types.Usage{
			PromptTokens:     oaiResp.Usage.PromptTokens,
			CompletionTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:      oaiResp.Usage.TotalTokens,
			ReasoningTokens:  oaiResp.Usage.CompletionTokensDetails.ReasoningTokens,
		},
	}
	return out, nil
}

func (a *OpenAIAdapter) InvokeStream(ctx context.Context, req *types.SkyrailRequest, upstreamModel string, onEvent func(types.StreamEvent)) (*types.SkyrailResponse, error) {
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
	var text strings.Builder

	scanner := bufio.NewScanner(resp.Body)
	// Increase scanner buffer for large chunks
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // skip unparseable chunks
		}

		if chunk.Usage != nil {
			out.Usage = types.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
				ReasoningTokens:  chunk.Usage.CompletionTokensDetails.ReasoningTokens,
			}
		}
		for _, c := range chunk.Choices {
			if c.Delta.Content != "" {
				text.WriteString(c.Delta.Content)
				onEvent(types.StreamEvent{Type: types.EventOutputTextDelta, Delta: c.Delta.Content})
			}
			if c.FinishReason != nil && *c.FinishReason != "" {
				out.FinishReason = *c.FinishReason
			}
		}
		if chunk.Model != "" {
			out.Model = chunk.Model
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s stream: %w", a.Name(), err)
	}

	out.OutputText = text.String()
	out.Output = []types.OutputItem{
		{Type: "message", Role: "assistant", Content: out.OutputText},
	}
	return out, nil
}

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIRequestBody struct {
	Model           string               `json:"model"`
	Messages        []types.Message      `json:"messages"`
	Stream          bool                 `json:"stream,omitempty"`
	StreamOptions   *openAIStreamOptions `json:"stream_options,omitempty"`
	Temperature     *float64             `json:"temperature,omitempty"`
	MaxTokens       *int                 `json:"max_tokens,omitempty"`
	ReasoningEffort string               `json:"reasoning_effort,omitempty"`
}

type openAIUsage struct {
	PromptTokens            int `json:"prompt_tokens"`
	CompletionTokens        int `json:"completion_tokens"`
	TotalTokens             int `json:"total_tokens"`
	CompletionTokensDetails struct {
		ReasoningTokens int `json:"reasoning_tokens"`
	} `json:"completion_tokens_details"`
}

type openAIResponseBody struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage openAIUsage `json:"usage"`
}

type openAIStreamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
}
