package types

// SkyrailResponse is the canonical response returned by a provider adapter.
type SkyrailResponse struct {
	RequestID        string       `json:"request_id"`
	Model            string       `json:"model"`
	Provider         string       `json:"provider"`
	OutputText       string       `json:"output_text"`
	Output           []OutputItem `json:"output,omitempty"`
	ReasoningSummary string       `json:"reasoning_summary,omitempty"`
	FinishReason     string       `json:"finish_reason,omitempty"`
	Usage            Usage        `json:"usage"`
	EstimatedCostUSD float64      `json:"estimated_cost_usd"`
	Cached           bool         `json:"cached,omitempty"`
}

// OutputItem is one structured element of a response (a message or a
// reasoning block).
type OutputItem struct {
	Type    string `json:"type"`
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	ReasoningTokens  int `json:"reasoning_tokens,omitempty"`
}

// Stream event types appended to a task's event log.
const (
	EventCreated         = "response.created"
	EventInProgress      = "response.in_progress"
	EventOutputTextDelta = "response.output_text.delta"
	EventCompleted       = "response.completed"
	EventFailed          = "response.failed"
)

// StreamEvent is one incremental unit of output appended to a task's event
// log and delivered to stream consumers. Sequence is assigned at append time
// and grows monotonically within a task.
type StreamEvent struct {
	Type     string `json:"type"`
	Sequence int    `json:"sequence"`
	Delta    string `json:"delta,omitempty"`
	Text     string `json:"text,omitempty"`
	Usage    *Usage `json:"usage,omitempty"`
	Error    string `json:"error,omitempty"`
}
