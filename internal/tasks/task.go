package tasks

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skyrail-ai/skyrail-gateway/internal/types"
)

const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// newTaskID returns a fresh response id, e.g. resp_0123abcd...
func newTaskID() string {
	u := uuid.New()
	return "resp_" + hex.EncodeToString(u[:])
}

// Task is one unit of gateway work tracked by the Manager. All fields are
// guarded by mu; once the status is terminal the record never changes again
// except for lastAccess.
type Task struct {
	mu sync.Mutex

	id         string
	status     string
	model      string
	background bool

	createdAt   time.Time
	startedAt   *time.Time
	completedAt *time.Time
	lastAccess  time.Time

	input            []types.Message
	outputText       string
	output           []types.OutputItem
	errMsg           string
	usage            *types.Usage
	reasoningSummary string

	events      []types.StreamEvent
	subscribers []*Subscription
}

func newTask(req *types.SkyrailRequest) *Task {
	now := time.Now().UTC()
	return &Task{
		id:         newTaskID(),
		status:     StatusQueued,
		model:      req.Model,
		background: req.Background,
		createdAt:  now,
		lastAccess: now,
		input:      req.Input,
	}
}

// ID returns the task id. Ids are immutable, no lock needed.
func (t *Task) ID() string { return t.id }

// appendEvent stamps the next sequence number, records the event, and fans
// it out to live subscribers. Must be called with mu held.
func (t *Task) appendEvent(event types.StreamEvent) {
	event.Sequence = len(t.events)
	t.events = append(t.events, event)

	for _, sub := range t.subscribers {
		sub.deliver(event)
	}
}

// markInProgress moves Queued -> InProgress and logs the transition event.
func (t *Task) markInProgress() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC()
	t.status = StatusInProgress
	t.startedAt = &now
	t.appendEvent(types.StreamEvent{Type: types.EventInProgress})
}

// complete moves the task to Completed and freezes the result.
func (t *Task) complete(resp *types.SkyrailResponse) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC()
	t.status = StatusCompleted
	t.completedAt = &now
	t.outputText = resp.OutputText
	t.output = resp.Output
	t.reasoningSummary = resp.ReasoningSummary
	usage := resp.Usage
	t.usage = &usage

	t.appendEvent(types.StreamEvent{
		Type:  types.EventCompleted,
		Text:  resp.OutputText,
		Usage: t.usage,
	})
	t.closeSubscribers()
}

// fail moves the task to Failed and records the error message.
func (t *Task) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC()
	t.status = StatusFailed
	t.completedAt = &now
	t.errMsg = err.Error()

	t.appendEvent(types.StreamEvent{Type: types.EventFailed, Error: t.errMsg})
	t.closeSubscribers()
}

func (t *Task) terminal() bool {
	return t.status == StatusCompleted || t.status == StatusFailed
}

// ResponseStatus is the externally visible snapshot of a task.
type ResponseStatus struct {
	ID               string              `json:"id"`
	Status           string              `json:"status"`
	Model            string              `json:"model"`
	Background       bool                `json:"background"`
	CreatedAt        time.Time           `json:"created_at"`
	StartedAt        *time.Time          `json:"started_at,omitempty"`
	CompletedAt      *time.Time          `json:"completed_at,omitempty"`
	OutputText       string              `json:"output_text,omitempty"`
	Output           []types.OutputItem  `json:"output,omitempty"`
	Error            string              `json:"error,omitempty"`
	Usage            *types.Usage        `json:"usage,omitempty"`
	ReasoningSummary string              `json:"reasoning_summary,omitempty"`
	StreamEvents     []types.StreamEvent `json:"stream_events,omitempty"`
}

// Snapshot copies the task's current state. The event slice is copied, so a
// later append never mutates what a caller already holds.
func (t *Task) Snapshot() ResponseStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastAccess = time.Now().UTC()

	status := ResponseStatus{
		ID:               t.id,
		Status:           t.status,
		Model:            t.model,
		Background:       t.background,
		CreatedAt:        t.createdAt,
		StartedAt:        t.startedAt,
		CompletedAt:      t.completedAt,
		OutputText:       t.outputText,
		Output:           t.output,
		Error:            t.errMsg,
		Usage:            t.usage,
		ReasoningSummary: t.reasoningSummary,
	}
	if len(t.events) > 0 {
		status.StreamEvents = make([]types.StreamEvent, len(t.events))
		copy(status.StreamEvents, t.events)
	}
	return status
}
