package tasks

import (
	"time"

	"github.com/skyrail-ai/skyrail-gateway/internal/types"
)

// Subscription is one reader's view of a task's event log: the backlog is
// replayed first, then live events arrive as the executor appends them. The
// channel is closed when the task reaches a terminal state, the reader calls
// Close, or the reader falls so far behind that its buffer fills.
type Subscription struct {
	C <-chan types.StreamEvent

	task   *Task
	ch     chan types.StreamEvent
	closed bool
}

// subscribe registers a reader for events with Sequence > startingAfter.
// Pass startingAfter = -1 for the full log. If the task is already terminal
// the subscription carries the backlog and is closed immediately after it.
func (t *Task) subscribe(startingAfter, buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastAccess = time.Now().UTC()

	var backlog []types.StreamEvent
	for _, event := range t.events {
		if event.Sequence > startingAfter {
			backlog = append(backlog, event)
		}
	}

	// Sized so the whole backlog enqueues without blocking, plus headroom
	// for live events.
	ch := make(chan types.StreamEvent, len(backlog)+buffer)
	sub := &Subscription{C: ch, task: t, ch: ch}
	for _, event := range backlog {
		ch <- event
	}

	if t.terminal() {
		sub.closed = true
		close(ch)
	} else {
		t.subscribers = append(t.subscribers, sub)
	}
	return sub
}

// deliver hands one event to the reader without ever blocking the executor.
// A reader whose buffer is full is cut off rather than waited on. Must be
// called with task.mu held.
func (s *Subscription) deliver(event types.StreamEvent) {
	if s.closed {
		return
	}
	select {
	case s.ch <- event:
	default:
		s.closed = true
		close(s.ch)
	}
}

// Close detaches the subscription from its task. Safe to call more than
// once and after the task has terminated.
func (s *Subscription) Close() {
	t := s.task

	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.subscribers[:0]
	for _, sub := range t.subscribers {
		if sub != s {
			kept = append(kept, sub)
		}
	}
	t.subscribers = kept

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// closeSubscribers ends every live subscription. Must be called with
// task.mu held, after the final event has been appended.
func (t *Task) closeSubscribers() {
	for _, sub := range t.subscribers {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	t.subscribers = nil
}
