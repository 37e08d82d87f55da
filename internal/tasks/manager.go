package tasks

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/skyrail-ai/skyrail-gateway/internal/config"
	"github.com/skyrail-ai/skyrail-gateway/internal/types"
)

// Dispatcher executes one request against an upstream provider. When the
// provider delivers output incrementally, onEvent is invoked for each chunk
// in arrival order; otherwise it is never called.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *types.SkyrailRequest, onEvent func(types.StreamEvent)) (*types.SkyrailResponse, error)
}

// Manager owns the task table. Tasks are created here, executed against the
// Dispatcher, and removed by the retention sweep once idle.
type Manager struct {
	mu    sync.Mutex
	tasks map[string]*Task

	dispatcher Dispatcher
	cfg        config.TasksConfig
	logger     *slog.Logger
}

// NewManager creates a task manager backed by the given dispatcher.
func NewManager(dispatcher Dispatcher, cfg config.TasksConfig, logger *slog.Logger) *Manager {
	return &Manager{
		tasks:      make(map[string]*Task),
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
	}
}

// Create allocates a task for req. A background task is snapshotted in its
// queued state, then executed off the calling path; the snapshot is taken
// first so the caller always observes "queued" regardless of scheduling.
// A foreground task runs inline, the returned snapshot is terminal and the
// dispatch error, if any, is returned alongside it so the route layer can
// map it to a status code. Background creation never returns an error.
func (m *Manager) Create(ctx context.Context, req *types.SkyrailRequest) (ResponseStatus, error) {
	task := newTask(req)

	m.mu.Lock()
	m.tasks[task.id] = task
	m.mu.Unlock()

	task.mu.Lock()
	task.appendEvent(types.StreamEvent{Type: types.EventCreated})
	task.mu.Unlock()

	if req.Background {
		snap := task.Snapshot()
		// Detached from the request context: the task outlives the call
		// that created it.
		go m.execute(context.Background(), task, req)
		return snap, nil
	}

	err := m.execute(ctx, task, req)
	return task.Snapshot(), err
}

func (m *Manager) execute(ctx context.Context, task *Task, req *types.SkyrailRequest) error {
	task.markInProgress()

	resp, err := m.dispatcher.Dispatch(ctx, req, func(event types.StreamEvent) {
		task.mu.Lock()
		task.appendEvent(event)
		task.mu.Unlock()
	})
	if err != nil {
		m.logger.Warn("task failed",
			"task_id", task.id,
			"model", req.Model,
			"error", err,
		)
		task.fail(err)
		return err
	}
	task.complete(resp)
	return nil
}

// Get returns a snapshot of the task, or false for an unknown id. Never
// blocks on task execution.
func (m *Manager) Get(id string) (ResponseStatus, bool) {
	m.mu.Lock()
	task, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return ResponseStatus{}, false
	}
	return task.Snapshot(), true
}

// List snapshots every known task, newest first.
func (m *Manager) List() []ResponseStatus {
	m.mu.Lock()
	all := make([]*Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		all = append(all, task)
	}
	m.mu.Unlock()

	statuses := make([]ResponseStatus, 0, len(all))
	for _, task := range all {
		statuses = append(statuses, task.Snapshot())
	}
	sort.Slice(statuses, func(i, j int) bool {
		if statuses[i].CreatedAt.Equal(statuses[j].CreatedAt) {
			return statuses[i].ID < statuses[j].ID
		}
		return statuses[i].CreatedAt.After(statuses[j].CreatedAt)
	})
	return statuses
}

// Subscribe attaches a stream reader to a task's event log, replaying
// events after startingAfter first. Returns false for an unknown id.
func (m *Manager) Subscribe(id string, startingAfter int) (*Subscription, bool) {
	m.mu.Lock()
	task, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	return task.subscribe(startingAfter, m.cfg.StreamBuffer), true
}

// Sweep removes expired tasks every sweep interval until ctx is cancelled.
func (m *Manager) Sweep(ctx context.Context) {
	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			if removed := m.RemoveExpired(); removed > 0 {
				m.logger.Info("swept expired tasks", "removed", removed)
			}
		}
	}
}

// RemoveExpired drops terminal tasks that nobody has read for the retention
// window. Running tasks are never removed.
func (m *Manager) RemoveExpired() int {
	retention := m.cfg.Retention
	if retention <= 0 {
		retention = time.Hour
	}
	cutoff := time.Now().UTC().Add(-retention)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, task := range m.tasks {
		task.mu.Lock()
		expired := task.terminal() && task.lastAccess.Before(cutoff)
		task.mu.Unlock()
		if expired {
			delete(m.tasks, id)
			removed++
		}
	}
	return removed
}
