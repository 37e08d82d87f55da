package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const insertRecordSQL = `
	INSERT INTO usage_records (
		request_id, api_key_id, organization_id, team_id, user_id,
		model, provider, prompt_tokens, completion_tokens, reasoning_tokens,
		cost_usd, cached, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

// Record is one durable usage row. The in-memory cost ledgers remain the
// live source of truth; these rows exist for billing and audit.
type Record struct {
	RequestID        string
	APIKeyID         string
	OrganizationID   string
	TeamID           string
	UserID           string
	Model            string
	Provider         string
	PromptTokens     int
	CompletionTokens int
	ReasoningTokens  int
	CostUSD          float64
	Cached           bool
	CreatedAt        time.Time
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Recorder writes usage rows to Postgres off the request path. Records are
// queued on a buffered channel and flushed in batches; when the queue is
// full new records are dropped rather than blocking a dispatch.
type Recorder struct {
	db     execer
	ch     chan Record
	logger *slog.Logger

	flushInterval time.Duration
	batchSize     int
}

// NewRecorder creates a usage recorder writing through db.
func NewRecorder(db execer, logger *slog.Logger) *Recorder {
	return &Recorder{
		db:            db,
		ch:            make(chan Record, 1024),
		logger:        logger,
		flushInterval: 5 * time.Second,
		batchSize:     64,
	}
}

// Record queues one usage row. Never blocks.
func (r *Recorder) Record(rec Record) {
	select {
	case r.ch <- rec:
	default:
		r.logger.Warn("usage queue full, dropping record", "request_id", rec.RequestID)
	}
}

// Run drains the queue until ctx is cancelled, flushing every interval or
// whenever a full batch accumulates. Pending records are flushed on exit.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]Record, 0, r.batchSize)
	for {
		select {
		case <-ctx.Done():
			r.flush(batch)
			return
		case rec := <-r.ch:
			batch = append(batch, rec)
			if len(batch) >= r.batchSize {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

// flush writes the batch. Insert failures are logged and skipped; usage
// recording never takes the gateway down.
func (r *Recorder) flush(batch []Record) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, rec := range batch {
		_, err := r.db.Exec(ctx, insertRecordSQL,
			rec.RequestID, rec.APIKeyID, rec.OrganizationID, rec.TeamID, rec.UserID,
			rec.Model, rec.Provider, rec.PromptTokens, rec.CompletionTokens, rec.ReasoningTokens,
			rec.CostUSD, rec.Cached, rec.CreatedAt,
		)
		if err != nil {
			r.logger.Error("usage record insert failed",
				"request_id", rec.RequestID,
				"error", err,
			)
		}
	}
}
