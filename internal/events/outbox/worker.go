package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"officehub/internal/events"
)

const (
	defaultPollInterval = time.Second
	defaultBatchSize    = 100
)

// Worker polls unprocessed outbox rows and hands them to a Publisher. A row is
// marked processed only after the publisher accepted it, so delivery is at
// least once.
type Worker struct {
	db           *sql.DB
	publisher    events.Publisher
	logger       *slog.Logger
	metrics      *Metrics
	pollInterval time.Duration
	batchSize    int
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func NewWorker(db *sql.DB, publisher events.Publisher, opts ...Option) *Worker {
	w := &Worker{
		db:           db,
		publisher:    publisher,
		logger:       slog.Default(),
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run relays until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		n, err := w.ProcessOnce(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			w.logger.WarnContext(ctx, "outbox relay tick failed", "error", err)
			continue
		}
		if n > 0 {
			w.logger.DebugContext(ctx, "outbox relayed events", "count", n)
		}
	}
}

type entry struct {
	id        string
	eventType string
	key       string
	payload   []byte
}

// ProcessOnce claims one batch, publishes it in order and marks the published
// prefix as processed. It returns the number of relayed rows.
func (w *Worker) ProcessOnce(ctx context.Context) (int, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin outbox tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	claim, args, err := claimQuery(w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("build outbox claim: %w", err)
	}
	rows, err := tx.QueryContext(ctx, claim, args...)
	if err != nil {
		return 0, fmt.Errorf("claim outbox entries: %w", err)
	}
	var batch []entry
	for rows.Next() {
		var (
			e              entry
			tenant, aggrID string
		)
		if err := rows.Scan(&e.id, &e.eventType, &tenant, &aggrID, &e.payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan outbox entry: %w", err)
		}
		e.key = tenant + "/" + aggrID
		batch = append(batch, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate outbox entries: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	published := make([]string, 0, len(batch))
	var publishErr error
	for _, e := range batch {
		if err := w.publisher.Publish(ctx, e.key, e.payload); err != nil {
			publishErr = fmt.Errorf("publish outbox entry %s: %w", e.id, err)
			w.observe(e.eventType, "failure")
			break
		}
		w.observe(e.eventType, "success")
		published = append(published, e.id)
	}

	if len(published) > 0 {
		mark, args, err := markQuery(published)
		if err != nil {
			return 0, fmt.Errorf("build outbox mark: %w", err)
		}
		if _, err := tx.ExecContext(ctx, mark, args...); err != nil {
			return 0, fmt.Errorf("mark outbox entries processed: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("commit outbox tx: %w", err)
		}
	}
	return len(published), publishErr
}

func (w *Worker) observe(eventType, result string) {
	if w.metrics != nil {
		w.metrics.ObserveRelay(eventType, result)
	}
}

// claimQuery locks the oldest unprocessed rows, skipping rows another worker
// already holds.
func claimQuery(limit int) (string, []any, error) {
	return psql.Select("id", "event_type", "tenant_id", "aggregate_id", "payload").
		From("outbox").
		Where(sq.Eq{"processed_at": nil}).
		OrderBy("created_at").
		Limit(uint64(limit)).
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
}

func markQuery(ids []string) (string, []any, error) {
	return psql.Update("outbox").
		Set("processed_at", sq.Expr("NOW()")).
		Where(sq.Expr("id = ANY(?::uuid[])", pq.Array(ids))).
		ToSql()
}
