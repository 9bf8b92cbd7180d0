// Package outbox implements the transactional outbox: events are written to
// the outbox table in the same SQL transaction as the office mutation and a
// Worker relays them to a broker afterwards.
package outbox

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"officehub/internal/events"
	txcontext "officehub/pkg/platform/tx"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store appends events to the outbox table. It implements events.Emitter.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Emit writes event through the transaction in ctx when there is one.
func (s *Store) Emit(ctx context.Context, event events.Event) error {
	payload, err := events.Marshal(event)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(event.ID)
	if err != nil {
		id = uuid.New()
	}

	query, args, err := psql.Insert("outbox").
		Columns("id", "tenant_id", "event_type", "aggregate_id", "payload", "created_at").
		Values(id, event.Tenant, event.Type, event.Identifier, payload, event.OccurredAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build outbox insert: %w", err)
	}
	if _, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}
