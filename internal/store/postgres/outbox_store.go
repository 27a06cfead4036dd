package postgres

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"nailsdash/backend/internal/outbox"
)

type OutboxStore struct {
	db *bun.DB
}

func NewOutboxStore(db *bun.DB) *OutboxStore {
	return &OutboxStore{db: db}
}

var _ outbox.Store = (*OutboxStore)(nil)

// ProcessUnpublished locks the oldest unpublished events with SKIP LOCKED so several
// publishers can drain the table without handing out the same event twice.
func (s *OutboxStore) ProcessUnpublished(ctx context.Context, limit int, fn func(ctx context.Context, events []outbox.Event) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var events []outbox.Event
		err := tx.NewSelect().
			Model(&events).
			Where("oe.published_at IS NULL").
			OrderExpr("oe.id ASC").
			Limit(limit).
			For("UPDATE SKIP LOCKED").
			Scan(ctx)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		if err := fn(ctx, events); err != nil {
			return err
		}

		ids := make([]int64, 0, len(events))
		for _, e := range events {
			ids = append(ids, e.ID)
		}
		_, err = tx.NewUpdate().
			Model((*outbox.Event)(nil)).
			Set("published_at = ?", time.Now().UTC()).
			Where("id IN (?)", bun.In(ids)).
			Exec(ctx)
		return err
	})
}
