package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// WebhookEventRepository backs the event-id dedup table. Providers retry
// deliveries, so the same event may arrive any number of times.
type WebhookEventRepository struct {
	db *sqlx.DB
}

func NewWebhookEventRepository(db *sqlx.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// MarkProcessed records an event id and reports whether this delivery is
// the first one. Insert-or-ignore keeps the check and the record atomic.
func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("webhook event repository: mark processed %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("webhook event repository: rows affected %w", err)
	}
	return affected == 1, nil
}

// Unmark removes an event id so the provider's retry can reprocess a
// delivery whose handling failed after it was recorded.
func (r *WebhookEventRepository) Unmark(ctx context.Context, eventID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM webhook_events WHERE event_id = $1`, eventID); err != nil {
		return fmt.Errorf("webhook event repository: unmark %w", err)
	}
	return nil
}
