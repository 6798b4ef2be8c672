/**
 * @description
 * Append-only log of verified webhook events. The unique constraint on
 * event_id makes redelivery detection durable across process restarts, and
 * processing_error keeps handler failures visible after the event was
 * acknowledged to the processor.
 */
package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campfire-labs/settlement-service/internal/domain"
)

// WebhookEventRepository handles the durable webhook event log.
type WebhookEventRepository struct {
	db *pgxpool.Pool
}

// NewWebhookEventRepository creates a new webhook event repository.
func NewWebhookEventRepository(db *pgxpool.Pool) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Record appends a verified event. Returns false when the event id was
// already logged, which tells the router this is a redelivery.
func (r *WebhookEventRepository) Record(ctx context.Context, eventID, eventType string, payload []byte) (bool, error) {
	query := `
		INSERT INTO webhook_events (event_id, event_type, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query, eventID, eventType, payload)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkProcessed stamps the event as fully handled.
func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, eventID string) error {
	query := `
		UPDATE webhook_events
		SET processed_at = NOW(),
		    processing_error = NULL
		WHERE event_id = $1
	`
	_, err := r.db.Exec(ctx, query, eventID)
	return err
}

// MarkFailed records a handler failure against the event so it can be
// replayed or inspected later.
func (r *WebhookEventRepository) MarkFailed(ctx context.Context, eventID, reason string) error {
	query := `
		UPDATE webhook_events
		SET processing_error = $2
		WHERE event_id = $1
	`
	_, err := r.db.Exec(ctx, query, eventID, reason)
	return err
}

// ListFailed returns the most recent events whose handlers failed after the
// delivery was acknowledged. Ops tooling reads these to drive replays.
func (r *WebhookEventRepository) ListFailed(ctx context.Context, limit int) ([]domain.WebhookEventRecord, error) {
	query := `
		SELECT id, event_id, event_type, payload, processed_at, processing_error, created_at
		FROM webhook_events
		WHERE processing_error IS NOT NULL
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.WebhookEventRecord
	for rows.Next() {
		var e domain.WebhookEventRecord
		if err := rows.Scan(&e.ID, &e.EventID, &e.EventType, &e.Payload, &e.ProcessedAt, &e.ProcessingError, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
