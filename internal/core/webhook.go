package core

import (
	"context"
	"fmt"
	"time"

	"github.com/arkline/escrowd/internal/model"
)

const webhookColumns = `id, chain_id, escrow_address, event_type, oracle_address, payload,
	 retries_count, wait_until, status, created_at, updated_at`

type WebhookService struct {
	db DB
}

func NewWebhookService(db DB) *WebhookService {
	return &WebhookService{db: db}
}

// Enqueue inserts a new pending webhook, due immediately.
func (s *WebhookService) Enqueue(ctx context.Context, wh *model.Webhook) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO webhooks (id, chain_id, escrow_address, event_type, oracle_address, payload,
		 retries_count, wait_until, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		wh.ID, wh.ChainID, wh.EscrowAddress, wh.EventType, wh.OracleAddress, wh.Payload,
		wh.RetriesCount, wh.WaitUntil, wh.Status, wh.CreatedAt, wh.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook: %w", err)
	}
	return nil
}

// GetPending returns pending webhooks whose wait_until has passed, in
// insertion order.
func (s *WebhookService) GetPending(ctx context.Context, now time.Time, limit int) ([]model.Webhook, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+webhookColumns+` FROM webhooks
		 WHERE status = $1 AND wait_until <= $2
		 ORDER BY id LIMIT $3`,
		model.WebhookStatusPending, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get pending webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []model.Webhook
	for rows.Next() {
		var w model.Webhook
		if err := rows.Scan(&w.ID, &w.ChainID, &w.EscrowAddress, &w.EventType, &w.OracleAddress,
			&w.Payload, &w.RetriesCount, &w.WaitUntil, &w.Status, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		webhooks = append(webhooks, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhooks: %w", err)
	}
	return webhooks, nil
}

// MarkCompleted finalizes a webhook after a successful delivery.
func (s *WebhookService) MarkCompleted(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE webhooks SET status = $1, updated_at = now() WHERE id = $2`,
		model.WebhookStatusCompleted, id,
	)
	if err != nil {
		return fmt.Errorf("mark webhook %s completed: %w", id, err)
	}
	return nil
}

// ScheduleRetry bumps the retry counter and pushes wait_until to the next
// attempt time. The webhook stays pending.
func (s *WebhookService) ScheduleRetry(ctx context.Context, id string, waitUntil time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE webhooks SET retries_count = retries_count + 1, wait_until = $1, updated_at = now()
		 WHERE id = $2`,
		waitUntil, id,
	)
	if err != nil {
		return fmt.Errorf("schedule webhook %s retry: %w", id, err)
	}
	return nil
}

// MarkFailed finalizes a webhook that exhausted its retries.
func (s *WebhookService) MarkFailed(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE webhooks SET status = $1, retries_count = retries_count + 1, updated_at = now()
		 WHERE id = $2`,
		model.WebhookStatusFailed, id,
	)
	if err != nil {
		return fmt.Errorf("mark webhook %s failed: %w", id, err)
	}
	return nil
}
