package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/arkline/escrowd/internal/core"
	"github.com/arkline/escrowd/internal/metrics"
	"github.com/arkline/escrowd/internal/model"
)

// URLResolver resolves an oracle's webhook endpoint.
type URLResolver interface {
	WebhookURL(ctx context.Context, chainID int64, oracleAddress string) (string, error)
}

// Policy is the retry policy for outbound deliveries.
type Policy struct {
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	BatchSize   int
}

// Sender drains the webhook delivery queue: it POSTs each due pending
// webhook to its oracle and updates the retry bookkeeping.
type Sender struct {
	webhooks *core.WebhookService
	resolver URLResolver
	signer   *Signer
	client   *http.Client
	policy   Policy
	logger   zerolog.Logger
}

func NewSender(webhooks *core.WebhookService, resolver URLResolver, signer *Signer, policy Policy, logger zerolog.Logger) *Sender {
	if policy.BatchSize <= 0 {
		policy.BatchSize = 50
	}
	return &Sender{
		webhooks: webhooks,
		resolver: resolver,
		signer:   signer,
		client:   &http.Client{Timeout: 30 * time.Second},
		policy:   policy,
		logger:   logger.With().Str("component", "webhook-sender").Logger(),
	}
}

// ProcessPending delivers every webhook due at now, sequentially, in queue
// order. A failure on one webhook never blocks the rest of the batch.
func (s *Sender) ProcessPending(ctx context.Context, now time.Time) error {
	pending, err := s.webhooks.GetPending(ctx, now, s.policy.BatchSize)
	if err != nil {
		return err
	}

	for i := range pending {
		wh := &pending[i]
		if err := s.processOne(ctx, wh, now); err != nil {
			s.logger.Error().Err(err).Str("webhook_id", wh.ID).Msg("webhook bookkeeping update failed")
		}
	}
	return nil
}

func (s *Sender) processOne(ctx context.Context, wh *model.Webhook, now time.Time) error {
	if err := s.deliver(ctx, wh); err != nil {
		s.logger.Warn().Err(err).
			Str("webhook_id", wh.ID).
			Str("event_type", wh.EventType).
			Int("retries", wh.RetriesCount).
			Msg("webhook delivery failed")
		metrics.WebhookDeliveriesTotal.WithLabelValues("error").Inc()

		if wh.RetriesCount+1 >= s.policy.MaxRetries {
			metrics.WebhookDeliveriesTotal.WithLabelValues("exhausted").Inc()
			return s.webhooks.MarkFailed(ctx, wh.ID)
		}
		return s.webhooks.ScheduleRetry(ctx, wh.ID, s.NextAttempt(now, wh.RetriesCount))
	}

	metrics.WebhookDeliveriesTotal.WithLabelValues("ok").Inc()
	return s.webhooks.MarkCompleted(ctx, wh.ID)
}

// deliver resolves the oracle URL and POSTs the signed payload. Any non-2xx
// response or transport error counts as a failed attempt.
func (s *Sender) deliver(ctx context.Context, wh *model.Webhook) error {
	url, err := s.resolver.WebhookURL(ctx, wh.ChainID, wh.OracleAddress)
	if err != nil {
		return fmt.Errorf("resolve oracle url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(wh.Payload))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, s.signer.Sign(wh.Payload))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook POST to %s: %w", url, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook POST to %s returned %d", url, resp.StatusCode)
	}
	return nil
}

// NextAttempt computes the earliest next delivery time after a failure:
// exponential in the number of prior attempts, capped at BackoffMax. The
// result is always strictly after now, so wait_until increases with every
// failed attempt.
func (s *Sender) NextAttempt(now time.Time, retries int) time.Time {
	delay := s.policy.BackoffBase
	for i := 0; i < retries; i++ {
		delay *= 2
		if delay >= s.policy.BackoffMax {
			delay = s.policy.BackoffMax
			break
		}
	}
	if delay > s.policy.BackoffMax {
		delay = s.policy.BackoffMax
	}
	return now.Add(delay)
}
