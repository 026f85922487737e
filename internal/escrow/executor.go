package escrow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/arkline/escrowd/internal/core"
	"github.com/arkline/escrowd/internal/metrics"
	"github.com/arkline/escrowd/internal/model"
	"github.com/arkline/escrowd/internal/platform"
)

// Executor performs one blockchain-facing action per job and translates the
// outcome into a status transition plus an outbound webhook. A transition
// that affects zero rows means another worker already processed the job; the
// action's side effects are then intentionally not re-applied here.
type Executor struct {
	client   Client
	jobs     *core.JobService
	webhooks *core.WebhookService
	logger   zerolog.Logger
}

func NewExecutor(client Client, jobs *core.JobService, webhooks *core.WebhookService, logger zerolog.Logger) *Executor {
	return &Executor{
		client:   client,
		jobs:     jobs,
		webhooks: webhooks,
		logger:   logger.With().Str("component", "escrow-executor").Logger(),
	}
}

// Create creates the escrow contract for a paid job and moves it to
// under_moderation, enqueueing an escrow_created notification for the
// exchange oracle.
func (e *Executor) Create(ctx context.Context, job *model.Job) error {
	res, err := e.client.CreateEscrow(ctx, CreateParams{
		ChainID:          job.ChainID,
		RequesterAddress: job.RequesterAddress,
		ManifestURL:      job.ManifestURL,
		ManifestHash:     job.ManifestHash,
		ExchangeOracle:   job.ExchangeOracle,
		RecordingOracle:  job.RecordingOracle,
		ReputationOracle: job.ReputationOracle,
	})
	if err != nil {
		return e.actionFailed(ctx, job, "create", err)
	}
	metrics.EscrowActionsTotal.WithLabelValues("create", "ok").Inc()

	ok, err := e.jobs.SetEscrow(ctx, job.ID, res.EscrowAddress, res.TxHash,
		model.JobStatusPaid, model.JobStatusUnderModeration)
	if err != nil {
		return err
	}
	if !ok {
		e.logger.Warn().Str("job_id", job.ID).Msg("job left paid status while escrow was being created")
		return nil
	}

	return e.enqueue(ctx, job, res.EscrowAddress, model.EventEscrowCreated, "")
}

// Launch funds the escrow of a moderation_passed job and moves it to
// launched, notifying the exchange oracle.
func (e *Executor) Launch(ctx context.Context, job *model.Job) error {
	if job.EscrowAddress == nil {
		return fmt.Errorf("job %s has no escrow address", job.ID)
	}

	_, err := e.client.FundEscrow(ctx, FundParams{
		ChainID:       job.ChainID,
		EscrowAddress: *job.EscrowAddress,
		Amount:        job.FundAmount,
	})
	if err != nil {
		return e.actionFailed(ctx, job, "fund", err)
	}
	metrics.EscrowActionsTotal.WithLabelValues("fund", "ok").Inc()

	ok, err := e.jobs.Transition(ctx, job.ID, model.JobStatusModerationPassed, model.JobStatusLaunched)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	return e.enqueue(ctx, job, *job.EscrowAddress, model.EventEscrowLaunched, "")
}

// Cancel cancels the escrow of a canceling job and moves it to canceled,
// notifying the exchange oracle. There is no failed edge out of canceling,
// so both error kinds leave the job for the next pass.
func (e *Executor) Cancel(ctx context.Context, job *model.Job) error {
	if job.EscrowAddress == nil {
		// Cancellation was requested before the escrow existed; nothing
		// on-chain to undo.
		ok, err := e.jobs.Transition(ctx, job.ID, model.JobStatusCanceling, model.JobStatusCanceled)
		if err != nil || !ok {
			return err
		}
		return nil
	}

	_, err := e.client.CancelEscrow(ctx, CancelParams{
		ChainID:       job.ChainID,
		EscrowAddress: *job.EscrowAddress,
	})
	if err != nil {
		metrics.EscrowActionsTotal.WithLabelValues("cancel", "error").Inc()
		return err
	}
	metrics.EscrowActionsTotal.WithLabelValues("cancel", "ok").Inc()

	ok, err := e.jobs.Transition(ctx, job.ID, model.JobStatusCanceling, model.JobStatusCanceled)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	return e.enqueue(ctx, job, *job.EscrowAddress, model.EventEscrowCanceled, "")
}

// actionFailed applies the error-kind policy: permanent failures move the
// job to failed and notify the reputation oracle; transient ones leave it
// untouched for the next cron pass.
func (e *Executor) actionFailed(ctx context.Context, job *model.Job, action string, err error) error {
	metrics.EscrowActionsTotal.WithLabelValues(action, "error").Inc()
	if !IsPermanent(err) {
		return err
	}

	reason := err.Error()
	ok, terr := e.jobs.MarkFailed(ctx, job.ID, job.Status, reason)
	if terr != nil {
		return fmt.Errorf("%s failed permanently (%s) and job could not be failed: %w", action, reason, terr)
	}
	if !ok {
		return nil
	}

	escrowAddress := ""
	if job.EscrowAddress != nil {
		escrowAddress = *job.EscrowAddress
	}
	if werr := e.enqueueTo(ctx, job, job.ReputationOracle, escrowAddress, model.EventEscrowFailed, reason); werr != nil {
		return werr
	}

	e.logger.Error().Str("job_id", job.ID).Str("action", action).Str("reason", reason).
		Msg("job failed permanently")
	return nil
}

func (e *Executor) enqueue(ctx context.Context, job *model.Job, escrowAddress, eventType, reason string) error {
	return e.enqueueTo(ctx, job, job.ExchangeOracle, escrowAddress, eventType, reason)
}

func (e *Executor) enqueueTo(ctx context.Context, job *model.Job, oracleAddress, escrowAddress, eventType, reason string) error {
	payload, err := json.Marshal(model.WebhookPayload{
		ChainID:       job.ChainID,
		EscrowAddress: escrowAddress,
		EventType:     eventType,
		JobID:         job.ID,
		Reason:        reason,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	now := time.Now()
	return e.webhooks.Enqueue(ctx, &model.Webhook{
		ID:            platform.NewID(),
		ChainID:       job.ChainID,
		EscrowAddress: escrowAddress,
		EventType:     eventType,
		OracleAddress: oracleAddress,
		Payload:       payload,
		WaitUntil:     now,
		Status:        model.WebhookStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}
