package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/arkline/escrowd/internal/core"
	"github.com/arkline/escrowd/internal/escrow"
	"github.com/arkline/escrowd/internal/model"
	"github.com/arkline/escrowd/internal/moderation"
	"github.com/arkline/escrowd/internal/platform"
	"github.com/arkline/escrowd/internal/webhook"
)

const taskBatchSize = 20

// TaskSet wires the lifecycle services into the dispatcher's periodic tasks.
type TaskSet struct {
	jobs       *core.JobService
	webhooks   *core.WebhookService
	executor   *escrow.Executor
	moderation *moderation.Client
	sender     *webhook.Sender
	debounce   time.Duration
	logger     zerolog.Logger
}

func NewTaskSet(
	jobs *core.JobService,
	webhooks *core.WebhookService,
	executor *escrow.Executor,
	mod *moderation.Client,
	sender *webhook.Sender,
	debounce time.Duration,
	logger zerolog.Logger,
) *TaskSet {
	return &TaskSet{
		jobs:       jobs,
		webhooks:   webhooks,
		executor:   executor,
		moderation: mod,
		sender:     sender,
		debounce:   debounce,
		logger:     logger.With().Str("component", "tasks").Logger(),
	}
}

// All returns the full task set. Escrow lifecycle tasks share one interval,
// webhook delivery runs on its own, usually tighter, interval.
func (t *TaskSet) All(escrowInterval, webhookInterval time.Duration) []Task {
	return []Task{
		{Type: model.CronEscrowCreate, Interval: escrowInterval, Run: t.runEscrowCreate},
		{Type: model.CronModeration, Interval: escrowInterval, Run: t.runModeration},
		{Type: model.CronEscrowLaunch, Interval: escrowInterval, Run: t.runEscrowLaunch},
		{Type: model.CronEscrowCancel, Interval: escrowInterval, Run: t.runEscrowCancel},
		{Type: model.CronWebhookDelivery, Interval: webhookInterval, Run: t.runWebhookDelivery},
	}
}

// runEscrowCreate creates on-chain escrows for paid jobs. The debounce keeps
// a just-created job out of the batch until its payment has settled.
func (t *TaskSet) runEscrowCreate(ctx context.Context) error {
	jobs, err := t.jobs.GetActionable(ctx, model.JobStatusPaid, t.debounce, taskBatchSize)
	if err != nil {
		return err
	}
	for i := range jobs {
		if err := t.executor.Create(ctx, &jobs[i]); err != nil {
			t.logger.Warn().Err(err).Str("job_id", jobs[i].ID).Msg("escrow create deferred")
		}
	}
	return nil
}

// runModeration sends jobs under moderation through content review and
// routes them on the verdict.
func (t *TaskSet) runModeration(ctx context.Context) error {
	jobs, err := t.jobs.GetActionable(ctx, model.JobStatusUnderModeration, 0, taskBatchSize)
	if err != nil {
		return err
	}
	for i := range jobs {
		if err := t.moderateOne(ctx, &jobs[i]); err != nil {
			t.logger.Warn().Err(err).Str("job_id", jobs[i].ID).Msg("moderation deferred")
		}
	}
	return nil
}

func (t *TaskSet) moderateOne(ctx context.Context, job *model.Job) error {
	verdict, reason, err := t.moderation.Review(ctx, job.ID, job.ManifestURL)
	if err != nil {
		return err
	}

	switch verdict {
	case moderation.VerdictPassed:
		_, err := t.jobs.Transition(ctx, job.ID, model.JobStatusUnderModeration, model.JobStatusModerationPassed)
		return err
	case moderation.VerdictPossibleAbuse:
		ok, err := t.jobs.Transition(ctx, job.ID, model.JobStatusUnderModeration, model.JobStatusPossibleAbuseInReview)
		if err != nil || !ok {
			return err
		}
		return t.enqueueAbuseReport(ctx, job, reason)
	default:
		return fmt.Errorf("unhandled moderation verdict %q for job %s", verdict, job.ID)
	}
}

// enqueueAbuseReport notifies the reputation oracle that a job was flagged
// during moderation.
func (t *TaskSet) enqueueAbuseReport(ctx context.Context, job *model.Job, reason string) error {
	escrowAddress := ""
	if job.EscrowAddress != nil {
		escrowAddress = *job.EscrowAddress
	}
	payload, err := json.Marshal(model.WebhookPayload{
		ChainID:       job.ChainID,
		EscrowAddress: escrowAddress,
		EventType:     model.EventAbuseReported,
		JobID:         job.ID,
		Reason:        reason,
	})
	if err != nil {
		return fmt.Errorf("marshal abuse payload: %w", err)
	}

	now := time.Now()
	return t.webhooks.Enqueue(ctx, &model.Webhook{
		ID:            platform.NewID(),
		ChainID:       job.ChainID,
		EscrowAddress: escrowAddress,
		EventType:     model.EventAbuseReported,
		OracleAddress: job.ReputationOracle,
		Payload:       payload,
		WaitUntil:     now,
		Status:        model.WebhookStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}

// runEscrowLaunch funds the escrows of jobs that passed moderation.
func (t *TaskSet) runEscrowLaunch(ctx context.Context) error {
	jobs, err := t.jobs.GetActionable(ctx, model.JobStatusModerationPassed, 0, taskBatchSize)
	if err != nil {
		return err
	}
	for i := range jobs {
		if err := t.executor.Launch(ctx, &jobs[i]); err != nil {
			t.logger.Warn().Err(err).Str("job_id", jobs[i].ID).Msg("escrow launch deferred")
		}
	}
	return nil
}

// runEscrowCancel moves cancellation requests to canceling and then settles
// canceling jobs on chain. Jobs stuck in canceling from an earlier crashed
// pass are picked up again here.
func (t *TaskSet) runEscrowCancel(ctx context.Context) error {
	requested, err := t.jobs.GetActionable(ctx, model.JobStatusToCancel, 0, taskBatchSize)
	if err != nil {
		return err
	}
	for i := range requested {
		if _, err := t.jobs.Transition(ctx, requested[i].ID, model.JobStatusToCancel, model.JobStatusCanceling); err != nil {
			t.logger.Warn().Err(err).Str("job_id", requested[i].ID).Msg("cancel claim deferred")
		}
	}

	canceling, err := t.jobs.GetActionable(ctx, model.JobStatusCanceling, 0, taskBatchSize)
	if err != nil {
		return err
	}
	for i := range canceling {
		if err := t.executor.Cancel(ctx, &canceling[i]); err != nil {
			t.logger.Warn().Err(err).Str("job_id", canceling[i].ID).Msg("escrow cancel deferred")
		}
	}
	return nil
}

func (t *TaskSet) runWebhookDelivery(ctx context.Context) error {
	return t.sender.ProcessPending(ctx, time.Now())
}
