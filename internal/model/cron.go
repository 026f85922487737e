package model

import "time"

// Cron job types. Each recurring task owns one marker row keyed by type.
const (
	CronEscrowCreate    = "escrow_create"
	CronModeration      = "moderation"
	CronEscrowLaunch    = "escrow_launch"
	CronEscrowCancel    = "escrow_cancel"
	CronWebhookDelivery = "webhook_delivery"
)

// CronJobTypes lists every marker the dispatcher knows about, used to seed
// the cron_jobs table at startup.
func CronJobTypes() []string {
	return []string{
		CronEscrowCreate,
		CronModeration,
		CronEscrowLaunch,
		CronEscrowCancel,
		CronWebhookDelivery,
	}
}

// CronJob is the advisory execution marker for one recurring task. The
// last_executed_at column doubles as a best-effort lease: a run is claimed
// by a conditional update against the previously observed value.
type CronJob struct {
	CronJobType    string    `json:"cron_job_type"`
	LastExecutedAt time.Time `json:"last_executed_at"`
}
