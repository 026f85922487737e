package model

import "time"

// Job status constants. These values are persisted as-is in the jobs.status
// column and appear in webhook payloads, so they form a wire contract.
const (
	JobStatusPaid                  = "paid"
	JobStatusUnderModeration       = "under_moderation"
	JobStatusModerationPassed      = "moderation_passed"
	JobStatusPossibleAbuseInReview = "possible_abuse_in_review"
	JobStatusLaunched              = "launched"
	JobStatusPartial               = "partial"
	JobStatusCompleted             = "completed"
	JobStatusFailed                = "failed"
	JobStatusToCancel              = "to_cancel"
	JobStatusCanceling             = "canceling"
	JobStatusCanceled              = "canceled"
)

// jobTransitions is the closed set of allowed status transitions. A job may
// only move forward along this graph; terminal states have no outgoing edges.
// failed is reachable from every status in which an escrow action runs, so a
// permanently failing action can dead-letter the job instead of retrying forever.
var jobTransitions = map[string][]string{
	JobStatusPaid:                  {JobStatusUnderModeration, JobStatusFailed, JobStatusToCancel},
	JobStatusUnderModeration:       {JobStatusModerationPassed, JobStatusPossibleAbuseInReview, JobStatusToCancel},
	JobStatusModerationPassed:      {JobStatusLaunched, JobStatusFailed, JobStatusToCancel},
	JobStatusPossibleAbuseInReview: {JobStatusModerationPassed, JobStatusFailed, JobStatusToCancel},
	JobStatusLaunched:              {JobStatusPartial, JobStatusCompleted, JobStatusFailed, JobStatusToCancel},
	JobStatusPartial:               {JobStatusCompleted, JobStatusFailed, JobStatusToCancel},
	JobStatusToCancel:              {JobStatusCanceling},
	JobStatusCanceling:             {JobStatusCanceled},
}

// CanTransition reports whether moving a job from one status to another is
// allowed by the lifecycle graph.
func CanTransition(from, to string) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminalJobStatus reports whether a status has no outgoing transitions.
func IsTerminalJobStatus(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}

// CancelableJobStatuses lists the statuses from which a cancellation may be
// requested (every non-terminal status except the cancel path itself).
func CancelableJobStatuses() []string {
	return []string{
		JobStatusPaid,
		JobStatusUnderModeration,
		JobStatusModerationPassed,
		JobStatusPossibleAbuseInReview,
		JobStatusLaunched,
		JobStatusPartial,
	}
}

// Job is a single escrow-backed job and its authoritative lifecycle state.
// Jobs are never physically deleted; finished ones stay in a terminal status.
type Job struct {
	ID               string     `json:"id"`
	ChainID          int64      `json:"chain_id"`
	RequesterAddress string     `json:"requester_address"`
	EscrowAddress    *string    `json:"escrow_address,omitempty"`
	Status           string     `json:"status"`
	ManifestURL      string     `json:"manifest_url"`
	ManifestHash     string     `json:"manifest_hash"`
	FundAmount       string     `json:"fund_amount"`
	ExchangeOracle   string     `json:"exchange_oracle"`
	RecordingOracle  string     `json:"recording_oracle"`
	ReputationOracle string     `json:"reputation_oracle"`
	EscrowTxHash     *string    `json:"escrow_tx_hash,omitempty"`
	FailedReason     *string    `json:"failed_reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CanceledAt       *time.Time `json:"canceled_at,omitempty"`
}
