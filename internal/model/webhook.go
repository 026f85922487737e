package model

import (
	"encoding/json"
	"time"
)

// Webhook status constants, persisted in webhooks.status.
const (
	WebhookStatusPending   = "pending"
	WebhookStatusCompleted = "completed"
	WebhookStatusFailed    = "failed"
)

// Webhook event types. Outbound events are produced by the dispatcher;
// inbound events arrive on the webhook receiver endpoint from oracles.
const (
	EventEscrowCreated   = "escrow_created"
	EventEscrowLaunched  = "escrow_launched"
	EventEscrowCanceled  = "escrow_canceled"
	EventEscrowCompleted = "escrow_completed"
	EventEscrowPartial   = "escrow_partial"
	EventEscrowFailed    = "escrow_failed"
	EventAbuseReported   = "abuse_reported"
)

// Webhook is one queued outbound notification with its retry bookkeeping.
type Webhook struct {
	ID            string          `json:"id"`
	ChainID       int64           `json:"chain_id"`
	EscrowAddress string          `json:"escrow_address"`
	EventType     string          `json:"event_type"`
	OracleAddress string          `json:"oracle_address"`
	Payload       json.RawMessage `json:"payload"`
	RetriesCount  int             `json:"retries_count"`
	WaitUntil     time.Time       `json:"wait_until"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// WebhookPayload is the JSON body POSTed to an oracle's webhook URL.
type WebhookPayload struct {
	ChainID       int64  `json:"chain_id"`
	EscrowAddress string `json:"escrow_address"`
	EventType     string `json:"event_type"`
	JobID         string `json:"job_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}
