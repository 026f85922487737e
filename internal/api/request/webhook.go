package request

// IncomingWebhook is the event body an oracle POSTs to the webhook receiver.
// The sender is authenticated by the payload signature, not by an API key.
type IncomingWebhook struct {
	ChainID       int64  `json:"chain_id" validate:"required,min=1"`
	EscrowAddress string `json:"escrow_address" validate:"required,eth_addr"`
	EventType     string `json:"event_type" validate:"required,max=64"`
	Reason        string `json:"reason" validate:"omitempty,max=4096"`
}
