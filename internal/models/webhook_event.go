package models

import (
	"encoding/json"
	"time"
)

// Webhook event types the reconciliation handler understands. Anything
// else is acknowledged and ignored, because providers retry on non-2xx.
const (
	WebhookChargeSuccess   = "charge.success"
	WebhookTransferSuccess = "transfer.success"
	WebhookTransferFailed  = "transfer.failed"
)

// WebhookEvent is a provider callback as delivered. EventID is the
// provider's delivery id and backs the dedup table.
type WebhookEvent struct {
	EventID string          `json:"event_id"`
	Type    string          `json:"type"`
	Data    WebhookData     `json:"data"`
	Raw     json.RawMessage `json:"-"`
}

// WebhookData is the metadata common to charge and transfer events.
type WebhookData struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	JobID     string `json:"job_id"`
	Reason    string `json:"reason,omitempty"`
}

// ProcessedWebhookEvent is a row of the dedup table.
type ProcessedWebhookEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
