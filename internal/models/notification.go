package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Notification event types emitted by the lifecycle engine.
const (
	EventProposalReceived  = "proposal.received"
	EventProposalAccepted  = "proposal.accepted"
	EventProposalRejected  = "proposal.rejected"
	EventEscrowConfirmed   = "escrow.confirmed"
	EventJobStarted        = "job.started"
	EventJobProgress       = "job.progress"
	EventJobCompleted      = "job.completed"
	EventPaymentReleased   = "payment.released"
	EventPaymentRefunded   = "payment.refunded"
	EventJobCancelled      = "job.cancelled"
	EventPayoutFailed      = "payout.failed"
	EventFundiRated        = "fundi.rated"
	EventJobDisputed       = "job.disputed"
	EventReconcileRequired = "payment.reconciliation_required"
)

// Notification is a stored fire-and-forget message to a user.
type Notification struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	UserID    uuid.UUID       `db:"user_id" json:"user_id"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	IsRead    bool            `db:"is_read" json:"is_read"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}
