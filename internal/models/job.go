package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fundilink/fundi-backend/internal/pkg/apperror"
)

// Job statuses.
const (
	JobStatusPosted               = "posted"
	JobStatusApplied              = "applied"
	JobStatusPendingPaymentEscrow = "pending_payment_escrow"
	JobStatusAssigned             = "assigned"
	JobStatusInProgress           = "in_progress"
	JobStatusCompleted            = "completed"
	JobStatusCancelled            = "cancelled"
	JobStatusDisputed             = "disputed"
)

// Payment methods.
const (
	PaymentMethodMpesa = "mpesa"
	PaymentMethodCard  = "card"
	PaymentMethodCash  = "cash"
)

// Payment statuses.
const (
	PaymentStatusPending  = "pending"
	PaymentStatusEscrow   = "escrow"
	PaymentStatusReleased = "released"
	PaymentStatusRefunded = "refunded"
	PaymentStatusFailed   = "failed"
)

// Proposal statuses.
const (
	ProposalStatusPending  = "pending"
	ProposalStatusAccepted = "accepted"
	ProposalStatusRejected = "rejected"
)

// Transfer statuses recorded on the payment record by webhook reconciliation.
const (
	TransferStatusPending = "pending"
	TransferStatusSuccess = "success"
	TransferStatusFailed  = "failed"
)

// DefaultPlatformFeePercent is the commission deducted before payout.
const DefaultPlatformFeePercent int64 = 10

// Aggregate-level errors. The lifecycle engine surfaces these unchanged.
var (
	ErrDuplicateProposal        = apperror.New(apperror.ErrCodeValidation, "fundi has already submitted a proposal for this job")
	ErrJobNotAcceptingProposals = apperror.New(apperror.ErrCodeInvalidTransition, "job is not accepting proposals")
	ErrNotAwaitingEscrow        = apperror.New(apperror.ErrCodeInvalidTransition, "job is not awaiting escrow payment")
	ErrNotAssignedFundi         = apperror.New(apperror.ErrCodeForbidden, "only the assigned fundi may perform this action")
	ErrNotAJobParticipant       = apperror.New(apperror.ErrCodeForbidden, "only the customer or assigned fundi may perform this action")
	ErrNotJobOwner              = apperror.New(apperror.ErrCodeForbidden, "only the job owner may perform this action")
	ErrNotCompleted             = apperror.New(apperror.ErrCodeInvalidTransition, "job is not completed yet")
	ErrAlreadyApproved          = apperror.New(apperror.ErrCodeInvalidTransition, "completion has already been approved")
	ErrAlreadyRated             = apperror.New(apperror.ErrCodeInvalidTransition, "job has already been rated")
	ErrInvalidRating            = apperror.New(apperror.ErrCodeValidation, "rating must be between 1 and 5")
	ErrInvalidTransition        = apperror.New(apperror.ErrCodeInvalidTransition, "operation is not allowed in the current job status")
)

// Proposal is a fundi's bid on a posted job. Proposals are looked up by
// fundi id, never by position: index-based accept/reject breaks as soon as
// the list is reordered.
type Proposal struct {
	FundiID           uuid.UUID `json:"fundi_id"`
	ProposedPrice     int64     `json:"proposed_price"`
	EstimatedDuration string    `json:"estimated_duration"`
	Message           string    `json:"message"`
	Status            string    `json:"status"`
	AppliedAt         time.Time `json:"applied_at"`
}

// ProposalList is stored as a JSONB column on the job row.
type ProposalList []Proposal

func (p ProposalList) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	return json.Marshal(p)
}

func (p *ProposalList) Scan(src interface{}) error {
	return scanJSON(src, p)
}

// PaymentRecord is the embedded payment sub-record of a job. Fields for a
// phase (escrow, release, refund) are populated once that phase is reached
// and are immutable afterwards, except for corrective reconciliation by the
// webhook handler.
type PaymentRecord struct {
	Method             string `json:"method"`
	Status             string `json:"status"`
	PlatformFeePercent int64  `json:"platform_fee_percentage"`

	ChargeReference string     `json:"charge_reference,omitempty"`
	EscrowAmount    int64      `json:"escrow_amount,omitempty"`
	EscrowReference string     `json:"escrow_reference,omitempty"`
	EscrowedAt      *time.Time `json:"escrowed_at,omitempty"`

	PlatformFee       int64      `json:"platform_fee,omitempty"`
	PayoutAmount      int64      `json:"payout_amount,omitempty"`
	TransferReference string     `json:"transfer_reference,omitempty"`
	TransferStatus    string     `json:"transfer_status,omitempty"`
	TransferFailure   string     `json:"transfer_failure,omitempty"`
	ReleasedAt        *time.Time `json:"released_at,omitempty"`

	RefundAmount    int64      `json:"refund_amount,omitempty"`
	RefundReference string     `json:"refund_reference,omitempty"`
	RefundedAt      *time.Time `json:"refunded_at,omitempty"`

	// NeedsReconciliation flags an ambiguous financial state for manual
	// review. A failed transfer never silently reverts released back to
	// escrow: that risks a double payment.
	NeedsReconciliation bool `json:"needs_reconciliation,omitempty"`
}

func (p PaymentRecord) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *PaymentRecord) Scan(src interface{}) error {
	return scanJSON(src, p)
}

// WorkProgressEntry is one entry of the append-only progress log.
type WorkProgressEntry struct {
	UpdatedBy uuid.UUID `json:"updated_by"`
	Message   string    `json:"message"`
	Images    []string  `json:"images,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ProgressLog is stored as a JSONB column. Entries are only ever appended.
type ProgressLog []WorkProgressEntry

func (p ProgressLog) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	return json.Marshal(p)
}

func (p *ProgressLog) Scan(src interface{}) error {
	return scanJSON(src, p)
}

// Completion records the fundi's completion claim and the customer's approval.
type Completion struct {
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CompletionImages []string   `json:"completion_images,omitempty"`
	CompletionNotes  string     `json:"completion_notes,omitempty"`
	CustomerApproved bool       `json:"customer_approved"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`
	CustomerRating   *int       `json:"customer_rating,omitempty"`
	RatedAt          *time.Time `json:"rated_at,omitempty"`
	DisputedBy       *uuid.UUID `json:"disputed_by,omitempty"`
	DisputeReason    string     `json:"dispute_reason,omitempty"`
	DisputedAt       *time.Time `json:"disputed_at,omitempty"`
}

func (c Completion) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *Completion) Scan(src interface{}) error {
	return scanJSON(src, c)
}

func scanJSON(src, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("models: cannot scan %T into JSON field", src)
	}
}

// Job is the central aggregate: it exclusively owns its embedded proposals,
// payment record, progress log and completion record. All mutation goes
// through the narrow methods below so illegal partial states cannot occur.
type Job struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	CustomerID  uuid.UUID  `db:"customer_id" json:"customer_id"`
	FundiID     *uuid.UUID `db:"fundi_id" json:"fundi_id,omitempty"`
	Title       string     `db:"title" json:"title"`
	Description string     `db:"description" json:"description"`
	Category    string     `db:"category" json:"category"`
	Location    string     `db:"location" json:"location"`
	BudgetMin   *int64     `db:"budget_min" json:"budget_min,omitempty"`
	BudgetMax   *int64     `db:"budget_max" json:"budget_max,omitempty"`
	Status      string     `db:"status" json:"status"`
	AgreedPrice *int64     `db:"agreed_price" json:"agreed_price,omitempty"`
	ActualPrice *int64     `db:"actual_price" json:"actual_price,omitempty"`

	Proposals    ProposalList  `db:"proposals" json:"proposals"`
	Payment      PaymentRecord `db:"payment" json:"payment"`
	WorkProgress ProgressLog   `db:"work_progress" json:"work_progress"`
	Completion   Completion    `db:"completion" json:"completion"`

	// Version guards every save with an optimistic-concurrency check.
	Version   int64     `db:"version" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// NewJob creates a job in the posted status with a pending payment record.
func NewJob(customerID uuid.UUID, title, description, category, location, paymentMethod string, budgetMin, budgetMax *int64) *Job {
	return &Job{
		ID:          uuid.New(),
		CustomerID:  customerID,
		Title:       title,
		Description: description,
		Category:    category,
		Location:    location,
		BudgetMin:   budgetMin,
		BudgetMax:   budgetMax,
		Status:      JobStatusPosted,
		Proposals:   ProposalList{},
		Payment: PaymentRecord{
			Method:             paymentMethod,
			Status:             PaymentStatusPending,
			PlatformFeePercent: DefaultPlatformFeePercent,
		},
		WorkProgress: ProgressLog{},
	}
}

// ProposalByFundi finds a proposal by the submitting fundi's id.
func (j *Job) ProposalByFundi(fundiID uuid.UUID) *Proposal {
	for i := range j.Proposals {
		if j.Proposals[i].FundiID == fundiID {
			return &j.Proposals[i]
		}
	}
	return nil
}

// AcceptedProposal returns the single accepted proposal, if any.
func (j *Job) AcceptedProposal() *Proposal {
	for i := range j.Proposals {
		if j.Proposals[i].Status == ProposalStatusAccepted {
			return &j.Proposals[i]
		}
	}
	return nil
}

// IsParticipant reports whether the actor is the customer or assigned fundi.
func (j *Job) IsParticipant(actorID uuid.UUID) bool {
	if j.CustomerID == actorID {
		return true
	}
	return j.FundiID != nil && *j.FundiID == actorID
}

// IsCashJob reports whether the job settles in cash outside the platform.
func (j *Job) IsCashJob() bool {
	return j.Payment.Method == PaymentMethodCash
}

// AddProposal appends a fundi's bid. At most one proposal per fundi per job.
func (j *Job) AddProposal(fundiID uuid.UUID, price int64, duration, message string) error {
	if j.Status != JobStatusPosted && j.Status != JobStatusApplied {
		return ErrJobNotAcceptingProposals
	}
	if fundiID == j.CustomerID {
		return apperror.New(apperror.ErrCodeValidation, "job owner cannot submit a proposal on their own job")
	}
	if j.ProposalByFundi(fundiID) != nil {
		return ErrDuplicateProposal
	}

	j.Proposals = append(j.Proposals, Proposal{
		FundiID:           fundiID,
		ProposedPrice:     price,
		EstimatedDuration: duration,
		Message:           message,
		Status:            ProposalStatusPending,
		AppliedAt:         time.Now().UTC(),
	})
	j.Status = JobStatusApplied
	return nil
}

// AcceptProposal marks exactly one proposal accepted and all others
// rejected, assigns the fundi, and advances the status: cash jobs skip
// escrow and go straight to assigned, everything else awaits escrow
// confirmation from the payment gateway.
func (j *Job) AcceptProposal(fundiID uuid.UUID) error {
	if j.Status != JobStatusApplied {
		return ErrInvalidTransition
	}

	accepted := j.ProposalByFundi(fundiID)
	if accepted == nil {
		return apperror.ErrProposalNotFound
	}

	for i := range j.Proposals {
		if j.Proposals[i].FundiID == fundiID {
			j.Proposals[i].Status = ProposalStatusAccepted
		} else {
			j.Proposals[i].Status = ProposalStatusRejected
		}
	}

	fundi := accepted.FundiID
	price := accepted.ProposedPrice
	j.FundiID = &fundi
	j.AgreedPrice = &price

	if j.IsCashJob() {
		// Cash fast path: no money moves through the platform, but escrow
		// fields still get synthetic markers for audit consistency.
		now := time.Now().UTC()
		j.Payment.Status = PaymentStatusEscrow
		j.Payment.EscrowAmount = price
		j.Payment.EscrowReference = CashMarker(j.ID)
		j.Payment.EscrowedAt = &now
		j.Status = JobStatusAssigned
	} else {
		j.Status = JobStatusPendingPaymentEscrow
	}
	return nil
}

// RecordEscrow confirms that the customer's charge settled and the funds
// are held by the platform.
func (j *Job) RecordEscrow(amount int64, providerTxnID string, fee int64) error {
	if j.Status != JobStatusPendingPaymentEscrow {
		return ErrNotAwaitingEscrow
	}

	now := time.Now().UTC()
	j.Payment.Status = PaymentStatusEscrow
	j.Payment.EscrowAmount = amount
	j.Payment.EscrowReference = providerTxnID
	j.Payment.EscrowedAt = &now
	j.Payment.PlatformFee = fee
	j.Status = JobStatusAssigned
	return nil
}

// StartWork moves an assigned job into progress. Only the assigned fundi
// may start.
func (j *Job) StartWork(actorID uuid.UUID) error {
	if j.FundiID == nil || *j.FundiID != actorID {
		return ErrNotAssignedFundi
	}
	if j.Status != JobStatusAssigned {
		return ErrInvalidTransition
	}

	j.WorkProgress = append(j.WorkProgress, WorkProgressEntry{
		UpdatedBy: actorID,
		Message:   "work started",
		Stage:     "started",
		Timestamp: time.Now().UTC(),
	})
	j.Status = JobStatusInProgress
	return nil
}

// AppendProgress appends to the work log. The log is append-only: entries
// are never mutated or deleted.
func (j *Job) AppendProgress(actorID uuid.UUID, entry WorkProgressEntry) error {
	if !j.IsParticipant(actorID) {
		return ErrNotAJobParticipant
	}
	// Informational notes are also allowed while merely assigned.
	if j.Status != JobStatusInProgress && j.Status != JobStatusAssigned {
		return ErrInvalidTransition
	}

	entry.UpdatedBy = actorID
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	j.WorkProgress = append(j.WorkProgress, entry)
	return nil
}

// CompleteWork records the fundi's completion claim. The actual price may
// differ from the agreed price (extra materials, reduced scope).
func (j *Job) CompleteWork(actorID uuid.UUID, images []string, notes string, actualPrice *int64) error {
	if j.FundiID == nil || *j.FundiID != actorID {
		return ErrNotAssignedFundi
	}
	if j.Status != JobStatusInProgress {
		return ErrInvalidTransition
	}

	now := time.Now().UTC()
	j.Completion.CompletedAt = &now
	j.Completion.CompletionImages = images
	j.Completion.CompletionNotes = notes
	if actualPrice != nil {
		j.ActualPrice = actualPrice
	} else if j.AgreedPrice != nil {
		price := *j.AgreedPrice
		j.ActualPrice = &price
	}
	j.Status = JobStatusCompleted
	return nil
}

// ApproveCompletion flips customerApproved false -> true exactly once. It
// does not move money itself: the lifecycle engine triggers the release.
func (j *Job) ApproveCompletion(actorID uuid.UUID) error {
	if j.CustomerID != actorID {
		return ErrNotJobOwner
	}
	if j.Status != JobStatusCompleted {
		return ErrNotCompleted
	}
	if j.Completion.CustomerApproved {
		return ErrAlreadyApproved
	}

	now := time.Now().UTC()
	j.Completion.CustomerApproved = true
	j.Completion.ApprovedAt = &now
	return nil
}

// RaiseDispute moves a completed job to disputed. Either participant may
// dispute until the customer approves; escrowed funds stay put until an
// administrator resolves the dispute.
func (j *Job) RaiseDispute(actorID uuid.UUID, reason string) error {
	if !j.IsParticipant(actorID) {
		return ErrNotAJobParticipant
	}
	if j.Status != JobStatusCompleted {
		return ErrNotCompleted
	}
	if j.Completion.CustomerApproved {
		return ErrAlreadyApproved
	}

	now := time.Now().UTC()
	actor := actorID
	j.Status = JobStatusDisputed
	j.Completion.DisputedBy = &actor
	j.Completion.DisputeReason = reason
	j.Completion.DisputedAt = &now
	return nil
}

// RecordRating stores the customer's rating of the fundi's work. Allowed
// exactly once, after the completion has been approved.
func (j *Job) RecordRating(actorID uuid.UUID, stars int) error {
	if j.CustomerID != actorID {
		return ErrNotJobOwner
	}
	if !j.Completion.CustomerApproved {
		return ErrNotCompleted
	}
	if j.Completion.CustomerRating != nil {
		return ErrAlreadyRated
	}
	if stars < 1 || stars > 5 {
		return ErrInvalidRating
	}

	now := time.Now().UTC()
	j.Completion.CustomerRating = &stars
	j.Completion.RatedAt = &now
	return nil
}

// MarkReleased records a successful payout. Kept separate from
// ApproveCompletion so the engine can commit approval before calling the
// gateway and retry the release independently.
func (j *Job) MarkReleased(transferReference string, payoutAmount, platformFee int64) error {
	if j.Payment.Status == PaymentStatusReleased {
		return ErrAlreadyApproved
	}
	if j.Payment.Status != PaymentStatusEscrow {
		return ErrInvalidTransition
	}

	now := time.Now().UTC()
	j.Payment.Status = PaymentStatusReleased
	j.Payment.TransferReference = transferReference
	j.Payment.TransferStatus = TransferStatusSuccess
	j.Payment.PayoutAmount = payoutAmount
	j.Payment.PlatformFee = platformFee
	j.Payment.ReleasedAt = &now
	return nil
}

// MarkRefunded records a refund back to the customer.
func (j *Job) MarkRefunded(refundReference string, amount int64) error {
	if j.Payment.Status != PaymentStatusEscrow {
		return ErrInvalidTransition
	}

	now := time.Now().UTC()
	j.Payment.Status = PaymentStatusRefunded
	j.Payment.RefundReference = refundReference
	j.Payment.RefundAmount = amount
	j.Payment.RefundedAt = &now
	return nil
}

// Cancel moves the job to cancelled. Allowed from posted/applied (hard
// cancel), from assigned/in_progress (soft cancel), and from disputed
// (admin resolution); a completed job can no longer be cancelled. Whether
// a refund is due is the engine's concern.
func (j *Job) Cancel() error {
	switch j.Status {
	case JobStatusPosted, JobStatusApplied, JobStatusAssigned, JobStatusInProgress, JobStatusDisputed:
		j.Status = JobStatusCancelled
		return nil
	default:
		return ErrInvalidTransition
	}
}

// CashMarker is the synthetic reference used in place of provider
// transaction ids on cash jobs.
func CashMarker(jobID uuid.UUID) string {
	return "CASH-" + jobID.String()
}
