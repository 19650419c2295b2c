package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fundilink/fundi-backend/internal/goroutine"
	"github.com/fundilink/fundi-backend/internal/logger"
	"github.com/fundilink/fundi-backend/internal/models"
	"github.com/fundilink/fundi-backend/internal/payments"
	"github.com/fundilink/fundi-backend/internal/pkg/apperror"
	"github.com/fundilink/fundi-backend/internal/repository"
	"github.com/fundilink/fundi-backend/internal/validation"
)

// JobRepository describes the lifecycle engine's view of the job store.
// Save applies the whole aggregate atomically, guarded by the version the
// engine read; a lost race returns repository.ErrVersionConflict.
type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Save(ctx context.Context, job *models.Job) error
	Delete(ctx context.Context, id, customerID uuid.UUID) error
	List(ctx context.Context, params repository.JobListParams) (*repository.JobListResult, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.Job, error)
	ListByFundi(ctx context.Context, fundiID uuid.UUID) ([]models.Job, error)
	ListNeedingReconciliation(ctx context.Context) ([]models.Job, error)
}

// UserDirectory is the user collaborator contract. This core never reads
// or writes auth fields directly.
type UserDirectory interface {
	GetContactInfo(ctx context.Context, userID uuid.UUID) (string, error)
	GetPayoutProfile(ctx context.Context, userID uuid.UUID) (*models.PayoutProfile, error)
	IncrementCompletedJobs(ctx context.Context, userID uuid.UUID) error
	IsActiveAccount(ctx context.Context, userID uuid.UUID) (bool, error)
	GetRating(ctx context.Context, userID uuid.UUID) (float64, int, error)
	UpdateRating(ctx context.Context, userID uuid.UUID, rating float64, count int) error
}

// RecipientResolver resolves a payee into a provider routing code.
type RecipientResolver interface {
	Resolve(ctx context.Context, payeeContact, payeeName string) (string, error)
}

// Notifier delivers fire-and-forget notifications. Failures are logged
// inside the implementation and never propagate.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, event string, data interface{})
}

// JobService is the lifecycle engine: it orchestrates every job mutation
// and keeps money movement consistent with job state. Gateway calls are
// never made while holding uncommitted job state; the engine commits an
// intermediate status first so a crash mid-call leaves the job resumable.
type JobService struct {
	jobs       JobRepository
	users      UserDirectory
	gateway    payments.Provider
	recipients RecipientResolver
	notifier   Notifier

	feePercent     int64
	gatewayTimeout time.Duration
}

// NewJobService creates the lifecycle engine.
func NewJobService(jobs JobRepository, users UserDirectory, gateway payments.Provider, recipients RecipientResolver, feePercent int64, gatewayTimeout time.Duration) *JobService {
	return &JobService{
		jobs:           jobs,
		users:          users,
		gateway:        gateway,
		recipients:     recipients,
		feePercent:     feePercent,
		gatewayTimeout: gatewayTimeout,
	}
}

// SetNotifier attaches the notification collaborator.
func (s *JobService) SetNotifier(notifier Notifier) {
	s.notifier = notifier
}

// CreateJobInput describes a job posting request. Fields are explicit and
// allow-listed; unknown request fields never reach the aggregate.
type CreateJobInput struct {
	CustomerID    uuid.UUID
	Title         string
	Description   string
	Category      string
	Location      string
	PaymentMethod string
	BudgetMin     *int64
	BudgetMax     *int64
}

// ProposalInput describes a fundi's bid.
type ProposalInput struct {
	JobID             uuid.UUID
	FundiID           uuid.UUID
	ProposedPrice     int64
	EstimatedDuration string
	Message           string
}

// ProgressInput describes one work-progress entry.
type ProgressInput struct {
	Message string
	Images  []string
	Stage   string
}

// CompletionInput describes the fundi's completion claim.
type CompletionInput struct {
	Images      []string
	Notes       string
	ActualPrice *int64
}

// CreateJob posts a new job.
func (s *JobService) CreateJob(ctx context.Context, in CreateJobInput) (*models.Job, error) {
	if err := validation.ValidateLength("title", in.Title, validation.MinJobTitleLength, validation.MaxJobTitleLength); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	if err := validation.ValidateLength("description", in.Description, validation.MinJobDescriptionLength, validation.MaxJobDescriptionLength); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	if err := validation.ValidateBudgetRange(in.BudgetMin, in.BudgetMax); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}

	switch in.PaymentMethod {
	case models.PaymentMethodMpesa, models.PaymentMethodCard, models.PaymentMethodCash:
	case "":
		in.PaymentMethod = models.PaymentMethodMpesa
	default:
		return nil, apperror.New(apperror.ErrCodeValidation, "payment method must be one of mpesa, card, cash")
	}

	job := models.NewJob(in.CustomerID, in.Title, in.Description, in.Category, in.Location, in.PaymentMethod, in.BudgetMin, in.BudgetMax)
	job.Payment.PlatformFeePercent = s.feePercent

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "failed to create job")
	}
	return job, nil
}

// GetJob returns one job.
func (s *JobService) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return job, nil
}

// ListJobs returns a filtered page of jobs.
func (s *JobService) ListJobs(ctx context.Context, params repository.JobListParams) (*repository.JobListResult, error) {
	if params.Limit <= 0 || params.Limit > 100 {
		params.Limit = 20
	}
	if params.Offset < 0 {
		params.Offset = 0
	}
	return s.jobs.List(ctx, params)
}

// MyJobs returns the caller's jobs as customer and as fundi.
func (s *JobService) MyJobs(ctx context.Context, userID uuid.UUID) ([]models.Job, []models.Job, error) {
	asCustomer, err := s.jobs.ListByCustomer(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	asFundi, err := s.jobs.ListByFundi(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return asCustomer, asFundi, nil
}

// DeleteJob hard-deletes a posted job. Jobs past posted are cancelled
// through CancelJob instead, never deleted.
func (s *JobService) DeleteJob(ctx context.Context, jobID, customerID uuid.UUID) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return mapRepoError(err)
	}
	if job.CustomerID != customerID {
		return models.ErrNotJobOwner
	}
	if err := s.jobs.Delete(ctx, jobID, customerID); err != nil {
		if errors.Is(err, repository.ErrJobNotDeletable) {
			return apperror.New(apperror.ErrCodeInvalidTransition, "only posted jobs can be deleted")
		}
		return err
	}
	return nil
}

// SubmitProposal appends a fundi's bid and moves a posted job to applied.
func (s *JobService) SubmitProposal(ctx context.Context, in ProposalInput) (*models.Job, error) {
	if err := validation.ValidateAmount("proposed_price", in.ProposedPrice); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	if err := validation.ValidateLength("message", in.Message, 1, validation.MaxProposalTextLength); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}

	active, err := s.users.IsActiveAccount(ctx, in.FundiID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if !active {
		return nil, apperror.New(apperror.ErrCodeForbidden, "account is deactivated")
	}

	job, err := s.jobs.GetByID(ctx, in.JobID)
	if err != nil {
		return nil, mapRepoError(err)
	}

	if err := job.AddProposal(in.FundiID, in.ProposedPrice, in.EstimatedDuration, in.Message); err != nil {
		return nil, err
	}
	if err := s.jobs.Save(ctx, job); err != nil {
		return nil, mapRepoError(err)
	}

	s.notify(job.CustomerID, models.EventProposalReceived, jobEventPayload(job))
	return job, nil
}

// AcceptProposal accepts one fundi's bid, rejecting the rest. It is the
// only operation allowed to move applied to pending_payment_escrow; any
// concurrent second accept loses the versioned save and gets a conflict.
// For non-cash jobs the escrow charge is initiated only after the
// intermediate status is committed.
func (s *JobService) AcceptProposal(ctx context.Context, jobID, callerID, fundiID uuid.UUID) (*models.Job, *payments.ChargeIntent, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, nil, mapRepoError(err)
	}
	if job.CustomerID != callerID {
		return nil, nil, models.ErrNotJobOwner
	}

	if err := job.AcceptProposal(fundiID); err != nil {
		return nil, nil, err
	}
	if err := s.jobs.Save(ctx, job); err != nil {
		return nil, nil, mapRepoError(err)
	}

	accepted := job.AcceptedProposal()
	s.notify(accepted.FundiID, models.EventProposalAccepted, jobEventPayload(job))
	for _, p := range job.Proposals {
		if p.Status == models.ProposalStatusRejected {
			s.notify(p.FundiID, models.EventProposalRejected, jobEventPayload(job))
		}
	}

	if job.IsCashJob() {
		return job, nil, nil
	}

	intent, err := s.initiateEscrowCharge(ctx, job)
	if err != nil {
		// The job is already committed as pending_payment_escrow; the
		// charge is re-initiated on the next verify call.
		return job, nil, err
	}
	return job, intent, nil
}

// initiateEscrowCharge calls the gateway for a job already committed as
// pending_payment_escrow and persists the returned charge reference.
func (s *JobService) initiateEscrowCharge(ctx context.Context, job *models.Job) (*payments.ChargeIntent, error) {
	contact, err := s.users.GetContactInfo(ctx, job.CustomerID)
	if err != nil {
		return nil, mapRepoError(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	intent, err := s.gateway.InitiateCharge(callCtx, *job.AgreedPrice, contact, job.ID)
	if err != nil {
		return nil, mapGatewayError(err, "failed to initiate escrow charge")
	}

	// Persist the reference so the webhook handler can locate the job.
	// Conflicts here retry persistence; the charge is never re-initiated.
	saved, err := s.applyWithRetry(ctx, job.ID, func(j *models.Job) error {
		if j.Status != models.JobStatusPendingPaymentEscrow {
			return models.ErrNotAwaitingEscrow
		}
		j.Payment.ChargeReference = intent.Reference
		return nil
	})
	if err != nil {
		return nil, err
	}
	*job = *saved
	return intent, nil
}

// VerifyPayment confirms the escrow charge for a job awaiting payment. If
// no charge was recorded yet (a previous initiate failed or crashed), a
// fresh charge is initiated instead, and the caller retries verification
// after the payer authorizes it.
func (s *JobService) VerifyPayment(ctx context.Context, jobID, callerID uuid.UUID) (*models.Job, *payments.ChargeIntent, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, nil, mapRepoError(err)
	}
	if job.CustomerID != callerID {
		return nil, nil, models.ErrNotJobOwner
	}
	if job.Status != models.JobStatusPendingPaymentEscrow {
		return nil, nil, models.ErrNotAwaitingEscrow
	}

	if job.Payment.ChargeReference == "" {
		intent, err := s.initiateEscrowCharge(ctx, job)
		if err != nil {
			return nil, nil, err
		}
		return job, intent, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	result, err := s.gateway.VerifyCharge(callCtx, job.Payment.ChargeReference)
	if err != nil {
		return nil, nil, mapGatewayError(err, "failed to verify escrow charge")
	}

	switch result.Status {
	case payments.ChargeStatusSuccess:
		fee := payments.ComputeFeeSplit(result.Amount, job.Payment.PlatformFeePercent).PlatformFee
		if err := job.RecordEscrow(result.Amount, job.Payment.ChargeReference, fee); err != nil {
			return nil, nil, err
		}
		if err := s.jobs.Save(ctx, job); err != nil {
			return nil, nil, mapRepoError(err)
		}
		s.notify(job.CustomerID, models.EventEscrowConfirmed, jobEventPayload(job))
		if job.FundiID != nil {
			s.notify(*job.FundiID, models.EventEscrowConfirmed, jobEventPayload(job))
		}
		return job, nil, nil

	case payments.ChargeStatusPending:
		return nil, nil, apperror.Provider(nil, "charge has not settled yet, retry verification", true)

	default: // failed
		// Clear the reference so the next verify initiates a new charge.
		saved, err := s.applyWithRetry(ctx, job.ID, func(j *models.Job) error {
			if j.Status != models.JobStatusPendingPaymentEscrow {
				return models.ErrNotAwaitingEscrow
			}
			j.Payment.ChargeReference = ""
			j.Payment.Status = models.PaymentStatusFailed
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
		*job = *saved
		return nil, nil, apperror.Provider(nil, "escrow charge failed, initiate a new payment", false)
	}
}

// StartJob moves an assigned job into progress.
func (s *JobService) StartJob(ctx context.Context, jobID, callerID uuid.UUID) (*models.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if err := job.StartWork(callerID); err != nil {
		return nil, err
	}
	if err := s.jobs.Save(ctx, job); err != nil {
		return nil, mapRepoError(err)
	}

	s.notify(job.CustomerID, models.EventJobStarted, jobEventPayload(job))
	return job, nil
}

// AddProgress appends a work-progress entry.
func (s *JobService) AddProgress(ctx context.Context, jobID, callerID uuid.UUID, in ProgressInput) (*models.Job, error) {
	if err := validation.ValidateLength("message", in.Message, 1, validation.MaxProgressTextLength); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, mapRepoError(err)
	}

	entry := models.WorkProgressEntry{
		Message: in.Message,
		Images:  in.Images,
		Stage:   in.Stage,
	}
	if err := job.AppendProgress(callerID, entry); err != nil {
		return nil, err
	}
	if err := s.jobs.Save(ctx, job); err != nil {
		return nil, mapRepoError(err)
	}

	// Tell the other participant, not the author.
	if callerID == job.CustomerID && job.FundiID != nil {
		s.notify(*job.FundiID, models.EventJobProgress, jobEventPayload(job))
	} else {
		s.notify(job.CustomerID, models.EventJobProgress, jobEventPayload(job))
	}
	return job, nil
}

// CompleteJob records the fundi's completion claim.
func (s *JobService) CompleteJob(ctx context.Context, jobID, callerID uuid.UUID, in CompletionInput) (*models.Job, error) {
	if in.ActualPrice != nil {
		if err := validation.ValidateAmount("actual_price", *in.ActualPrice); err != nil {
			return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
		}
	}

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if err := job.CompleteWork(callerID, in.Images, in.Notes, in.ActualPrice); err != nil {
		return nil, err
	}
	if err := s.jobs.Save(ctx, job); err != nil {
		return nil, mapRepoError(err)
	}

	s.notify(job.CustomerID, models.EventJobCompleted, jobEventPayload(job))
	return job, nil
}

// ApproveCompletion records the customer's approval, then releases the
// escrowed funds. Approval is committed before any gateway call and is
// irreversible; a failed payout leaves the payment in escrow and is
// retried through RetryPayout.
func (s *JobService) ApproveCompletion(ctx context.Context, jobID, callerID uuid.UUID) (*models.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if err := job.ApproveCompletion(callerID); err != nil {
		return nil, err
	}
	if err := s.jobs.Save(ctx, job); err != nil {
		return nil, mapRepoError(err)
	}

	if err := s.releaseFunds(ctx, job); err != nil {
		return job, err
	}
	return job, nil
}

// RetryPayout re-drives the release of an approved job whose payout
// previously failed. Admin operation.
func (s *JobService) RetryPayout(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if !job.Completion.CustomerApproved {
		return nil, models.ErrNotCompleted
	}
	if job.Payment.Status == models.PaymentStatusReleased {
		return nil, models.ErrAlreadyApproved
	}
	if job.Payment.NeedsReconciliation {
		return nil, apperror.New(apperror.ErrCodeReconciliationRequired,
			"payout outcome is unknown, reconcile with the provider before retrying")
	}

	if err := s.releaseFunds(ctx, job); err != nil {
		return job, err
	}
	return job, nil
}

// releaseFunds pays the fundi for an approved job. The payout executes
// at most once: payment.status == released gates re-entry, and a payout
// that succeeded but failed to persist retries only the persistence.
func (s *JobService) releaseFunds(ctx context.Context, job *models.Job) error {
	if job.Payment.Status == models.PaymentStatusReleased {
		return models.ErrAlreadyApproved
	}
	if job.Payment.Status != models.PaymentStatusEscrow {
		return models.ErrInvalidTransition
	}
	if job.Payment.NeedsReconciliation {
		return apperror.New(apperror.ErrCodeReconciliationRequired,
			"payment outcome is unknown, reconcile with the provider before releasing")
	}
	if job.FundiID == nil || job.ActualPrice == nil {
		return models.ErrInvalidTransition
	}

	fundiID := *job.FundiID
	split := payments.ComputeFeeSplit(*job.ActualPrice, job.Payment.PlatformFeePercent)

	var transferRef string
	if job.IsCashJob() {
		// Cash settles outside the platform; record a synthetic marker so
		// the audit trail has the same shape.
		transferRef = models.CashMarker(job.ID)
	} else {
		profile, err := s.users.GetPayoutProfile(ctx, fundiID)
		if err != nil {
			return mapRepoError(err)
		}

		callCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
		recipientCode, err := s.recipients.Resolve(callCtx, profile.PayoutPhone, profile.PayoutName)
		cancel()
		if err != nil {
			s.notify(job.CustomerID, models.EventPayoutFailed, jobEventPayload(job))
			return mapGatewayError(err, "failed to resolve payout recipient")
		}

		callCtx, cancel = context.WithTimeout(ctx, s.gatewayTimeout)
		transfer, err := s.gateway.Payout(callCtx, split.PayeeAmount, recipientCode, job.ID)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				// Outcome unknown. Retrying blindly could pay twice, so
				// flag the job for reconciliation instead.
				return s.flagReconciliation(ctx, job.ID, "payout timed out, outcome unknown")
			}
			s.notify(fundiID, models.EventPayoutFailed, jobEventPayload(job))
			return mapGatewayError(err, "payout failed, payment remains in escrow")
		}
		transferRef = transfer.TransferReference
	}

	// The payout went through; from here only persistence may be retried.
	saved, err := s.applyWithRetry(ctx, job.ID, func(j *models.Job) error {
		return j.MarkReleased(transferRef, split.PayeeAmount, split.PlatformFee)
	})
	if err != nil {
		if job.IsCashJob() {
			return err
		}
		// The transfer is out but the job row never recorded it. Another
		// release attempt would pay the fundi again, so park the job for
		// manual reconciliation instead of surfacing a retryable error.
		return s.flagReconciliation(ctx, job.ID, "payout succeeded but release was not recorded")
	}
	*job = *saved

	if err := s.users.IncrementCompletedJobs(ctx, fundiID); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"job_id":   job.ID,
			"fundi_id": fundiID,
		}).Errorf("failed to increment completed jobs: %v", err)
	}

	s.notify(fundiID, models.EventPaymentReleased, jobEventPayload(job))
	s.notify(job.CustomerID, models.EventPaymentReleased, jobEventPayload(job))
	return nil
}

// CancelJob cancels a job, refunding the customer when funds are escrowed.
// Owner or admin only.
func (s *JobService) CancelJob(ctx context.Context, jobID, callerID uuid.UUID, callerRole, reason string) (*models.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if job.CustomerID != callerID && callerRole != models.RoleAdmin {
		return nil, models.ErrNotJobOwner
	}

	// State legality check up front so a doomed cancel never refunds.
	probe := *job
	if err := probe.Cancel(); err != nil {
		return nil, err
	}
	if job.Status == models.JobStatusDisputed && callerRole != models.RoleAdmin {
		return nil, apperror.New(apperror.ErrCodeForbidden,
			"disputed jobs are resolved by an administrator")
	}

	refundDue := job.Payment.Status == models.PaymentStatusEscrow
	if refundDue && job.Payment.NeedsReconciliation {
		return nil, apperror.New(apperror.ErrCodeReconciliationRequired,
			"payment outcome is unknown, reconcile with the provider before refunding")
	}

	var refundRef string
	var refundAmount int64
	if refundDue {
		refundAmount = job.Payment.EscrowAmount
		if job.IsCashJob() {
			refundRef = models.CashMarker(job.ID)
		} else {
			callCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
			refund, err := s.gateway.Refund(callCtx, job.Payment.EscrowReference, refundAmount, reason)
			cancel()
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return nil, s.flagReconciliation(ctx, job.ID, "refund timed out, outcome unknown")
				}
				return nil, mapGatewayError(err, "refund failed, job not cancelled")
			}
			refundRef = refund.RefundReference
		}
	}

	saved, err := s.applyWithRetry(ctx, job.ID, func(j *models.Job) error {
		if refundDue {
			if err := j.MarkRefunded(refundRef, refundAmount); err != nil {
				return err
			}
		}
		return j.Cancel()
	})
	if err != nil {
		if refundDue && !job.IsCashJob() {
			// The provider has already refunded the customer but the job
			// row never recorded it. Letting the job carry on toward a
			// payout would move the escrow twice.
			return nil, s.flagReconciliation(ctx, job.ID, "refund succeeded but cancellation was not recorded")
		}
		return nil, err
	}
	*job = *saved

	if refundDue {
		s.notify(job.CustomerID, models.EventPaymentRefunded, jobEventPayload(job))
	}
	s.notify(job.CustomerID, models.EventJobCancelled, jobEventPayload(job))
	if job.FundiID != nil {
		s.notify(*job.FundiID, models.EventJobCancelled, jobEventPayload(job))
	}
	return job, nil
}

// DisputeJob raises a dispute on a completed job. The escrow is frozen in
// place: approval, release and non-admin cancellation are all blocked
// until an administrator resolves it (cancel-with-refund, or the customer
// approving after the dispute is withdrawn).
func (s *JobService) DisputeJob(ctx context.Context, jobID, callerID uuid.UUID, reason string) (*models.Job, error) {
	if err := validation.ValidateLength("reason", reason, 3, 2000); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if err := job.RaiseDispute(callerID, reason); err != nil {
		return nil, err
	}
	if err := s.jobs.Save(ctx, job); err != nil {
		return nil, mapRepoError(err)
	}

	s.notify(job.CustomerID, models.EventJobDisputed, jobEventPayload(job))
	if job.FundiID != nil {
		s.notify(*job.FundiID, models.EventJobDisputed, jobEventPayload(job))
	}
	return job, nil
}

// RateFundi records the customer's rating on an approved job and folds it
// into the fundi's running average. The job record is the source of truth;
// the denormalized aggregate on the user row is updated best effort.
func (s *JobService) RateFundi(ctx context.Context, jobID, callerID uuid.UUID, stars int) (*models.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if err := job.RecordRating(callerID, stars); err != nil {
		return nil, err
	}
	if err := s.jobs.Save(ctx, job); err != nil {
		return nil, mapRepoError(err)
	}

	fundiID := *job.FundiID
	avg, count, err := s.users.GetRating(ctx, fundiID)
	if err != nil {
		logger.Log.WithError(err).WithField("fundi_id", fundiID).Warn("rating aggregate read failed")
		return job, nil
	}
	agg := UpdateRunningAverage(RatingAggregate{Average: avg, Count: count}, float64(stars))
	if err := s.users.UpdateRating(ctx, fundiID, agg.Average, agg.Count); err != nil {
		logger.Log.WithError(err).WithField("fundi_id", fundiID).Warn("rating aggregate update failed")
		return job, nil
	}

	s.notify(fundiID, models.EventFundiRated, map[string]interface{}{
		"job_id": job.ID,
		"rating": stars,
	})
	return job, nil
}

// ReconciliationQueue lists jobs flagged for manual financial review.
func (s *JobService) ReconciliationQueue(ctx context.Context) ([]models.Job, error) {
	return s.jobs.ListNeedingReconciliation(ctx)
}

// applyWithRetry re-reads the job and applies fn until the versioned save
// sticks. Only used for writes whose preconditions fn re-checks after a
// refetch; state-transition races must surface conflicts instead.
func (s *JobService) applyWithRetry(ctx context.Context, jobID uuid.UUID, fn func(*models.Job) error) (*models.Job, error) {
	const maxAttempts = 3

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		job, err := s.jobs.GetByID(ctx, jobID)
		if err != nil {
			return nil, mapRepoError(err)
		}
		if err := fn(job); err != nil {
			return nil, err
		}
		if err := s.jobs.Save(ctx, job); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return nil, mapRepoError(err)
		}
		return job, nil
	}
	return nil, mapRepoError(lastErr)
}

// flagReconciliation marks a job's payment state ambiguous and surfaces a
// non-retryable error: retrying an unknown-outcome money movement risks
// moving it twice.
func (s *JobService) flagReconciliation(ctx context.Context, jobID uuid.UUID, reason string) error {
	_, err := s.applyWithRetry(ctx, jobID, func(j *models.Job) error {
		j.Payment.NeedsReconciliation = true
		return nil
	})
	if err != nil {
		return err
	}

	logger.Log.WithFields(logrus.Fields{
		"job_id": jobID,
		"reason": reason,
	}).Error("payment flagged for reconciliation")

	return apperror.New(apperror.ErrCodeReconciliationRequired,
		"payment outcome unknown, flagged for manual reconciliation")
}

// notify sends a fire-and-forget notification off the request path.
func (s *JobService) notify(userID uuid.UUID, event string, data interface{}) {
	if s.notifier == nil {
		return
	}
	goroutine.SafeGo(func() {
		s.notifier.Notify(context.Background(), userID, event, data)
	})
}

func jobEventPayload(job *models.Job) map[string]interface{} {
	return map[string]interface{}{
		"job_id":     job.ID,
		"job_title":  job.Title,
		"job_status": job.Status,
	}
}

// mapRepoError translates repository sentinels into the error taxonomy.
func mapRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrJobNotFound):
		return apperror.ErrJobNotFound
	case errors.Is(err, repository.ErrUserNotFound):
		return apperror.ErrUserNotFound
	case errors.Is(err, repository.ErrVersionConflict):
		return apperror.ErrVersionConflict
	default:
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return apperror.Wrap(err, apperror.ErrCodeDatabaseError, "storage operation failed")
	}
}

// mapGatewayError translates provider errors, preserving retryability.
// Gateway errors are never retried automatically within a user-triggered
// call; the retryable flag tells the caller whether re-invoking is safe.
func mapGatewayError(err error, message string) error {
	var rejected *payments.ProviderRejectedError
	switch {
	case errors.Is(err, payments.ErrProviderUnavailable) || errors.Is(err, context.DeadlineExceeded):
		return apperror.Provider(err, message+": provider unavailable", true)
	case errors.Is(err, payments.ErrInvalidPayerContact):
		return apperror.Provider(err, message+": invalid payer contact", false)
	case errors.Is(err, payments.ErrInsufficientPlatformBalance):
		return apperror.Provider(err, message+": insufficient platform balance", true)
	case errors.As(err, &rejected):
		return apperror.Provider(err, message+": "+rejected.Reason, false)
	default:
		return apperror.Provider(err, message, false)
	}
}
