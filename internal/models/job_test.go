package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func newTestJob(paymentMethod string) *Job {
	return NewJob(uuid.New(), "Fix kitchen sink", "The sink leaks under the counter", "plumbing", "Nairobi", paymentMethod, nil, nil)
}

func TestJob_AddProposal_MovesPostedToApplied(t *testing.T) {
	job := newTestJob(PaymentMethodMpesa)
	fundiID := uuid.New()

	err := job.AddProposal(fundiID, 2000, "2 days", "I can fix this today")
	assert.NoError(t, err)
	assert.Equal(t, JobStatusApplied, job.Status)
	assert.Len(t, job.Proposals, 1)
	assert.Equal(t, ProposalStatusPending, job.Proposals[0].Status)
}

func TestJob_AddProposal_RejectsDuplicateFundi(t *testing.T) {
	job := newTestJob(PaymentMethodMpesa)
	fundiID := uuid.New()

	assert.NoError(t, job.AddProposal(fundiID, 2000, "2 days", "first"))
	err := job.AddProposal(fundiID, 1500, "1 day", "second")
	assert.ErrorIs(t, err, ErrDuplicateProposal)
	assert.Len(t, job.Proposals, 1)
}

func TestJob_AddProposal_OwnerCannotBid(t *testing.T) {
	job := newTestJob(PaymentMethodMpesa)

	err := job.AddProposal(job.CustomerID, 2000, "2 days", "me myself")
	assert.Error(t, err)
	assert.Empty(t, job.Proposals)
}

func TestJob_AddProposal_RejectedPastApplied(t *testing.T) {
	job := newTestJob(PaymentMethodCash)
	fundiID := uuid.New()
	assert.NoError(t, job.AddProposal(fundiID, 2000, "2 days", "bid"))
	assert.NoError(t, job.AcceptProposal(fundiID))

	err := job.AddProposal(uuid.New(), 1800, "1 day", "too late")
	assert.ErrorIs(t, err, ErrJobNotAcceptingProposals)
}

func TestJob_AcceptProposal_RejectsSiblings(t *testing.T) {
	job := newTestJob(PaymentMethodMpesa)
	first := uuid.New()
	second := uuid.New()
	assert.NoError(t, job.AddProposal(first, 2000, "2 days", "bid one"))
	assert.NoError(t, job.AddProposal(second, 1800, "1 day", "bid two"))

	err := job.AcceptProposal(second)
	assert.NoError(t, err)

	assert.Equal(t, JobStatusPendingPaymentEscrow, job.Status)
	assert.Equal(t, second, *job.FundiID)
	assert.Equal(t, int64(1800), *job.AgreedPrice)
	assert.Equal(t, ProposalStatusRejected, job.ProposalByFundi(first).Status)
	assert.Equal(t, ProposalStatusAccepted, job.ProposalByFundi(second).Status)
}

func TestJob_AcceptProposal_UnknownFundi(t *testing.T) {
	job := newTestJob(PaymentMethodMpesa)
	assert.NoError(t, job.AddProposal(uuid.New(), 2000, "2 days", "bid"))

	err := job.AcceptProposal(uuid.New())
	assert.Error(t, err)
	assert.Nil(t, job.FundiID)
	assert.Equal(t, JobStatusApplied, job.Status)
}

func TestJob_AcceptProposal_SecondAcceptFails(t *testing.T) {
	job := newTestJob(PaymentMethodMpesa)
	first := uuid.New()
	second := uuid.New()
	assert.NoError(t, job.AddProposal(first, 2000, "2 days", "bid one"))
	assert.NoError(t, job.AddProposal(second, 1800, "1 day", "bid two"))

	assert.NoError(t, job.AcceptProposal(first))
	err := job.AcceptProposal(second)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, first, *job.FundiID)
}

func TestJob_AcceptProposal_CashSkipsEscrow(t *testing.T) {
	job := newTestJob(PaymentMethodCash)
	fundiID := uuid.New()
	assert.NoError(t, job.AddProposal(fundiID, 3000, "1 day", "cash bid"))

	err := job.AcceptProposal(fundiID)
	assert.NoError(t, err)

	assert.Equal(t, JobStatusAssigned, job.Status)
	assert.Equal(t, PaymentStatusEscrow, job.Payment.Status)
	assert.Equal(t, int64(3000), job.Payment.EscrowAmount)
	assert.Equal(t, CashMarker(job.ID), job.Payment.EscrowReference)
	assert.NotNil(t, job.Payment.EscrowedAt)
}

func TestJob_RecordEscrow_OnlyWhilePending(t *testing.T) {
	job := newTestJob(PaymentMethodMpesa)
	fundiID := uuid.New()
	assert.NoError(t, job.AddProposal(fundiID, 2000, "2 days", "bid"))

	err := job.RecordEscrow(2000, "CHG-1", 200)
	assert.ErrorIs(t, err, ErrNotAwaitingEscrow)

	assert.NoError(t, job.AcceptProposal(fundiID))
	assert.NoError(t, job.RecordEscrow(2000, "CHG-1", 200))
	assert.Equal(t, JobStatusAssigned, job.Status)
	assert.Equal(t, PaymentStatusEscrow, job.Payment.Status)

	// Replays are rejected once escrowed.
	assert.ErrorIs(t, job.RecordEscrow(2000, "CHG-1", 200), ErrNotAwaitingEscrow)
}

func assignedJob(t *testing.T, method string) (*Job, uuid.UUID) {
	t.Helper()
	job := newTestJob(method)
	fundiID := uuid.New()
	assert.NoError(t, job.AddProposal(fundiID, 2000, "2 days", "bid"))
	assert.NoError(t, job.AcceptProposal(fundiID))
	if method != PaymentMethodCash {
		assert.NoError(t, job.RecordEscrow(2000, "CHG-1", 200))
	}
	return job, fundiID
}

func TestJob_StartWork_OnlyAssignedFundi(t *testing.T) {
	job, fundiID := assignedJob(t, PaymentMethodMpesa)

	err := job.StartWork(job.CustomerID)
	assert.ErrorIs(t, err, ErrNotAssignedFundi)

	assert.NoError(t, job.StartWork(fundiID))
	assert.Equal(t, JobStatusInProgress, job.Status)
	assert.Len(t, job.WorkProgress, 1)

	// Starting twice is not a transition.
	assert.ErrorIs(t, job.StartWork(fundiID), ErrInvalidTransition)
}

func TestJob_AppendProgress_ParticipantsOnly(t *testing.T) {
	job, fundiID := assignedJob(t, PaymentMethodMpesa)
	assert.NoError(t, job.StartWork(fundiID))

	err := job.AppendProgress(uuid.New(), WorkProgressEntry{Message: "stranger"})
	assert.ErrorIs(t, err, ErrNotAJobParticipant)

	assert.NoError(t, job.AppendProgress(fundiID, WorkProgressEntry{Message: "pipes replaced"}))
	assert.NoError(t, job.AppendProgress(job.CustomerID, WorkProgressEntry{Message: "looks good so far"}))
	assert.Len(t, job.WorkProgress, 3)
	assert.Equal(t, job.CustomerID, job.WorkProgress[2].UpdatedBy)
}

func TestJob_CompleteWork_DefaultsActualToAgreed(t *testing.T) {
	job, fundiID := assignedJob(t, PaymentMethodMpesa)
	assert.NoError(t, job.StartWork(fundiID))

	assert.NoError(t, job.CompleteWork(fundiID, []string{"after.jpg"}, "done", nil))
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Equal(t, int64(2000), *job.ActualPrice)
	assert.NotNil(t, job.Completion.CompletedAt)
}

func TestJob_CompleteWork_ActualPriceOverride(t *testing.T) {
	job, fundiID := assignedJob(t, PaymentMethodMpesa)
	assert.NoError(t, job.StartWork(fundiID))

	actual := int64(2500)
	assert.NoError(t, job.CompleteWork(fundiID, nil, "extra materials", &actual))
	assert.Equal(t, int64(2500), *job.ActualPrice)
}

func TestJob_CompleteWork_OnlyFundiAndOnlyInProgress(t *testing.T) {
	job, fundiID := assignedJob(t, PaymentMethodMpesa)

	// Not started yet.
	assert.ErrorIs(t, job.CompleteWork(fundiID, nil, "", nil), ErrInvalidTransition)

	assert.NoError(t, job.StartWork(fundiID))
	assert.ErrorIs(t, job.CompleteWork(job.CustomerID, nil, "", nil), ErrNotAssignedFundi)
}

func TestJob_ApproveCompletion_ExactlyOnce(t *testing.T) {
	job, fundiID := assignedJob(t, PaymentMethodMpesa)
	assert.NoError(t, job.StartWork(fundiID))
	assert.NoError(t, job.CompleteWork(fundiID, nil, "done", nil))

	assert.ErrorIs(t, job.ApproveCompletion(fundiID), ErrNotJobOwner)
	assert.NoError(t, job.ApproveCompletion(job.CustomerID))
	assert.True(t, job.Completion.CustomerApproved)

	assert.ErrorIs(t, job.ApproveCompletion(job.CustomerID), ErrAlreadyApproved)
}

func TestJob_RaiseDispute_CompletedParticipantsOnly(t *testing.T) {
	job, fundiID := assignedJob(t, PaymentMethodMpesa)
	assert.ErrorIs(t, job.RaiseDispute(job.CustomerID, "no show"), ErrNotCompleted)

	assert.NoError(t, job.StartWork(fundiID))
	assert.NoError(t, job.CompleteWork(fundiID, nil, "done", nil))

	assert.ErrorIs(t, job.RaiseDispute(uuid.New(), "not my job"), ErrNotAJobParticipant)

	assert.NoError(t, job.RaiseDispute(fundiID, "customer unreachable"))
	assert.Equal(t, JobStatusDisputed, job.Status)
	assert.Equal(t, fundiID, *job.Completion.DisputedBy)
	assert.Equal(t, PaymentStatusEscrow, job.Payment.Status)

	// A disputed job can no longer be approved; it can still be cancelled.
	assert.ErrorIs(t, job.ApproveCompletion(job.CustomerID), ErrNotCompleted)
	assert.NoError(t, job.Cancel())
}

func TestJob_RaiseDispute_NotAfterApproval(t *testing.T) {
	job, fundiID := assignedJob(t, PaymentMethodMpesa)
	assert.NoError(t, job.StartWork(fundiID))
	assert.NoError(t, job.CompleteWork(fundiID, nil, "done", nil))
	assert.NoError(t, job.ApproveCompletion(job.CustomerID))

	assert.ErrorIs(t, job.RaiseDispute(job.CustomerID, "too late"), ErrAlreadyApproved)
	assert.Equal(t, JobStatusCompleted, job.Status)
}

func TestJob_RecordRating_OnceAfterApproval(t *testing.T) {
	job, fundiID := assignedJob(t, PaymentMethodMpesa)
	assert.NoError(t, job.StartWork(fundiID))
	assert.NoError(t, job.CompleteWork(fundiID, nil, "done", nil))

	assert.ErrorIs(t, job.RecordRating(job.CustomerID, 5), ErrNotCompleted)

	assert.NoError(t, job.ApproveCompletion(job.CustomerID))
	assert.ErrorIs(t, job.RecordRating(fundiID, 5), ErrNotJobOwner)
	assert.ErrorIs(t, job.RecordRating(job.CustomerID, 0), ErrInvalidRating)
	assert.ErrorIs(t, job.RecordRating(job.CustomerID, 6), ErrInvalidRating)

	assert.NoError(t, job.RecordRating(job.CustomerID, 4))
	assert.Equal(t, 4, *job.Completion.CustomerRating)
	assert.NotNil(t, job.Completion.RatedAt)

	assert.ErrorIs(t, job.RecordRating(job.CustomerID, 5), ErrAlreadyRated)
	assert.Equal(t, 4, *job.Completion.CustomerRating)
}

func TestJob_MarkReleased_GatesReentry(t *testing.T) {
	job, _ := assignedJob(t, PaymentMethodMpesa)

	assert.NoError(t, job.MarkReleased("TRF-1", 1800, 200))
	assert.Equal(t, PaymentStatusReleased, job.Payment.Status)
	assert.Equal(t, TransferStatusSuccess, job.Payment.TransferStatus)

	err := job.MarkReleased("TRF-2", 1800, 200)
	assert.ErrorIs(t, err, ErrAlreadyApproved)
	assert.Equal(t, "TRF-1", job.Payment.TransferReference)
}

func TestJob_MarkReleased_RequiresEscrow(t *testing.T) {
	job := newTestJob(PaymentMethodMpesa)
	err := job.MarkReleased("TRF-1", 1800, 200)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestJob_MarkRefunded_RequiresEscrow(t *testing.T) {
	job, _ := assignedJob(t, PaymentMethodMpesa)

	assert.NoError(t, job.MarkRefunded("RFD-1", 2000))
	assert.Equal(t, PaymentStatusRefunded, job.Payment.Status)

	assert.ErrorIs(t, job.MarkRefunded("RFD-2", 2000), ErrInvalidTransition)
}

func TestJob_Cancel_Legality(t *testing.T) {
	// Posted cancels.
	job := newTestJob(PaymentMethodMpesa)
	assert.NoError(t, job.Cancel())

	// Awaiting escrow does not.
	job = newTestJob(PaymentMethodMpesa)
	fundiID := uuid.New()
	assert.NoError(t, job.AddProposal(fundiID, 2000, "2 days", "bid"))
	assert.NoError(t, job.AcceptProposal(fundiID))
	assert.ErrorIs(t, job.Cancel(), ErrInvalidTransition)

	// In progress does.
	assert.NoError(t, job.RecordEscrow(2000, "CHG-1", 200))
	assert.NoError(t, job.StartWork(fundiID))
	assert.NoError(t, job.Cancel())

	// Completed does not.
	job, fundiID = assignedJob(t, PaymentMethodMpesa)
	assert.NoError(t, job.StartWork(fundiID))
	assert.NoError(t, job.CompleteWork(fundiID, nil, "", nil))
	assert.ErrorIs(t, job.Cancel(), ErrInvalidTransition)
}
