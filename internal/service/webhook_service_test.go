package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/fundilink/fundi-backend/internal/models"
	"github.com/fundilink/fundi-backend/internal/repository"
)

const testWebhookSecret = "test-webhook-secret"

type mockWebhookJobStore struct {
	mock.Mock
}

func (m *mockWebhookJobStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Job), args.Error(1)
}

func (m *mockWebhookJobStore) Save(ctx context.Context, job *models.Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *mockWebhookJobStore) FindByChargeReference(ctx context.Context, reference string) (*models.Job, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Job), args.Error(1)
}

func (m *mockWebhookJobStore) FindByTransferReference(ctx context.Context, reference string) (*models.Job, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Job), args.Error(1)
}

type mockEventDeduper struct {
	mock.Mock
}

func (m *mockEventDeduper) MarkProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	args := m.Called(ctx, eventID, eventType)
	return args.Bool(0), args.Error(1)
}

func (m *mockEventDeduper) Unmark(ctx context.Context, eventID string) error {
	args := m.Called(ctx, eventID)
	return args.Error(0)
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func pendingEscrowJob(t *testing.T) (*models.Job, uuid.UUID) {
	t.Helper()
	job := models.NewJob(uuid.New(), "Fix kitchen sink", "The sink leaks under the counter", "plumbing", "Nairobi", models.PaymentMethodMpesa, nil, nil)
	fundiID := uuid.New()
	assert.NoError(t, job.AddProposal(fundiID, 2000, "2 days", "bid"))
	assert.NoError(t, job.AcceptProposal(fundiID))
	return job, fundiID
}

func TestWebhookService_RejectsBadSignature(t *testing.T) {
	jobs := new(mockWebhookJobStore)
	events := new(mockEventDeduper)
	svc := NewWebhookService(jobs, events, testWebhookSecret)

	body := []byte(`{"event_id":"evt-1","type":"charge.success"}`)
	err := svc.Process(context.Background(), body, "deadbeef")
	assert.Error(t, err)
	events.AssertNotCalled(t, "MarkProcessed")
}

func TestWebhookService_ChargeSuccess_RecordsEscrow(t *testing.T) {
	jobs := new(mockWebhookJobStore)
	events := new(mockEventDeduper)
	svc := NewWebhookService(jobs, events, testWebhookSecret)

	job, _ := pendingEscrowJob(t)
	job.Payment.ChargeReference = "CHG-1"

	body := []byte(fmt.Sprintf(
		`{"event_id":"evt-1","type":"charge.success","data":{"reference":"CHG-1","amount":2000,"job_id":"%s"}}`,
		job.ID))

	events.On("MarkProcessed", mock.Anything, "evt-1", "charge.success").Return(true, nil)
	jobs.On("GetByID", mock.Anything, job.ID).Return(job, nil)
	jobs.On("Save", mock.Anything, job).Return(nil)

	err := svc.Process(context.Background(), body, sign(body))
	assert.NoError(t, err)
	assert.Equal(t, models.JobStatusAssigned, job.Status)
	assert.Equal(t, models.PaymentStatusEscrow, job.Payment.Status)
	assert.Equal(t, int64(2000), job.Payment.EscrowAmount)
	assert.Equal(t, int64(200), job.Payment.PlatformFee)
}

func TestWebhookService_ChargeSuccess_RecoversLostReference(t *testing.T) {
	jobs := new(mockWebhookJobStore)
	events := new(mockEventDeduper)
	svc := NewWebhookService(jobs, events, testWebhookSecret)

	job, _ := pendingEscrowJob(t)
	// The synchronous path crashed before persisting the reference.

	body := []byte(fmt.Sprintf(
		`{"event_id":"evt-1","type":"charge.success","data":{"reference":"CHG-1","amount":2000,"job_id":"%s"}}`,
		job.ID))

	events.On("MarkProcessed", mock.Anything, "evt-1", "charge.success").Return(true, nil)
	jobs.On("GetByID", mock.Anything, job.ID).Return(job, nil)
	jobs.On("Save", mock.Anything, job).Return(nil)

	err := svc.Process(context.Background(), body, sign(body))
	assert.NoError(t, err)
	assert.Equal(t, "CHG-1", job.Payment.ChargeReference)
	assert.Equal(t, models.PaymentStatusEscrow, job.Payment.Status)
}

func TestWebhookService_ChargeSuccess_NoOpWhenAlreadyEscrowed(t *testing.T) {
	jobs := new(mockWebhookJobStore)
	events := new(mockEventDeduper)
	svc := NewWebhookService(jobs, events, testWebhookSecret)

	job, _ := pendingEscrowJob(t)
	assert.NoError(t, job.RecordEscrow(2000, "CHG-1", 200))

	body := []byte(fmt.Sprintf(
		`{"event_id":"evt-2","type":"charge.success","data":{"reference":"CHG-1","amount":2000,"job_id":"%s"}}`,
		job.ID))

	events.On("MarkProcessed", mock.Anything, "evt-2", "charge.success").Return(true, nil)
	jobs.On("GetByID", mock.Anything, job.ID).Return(job, nil)

	err := svc.Process(context.Background(), body, sign(body))
	assert.NoError(t, err)
	jobs.AssertNotCalled(t, "Save")
}

func TestWebhookService_DuplicateDeliveryIsNoOp(t *testing.T) {
	jobs := new(mockWebhookJobStore)
	events := new(mockEventDeduper)
	svc := NewWebhookService(jobs, events, testWebhookSecret)

	body := []byte(`{"event_id":"evt-1","type":"charge.success","data":{"reference":"CHG-1","amount":2000}}`)

	events.On("MarkProcessed", mock.Anything, "evt-1", "charge.success").Return(false, nil)

	err := svc.Process(context.Background(), body, sign(body))
	assert.NoError(t, err)
	jobs.AssertNotCalled(t, "GetByID")
	jobs.AssertNotCalled(t, "FindByChargeReference")
}

func TestWebhookService_UnknownEventIsAcked(t *testing.T) {
	jobs := new(mockWebhookJobStore)
	events := new(mockEventDeduper)
	svc := NewWebhookService(jobs, events, testWebhookSecret)

	body := []byte(`{"event_id":"evt-9","type":"charge.chargeback.opened","data":{}}`)

	events.On("MarkProcessed", mock.Anything, "evt-9", "charge.chargeback.opened").Return(true, nil)

	err := svc.Process(context.Background(), body, sign(body))
	assert.NoError(t, err)
	jobs.AssertNotCalled(t, "GetByID")
}

func TestWebhookService_ProcessingErrorUnmarksEvent(t *testing.T) {
	jobs := new(mockWebhookJobStore)
	events := new(mockEventDeduper)
	svc := NewWebhookService(jobs, events, testWebhookSecret)

	body := []byte(`{"event_id":"evt-1","type":"charge.success","data":{"reference":"CHG-404","amount":2000}}`)

	events.On("MarkProcessed", mock.Anything, "evt-1", "charge.success").Return(true, nil)
	jobs.On("FindByChargeReference", mock.Anything, "CHG-404").Return(nil, repository.ErrJobNotFound)
	events.On("Unmark", mock.Anything, "evt-1").Return(nil)

	err := svc.Process(context.Background(), body, sign(body))
	assert.Error(t, err)
	events.AssertCalled(t, "Unmark", mock.Anything, "evt-1")
}

func TestWebhookService_TransferFailedAfterReleaseFlagsReconciliation(t *testing.T) {
	jobs := new(mockWebhookJobStore)
	events := new(mockEventDeduper)
	svc := NewWebhookService(jobs, events, testWebhookSecret)

	job, fundiID := pendingEscrowJob(t)
	assert.NoError(t, job.RecordEscrow(2000, "CHG-1", 200))
	assert.NoError(t, job.StartWork(fundiID))
	assert.NoError(t, job.CompleteWork(fundiID, nil, "", nil))
	assert.NoError(t, job.ApproveCompletion(job.CustomerID))
	assert.NoError(t, job.MarkReleased("TRF-1", 1800, 200))

	body := []byte(`{"event_id":"evt-3","type":"transfer.failed","data":{"reference":"TRF-1","reason":"account closed"}}`)

	events.On("MarkProcessed", mock.Anything, "evt-3", "transfer.failed").Return(true, nil)
	jobs.On("FindByTransferReference", mock.Anything, "TRF-1").Return(job, nil)
	jobs.On("Save", mock.Anything, job).Return(nil)

	err := svc.Process(context.Background(), body, sign(body))
	assert.NoError(t, err)

	// Released is never silently reverted; the ambiguity goes to a human.
	assert.Equal(t, models.PaymentStatusReleased, job.Payment.Status)
	assert.Equal(t, models.TransferStatusFailed, job.Payment.TransferStatus)
	assert.Equal(t, "account closed", job.Payment.TransferFailure)
	assert.True(t, job.Payment.NeedsReconciliation)
}

func TestWebhookService_TransferSuccessIsIdempotent(t *testing.T) {
	jobs := new(mockWebhookJobStore)
	events := new(mockEventDeduper)
	svc := NewWebhookService(jobs, events, testWebhookSecret)

	job, fundiID := pendingEscrowJob(t)
	assert.NoError(t, job.RecordEscrow(2000, "CHG-1", 200))
	assert.NoError(t, job.StartWork(fundiID))
	assert.NoError(t, job.CompleteWork(fundiID, nil, "", nil))
	assert.NoError(t, job.ApproveCompletion(job.CustomerID))
	assert.NoError(t, job.MarkReleased("TRF-1", 1800, 200))

	body := []byte(`{"event_id":"evt-4","type":"transfer.success","data":{"reference":"TRF-1"}}`)

	events.On("MarkProcessed", mock.Anything, "evt-4", "transfer.success").Return(true, nil)
	jobs.On("FindByTransferReference", mock.Anything, "TRF-1").Return(job, nil)

	// MarkReleased already recorded transfer success; no save needed.
	err := svc.Process(context.Background(), body, sign(body))
	assert.NoError(t, err)
	jobs.AssertNotCalled(t, "Save")
}

func TestWebhookService_MissingEventID(t *testing.T) {
	jobs := new(mockWebhookJobStore)
	events := new(mockEventDeduper)
	svc := NewWebhookService(jobs, events, testWebhookSecret)

	body := []byte(`{"type":"charge.success","data":{}}`)

	err := svc.Process(context.Background(), body, sign(body))
	assert.Error(t, err)
	events.AssertNotCalled(t, "MarkProcessed")
}
