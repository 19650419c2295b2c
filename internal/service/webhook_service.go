package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fundilink/fundi-backend/internal/logger"
	"github.com/fundilink/fundi-backend/internal/models"
	"github.com/fundilink/fundi-backend/internal/payments"
	"github.com/fundilink/fundi-backend/internal/pkg/apperror"
	"github.com/fundilink/fundi-backend/internal/repository"
)

// WebhookJobStore is the reconciliation handler's view of the job store.
type WebhookJobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Save(ctx context.Context, job *models.Job) error
	FindByChargeReference(ctx context.Context, reference string) (*models.Job, error)
	FindByTransferReference(ctx context.Context, reference string) (*models.Job, error)
}

// EventDeduper records processed provider event ids.
type EventDeduper interface {
	MarkProcessed(ctx context.Context, eventID, eventType string) (bool, error)
	Unmark(ctx context.Context, eventID string) error
}

// WebhookService reconciles asynchronous provider callbacks against job
// state. Providers deliver out of order and more than once; every effect
// here is guarded both by the event-id dedup table and by the aggregate's
// own state preconditions.
type WebhookService struct {
	jobs     WebhookJobStore
	events   EventDeduper
	notifier Notifier
	secret   []byte
}

// NewWebhookService creates the reconciliation handler.
func NewWebhookService(jobs WebhookJobStore, events EventDeduper, secret string) *WebhookService {
	return &WebhookService{
		jobs:   jobs,
		events: events,
		secret: []byte(secret),
	}
}

// SetNotifier attaches the notification collaborator.
func (s *WebhookService) SetNotifier(notifier Notifier) {
	s.notifier = notifier
}

// VerifySignature checks the HMAC-SHA256 hex signature of the raw body.
func (s *WebhookService) VerifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Process verifies and applies one provider event. Signature mismatch
// fails closed with no side effects. Unknown event types are acknowledged,
// not rejected, because providers retry on non-2xx.
func (s *WebhookService) Process(ctx context.Context, body []byte, signature string) error {
	if !s.VerifySignature(body, signature) {
		return apperror.New(apperror.ErrCodeUnauthorized, "invalid webhook signature")
	}

	var event models.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeValidation, "malformed webhook payload")
	}
	if event.EventID == "" {
		return apperror.New(apperror.ErrCodeValidation, "webhook event is missing event_id")
	}

	firstDelivery, err := s.events.MarkProcessed(ctx, event.EventID, event.Type)
	if err != nil {
		return mapRepoError(err)
	}
	if !firstDelivery {
		logger.Log.WithFields(logrus.Fields{
			"event_id": event.EventID,
			"type":     event.Type,
		}).Info("duplicate webhook delivery ignored")
		return nil
	}

	if err := s.apply(ctx, &event); err != nil {
		// Let the provider's retry take another run at it.
		if unmarkErr := s.events.Unmark(ctx, event.EventID); unmarkErr != nil {
			logger.Log.Errorf("failed to unmark webhook event %s: %v", event.EventID, unmarkErr)
		}
		return err
	}
	return nil
}

func (s *WebhookService) apply(ctx context.Context, event *models.WebhookEvent) error {
	switch event.Type {
	case models.WebhookChargeSuccess:
		return s.applyChargeSuccess(ctx, event)
	case models.WebhookTransferSuccess:
		return s.applyTransferResult(ctx, event, true)
	case models.WebhookTransferFailed:
		return s.applyTransferResult(ctx, event, false)
	default:
		logger.Log.WithFields(logrus.Fields{
			"event_id": event.EventID,
			"type":     event.Type,
		}).Info("ignoring unknown webhook event type")
		return nil
	}
}

// applyChargeSuccess applies the same escrow-confirmation effect as the
// synchronous verify path. Already-escrowed jobs mean the synchronous path
// (or an earlier delivery) won; the event is a no-op then.
func (s *WebhookService) applyChargeSuccess(ctx context.Context, event *models.WebhookEvent) error {
	job, err := s.locateChargeJob(ctx, event)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		switch job.Payment.Status {
		case models.PaymentStatusEscrow, models.PaymentStatusReleased, models.PaymentStatusRefunded:
			return nil
		}
		if job.Status != models.JobStatusPendingPaymentEscrow {
			return nil
		}

		reference := event.Data.Reference
		if reference == "" {
			reference = job.Payment.ChargeReference
		}
		// Recover a reference the synchronous path failed to persist.
		if job.Payment.ChargeReference == "" {
			job.Payment.ChargeReference = reference
		}

		fee := payments.ComputeFeeSplit(event.Data.Amount, job.Payment.PlatformFeePercent).PlatformFee
		if err := job.RecordEscrow(event.Data.Amount, reference, fee); err != nil {
			return err
		}

		err = s.jobs.Save(ctx, job)
		if err == nil {
			s.notifyParticipants(job, models.EventEscrowConfirmed)
			return nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return mapRepoError(err)
		}

		job, err = s.jobs.GetByID(ctx, job.ID)
		if err != nil {
			return mapRepoError(err)
		}
	}
	return apperror.ErrVersionConflict
}

// applyTransferResult records payout settlement. A failed transfer on a
// released payment is NOT reverted back to escrow: reverting silently
// risks a double payment, so it is flagged for manual review instead.
func (s *WebhookService) applyTransferResult(ctx context.Context, event *models.WebhookEvent, success bool) error {
	job, err := s.jobs.FindByTransferReference(ctx, event.Data.Reference)
	if err != nil {
		return mapRepoError(err)
	}

	for attempt := 0; attempt < 3; attempt++ {
		if success {
			if job.Payment.TransferStatus == models.TransferStatusSuccess {
				return nil
			}
			job.Payment.TransferStatus = models.TransferStatusSuccess
			job.Payment.TransferFailure = ""
		} else {
			job.Payment.TransferStatus = models.TransferStatusFailed
			job.Payment.TransferFailure = event.Data.Reason
			if job.Payment.Status == models.PaymentStatusReleased {
				job.Payment.NeedsReconciliation = true
			}
		}

		err = s.jobs.Save(ctx, job)
		if err == nil {
			if !success {
				logger.Log.WithFields(logrus.Fields{
					"job_id":   job.ID,
					"event_id": event.EventID,
					"reason":   event.Data.Reason,
				}).Error("transfer failed after release, flagged for reconciliation")
				if s.notifier != nil && job.FundiID != nil {
					s.notifier.Notify(ctx, *job.FundiID, models.EventReconcileRequired, jobEventPayload(job))
				}
			}
			return nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return mapRepoError(err)
		}

		job, err = s.jobs.GetByID(ctx, job.ID)
		if err != nil {
			return mapRepoError(err)
		}
	}
	return apperror.ErrVersionConflict
}

// locateChargeJob finds the job a charge event belongs to, preferring the
// job id embedded in the event metadata over the charge reference, which
// may not have been persisted yet.
func (s *WebhookService) locateChargeJob(ctx context.Context, event *models.WebhookEvent) (*models.Job, error) {
	if event.Data.JobID != "" {
		jobID, err := uuid.Parse(event.Data.JobID)
		if err != nil {
			return nil, apperror.New(apperror.ErrCodeValidation, "webhook event carries a malformed job id")
		}
		job, err := s.jobs.GetByID(ctx, jobID)
		if err != nil {
			return nil, mapRepoError(err)
		}
		return job, nil
	}

	job, err := s.jobs.FindByChargeReference(ctx, event.Data.Reference)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return job, nil
}

func (s *WebhookService) notifyParticipants(job *models.Job, event string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(context.Background(), job.CustomerID, event, jobEventPayload(job))
	if job.FundiID != nil {
		s.notifier.Notify(context.Background(), *job.FundiID, event, jobEventPayload(job))
	}
}
