package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fundilink/fundi-backend/internal/dto"
	"github.com/fundilink/fundi-backend/internal/http/handlers/common"
	"github.com/fundilink/fundi-backend/internal/service"
)

// maxWebhookBody bounds the webhook payload size.
const maxWebhookBody = 1 << 20

// PaymentHandler exposes payment verification, refunds and the provider
// webhook ingress.
type PaymentHandler struct {
	jobs     *service.JobService
	webhooks *service.WebhookService
}

func NewPaymentHandler(jobs *service.JobService, webhooks *service.WebhookService) *PaymentHandler {
	return &PaymentHandler{jobs: jobs, webhooks: webhooks}
}

// VerifyPayment handles POST /api/payments/verify/:jobId. The customer
// polls this after authorizing the charge on the provider side.
func (h *PaymentHandler) VerifyPayment(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	jobID, err := common.ParseUUIDParam(c, "jobId")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	job, intent, err := h.jobs.VerifyPayment(c.Request.Context(), jobID, userID)
	if err != nil {
		c.Error(err)
		return
	}

	resp := gin.H{"job": job}
	if intent != nil {
		resp["payment"] = intent
	}
	c.JSON(http.StatusOK, resp)
}

// RefundPayment handles POST /api/payments/refund/:jobId. Refunding an
// escrowed job cancels it; the two are one transition.
func (h *PaymentHandler) RefundPayment(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	role, err := common.CurrentUserRole(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	jobID, err := common.ParseUUIDParam(c, "jobId")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.CancelJobRequest
	if c.Request.ContentLength > 0 {
		if err := common.BindAndValidate(c, &req); err != nil {
			common.RespondBadRequest(c, err.Error())
			return
		}
	}
	reason := req.Reason
	if reason == "" {
		reason = "refund requested"
	}

	job, err := h.jobs.CancelJob(c.Request.Context(), jobID, userID, role, reason)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, job)
}

// RetryPayout handles POST /api/payments/retry-payout/:jobId (admin).
func (h *PaymentHandler) RetryPayout(c *gin.Context) {
	jobID, err := common.ParseUUIDParam(c, "jobId")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	job, err := h.jobs.RetryPayout(c.Request.Context(), jobID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, job)
}

// ReconciliationQueue handles GET /api/payments/reconciliation (admin).
func (h *PaymentHandler) ReconciliationQueue(c *gin.Context) {
	jobs, err := h.jobs.ReconciliationQueue(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "total": len(jobs)})
}

// Webhook handles POST /api/payments/webhook. The signature is checked
// over the raw body before anything is parsed; a non-2xx response makes
// the provider redeliver.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		common.RespondBadRequest(c, "unreadable body")
		return
	}

	signature := c.GetHeader("X-Webhook-Signature")

	if err := h.webhooks.Process(c.Request.Context(), body, signature); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.SuccessResponse{Message: "accepted"})
}
