package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fundilink/fundi-backend/internal/dto"
	"github.com/fundilink/fundi-backend/internal/http/handlers/common"
	"github.com/fundilink/fundi-backend/internal/repository"
	"github.com/fundilink/fundi-backend/internal/service"
)

// JobHandler exposes the job lifecycle over HTTP.
type JobHandler struct {
	jobs *service.JobService
}

func NewJobHandler(jobs *service.JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// CreateJob handles POST /api/jobs.
func (h *JobHandler) CreateJob(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.CreateJobRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	job, err := h.jobs.CreateJob(c.Request.Context(), service.CreateJobInput{
		CustomerID:    userID,
		Title:         req.Title,
		Description:   req.Description,
		Category:      req.Category,
		Location:      req.Location,
		PaymentMethod: req.PaymentMethod,
		BudgetMin:     req.BudgetMin,
		BudgetMax:     req.BudgetMax,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, job)
}

// ListJobs handles GET /api/jobs.
func (h *JobHandler) ListJobs(c *gin.Context) {
	limit, offset := common.GetPagination(c)

	result, err := h.jobs.ListJobs(c.Request.Context(), repository.JobListParams{
		Status:   c.Query("status"),
		Category: c.Query("category"),
		Location: c.Query("location"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetJob handles GET /api/jobs/:id.
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	job, err := h.jobs.GetJob(c.Request.Context(), jobID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, job)
}

// DeleteJob handles DELETE /api/jobs/:id. Only the owner may delete, and
// only while the job is still posted.
func (h *JobHandler) DeleteJob(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	jobID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	if err := h.jobs.DeleteJob(c.Request.Context(), jobID, userID); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.SuccessResponse{Message: "job deleted"})
}

// MyJobs handles GET /api/jobs/mine.
func (h *JobHandler) MyJobs(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	asCustomer, asFundi, err := h.jobs.MyJobs(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"as_customer": asCustomer,
		"as_fundi":    asFundi,
	})
}

// SubmitProposal handles POST /api/jobs/:id/submit-proposal.
func (h *JobHandler) SubmitProposal(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	jobID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.SubmitProposalRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	job, err := h.jobs.SubmitProposal(c.Request.Context(), service.ProposalInput{
		JobID:             jobID,
		FundiID:           userID,
		ProposedPrice:     req.ProposedPrice,
		EstimatedDuration: req.EstimatedDuration,
		Message:           req.Message,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, job)
}

// AcceptProposal handles PATCH /api/jobs/:id/proposals/:index/accept.
// The URL keeps a positional index for clients, but acceptance is keyed
// by the proposing fundi so a concurrent bid cannot shift the target.
func (h *JobHandler) AcceptProposal(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	jobID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		common.RespondBadRequest(c, "invalid proposal index")
		return
	}

	job, err := h.jobs.GetJob(c.Request.Context(), jobID)
	if err != nil {
		c.Error(err)
		return
	}
	if index >= len(job.Proposals) {
		common.RespondError(c, http.StatusNotFound, "proposal not found")
		return
	}
	fundiID := job.Proposals[index].FundiID

	updated, intent, err := h.jobs.AcceptProposal(c.Request.Context(), jobID, userID, fundiID)
	if err != nil {
		c.Error(err)
		return
	}

	resp := gin.H{"job": updated}
	if intent != nil {
		resp["payment"] = intent
	}
	c.JSON(http.StatusOK, resp)
}

// StartJob handles PATCH /api/jobs/:id/start.
func (h *JobHandler) StartJob(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	jobID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	job, err := h.jobs.StartJob(c.Request.Context(), jobID, userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, job)
}

// AddProgress handles POST /api/jobs/:id/progress.
func (h *JobHandler) AddProgress(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	jobID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.ProgressRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	job, err := h.jobs.AddProgress(c.Request.Context(), jobID, userID, service.ProgressInput{
		Message: req.Message,
		Images:  req.Images,
		Stage:   req.Stage,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, job)
}

// CompleteJob handles PATCH /api/jobs/:id/complete.
func (h *JobHandler) CompleteJob(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	jobID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.CompleteJobRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	job, err := h.jobs.CompleteJob(c.Request.Context(), jobID, userID, service.CompletionInput{
		Images:      req.Images,
		Notes:       req.Notes,
		ActualPrice: req.ActualPrice,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, job)
}

// DisputeJob handles POST /api/jobs/:id/dispute.
func (h *JobHandler) DisputeJob(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	jobID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.DisputeJobRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	job, err := h.jobs.DisputeJob(c.Request.Context(), jobID, userID, req.Reason)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, job)
}

// RateJob handles POST /api/jobs/:id/rate.
func (h *JobHandler) RateJob(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	jobID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.RateJobRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	job, err := h.jobs.RateFundi(c.Request.Context(), jobID, userID, req.Rating)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, job)
}

// ApproveCompletion handles PATCH /api/jobs/:id/approve. Approval also
// triggers the escrow release.
func (h *JobHandler) ApproveCompletion(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	jobID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	job, err := h.jobs.ApproveCompletion(c.Request.Context(), jobID, userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, job)
}

// CancelJob handles POST /api/jobs/:id/cancel. Escrowed funds are
// refunded before the job is cancelled.
func (h *JobHandler) CancelJob(c *gin.Context) {
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

	jobID, err := common.ParseUUIDParam(c, "id")
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

	job, err := h.jobs.CancelJob(c.Request.Context(), jobID, userID, role, req.Reason)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, job)
}
