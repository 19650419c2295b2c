package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestJobHandler_CreateJob_Unauthorized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &JobHandler{jobs: nil}
	r.POST("/jobs", handler.CreateJob)

	req, _ := http.NewRequest("POST", "/jobs", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJobHandler_SubmitProposal_Unauthorized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &JobHandler{jobs: nil}
	r.POST("/jobs/:id/submit-proposal", handler.SubmitProposal)

	req, _ := http.NewRequest("POST", "/jobs/invalid-uuid/submit-proposal", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPaymentHandler_RetryPayout_InvalidJobID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &PaymentHandler{}
	r.POST("/payments/retry-payout/:jobId", handler.RetryPayout)

	req, _ := http.NewRequest("POST", "/payments/retry-payout/invalid-uuid", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
