package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fundilink/fundi-backend/internal/config"
	"github.com/fundilink/fundi-backend/internal/http/handlers"
	"github.com/fundilink/fundi-backend/internal/http/middleware"
	"github.com/fundilink/fundi-backend/internal/service"
)

func SetupRouter(
	cfg *config.Config,
	jobHandler *handlers.JobHandler,
	paymentHandler *handlers.PaymentHandler,
	notificationHandler *handlers.NotificationHandler,
	mediaHandler *handlers.MediaHandler,
	wsHandler *handlers.WSHandler,
	healthHandler *handlers.HealthHandler,
	tokenManager *service.TokenManager,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", healthHandler.Health)
	r.StaticFS("/media", http.Dir(cfg.MediaStoragePath))

	api := r.Group("/api")

	// Public routes.
	api.GET("/jobs", jobHandler.ListJobs)
	api.GET("/jobs/:id", middleware.UUIDValidator("id"), jobHandler.GetJob)
	api.GET("/ws", wsHandler.Handle)

	// The provider webhook authenticates through its signature, not a
	// user token. Rate limited against abuse of the open ingress.
	webhookRateLimit := middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod)
	api.POST("/payments/webhook", webhookRateLimit, paymentHandler.Webhook)

	// Protected routes.
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(tokenManager))
	{
		protected.POST("/jobs", jobHandler.CreateJob)
		protected.GET("/jobs/mine", jobHandler.MyJobs)
		protected.DELETE("/jobs/:id", middleware.UUIDValidator("id"), jobHandler.DeleteJob)

		protected.POST("/jobs/:id/submit-proposal", middleware.UUIDValidator("id"), jobHandler.SubmitProposal)
		protected.PATCH("/jobs/:id/proposals/:index/accept", middleware.UUIDValidator("id"), jobHandler.AcceptProposal)
		protected.PATCH("/jobs/:id/start", middleware.UUIDValidator("id"), jobHandler.StartJob)
		protected.POST("/jobs/:id/progress", middleware.UUIDValidator("id"), jobHandler.AddProgress)
		protected.PATCH("/jobs/:id/complete", middleware.UUIDValidator("id"), jobHandler.CompleteJob)
		protected.PATCH("/jobs/:id/approve", middleware.UUIDValidator("id"), jobHandler.ApproveCompletion)
		protected.POST("/jobs/:id/cancel", middleware.UUIDValidator("id"), jobHandler.CancelJob)
		protected.POST("/jobs/:id/rate", middleware.UUIDValidator("id"), jobHandler.RateJob)
		protected.POST("/jobs/:id/dispute", middleware.UUIDValidator("id"), jobHandler.DisputeJob)

		paymentRateLimit := middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod)
		protected.POST("/payments/verify/:jobId", paymentRateLimit, middleware.UUIDValidator("jobId"), paymentHandler.VerifyPayment)
		protected.POST("/payments/refund/:jobId", paymentRateLimit, middleware.UUIDValidator("jobId"), paymentHandler.RefundPayment)

		protected.GET("/notifications", notificationHandler.List)
		protected.POST("/notifications/:id/read", middleware.UUIDValidator("id"), notificationHandler.MarkAsRead)

		protected.POST("/media", mediaHandler.Upload)
	}

	// Admin routes.
	admin := api.Group("/")
	admin.Use(middleware.AuthMiddleware(tokenManager), middleware.RequireAdmin())
	{
		admin.POST("/payments/retry-payout/:jobId", middleware.UUIDValidator("jobId"), paymentHandler.RetryPayout)
		admin.GET("/payments/reconciliation", paymentHandler.ReconciliationQueue)
	}

	return r
}
