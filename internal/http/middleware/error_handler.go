package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fundilink/fundi-backend/internal/logger"
	"github.com/fundilink/fundi-backend/internal/pkg/apperror"
)

// ErrorHandler maps errors attached to the context into structured
// responses and masks anything internal.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		if len(c.Errors) > 0 {
			err := c.Errors.Last()

			if logger.Log != nil {
				logger.Log.WithFields(logrus.Fields{
					"error":  err.Error(),
					"path":   c.Request.URL.Path,
					"method": c.Request.Method,
				}).Error("request error")
			}

			var appErr *apperror.AppError
			if errors.As(err.Err, &appErr) {
				body := gin.H{
					"error": appErr.Message,
					"code":  appErr.Code,
				}
				if appErr.Retryable {
					body["retryable"] = true
				}
				c.JSON(appErr.HTTPStatus, body)
				return
			}

			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		}
	}
}
