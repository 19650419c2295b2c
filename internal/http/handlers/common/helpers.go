package common

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fundilink/fundi-backend/internal/dto"
	"github.com/fundilink/fundi-backend/internal/http/middleware"
)

var (
	// ErrUserNotInContext is returned when no authenticated user is set.
	ErrUserNotInContext = errors.New("user not found in context")

	// ErrInvalidUUID is returned when UUID parsing fails.
	ErrInvalidUUID = errors.New("invalid UUID format")
)

// CurrentUserID extracts the authenticated user id from the Gin context.
func CurrentUserID(c *gin.Context) (uuid.UUID, error) {
	raw, exists := c.Get(middleware.ContextUserIDKey)
	if !exists {
		return uuid.Nil, ErrUserNotInContext
	}

	userID, ok := raw.(uuid.UUID)
	if !ok {
		return uuid.Nil, ErrUserNotInContext
	}

	return userID, nil
}

// CurrentUserRole extracts the authenticated user's role.
func CurrentUserRole(c *gin.Context) (string, error) {
	raw, exists := c.Get(middleware.ContextRoleKey)
	if !exists {
		return "", ErrUserNotInContext
	}

	role, ok := raw.(string)
	if !ok {
		return "", ErrUserNotInContext
	}

	return role, nil
}

// ParseUUIDParam parses a UUID from a URL parameter.
func ParseUUIDParam(c *gin.Context, paramName string) (uuid.UUID, error) {
	param := c.Param(paramName)
	if param == "" {
		return uuid.Nil, fmt.Errorf("parameter %s is missing", paramName)
	}

	parsed, err := uuid.Parse(param)
	if err != nil {
		return uuid.Nil, ErrInvalidUUID
	}

	return parsed, nil
}

// BindAndValidate binds and validates the JSON request body.
func BindAndValidate(c *gin.Context, req interface{}) error {
	if err := c.ShouldBindJSON(req); err != nil {
		return fmt.Errorf("request validation failed: %w", err)
	}
	return nil
}

// RespondError sends a standardized error response.
func RespondError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, dto.ErrorResponse{Error: message})
}

// RespondJSON sends a JSON response.
func RespondJSON(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, data)
}

// RespondUnauthorized sends a 401 response.
func RespondUnauthorized(c *gin.Context, message string) {
	if message == "" {
		message = "authorization required"
	}
	RespondError(c, http.StatusUnauthorized, message)
}

// RespondBadRequest sends a 400 response.
func RespondBadRequest(c *gin.Context, message string) {
	if message == "" {
		message = "invalid request"
	}
	RespondError(c, http.StatusBadRequest, message)
}

// ParseIntQuery reads an integer query parameter with a fallback.
func ParseIntQuery(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

// GetPagination extracts limit and offset with sane bounds.
func GetPagination(c *gin.Context) (limit, offset int) {
	limit = ParseIntQuery(c, "limit", 20)
	offset = ParseIntQuery(c, "offset", 0)
	if limit > 100 {
		limit = 100
	}
	if limit < 1 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return
}
