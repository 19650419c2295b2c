package models

import (
	"time"

	"github.com/google/uuid"
)

// User roles.
const (
	RoleCustomer = "customer"
	RoleFundi    = "fundi"
	RoleAdmin    = "admin"
)

// User is the external user collaborator as this core sees it. Auth,
// registration and profile management live outside this service; only the
// lookup fields the lifecycle engine needs are modeled here.
type User struct {
	ID            uuid.UUID `db:"id" json:"id"`
	Role          string    `db:"role" json:"role"`
	DisplayName   string    `db:"display_name" json:"display_name"`
	Phone         string    `db:"phone" json:"phone"`
	IsActive      bool      `db:"is_active" json:"is_active"`
	CompletedJobs int       `db:"completed_jobs" json:"completed_jobs"`
	Rating        float64   `db:"rating" json:"rating"`
	RatingCount   int       `db:"rating_count" json:"rating_count"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// PayoutProfile is the destination a fundi's earnings are sent to.
type PayoutProfile struct {
	UserID       uuid.UUID `db:"user_id" json:"user_id"`
	PayoutName   string    `db:"payout_name" json:"payout_name"`
	PayoutPhone  string    `db:"payout_phone" json:"payout_phone"`
	PayoutMethod string    `db:"payout_method" json:"payout_method"`
}
