package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fundilink/fundi-backend/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository is the read-mostly window onto the user collaborator.
// Registration, auth and profile management live in another service; this
// core only looks users up and bumps their completed-jobs counter.
type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	query := `
		SELECT id, role, display_name, phone, is_active, completed_jobs, rating, rating_count, created_at
		FROM users WHERE id = $1
	`
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user repository: get by id %w", err)
	}
	return &user, nil
}

// GetContactInfo returns the phone number a charge prompt is sent to.
func (r *UserRepository) GetContactInfo(ctx context.Context, userID uuid.UUID) (string, error) {
	var phone string
	if err := r.db.GetContext(ctx, &phone, `SELECT phone FROM users WHERE id = $1`, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("user repository: get contact info %w", err)
	}
	return phone, nil
}

// GetPayoutProfile returns the destination a fundi's earnings go to,
// falling back to the user's own name and phone when no explicit payout
// profile has been saved.
func (r *UserRepository) GetPayoutProfile(ctx context.Context, userID uuid.UUID) (*models.PayoutProfile, error) {
	var profile models.PayoutProfile
	query := `
		SELECT user_id, payout_name, payout_phone, payout_method
		FROM payout_profiles WHERE user_id = $1
	`
	err := r.db.GetContext(ctx, &profile, query, userID)
	if err == nil {
		return &profile, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user repository: get payout profile %w", err)
	}

	user, err := r.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &models.PayoutProfile{
		UserID:       user.ID,
		PayoutName:   user.DisplayName,
		PayoutPhone:  user.Phone,
		PayoutMethod: models.PaymentMethodMpesa,
	}, nil
}

// IncrementCompletedJobs bumps the fundi's completed-jobs counter by one.
func (r *UserRepository) IncrementCompletedJobs(ctx context.Context, userID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET completed_jobs = completed_jobs + 1 WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("user repository: increment completed jobs %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("user repository: increment completed jobs rows affected %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// IsActiveAccount reports whether the account may take part in jobs.
func (r *UserRepository) IsActiveAccount(ctx context.Context, userID uuid.UUID) (bool, error) {
	var isActive bool
	if err := r.db.GetContext(ctx, &isActive, `SELECT is_active FROM users WHERE id = $1`, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrUserNotFound
		}
		return false, fmt.Errorf("user repository: is active account %w", err)
	}
	return isActive, nil
}

// GetRating returns the user's current (average, count) rating pair.
func (r *UserRepository) GetRating(ctx context.Context, userID uuid.UUID) (float64, int, error) {
	var row struct {
		Rating float64 `db:"rating"`
		Count  int     `db:"rating_count"`
	}
	if err := r.db.GetContext(ctx, &row,
		`SELECT rating, rating_count FROM users WHERE id = $1`, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, ErrUserNotFound
		}
		return 0, 0, fmt.Errorf("user repository: get rating %w", err)
	}
	return row.Rating, row.Count, nil
}

// UpdateRating stores a recomputed (average, count) rating pair.
func (r *UserRepository) UpdateRating(ctx context.Context, userID uuid.UUID, rating float64, count int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET rating = $2, rating_count = $3 WHERE id = $1`,
		userID, rating, count)
	if err != nil {
		return fmt.Errorf("user repository: update rating %w", err)
	}
	return nil
}
