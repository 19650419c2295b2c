package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fundilink/fundi-backend/internal/models"
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrVersionConflict means the row changed between read and save. The
	// caller lost an optimistic-concurrency race and must refetch.
	ErrVersionConflict = errors.New("job version conflict")
	ErrJobNotDeletable = errors.New("job can only be deleted while posted")
)

const jobColumns = `id, customer_id, fundi_id, title, description, category, location,
	budget_min, budget_max, status, agreed_price, actual_price,
	proposals, payment, work_progress, completion, version, created_at, updated_at`

// JobListParams filters and paginates the public job listing.
type JobListParams struct {
	Status   string
	Category string
	Location string
	Limit    int
	Offset   int
}

// JobListResult is one page of jobs plus the unpaginated total.
type JobListResult struct {
	Jobs  []models.Job `json:"jobs"`
	Total int          `json:"total"`
}

type JobRepository struct {
	db *sqlx.DB
}

func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a freshly posted job.
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (id, customer_id, title, description, category, location,
			budget_min, budget_max, status, proposals, payment, work_progress, completion, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1)
		RETURNING version, created_at, updated_at
	`
	row := r.db.QueryRowxContext(ctx, query,
		job.ID, job.CustomerID, job.Title, job.Description, job.Category, job.Location,
		job.BudgetMin, job.BudgetMax, job.Status,
		job.Proposals, job.Payment, job.WorkProgress, job.Completion,
	)
	if err := row.Scan(&job.Version, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return fmt.Errorf("job repository: create %w", err)
	}
	return nil
}

// GetByID loads one job aggregate.
func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("job repository: get by id %w", err)
	}
	return &job, nil
}

// Save persists the aggregate in a single atomic update guarded by the
// version the caller read. Zero rows affected means a concurrent writer
// got there first; the job is NOT partially written in that case.
func (r *JobRepository) Save(ctx context.Context, job *models.Job) error {
	query := `
		UPDATE jobs SET
			fundi_id = $3, status = $4, agreed_price = $5, actual_price = $6,
			proposals = $7, payment = $8, work_progress = $9, completion = $10,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
	`
	result, err := r.db.ExecContext(ctx, query,
		job.ID, job.Version,
		job.FundiID, job.Status, job.AgreedPrice, job.ActualPrice,
		job.Proposals, job.Payment, job.WorkProgress, job.Completion,
	)
	if err != nil {
		return fmt.Errorf("job repository: save %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("job repository: save rows affected %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}

	job.Version++
	return nil
}

// Delete hard-deletes a job, allowed only while it is still posted and
// only by its owner. Later stages are cancelled, never deleted.
func (r *JobRepository) Delete(ctx context.Context, id, customerID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE id = $1 AND customer_id = $2 AND status = $3`,
		id, customerID, models.JobStatusPosted,
	)
	if err != nil {
		return fmt.Errorf("job repository: delete %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("job repository: delete rows affected %w", err)
	}
	if affected == 0 {
		return ErrJobNotDeletable
	}
	return nil
}

// List returns a filtered page of jobs, newest first.
func (r *JobRepository) List(ctx context.Context, params JobListParams) (*JobListResult, error) {
	var conditions []string
	var args []interface{}

	addCondition := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	addCondition("status", params.Status)
	addCondition("category", params.Category)
	addCondition("location", params.Location)

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM jobs`+where, args...); err != nil {
		return nil, fmt.Errorf("job repository: list count %w", err)
	}

	args = append(args, params.Limit, params.Offset)
	query := fmt.Sprintf(`SELECT %s FROM jobs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		jobColumns, where, len(args)-1, len(args))

	jobs := []models.Job{}
	if err := r.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("job repository: list %w", err)
	}

	return &JobListResult{Jobs: jobs, Total: total}, nil
}

// ListByCustomer returns jobs posted by a customer, newest first.
func (r *JobRepository) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.Job, error) {
	jobs := []models.Job{}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE customer_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &jobs, query, customerID); err != nil {
		return nil, fmt.Errorf("job repository: list by customer %w", err)
	}
	return jobs, nil
}

// ListByFundi returns jobs assigned to a fundi, newest first.
func (r *JobRepository) ListByFundi(ctx context.Context, fundiID uuid.UUID) ([]models.Job, error) {
	jobs := []models.Job{}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE fundi_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &jobs, query, fundiID); err != nil {
		return nil, fmt.Errorf("job repository: list by fundi %w", err)
	}
	return jobs, nil
}

// FindByChargeReference locates the job a provider charge event belongs to.
func (r *JobRepository) FindByChargeReference(ctx context.Context, reference string) (*models.Job, error) {
	var job models.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE payment->>'charge_reference' = $1`
	if err := r.db.GetContext(ctx, &job, query, reference); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("job repository: find by charge reference %w", err)
	}
	return &job, nil
}

// FindByTransferReference locates the job a provider transfer event belongs to.
func (r *JobRepository) FindByTransferReference(ctx context.Context, reference string) (*models.Job, error) {
	var job models.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE payment->>'transfer_reference' = $1`
	if err := r.db.GetContext(ctx, &job, query, reference); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("job repository: find by transfer reference %w", err)
	}
	return &job, nil
}

// ListNeedingReconciliation returns jobs the webhook handler flagged for
// manual financial review.
func (r *JobRepository) ListNeedingReconciliation(ctx context.Context) ([]models.Job, error) {
	jobs := []models.Job{}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE payment->>'needs_reconciliation' = 'true' ORDER BY updated_at DESC`
	if err := r.db.SelectContext(ctx, &jobs, query); err != nil {
		return nil, fmt.Errorf("job repository: list needing reconciliation %w", err)
	}
	return jobs, nil
}
