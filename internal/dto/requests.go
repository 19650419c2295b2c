package dto

// CreateJobRequest is the body for POST /api/jobs.
type CreateJobRequest struct {
	Title         string `json:"title" binding:"required"`
	Description   string `json:"description" binding:"required"`
	Category      string `json:"category" binding:"required"`
	Location      string `json:"location" binding:"required"`
	PaymentMethod string `json:"payment_method" binding:"required"`
	BudgetMin     *int64 `json:"budget_min"`
	BudgetMax     *int64 `json:"budget_max"`
}

// SubmitProposalRequest is the body for a fundi's bid.
type SubmitProposalRequest struct {
	ProposedPrice     int64  `json:"proposed_price" binding:"required"`
	EstimatedDuration string `json:"estimated_duration"`
	Message           string `json:"message"`
}

// ProgressRequest is the body for a work-progress entry.
type ProgressRequest struct {
	Message string   `json:"message" binding:"required"`
	Images  []string `json:"images"`
	Stage   string   `json:"stage"`
}

// CompleteJobRequest is the fundi's completion claim.
type CompleteJobRequest struct {
	Images      []string `json:"images"`
	Notes       string   `json:"notes"`
	ActualPrice *int64   `json:"actual_price"`
}

// RateJobRequest is the customer's rating of the fundi's work.
type RateJobRequest struct {
	Rating int `json:"rating" binding:"required,gte=1,lte=5"`
}

// DisputeJobRequest carries the reason for disputing a completion claim.
type DisputeJobRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// CancelJobRequest carries the cancellation reason.
type CancelJobRequest struct {
	Reason string `json:"reason"`
}
