package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Charge verification statuses as reported by the provider.
const (
	ChargeStatusSuccess = "success"
	ChargeStatusFailed  = "failed"
	ChargeStatusPending = "pending"
)

// Sentinel errors of the provider contract.
var (
	ErrProviderUnavailable         = errors.New("payment provider unavailable")
	ErrInvalidPayerContact         = errors.New("invalid payer contact")
	ErrInsufficientPlatformBalance = errors.New("insufficient platform balance")
)

// ProviderRejectedError carries the provider's rejection reason verbatim.
type ProviderRejectedError struct {
	Reason string
}

func (e *ProviderRejectedError) Error() string {
	return fmt.Sprintf("provider rejected request: %s", e.Reason)
}

// ChargeIntent is the result of initiating a charge: the reference to
// verify later plus whatever the payer needs to authorize it (an STK push
// prompt, a card redirect URL).
type ChargeIntent struct {
	Reference           string `json:"reference"`
	PayerRedirectOrCode string `json:"payer_redirect_or_code"`
}

// ChargeResult is the settled (or not yet settled) state of a charge.
// Verification is idempotent: once the provider settles, repeated calls
// return the same result.
type ChargeResult struct {
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

// TransferResult is the outcome of a payout request.
type TransferResult struct {
	TransferReference string `json:"transfer_reference"`
	Status            string `json:"status"`
}

// RefundResult references a refund issued against a charge.
type RefundResult struct {
	RefundReference string `json:"refund_reference"`
}

// Provider abstracts an external payment processor. All calls are blocking
// network I/O; callers bound them with a context deadline and must treat a
// timeout as an UNKNOWN outcome, never a failure.
type Provider interface {
	InitiateCharge(ctx context.Context, amount int64, payerContact string, jobRef uuid.UUID) (*ChargeIntent, error)
	VerifyCharge(ctx context.Context, reference string) (*ChargeResult, error)
	ResolvePayoutRecipient(ctx context.Context, payeeContact, payeeName string) (string, error)
	Payout(ctx context.Context, amount int64, recipientCode string, jobRef uuid.UUID) (*TransferResult, error)
	Refund(ctx context.Context, chargeReference string, amount int64, note string) (*RefundResult, error)
}

// FeeSplit is the deterministic division of an amount between the platform
// and the payee.
type FeeSplit struct {
	PlatformFee int64 `json:"platform_fee"`
	PayeeAmount int64 `json:"payee_amount"`
}

// ComputeFeeSplit splits amount using integer half-up rounding:
// platformFee = round(amount*feePercent/100), payeeAmount = the remainder.
// Rounding at the .5 boundary favors the platform. Pure integer math, so
// repeated calls for the same inputs can never drift.
func ComputeFeeSplit(amount, feePercent int64) FeeSplit {
	fee := (amount*feePercent + 50) / 100
	return FeeSplit{
		PlatformFee: fee,
		PayeeAmount: amount - fee,
	}
}

// PayoutReference builds the idempotency key candidate attached to a
// payout, carrying the job id plus a timestamp for provider-side dedup.
func PayoutReference(jobID uuid.UUID, unixNano int64) string {
	return fmt.Sprintf("payout-%s-%d", jobID.String(), unixNano)
}
