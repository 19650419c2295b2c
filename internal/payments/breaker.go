package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

// BreakerProvider wraps a Provider in a circuit breaker. When the provider
// keeps failing, the breaker opens and calls fail fast with
// ErrProviderUnavailable instead of queueing up timed-out requests.
type BreakerProvider struct {
	inner Provider
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerProvider wraps the given provider. The breaker trips after 5
// consecutive failures and probes again after 30 seconds.
func NewBreakerProvider(inner Provider) *BreakerProvider {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "payment-provider",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Business rejections are real answers from the provider, not
			// signs of an outage; they must not trip the breaker.
			if err == nil {
				return true
			}
			var rejected *ProviderRejectedError
			return errors.As(err, &rejected) ||
				errors.Is(err, ErrInvalidPayerContact) ||
				errors.Is(err, ErrInsufficientPlatformBalance)
		},
	})
	return &BreakerProvider{inner: inner, cb: cb}
}

func (b *BreakerProvider) execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrProviderUnavailable
	}
	return result, err
}

func (b *BreakerProvider) InitiateCharge(ctx context.Context, amount int64, payerContact string, jobRef uuid.UUID) (*ChargeIntent, error) {
	result, err := b.execute(func() (interface{}, error) {
		return b.inner.InitiateCharge(ctx, amount, payerContact, jobRef)
	})
	if err != nil {
		return nil, err
	}
	return result.(*ChargeIntent), nil
}

func (b *BreakerProvider) VerifyCharge(ctx context.Context, reference string) (*ChargeResult, error) {
	result, err := b.execute(func() (interface{}, error) {
		return b.inner.VerifyCharge(ctx, reference)
	})
	if err != nil {
		return nil, err
	}
	return result.(*ChargeResult), nil
}

func (b *BreakerProvider) ResolvePayoutRecipient(ctx context.Context, payeeContact, payeeName string) (string, error) {
	result, err := b.execute(func() (interface{}, error) {
		return b.inner.ResolvePayoutRecipient(ctx, payeeContact, payeeName)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (b *BreakerProvider) Payout(ctx context.Context, amount int64, recipientCode string, jobRef uuid.UUID) (*TransferResult, error) {
	result, err := b.execute(func() (interface{}, error) {
		return b.inner.Payout(ctx, amount, recipientCode, jobRef)
	})
	if err != nil {
		return nil, err
	}
	return result.(*TransferResult), nil
}

func (b *BreakerProvider) Refund(ctx context.Context, chargeReference string, amount int64, note string) (*RefundResult, error) {
	result, err := b.execute(func() (interface{}, error) {
		return b.inner.Refund(ctx, chargeReference, amount, note)
	})
	if err != nil {
		return nil, err
	}
	return result.(*RefundResult), nil
}
