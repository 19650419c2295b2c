package payments

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SandboxProvider is an in-memory provider for development. Charges settle
// on first verification, payouts always succeed while the simulated
// platform balance lasts. Not safe for anything resembling real money.
type SandboxProvider struct {
	mu              sync.Mutex
	charges         map[string]int64
	settled         map[string]bool
	recipients      map[string]string
	platformBalance int64
}

// NewSandboxProvider creates a sandbox with the given simulated float.
func NewSandboxProvider(platformBalance int64) *SandboxProvider {
	return &SandboxProvider{
		charges:         make(map[string]int64),
		settled:         make(map[string]bool),
		recipients:      make(map[string]string),
		platformBalance: platformBalance,
	}
}

func (p *SandboxProvider) InitiateCharge(ctx context.Context, amount int64, payerContact string, jobRef uuid.UUID) (*ChargeIntent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(ContactVariants(payerContact)) == 0 {
		return nil, ErrInvalidPayerContact
	}

	reference := fmt.Sprintf("sbx-charge-%s-%d", jobRef.String(), time.Now().UnixNano())

	p.mu.Lock()
	p.charges[reference] = amount
	p.mu.Unlock()

	return &ChargeIntent{
		Reference:           reference,
		PayerRedirectOrCode: "sandbox: charge auto-settles on verify",
	}, nil
}

func (p *SandboxProvider) VerifyCharge(ctx context.Context, reference string) (*ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	amount, ok := p.charges[reference]
	if !ok {
		return nil, &ProviderRejectedError{Reason: "unknown charge reference"}
	}
	p.settled[reference] = true
	return &ChargeResult{Status: ChargeStatusSuccess, Amount: amount}, nil
}

func (p *SandboxProvider) ResolvePayoutRecipient(ctx context.Context, payeeContact, payeeName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	// The sandbox only accepts the country-code form, which exercises the
	// resolver's variant fallback in development.
	if !strings.HasPrefix(payeeContact, "254") {
		return "", &ProviderRejectedError{Reason: "unsupported contact format"}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if code, ok := p.recipients[payeeContact]; ok {
		return code, nil
	}
	code := fmt.Sprintf("sbx-rcp-%s", uuid.NewString()[:8])
	p.recipients[payeeContact] = code
	return code, nil
}

func (p *SandboxProvider) Payout(ctx context.Context, amount int64, recipientCode string, jobRef uuid.UUID) (*TransferResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.platformBalance < amount {
		return nil, ErrInsufficientPlatformBalance
	}
	p.platformBalance -= amount

	return &TransferResult{
		TransferReference: PayoutReference(jobRef, time.Now().UnixNano()),
		Status:            "success",
	}, nil
}

func (p *SandboxProvider) Refund(ctx context.Context, chargeReference string, amount int64, note string) (*RefundResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.charges[chargeReference]; !ok {
		return nil, &ProviderRejectedError{Reason: "unknown charge reference"}
	}
	return &RefundResult{
		RefundReference: fmt.Sprintf("sbx-refund-%d", time.Now().UnixNano()),
	}, nil
}
