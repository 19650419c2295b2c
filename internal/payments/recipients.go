package payments

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ContactVariants normalizes a Kenyan MSISDN into the fixed order of forms
// a provider may accept: "254XXXXXXXXX" first, then "0XXXXXXXXX", then
// "+254XXXXXXXXX". Resolution tries them in exactly this order and stops
// at the first the provider accepts.
func ContactVariants(contact string) []string {
	digits := strings.TrimSpace(contact)
	digits = strings.TrimPrefix(digits, "+")

	var local string
	switch {
	case strings.HasPrefix(digits, "254"):
		local = strings.TrimPrefix(digits, "254")
	case strings.HasPrefix(digits, "0"):
		local = strings.TrimPrefix(digits, "0")
	default:
		local = digits
	}

	if local == "" {
		return nil
	}

	return []string{
		"254" + local,
		"0" + local,
		"+254" + local,
	}
}

type cachedRecipient struct {
	code      string
	expiresAt time.Time
}

// RecipientResolver resolves payout recipient codes through a provider,
// trying contact variants in order, and caches the stable routing code per
// payee so repeated releases do not re-register the recipient.
type RecipientResolver struct {
	provider Provider
	ttl      time.Duration

	mu    sync.RWMutex
	cache map[string]cachedRecipient
}

// NewRecipientResolver creates a resolver with a per-payee cache TTL.
func NewRecipientResolver(provider Provider, ttl time.Duration) *RecipientResolver {
	return &RecipientResolver{
		provider: provider,
		ttl:      ttl,
		cache:    make(map[string]cachedRecipient),
	}
}

// Resolve returns the provider routing code for a payee. The contact is
// tried in the documented variant order; the last rejection reason is
// surfaced if no variant is accepted.
func (r *RecipientResolver) Resolve(ctx context.Context, payeeContact, payeeName string) (string, error) {
	variants := ContactVariants(payeeContact)
	if len(variants) == 0 {
		return "", ErrInvalidPayerContact
	}

	cacheKey := variants[0]

	r.mu.RLock()
	entry, ok := r.cache[cacheKey]
	r.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.code, nil
	}

	var lastErr error
	for _, variant := range variants {
		code, err := r.provider.ResolvePayoutRecipient(ctx, variant, payeeName)
		if err == nil {
			r.mu.Lock()
			r.cache[cacheKey] = cachedRecipient{
				code:      code,
				expiresAt: time.Now().Add(r.ttl),
			}
			r.mu.Unlock()
			return code, nil
		}

		// Provider unavailability is not a rejection: trying further
		// variants would just hammer a dead endpoint.
		if errors.Is(err, ErrProviderUnavailable) {
			return "", err
		}
		lastErr = err
	}

	return "", lastErr
}

// Invalidate drops the cached code for a payee, e.g. after the payee
// changes their payout destination.
func (r *RecipientResolver) Invalidate(payeeContact string) {
	variants := ContactVariants(payeeContact)
	if len(variants) == 0 {
		return
	}
	r.mu.Lock()
	delete(r.cache, variants[0])
	r.mu.Unlock()
}
