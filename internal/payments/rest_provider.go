package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RESTProvider talks to the payment processor's HTTP API. The per-call
// deadline comes from the caller's context; the client timeout is only a
// hard upper bound.
type RESTProvider struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewRESTProvider creates a provider client for the given API base URL.
func NewRESTProvider(baseURL, secretKey string) *RESTProvider {
	return &RESTProvider{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type restError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// InitiateCharge asks the provider to start collecting amount from the
// payer, tagged with the job id for webhook correlation.
func (p *RESTProvider) InitiateCharge(ctx context.Context, amount int64, payerContact string, jobRef uuid.UUID) (*ChargeIntent, error) {
	payload := map[string]any{
		"amount":   amount,
		"currency": "KES",
		"contact":  payerContact,
		"metadata": map[string]string{"job_id": jobRef.String()},
	}

	var out ChargeIntent
	if err := p.post(ctx, "/charges", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyCharge fetches the settled (or still pending) state of a charge.
func (p *RESTProvider) VerifyCharge(ctx context.Context, reference string) (*ChargeResult, error) {
	var out ChargeResult
	if err := p.get(ctx, "/charges/"+reference, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolvePayoutRecipient registers the payee contact with the provider
// and returns the recipient code to use in transfers.
func (p *RESTProvider) ResolvePayoutRecipient(ctx context.Context, payeeContact, payeeName string) (string, error) {
	payload := map[string]any{
		"contact": payeeContact,
		"name":    payeeName,
	}

	var out struct {
		RecipientCode string `json:"recipient_code"`
	}
	if err := p.post(ctx, "/recipients", payload, &out); err != nil {
		return "", err
	}
	return out.RecipientCode, nil
}

// Payout transfers amount to a previously resolved recipient.
func (p *RESTProvider) Payout(ctx context.Context, amount int64, recipientCode string, jobRef uuid.UUID) (*TransferResult, error) {
	payload := map[string]any{
		"amount":    amount,
		"currency":  "KES",
		"recipient": recipientCode,
		"reference": PayoutReference(jobRef, time.Now().UnixNano()),
		"metadata":  map[string]string{"job_id": jobRef.String()},
	}

	var out TransferResult
	if err := p.post(ctx, "/transfers", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refund returns escrowed funds to the payer.
func (p *RESTProvider) Refund(ctx context.Context, chargeReference string, amount int64, note string) (*RefundResult, error) {
	payload := map[string]any{
		"charge": chargeReference,
		"amount": amount,
		"note":   note,
	}

	var out RefundResult
	if err := p.post(ctx, "/refunds", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *RESTProvider) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("payments: failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.secretKey)

	return p.do(req, out)
}

func (p *RESTProvider) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)

	return p.do(req, out)
}

// do executes the request and maps provider responses onto the contract
// errors. A transport failure is surfaced as-is so the caller can tell a
// timeout (UNKNOWN outcome) apart from a provider rejection.
func (p *RESTProvider) do(req *http.Request, out any) error {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return ErrProviderUnavailable
	}

	if resp.StatusCode >= 400 {
		var apiErr restError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)

		switch apiErr.Code {
		case "invalid_contact":
			return ErrInvalidPayerContact
		case "insufficient_balance":
			return ErrInsufficientPlatformBalance
		}

		reason := apiErr.Message
		if reason == "" {
			reason = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return &ProviderRejectedError{Reason: reason}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("payments: failed to decode response: %w", err)
		}
	}
	return nil
}
