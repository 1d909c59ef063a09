package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaystackClient implements Gateway against the Paystack REST API.
type PaystackClient struct {
	baseURL   string
	secretKey string
	client    *http.Client
	log       *zap.SugaredLogger
}

func NewPaystackClient(baseURL, secretKey string, log *zap.SugaredLogger) *PaystackClient {
	return &PaystackClient{
		baseURL:   baseURL,
		secretKey: secretKey,
		client:    &http.Client{Timeout: 30 * time.Second},
		log:       log,
	}
}

// envelope is Paystack's common response wrapper.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (p *PaystackClient) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("paystack %s: %w", path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("paystack %s: decode response: %w", path, err)
	}
	if resp.StatusCode >= 300 || !env.Status {
		return fmt.Errorf("paystack %s: %s (http %d)", path, env.Message, resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("paystack %s: decode data: %w", path, err)
		}
	}
	return nil
}

// InitializeTransaction starts a hosted charge.
func (p *PaystackClient) InitializeTransaction(ctx context.Context, reference string, amount decimal.Decimal, email string) (string, error) {
	var data struct {
		AuthorizationURL string `json:"authorization_url"`
	}
	body := map[string]interface{}{
		"reference": reference,
		"amount":    amount.String(),
		"email":     email,
	}
	if err := p.post(ctx, "/transaction/initialize", body, &data); err != nil {
		return "", err
	}
	p.log.Infow("charge initialized", "reference", reference)
	return data.AuthorizationURL, nil
}

// CreateTransferRecipient registers a bank account for payouts.
func (p *PaystackClient) CreateTransferRecipient(ctx context.Context, accountNumber, bankCode, name string) (string, error) {
	var data struct {
		RecipientCode string `json:"recipient_code"`
	}
	body := map[string]interface{}{
		"type":           "nuban",
		"account_number": accountNumber,
		"bank_code":      bankCode,
		"name":           name,
		"currency":       "NGN",
	}
	if err := p.post(ctx, "/transferrecipient", body, &data); err != nil {
		return "", err
	}
	return data.RecipientCode, nil
}

// InitiatePayout sends funds to a recipient.
func (p *PaystackClient) InitiatePayout(ctx context.Context, amount decimal.Decimal, recipientCode, reference string) error {
	body := map[string]interface{}{
		"source":    "balance",
		"amount":    amount.String(),
		"recipient": recipientCode,
		"reference": reference,
	}
	if err := p.post(ctx, "/transfer", body, nil); err != nil {
		return err
	}
	p.log.Infow("payout initiated", "reference", reference)
	return nil
}
