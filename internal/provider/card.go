package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mmeshcher/checkout-system/internal/model"
)

// CardProvider проверяет платежи карточного процессинга, работающего по commit-токену.
type CardProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewCardProvider создаёт адаптер карточного процессинга по указанному адресу.
func NewCardProvider(baseURL string) *CardProvider {
	return &CardProvider{
		baseURL:    normalizeBaseURL(baseURL),
		httpClient: newHTTPClient(),
	}
}

// Name возвращает имя провайдера для реестра.
func (c *CardProvider) Name() string { return "card" }

type cardCommitRequest struct {
	Token string `json:"token"`
}

type cardCommitResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
}

// VerifyPayment подтверждает платёж по redirect-токену. Процессинг идемпотентен
// по токену, поэтому повторный commit возвращает тот же результат.
func (c *CardProvider) VerifyPayment(ctx context.Context, p VerifyParams) (*VerifyResult, error) {
	body, err := json.Marshal(cardCommitRequest{Token: p.Token})
	if err != nil {
		return nil, fmt.Errorf("marshal commit request: %w", err)
	}

	url := fmt.Sprintf("%s/api/transactions/commit", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result cardCommitResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &VerifyResult{
		Status:            mapCardStatus(result.Status),
		ProviderPaymentID: result.TransactionID,
	}, nil
}

func mapCardStatus(status string) model.PaymentStatus {
	switch status {
	case "AUTHORIZED":
		return model.PaymentStatusSucceeded
	case "INITIALIZED", "PENDING":
		return model.PaymentStatusPending
	default:
		return model.PaymentStatusFailed
	}
}

func normalizeBaseURL(base string) string {
	base = strings.TrimRight(base, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base
}
