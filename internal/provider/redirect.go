package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mmeshcher/checkout-system/internal/model"
)

// RedirectProvider проверяет платежи регионального процессинга с redirect-потоком:
// пользователь возвращается на сайт с идентификатором платёжной сессии.
type RedirectProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewRedirectProvider создаёт адаптер redirect-процессинга по указанному адресу.
func NewRedirectProvider(baseURL string) *RedirectProvider {
	return &RedirectProvider{
		baseURL:    normalizeBaseURL(baseURL),
		httpClient: newHTTPClient(),
	}
}

// Name возвращает имя провайдера для реестра.
func (r *RedirectProvider) Name() string { return "redirect" }

type redirectPaymentResponse struct {
	Status    string `json:"status"`
	PaymentID string `json:"payment_id"`
}

// VerifyPayment читает состояние платёжной сессии. Запрос не меняет состояние
// на стороне процессинга и безопасен для повторов.
func (r *RedirectProvider) VerifyPayment(ctx context.Context, p VerifyParams) (*VerifyResult, error) {
	url := fmt.Sprintf("%s/api/payments/%s", r.baseURL, p.SessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
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

	var result redirectPaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var status model.PaymentStatus
	switch result.Status {
	case "done":
		status = model.PaymentStatusSucceeded
	case "pending", "verifying":
		status = model.PaymentStatusPending
	default:
		status = model.PaymentStatusFailed
	}

	return &VerifyResult{
		Status:            status,
		ProviderPaymentID: result.PaymentID,
	}, nil
}
