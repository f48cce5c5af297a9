package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mmeshcher/checkout-system/internal/model"
)

// WalletProvider проверяет пополнения через кошелёк: платёж ищется по
// идентификатору, который процессинг присылает в уведомлении.
type WalletProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewWalletProvider создаёт адаптер кошелькового процессинга по указанному адресу.
func NewWalletProvider(baseURL string) *WalletProvider {
	return &WalletProvider{
		baseURL:    normalizeBaseURL(baseURL),
		httpClient: newHTTPClient(),
	}
}

// Name возвращает имя провайдера для реестра.
func (w *WalletProvider) Name() string { return "wallet" }

type walletTopupResponse struct {
	TopupID string `json:"topup_id"`
	State   string `json:"state"`
}

// VerifyPayment запрашивает состояние пополнения по идентификатору платежа.
func (w *WalletProvider) VerifyPayment(ctx context.Context, p VerifyParams) (*VerifyResult, error) {
	url := fmt.Sprintf("%s/api/topups/%s", w.baseURL, p.PaymentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := w.httpClient.Do(req)
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

	var result walletTopupResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var status model.PaymentStatus
	switch result.State {
	case "completed":
		status = model.PaymentStatusSucceeded
	case "processing":
		status = model.PaymentStatusPending
	default:
		status = model.PaymentStatusFailed
	}

	return &VerifyResult{
		Status:            status,
		ProviderPaymentID: result.TopupID,
	}, nil
}
