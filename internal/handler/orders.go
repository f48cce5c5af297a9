package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/checkout-system/internal/middleware"
	"github.com/mmeshcher/checkout-system/internal/provider"
	"github.com/mmeshcher/checkout-system/internal/reconcile"
	"github.com/mmeshcher/checkout-system/internal/repository"
)

// GetOrder возвращает заказ организации с проверкой истечения срока при чтении.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orgID, ok := middleware.GetOrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	number := chi.URLParam(r, "number")

	view, err := h.service.Inspect(r.Context(), orgID, number)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("inspect order error", zap.Error(err), zap.String("order", number))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeView(w, view)
}

type confirmRequest struct {
	Provider  string `json:"provider"`
	Token     string `json:"token,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	PaymentID string `json:"payment_id,omitempty"`
}

// ConfirmOrder обрабатывает возврат пользователя с платёжной страницы:
// запускает сверку по токенам процессинга из тела запроса.
func (h *Handler) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	orgID, ok := middleware.GetOrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	number := chi.URLParam(r, "number")

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.FindOrder(r.Context(), orgID, number)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("find order error", zap.Error(err), zap.String("order", number))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	view, err := h.service.Reconcile(r.Context(), order.ID, req.Provider, provider.VerifyParams{
		Token:     req.Token,
		SessionID: req.SessionID,
		PaymentID: req.PaymentID,
	})
	if err != nil {
		h.logger.Error("reconcile error", zap.Error(err), zap.String("order", number))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeView(w, view)
}

type webhookRequest struct {
	OrderID   string `json:"order_id"`
	Token     string `json:"token,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	PaymentID string `json:"payment_id,omitempty"`
}

// Webhook обрабатывает уведомление процессинга. Подлинность запроса уже
// проверена middleware по подписи тела.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	view, err := h.service.Reconcile(r.Context(), orderID, providerName, provider.VerifyParams{
		Token:     req.Token,
		SessionID: req.SessionID,
		PaymentID: req.PaymentID,
	})
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("webhook reconcile error", zap.Error(err),
			zap.String("provider", providerName), zap.String("orderID", req.OrderID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status": string(view.Order.Status),
	}); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// CancelOrder выполняет явную отмену заказа с истёкшим сроком оплаты.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orgID, ok := middleware.GetOrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	number := chi.URLParam(r, "number")

	view, err := h.service.Cancel(r.Context(), orgID, number)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, reconcile.ErrNotExpired), errors.Is(err, repository.ErrConflict):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("cancel order error", zap.Error(err), zap.String("order", number))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeView(w, view)
}

type invoiceResponse struct {
	Number       string `json:"number"`
	Jurisdiction string `json:"jurisdiction"`
	ArtifactURL  string `json:"artifact_url"`
	IssuedAt     string `json:"issued_at"`
}

// GetInvoice возвращает выпущенный документ по заказу организации.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	orgID, ok := middleware.GetOrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	number := chi.URLParam(r, "number")

	inv, err := h.service.GetInvoice(r.Context(), orgID, number)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) || errors.Is(err, repository.ErrInvoiceNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get invoice error", zap.Error(err), zap.String("order", number))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(invoiceResponse{
		Number:       inv.Number,
		Jurisdiction: inv.Jurisdiction,
		ArtifactURL:  inv.ArtifactURL,
		IssuedAt:     inv.IssuedAt.Format(time.RFC3339),
	}); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// GetBalance возвращает баланс текущей организации.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	orgID, ok := middleware.GetOrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), orgID)
	if err != nil {
		h.logger.Error("get balance error", zap.Error(err), zap.String("orgID", orgID.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(balance); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type spendRequest struct {
	Order string `json:"order"`
	Sum   int64  `json:"sum"`
}

// Spend создаёт операцию списания средств текущей организации.
func (h *Handler) Spend(w http.ResponseWriter, r *http.Request) {
	orgID, ok := middleware.GetOrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req spendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Sum <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SpendCredits(r.Context(), orgID, req.Order, req.Sum); err != nil {
		if errors.Is(err, repository.ErrInsufficientBalance) {
			http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
			return
		}
		h.logger.Error("spend error", zap.Error(err),
			zap.String("orgID", orgID.String()), zap.String("order", req.Order))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type transactionResponse struct {
	Type         string `json:"type"`
	Amount       int64  `json:"amount"`
	BalanceAfter int64  `json:"balance_after"`
	Order        string `json:"order,omitempty"`
	ProcessedAt  string `json:"processed_at"`
}

// GetTransactions возвращает историю операций по счёту текущей организации.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	orgID, ok := middleware.GetOrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	transactions, err := h.service.ListTransactions(r.Context(), orgID)
	if err != nil {
		h.logger.Error("get transactions error", zap.Error(err), zap.String("orgID", orgID.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(transactions) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]transactionResponse, 0, len(transactions))
	for _, t := range transactions {
		resp = append(resp, transactionResponse{
			Type:         string(t.Type),
			Amount:       t.Amount,
			BalanceAfter: t.BalanceAfter,
			Order:        t.OrderNumber,
			ProcessedAt:  t.CreatedAt.Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
