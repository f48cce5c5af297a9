// Package handler содержит HTTP-обработчики API сервиса оформления заказов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/checkout-system/internal/middleware"
	"github.com/mmeshcher/checkout-system/internal/model"
	"github.com/mmeshcher/checkout-system/internal/provider"
	"github.com/mmeshcher/checkout-system/internal/reconcile"
	"github.com/mmeshcher/checkout-system/internal/repository"
	"github.com/mmeshcher/checkout-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterOrganization(ctx context.Context, name, secret string) (uuid.UUID, error)
	AuthenticateOrganization(ctx context.Context, name, secret string) (uuid.UUID, error)
	CreateOrder(ctx context.Context, spec repository.OrderSpec) (*model.Order, error)
	FindOrder(ctx context.Context, orgID uuid.UUID, number string) (*model.Order, error)
	ListOrders(ctx context.Context, orgID uuid.UUID) ([]model.Order, error)
	Inspect(ctx context.Context, orgID uuid.UUID, number string) (*reconcile.OrderView, error)
	Reconcile(ctx context.Context, orderID uuid.UUID, providerHint string, params provider.VerifyParams) (*reconcile.OrderView, error)
	Cancel(ctx context.Context, orgID uuid.UUID, number string) (*reconcile.OrderView, error)
	GetBalance(ctx context.Context, orgID uuid.UUID) (*model.Balance, error)
	SpendCredits(ctx context.Context, orgID uuid.UUID, orderNumber string, amount int64) error
	ListTransactions(ctx context.Context, orgID uuid.UUID) ([]model.LedgerTransaction, error)
	GetInvoice(ctx context.Context, orgID uuid.UUID, number string) (*model.Invoice, error)
}

// Handler реализует HTTP-обработчики API сервиса оформления заказов.
type Handler struct {
	service           Service
	logger            *zap.Logger
	authMiddleware    *middleware.AuthMiddleware
	webhookMiddleware *middleware.WebhookMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, webhook *middleware.WebhookMiddleware) *Handler {
	return &Handler{
		service:           s,
		logger:            logger,
		authMiddleware:    auth,
		webhookMiddleware: webhook,
	}
}

type credentialsRequest struct {
	Name   string `json:"name"`
	Secret string `json:"secret"`
}

// Register обрабатывает регистрацию новой организации.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Name == "" || req.Secret == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	orgID, err := h.service.RegisterOrganization(r.Context(), req.Name, req.Secret)
	if err != nil {
		if errors.Is(err, repository.ErrOrgExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register organization error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, orgID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию организации и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Name == "" || req.Secret == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	orgID, err := h.service.AuthenticateOrganization(r.Context(), req.Name, req.Secret)
	if err != nil {
		if errors.Is(err, repository.ErrOrgNotFound) || errors.Is(err, reconcile.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login organization error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, orgID)
	w.WriteHeader(http.StatusOK)
}

type createOrderRequest struct {
	ProductType string          `json:"product_type"`
	ProductData json.RawMessage `json:"product_data,omitempty"`
	Amount      int64           `json:"amount"`
	Currency    string          `json:"currency"`
	ExpiresIn   int64           `json:"expires_in,omitempty"`
}

type orderResponse struct {
	Number      string `json:"number"`
	ProductType string `json:"product_type"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	ExpiresAt   string `json:"expires_at,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func toOrderResponse(o *model.Order) orderResponse {
	resp := orderResponse{
		Number:      o.Number,
		ProductType: string(o.ProductType),
		Amount:      o.Amount,
		Currency:    o.Currency,
		Status:      string(o.Status),
		CreatedAt:   o.CreatedAt.Format(time.RFC3339),
	}
	if o.ExpiresAt != nil {
		resp.ExpiresAt = o.ExpiresAt.Format(time.RFC3339)
	}
	return resp
}

// CreateOrder создаёт заказ текущей организации.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	orgID, ok := middleware.GetOrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	spec := repository.OrderSpec{
		OrganizationID: orgID,
		ProductType:    model.ProductType(req.ProductType),
		ProductData:    req.ProductData,
		Amount:         req.Amount,
		Currency:       req.Currency,
	}
	if req.ExpiresIn > 0 {
		expiresAt := time.Now().Add(time.Duration(req.ExpiresIn) * time.Second)
		spec.ExpiresAt = &expiresAt
	}

	order, err := h.service.CreateOrder(r.Context(), spec)
	if err != nil {
		if errors.Is(err, validation.ErrInvalidAmount) || errors.Is(err, validation.ErrInvalidCurrency) {
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("create order error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(toOrderResponse(order)); err != nil {
		h.logger.Error("encode order error", zap.Error(err))
	}
}

// ListOrders возвращает список заказов текущей организации.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orgID, ok := middleware.GetOrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orders, err := h.service.ListOrders(r.Context(), orgID)
	if err != nil {
		h.logger.Error("list orders error", zap.Error(err), zap.String("orgID", orgID.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type paymentResponse struct {
	Provider          string `json:"provider"`
	ProviderPaymentID string `json:"provider_payment_id"`
	Status            string `json:"status"`
}

type orderViewResponse struct {
	Order      orderResponse    `json:"order"`
	Payment    *paymentResponse `json:"payment,omitempty"`
	Processing bool             `json:"processing"`
	Expired    bool             `json:"expired"`
}

func toViewResponse(v *reconcile.OrderView) orderViewResponse {
	resp := orderViewResponse{
		Order:      toOrderResponse(v.Order),
		Processing: v.Processing,
		Expired:    v.Expired,
	}
	if v.Payment != nil {
		resp.Payment = &paymentResponse{
			Provider:          v.Payment.Provider,
			ProviderPaymentID: v.Payment.ProviderPaymentID,
			Status:            string(v.Payment.Status),
		}
	}
	return resp
}

func (h *Handler) writeView(w http.ResponseWriter, v *reconcile.OrderView) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toViewResponse(v)); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
