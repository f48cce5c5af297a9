package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/checkout-system/internal/middleware"
	"github.com/mmeshcher/checkout-system/internal/model"
	"github.com/mmeshcher/checkout-system/internal/provider"
	"github.com/mmeshcher/checkout-system/internal/reconcile"
	"github.com/mmeshcher/checkout-system/internal/repository"
	"github.com/mmeshcher/checkout-system/internal/validation"
)

// withChiParam подкладывает path-параметр маршрута для прямого вызова обработчика.
func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

type stubService struct {
	orgID       uuid.UUID
	registerErr error
	authErr     error

	order     *model.Order
	orders    []model.Order
	orderErr  error
	createErr error

	view         *reconcile.OrderView
	reconcileErr error
	cancelErr    error

	balance      *model.Balance
	spendErr     error
	transactions []model.LedgerTransaction

	invoice    *model.Invoice
	invoiceErr error

	lastProvider string
	lastParams   provider.VerifyParams
}

func (s *stubService) RegisterOrganization(ctx context.Context, name, secret string) (uuid.UUID, error) {
	return s.orgID, s.registerErr
}

func (s *stubService) AuthenticateOrganization(ctx context.Context, name, secret string) (uuid.UUID, error) {
	return s.orgID, s.authErr
}

func (s *stubService) CreateOrder(ctx context.Context, spec repository.OrderSpec) (*model.Order, error) {
	return s.order, s.createErr
}

func (s *stubService) FindOrder(ctx context.Context, orgID uuid.UUID, number string) (*model.Order, error) {
	return s.order, s.orderErr
}

func (s *stubService) ListOrders(ctx context.Context, orgID uuid.UUID) ([]model.Order, error) {
	return s.orders, s.orderErr
}

func (s *stubService) Inspect(ctx context.Context, orgID uuid.UUID, number string) (*reconcile.OrderView, error) {
	return s.view, s.orderErr
}

func (s *stubService) Reconcile(ctx context.Context, orderID uuid.UUID, providerHint string, params provider.VerifyParams) (*reconcile.OrderView, error) {
	s.lastProvider = providerHint
	s.lastParams = params
	return s.view, s.reconcileErr
}

func (s *stubService) Cancel(ctx context.Context, orgID uuid.UUID, number string) (*reconcile.OrderView, error) {
	return s.view, s.cancelErr
}

func (s *stubService) GetBalance(ctx context.Context, orgID uuid.UUID) (*model.Balance, error) {
	return s.balance, nil
}

func (s *stubService) SpendCredits(ctx context.Context, orgID uuid.UUID, orderNumber string, amount int64) error {
	return s.spendErr
}

func (s *stubService) ListTransactions(ctx context.Context, orgID uuid.UUID) ([]model.LedgerTransaction, error) {
	return s.transactions, nil
}

func (s *stubService) GetInvoice(ctx context.Context, orgID uuid.UUID, number string) (*model.Invoice, error) {
	return s.invoice, s.invoiceErr
}

func newTestHandler(svc Service) *Handler {
	auth := middleware.NewAuthMiddleware("test-secret")
	webhook := middleware.NewWebhookMiddleware("webhook-secret")
	return NewHandler(svc, zap.NewNop(), auth, webhook)
}

// authRequest прокладывает запрос через auth middleware с валидной cookie.
func authRequest(t *testing.T, h *Handler, handlerFunc http.HandlerFunc, req *http.Request, orgID uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()

	cookieRec := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(cookieRec, orgID)
	cookies := cookieRec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatalf("auth cookie not set")
	}
	req.AddCookie(cookies[0])

	rec := httptest.NewRecorder()
	h.authMiddleware.Middleware(handlerFunc).ServeHTTP(rec, req)
	return rec
}

func testOrder() *model.Order {
	return &model.Order{
		ID:          uuid.New(),
		Number:      "ORD-000042",
		ProductType: model.ProductCredits,
		Amount:      10000,
		Currency:    "CLP",
		Status:      model.OrderStatusPendingPayment,
		CreatedAt:   time.Now(),
	}
}

func TestRegister(t *testing.T) {
	svc := &stubService{orgID: uuid.New()}
	h := newTestHandler(svc)

	body := bytes.NewBufferString(`{"name": "acme", "secret": "s3cret"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/org/register", body)
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if len(rec.Result().Cookies()) == 0 {
		t.Errorf("auth cookie must be set after register")
	}
}

func TestRegisterConflict(t *testing.T) {
	svc := &stubService{registerErr: repository.ErrOrgExists}
	h := newTestHandler(svc)

	body := bytes.NewBufferString(`{"name": "acme", "secret": "s3cret"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/org/register", body)
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	svc := &stubService{authErr: reconcile.ErrInvalidCredentials}
	h := newTestHandler(svc)

	body := bytes.NewBufferString(`{"name": "acme", "secret": "wrong"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/org/login", body)
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestCreateOrder(t *testing.T) {
	svc := &stubService{order: testOrder()}
	h := newTestHandler(svc)

	body := bytes.NewBufferString(`{"product_type": "credits", "amount": 10000, "currency": "CLP", "expires_in": 1800}`)
	req := httptest.NewRequest(http.MethodPost, "/api/orders", body)
	rec := authRequest(t, h, h.CreateOrder, req, uuid.New())

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}

	var resp orderResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Number != "ORD-000042" {
		t.Errorf("number = %s, want ORD-000042", resp.Number)
	}
	if resp.Status != string(model.OrderStatusPendingPayment) {
		t.Errorf("status = %s, want pending_payment", resp.Status)
	}
}

func TestCreateOrderInvalidAmount(t *testing.T) {
	svc := &stubService{createErr: validation.ErrInvalidAmount}
	h := newTestHandler(svc)

	body := bytes.NewBufferString(`{"product_type": "credits", "amount": -5, "currency": "CLP"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/orders", body)
	rec := authRequest(t, h, h.CreateOrder, req, uuid.New())

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestCreateOrderWithoutCookie(t *testing.T) {
	svc := &stubService{order: testOrder()}
	h := newTestHandler(svc)

	body := bytes.NewBufferString(`{"product_type": "credits", "amount": 10000, "currency": "CLP"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/orders", body)
	rec := httptest.NewRecorder()

	h.authMiddleware.Middleware(http.HandlerFunc(h.CreateOrder)).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestListOrdersEmpty(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	rec := authRequest(t, h, h.ListOrders, req, uuid.New())

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestConfirmOrder(t *testing.T) {
	order := testOrder()
	order.Status = model.OrderStatusCompleted
	svc := &stubService{
		order: order,
		view:  &reconcile.OrderView{Order: order},
	}
	h := newTestHandler(svc)

	body := bytes.NewBufferString(`{"provider": "card", "token": "tok-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/orders/ORD-000042/confirm", body)
	req = withChiParam(req, "number", "ORD-000042")
	rec := authRequest(t, h, h.ConfirmOrder, req, uuid.New())

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if svc.lastProvider != "card" {
		t.Errorf("provider hint = %s, want card", svc.lastProvider)
	}
	if svc.lastParams.Token != "tok-1" {
		t.Errorf("token = %s, want tok-1", svc.lastParams.Token)
	}

	var resp orderViewResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Order.Status != string(model.OrderStatusCompleted) {
		t.Errorf("order status = %s, want completed", resp.Order.Status)
	}
}

func TestWebhook(t *testing.T) {
	order := testOrder()
	order.Status = model.OrderStatusCompleted
	svc := &stubService{view: &reconcile.OrderView{Order: order}}
	h := newTestHandler(svc)

	payload := []byte(`{"order_id": "` + order.ID.String() + `", "payment_id": "W1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/wallet", bytes.NewReader(payload))
	req.Header.Set("X-Signature", h.webhookMiddleware.Sign(payload))
	req = withChiParam(req, "provider", "wallet")

	rec := httptest.NewRecorder()
	h.webhookMiddleware.Middleware(http.HandlerFunc(h.Webhook)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if svc.lastProvider != "wallet" {
		t.Errorf("provider hint = %s, want wallet", svc.lastProvider)
	}
	if svc.lastParams.PaymentID != "W1" {
		t.Errorf("payment id = %s, want W1", svc.lastParams.PaymentID)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != string(model.OrderStatusCompleted) {
		t.Errorf("status = %s, want completed", resp["status"])
	}
}

func TestWebhookBadSignature(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(svc)

	payload := []byte(`{"order_id": "` + uuid.NewString() + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/wallet", bytes.NewReader(payload))
	req.Header.Set("X-Signature", "deadbeef")

	rec := httptest.NewRecorder()
	h.webhookMiddleware.Middleware(http.HandlerFunc(h.Webhook)).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestCancelOrderNotExpired(t *testing.T) {
	svc := &stubService{cancelErr: reconcile.ErrNotExpired}
	h := newTestHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/orders/ORD-000042/cancel", nil)
	req = withChiParam(req, "number", "ORD-000042")
	rec := authRequest(t, h, h.CancelOrder, req, uuid.New())

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestGetInvoiceNotFound(t *testing.T) {
	svc := &stubService{invoiceErr: repository.ErrInvoiceNotFound}
	h := newTestHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/orders/ORD-000042/invoice", nil)
	req = withChiParam(req, "number", "ORD-000042")
	rec := authRequest(t, h, h.GetInvoice, req, uuid.New())

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestGetBalance(t *testing.T) {
	svc := &stubService{balance: &model.Balance{Current: 7500, Spent: 2500}}
	h := newTestHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/balance", nil)
	rec := authRequest(t, h, h.GetBalance, req, uuid.New())

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp model.Balance
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Current != 7500 || resp.Spent != 2500 {
		t.Errorf("balance = %+v, want {7500 2500}", resp)
	}
}

func TestSpendInsufficientBalance(t *testing.T) {
	svc := &stubService{spendErr: repository.ErrInsufficientBalance}
	h := newTestHandler(svc)

	body := bytes.NewBufferString(`{"order": "ORD-000043", "sum": 100000}`)
	req := httptest.NewRequest(http.MethodPost, "/api/balance/spend", body)
	rec := authRequest(t, h, h.Spend, req, uuid.New())

	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusPaymentRequired)
	}
}

func TestGetTransactionsEmpty(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/transactions", nil)
	rec := authRequest(t, h, h.GetTransactions, req, uuid.New())

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}
