package reconcile

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"errors"

	"github.com/google/uuid"

	"github.com/mmeshcher/checkout-system/internal/model"
	"github.com/mmeshcher/checkout-system/internal/repository"
	"github.com/mmeshcher/checkout-system/internal/validation"
)

// ErrInvalidCredentials возвращается при неверном имени организации или секрете.
var ErrInvalidCredentials = errors.New("invalid credentials")

// RegisterOrganization регистрирует новую организацию.
func (e *Engine) RegisterOrganization(ctx context.Context, name, secret string) (uuid.UUID, error) {
	hashed := hashSecret(name, secret)
	id, err := e.repo.CreateOrganization(ctx, name, hashed)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// AuthenticateOrganization проверяет имя и секрет организации и возвращает её идентификатор.
func (e *Engine) AuthenticateOrganization(ctx context.Context, name, secret string) (uuid.UUID, error) {
	org, err := e.repo.GetOrganizationByName(ctx, name)
	if err != nil {
		return uuid.Nil, err
	}

	hashed := hashSecret(name, secret)
	if !hmac.Equal(hashed, org.SecretHash) {
		return uuid.Nil, ErrInvalidCredentials
	}

	return org.ID, nil
}

func hashSecret(name, secret string) []byte {
	sum := sha256.Sum256([]byte(name + ":" + secret))
	return sum[:]
}

// CreateOrder создаёт заказ организации в статусе pending_payment.
func (e *Engine) CreateOrder(ctx context.Context, spec repository.OrderSpec) (*model.Order, error) {
	if err := validation.CheckAmount(spec.Amount); err != nil {
		return nil, err
	}
	if err := validation.CheckCurrency(spec.Currency); err != nil {
		return nil, err
	}
	return e.repo.CreateOrder(ctx, spec)
}

// FindOrder возвращает заказ организации по читаемому номеру.
func (e *Engine) FindOrder(ctx context.Context, orgID uuid.UUID, number string) (*model.Order, error) {
	return e.repo.GetOrderByNumber(ctx, orgID, number)
}

// ListOrders возвращает заказы организации.
func (e *Engine) ListOrders(ctx context.Context, orgID uuid.UUID) ([]model.Order, error) {
	return e.repo.ListOrders(ctx, orgID)
}

// GetBalance возвращает баланс организации в виде структуры model.Balance.
func (e *Engine) GetBalance(ctx context.Context, orgID uuid.UUID) (*model.Balance, error) {
	current, spent, err := e.repo.GetBalance(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return &model.Balance{Current: current, Spent: spent}, nil
}

// SpendCredits списывает средства со счёта организации.
func (e *Engine) SpendCredits(ctx context.Context, orgID uuid.UUID, orderNumber string, amount int64) error {
	if err := validation.CheckAmount(amount); err != nil {
		return err
	}
	if amount == 0 {
		return validation.ErrInvalidAmount
	}
	return e.repo.SpendCredits(ctx, orgID, orderNumber, amount)
}

// ListTransactions возвращает историю операций по счёту организации.
func (e *Engine) ListTransactions(ctx context.Context, orgID uuid.UUID) ([]model.LedgerTransaction, error) {
	return e.repo.ListTransactions(ctx, orgID)
}

// GetInvoice возвращает выпущенный документ по заказу организации.
func (e *Engine) GetInvoice(ctx context.Context, orgID uuid.UUID, number string) (*model.Invoice, error) {
	order, err := e.repo.GetOrderByNumber(ctx, orgID, number)
	if err != nil {
		return nil, err
	}
	return e.repo.GetInvoiceByOrder(ctx, order.ID)
}
