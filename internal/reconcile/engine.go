// Package reconcile реализует движок сверки платежей: превращение проверенного
// платежа в завершённый заказ и зачисление на счёт ровно один раз.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/checkout-system/internal/model"
	"github.com/mmeshcher/checkout-system/internal/provider"
	"github.com/mmeshcher/checkout-system/internal/repository"
)

// ErrNotExpired возвращается при попытке отменить заказ до истечения срока оплаты.
var ErrNotExpired = errors.New("order is not expired yet")

// Repository описывает контракт доступа к данным, используемый движком.
// Вся межпроцессная координация идёт через атомарные примитивы хранилища:
// CAS-переходы статусов и уникальные ограничения.
type Repository interface {
	Close() error

	CreateOrganization(ctx context.Context, name string, secretHash []byte) (uuid.UUID, error)
	GetOrganizationByName(ctx context.Context, name string) (*model.Organization, error)

	CreateOrder(ctx context.Context, spec repository.OrderSpec) (*model.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error)
	GetOrderByNumber(ctx context.Context, orgID uuid.UUID, number string) (*model.Order, error)
	ListOrders(ctx context.Context, orgID uuid.UUID) ([]model.Order, error)
	TransitionOrder(ctx context.Context, id uuid.UUID, from []model.OrderStatus, to model.OrderStatus) (*model.Order, error)
	AttachPayment(ctx context.Context, orderID, paymentID uuid.UUID) error

	UpsertPayment(ctx context.Context, orderID uuid.UUID, providerName, providerPaymentID string, amount int64, currency string, metadata json.RawMessage) (*model.Payment, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*model.Payment, error)
	TransitionPayment(ctx context.Context, id uuid.UUID, from []model.PaymentStatus, to model.PaymentStatus) (*model.Payment, error)

	CreditEarned(ctx context.Context, orgID, paymentID uuid.UUID, orderNumber string, amount int64) error
	SpendCredits(ctx context.Context, orgID uuid.UUID, orderNumber string, amount int64) error
	GetBalance(ctx context.Context, orgID uuid.UUID) (int64, int64, error)
	ListTransactions(ctx context.Context, orgID uuid.UUID) ([]model.LedgerTransaction, error)

	GetInvoiceByOrder(ctx context.Context, orderID uuid.UUID) (*model.Invoice, error)
	EnqueueInvoiceRequest(ctx context.Context, orderID uuid.UUID) error
}

// OrderView содержит результат сверки для отображения вызывающей стороне.
type OrderView struct {
	Order   *model.Order
	Payment *model.Payment
	// Processing означает, что проверка не завершена (провайдер недоступен или
	// платёж ещё в обработке); вызывающий повторит запрос позже.
	Processing bool
	// Expired означает, что срок оплаты истёк и заказ отменён.
	Expired bool
}

// Engine — движок сверки платежей. Экземпляры не хранят состояние между
// вызовами: любое число Reconcile по одному заказу может выполняться
// параллельно в разных процессах.
type Engine struct {
	repo     Repository
	registry *provider.Registry
	logger   *zap.Logger
	now      func() time.Time
}

// NewEngine создаёт движок с указанным репозиторием и реестром провайдеров.
func NewEngine(repo Repository, registry *provider.Registry, logger *zap.Logger) *Engine {
	return &Engine{
		repo:     repo,
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
}

// Close закрывает ресурсы движка.
func (e *Engine) Close() error {
	if e.repo != nil {
		return e.repo.Close()
	}
	return nil
}

// Reconcile выполняет идемпотентную сверку заказа: проверяет платёж у
// процессинга, зачисляет средства ровно один раз и продвигает заказ к
// завершению. Вызывается и по webhook-уведомлению, и по возврату пользователя
// на сайт; оба пути сходятся к одному терминальному состоянию независимо от
// порядка выполнения.
func (e *Engine) Reconcile(ctx context.Context, orderID uuid.UUID, providerHint string, params provider.VerifyParams) (*OrderView, error) {
	order, err := e.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// Завершённые и возвращённые заказы — идемпотентный короткий путь без похода к провайдеру.
	if order.IsTerminal() || order.Status == model.OrderStatusCancelled {
		return e.view(ctx, order, false, false), nil
	}

	// Отмена по истечении срока выполняется при чтении, а не фоновым таймером.
	// Проигрыш CAS-гонки означает, что заказ продвинул кто-то другой.
	expired := false
	if order.IsExpired(e.now()) {
		cancelled, err := e.repo.TransitionOrder(ctx, order.ID,
			[]model.OrderStatus{model.OrderStatusPendingPayment}, model.OrderStatusCancelled)
		switch {
		case err == nil:
			order = cancelled
			expired = true
		case errors.Is(err, repository.ErrConflict):
			if order, err = e.repo.GetOrder(ctx, orderID); err != nil {
				return nil, err
			}
			if order.IsTerminal() || order.Status == model.OrderStatusCancelled {
				return e.view(ctx, order, false, order.Status == model.OrderStatusCancelled), nil
			}
		default:
			return nil, err
		}
	}

	// Нулевые заказы минуют процессинг: два отдельных CAS-перехода, чтобы
	// сохранить точку расширения между paid и completed.
	if !expired && order.Amount == 0 && order.Status == model.OrderStatusPendingPayment {
		return e.completeZeroAmount(ctx, order)
	}

	p := e.registry.Get(providerHint)
	if p == nil {
		if expired {
			return e.view(ctx, order, false, true), nil
		}
		// Недоступный провайдер — ожидаемое состояние для асинхронных redirect-потоков.
		return e.view(ctx, order, true, false), nil
	}

	params.OrderID = order.ID
	params.OrganizationID = order.OrganizationID

	result, err := p.VerifyPayment(ctx, params)
	if err != nil {
		if errors.Is(err, provider.ErrProviderUnavailable) {
			// Временная ошибка никогда не переводит заказ в failed: состояние не
			// мутируется, вызывающий повторит позже.
			e.logger.Warn("provider unavailable", zap.String("provider", providerHint),
				zap.String("order", order.Number), zap.Error(err))
			return e.view(ctx, order, !expired, expired), nil
		}
		return nil, err
	}

	switch result.Status {
	case model.PaymentStatusPending:
		return e.view(ctx, order, !expired, expired), nil

	case model.PaymentStatusFailed:
		if result.ProviderPaymentID != "" {
			if err := e.recordPayment(ctx, order, providerHint, result.ProviderPaymentID, model.PaymentStatusFailed); err != nil {
				return nil, err
			}
			if order, err = e.repo.GetOrder(ctx, order.ID); err != nil {
				return nil, err
			}
		}
		// Заказ остаётся в pending_payment: пользователь может оплатить повторно.
		return e.view(ctx, order, false, expired), nil

	case model.PaymentStatusSucceeded:
		return e.applySuccess(ctx, order, providerHint, result.ProviderPaymentID, expired)

	default:
		return e.view(ctx, order, !expired, expired), nil
	}
}

// applySuccess применяет побочные эффекты успешного платежа. Каждый шаг
// идемпотентен или терпим к Conflict, поэтому два конкурирующих вызова
// сходятся к одному состоянию и не могут зачислить средства дважды.
func (e *Engine) applySuccess(ctx context.Context, order *model.Order, providerName, providerPaymentID string, expired bool) (*OrderView, error) {
	payment, err := e.repo.UpsertPayment(ctx, order.ID, providerName, providerPaymentID, order.Amount, order.Currency, nil)
	if err != nil {
		return nil, err
	}

	if err := e.repo.AttachPayment(ctx, order.ID, payment.ID); err != nil {
		return nil, err
	}

	if payment.Status != model.PaymentStatusSucceeded {
		_, err = e.repo.TransitionPayment(ctx, payment.ID,
			[]model.PaymentStatus{model.PaymentStatusPending}, model.PaymentStatusSucceeded)
		switch {
		case err == nil:
		case errors.Is(err, repository.ErrConflict):
			// Conflict неоднозначен: либо конкурирующий вызов уже перевёл платёж в
			// succeeded, либо платёж зафиксирован в терминальном failed/cancelled.
			// Зачисление допустимо только при подтверждённом succeeded.
			current, getErr := e.repo.GetPayment(ctx, payment.ID)
			if getErr != nil {
				return nil, getErr
			}
			if current.Status != model.PaymentStatusSucceeded {
				e.logger.Warn("succeeded verification for terminal payment, credit skipped",
					zap.String("order", order.Number),
					zap.String("provider", providerName),
					zap.String("provider_payment_id", providerPaymentID),
					zap.String("payment_status", string(current.Status)))
				updated, err := e.repo.GetOrder(ctx, order.ID)
				if err != nil {
					return nil, err
				}
				return e.view(ctx, updated, false, expired), nil
			}
		default:
			return nil, err
		}
	}

	// Истёкший заказ не воскрешается поздним успешным платежом: фиксируем платёж
	// для аудита и оставляем разбор внешнему процессу возвратов.
	if expired {
		e.logger.Warn("succeeded payment for expired order, credit skipped",
			zap.String("order", order.Number),
			zap.String("provider", providerName),
			zap.String("provider_payment_id", providerPaymentID))
		updated, err := e.repo.GetOrder(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		return e.view(ctx, updated, false, true), nil
	}

	err = e.repo.CreditEarned(ctx, order.OrganizationID, payment.ID, order.Number, order.Amount)
	if err != nil && !errors.Is(err, repository.ErrAlreadyCredited) {
		return nil, err
	}

	_, err = e.repo.TransitionOrder(ctx, order.ID,
		[]model.OrderStatus{model.OrderStatusPendingPayment}, model.OrderStatusPaid)
	if err != nil && !errors.Is(err, repository.ErrConflict) {
		return nil, err
	}

	_, err = e.repo.TransitionOrder(ctx, order.ID,
		[]model.OrderStatus{model.OrderStatusPaid}, model.OrderStatusCompleted)
	if err != nil && !errors.Is(err, repository.ErrConflict) {
		return nil, err
	}

	// Выпуск документа не должен блокировать завершение покупки: отказ очереди
	// только логируется.
	if err := e.repo.EnqueueInvoiceRequest(ctx, order.ID); err != nil {
		e.logger.Error("enqueue invoice request failed",
			zap.String("order", order.Number), zap.Error(err))
	}

	updated, err := e.repo.GetOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return e.view(ctx, updated, false, false), nil
}

// completeZeroAmount проводит заказ с нулевой суммой к завершению без провайдера.
func (e *Engine) completeZeroAmount(ctx context.Context, order *model.Order) (*OrderView, error) {
	_, err := e.repo.TransitionOrder(ctx, order.ID,
		[]model.OrderStatus{model.OrderStatusPendingPayment}, model.OrderStatusPaid)
	if err != nil && !errors.Is(err, repository.ErrConflict) {
		return nil, err
	}

	_, err = e.repo.TransitionOrder(ctx, order.ID,
		[]model.OrderStatus{model.OrderStatusPaid}, model.OrderStatusCompleted)
	if err != nil && !errors.Is(err, repository.ErrConflict) {
		return nil, err
	}

	if err := e.repo.EnqueueInvoiceRequest(ctx, order.ID); err != nil {
		e.logger.Error("enqueue invoice request failed",
			zap.String("order", order.Number), zap.Error(err))
	}

	updated, err := e.repo.GetOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return e.view(ctx, updated, false, false), nil
}

// recordPayment фиксирует неуспешную попытку оплаты без продвижения заказа.
func (e *Engine) recordPayment(ctx context.Context, order *model.Order, providerName, providerPaymentID string, to model.PaymentStatus) error {
	payment, err := e.repo.UpsertPayment(ctx, order.ID, providerName, providerPaymentID, order.Amount, order.Currency, nil)
	if err != nil {
		return err
	}
	if err := e.repo.AttachPayment(ctx, order.ID, payment.ID); err != nil {
		return err
	}
	_, err = e.repo.TransitionPayment(ctx, payment.ID,
		[]model.PaymentStatus{model.PaymentStatusPending}, to)
	if err != nil && !errors.Is(err, repository.ErrConflict) {
		return err
	}
	return nil
}

// view собирает представление заказа вместе со связанным платежом.
func (e *Engine) view(ctx context.Context, order *model.Order, processing, expired bool) *OrderView {
	v := &OrderView{Order: order, Processing: processing, Expired: expired}
	if order.PaymentID != nil {
		payment, err := e.repo.GetPayment(ctx, *order.PaymentID)
		if err != nil {
			e.logger.Warn("load payment for order view failed",
				zap.String("order", order.Number), zap.Error(err))
		} else {
			v.Payment = payment
		}
	}
	return v
}

// Inspect возвращает представление заказа, применяя отмену по истечении срока
// в момент чтения.
func (e *Engine) Inspect(ctx context.Context, orgID uuid.UUID, number string) (*OrderView, error) {
	order, err := e.repo.GetOrderByNumber(ctx, orgID, number)
	if err != nil {
		return nil, err
	}

	if !order.IsExpired(e.now()) {
		return e.view(ctx, order, false, order.Status == model.OrderStatusCancelled), nil
	}

	cancelled, err := e.repo.TransitionOrder(ctx, order.ID,
		[]model.OrderStatus{model.OrderStatusPendingPayment}, model.OrderStatusCancelled)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			if order, err = e.repo.GetOrder(ctx, order.ID); err != nil {
				return nil, err
			}
			return e.view(ctx, order, false, order.Status == model.OrderStatusCancelled), nil
		}
		return nil, err
	}
	return e.view(ctx, cancelled, false, true), nil
}

// Cancel выполняет явную отмену заказа. Отмена законна только после истечения
// срока оплаты.
func (e *Engine) Cancel(ctx context.Context, orgID uuid.UUID, number string) (*OrderView, error) {
	order, err := e.repo.GetOrderByNumber(ctx, orgID, number)
	if err != nil {
		return nil, err
	}

	if order.Status == model.OrderStatusCancelled {
		return e.view(ctx, order, false, true), nil
	}
	if !order.IsExpired(e.now()) {
		return nil, ErrNotExpired
	}

	cancelled, err := e.repo.TransitionOrder(ctx, order.ID,
		[]model.OrderStatus{model.OrderStatusPendingPayment}, model.OrderStatusCancelled)
	if err != nil {
		return nil, err
	}
	return e.view(ctx, cancelled, false, true), nil
}
