package invoice

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/checkout-system/internal/model"
	"github.com/mmeshcher/checkout-system/internal/repository"
)

const (
	batchSize      = 20
	retryBaseDelay = 5 * time.Second
)

// Store описывает операции хранилища, используемые воркером выпуска документов.
type Store interface {
	NumberingStore
	GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error)
	GetInvoiceByOrder(ctx context.Context, orderID uuid.UUID) (*model.Invoice, error)
	DueInvoiceRequests(ctx context.Context, limit int) ([]model.InvoiceRequest, error)
	MarkInvoiceRequestDone(ctx context.Context, orderID uuid.UUID) error
	RescheduleInvoiceRequest(ctx context.Context, orderID uuid.UUID, next time.Time) error
}

// Worker асинхронно выпускает документы по заявкам из очереди. Выпуск отделён
// от завершения покупки: отказ нумератора или рендера никогда не откатывает и
// не задерживает заказ.
type Worker struct {
	store         Store
	numbering     *Numbering
	jurisdictions map[string]string
	logger        *zap.Logger
	interval      time.Duration
	now           func() time.Time
}

// NewWorker создаёт воркер с указанным хранилищем и отображением валют в юрисдикции.
func NewWorker(store Store, jurisdictions map[string]string, logger *zap.Logger) *Worker {
	return &Worker{
		store:         store,
		numbering:     NewNumbering(store),
		jurisdictions: jurisdictions,
		logger:        logger,
		interval:      1 * time.Second,
		now:           time.Now,
	}
}

// Run обрабатывает заявки до отмены контекста.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	requests, err := w.store.DueInvoiceRequests(ctx, batchSize)
	if err != nil {
		w.logger.Error("select invoice requests failed", zap.Error(err))
		return
	}

	for _, req := range requests {
		if err := w.Issue(ctx, req.OrderID); err != nil {
			w.logger.Warn("invoice issuance failed, rescheduled",
				zap.String("orderID", req.OrderID.String()),
				zap.Int("attempts", req.Attempts+1),
				zap.Error(err))

			next := w.now().Add(time.Duration(req.Attempts+1) * retryBaseDelay)
			if rescheduleErr := w.store.RescheduleInvoiceRequest(ctx, req.OrderID, next); rescheduleErr != nil {
				w.logger.Error("reschedule invoice request failed",
					zap.String("orderID", req.OrderID.String()), zap.Error(rescheduleErr))
			}
		}
	}
}

// Issue выпускает документ по заказу. Идемпотентен: уже выпущенный документ
// возвращается без изменений, неудавшаяся попытка не оставляет следов.
func (w *Worker) Issue(ctx context.Context, orderID uuid.UUID) error {
	_, err := w.store.GetInvoiceByOrder(ctx, orderID)
	if err == nil {
		return w.store.MarkInvoiceRequestDone(ctx, orderID)
	}
	if !errors.Is(err, repository.ErrInvoiceNotFound) {
		return err
	}

	order, err := w.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	switch order.Status {
	case model.OrderStatusCompleted:
		// выпускаем ниже
	case model.OrderStatusCancelled, model.OrderStatusRefunded:
		// Документ по отменённому заказу не выпускается; заявка закрывается.
		return w.store.MarkInvoiceRequestDone(ctx, orderID)
	default:
		return errors.New("order not completed yet")
	}

	jurisdiction, ok := w.jurisdictions[order.Currency]
	if !ok {
		// Неподдерживаемая юрисдикция: отсутствие документа — валидный исход.
		w.logger.Info("no invoice jurisdiction for currency, skipping",
			zap.String("order", order.Number), zap.String("currency", order.Currency))
		return w.store.MarkInvoiceRequestDone(ctx, orderID)
	}

	inv, err := w.numbering.IssueNumbered(ctx, orderID, jurisdiction, w.now().UTC().Year())
	if err != nil {
		return err
	}

	w.logger.Info("invoice issued",
		zap.String("order", order.Number),
		zap.String("number", inv.Number),
		zap.String("artifact", inv.ArtifactURL))

	return w.store.MarkInvoiceRequestDone(ctx, orderID)
}
