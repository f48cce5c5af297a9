// Package invoice содержит нумератор налоговых документов и воркер их выпуска.
package invoice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/checkout-system/internal/model"
	"github.com/mmeshcher/checkout-system/internal/repository"
)

// ErrNumberingExhausted возвращается, когда попытки получить уникальный номер
// исчерпаны. Ошибка ретраится воркером и никогда не достигает потока покупки.
var ErrNumberingExhausted = errors.New("invoice numbering exhausted")

const numberingAttempts = 3

// NumberingStore описывает операции хранилища, нужные нумератору.
type NumberingStore interface {
	CountInvoices(ctx context.Context, jurisdiction string, year int) (int, error)
	InsertInvoice(ctx context.Context, orderID uuid.UUID, number, jurisdiction, artifactURL string) (*model.Invoice, error)
}

// Numbering выдаёт глобально уникальные номера документов. Последовательность
// допускает пропуски: уникальность гарантирует ограничение в хранилище, а не
// нумератор.
type Numbering struct {
	store NumberingStore
}

// NewNumbering создаёт нумератор поверх указанного хранилища.
func NewNumbering(store NumberingStore) *Numbering {
	return &Numbering{store: store}
}

// NextNumber вычисляет кандидата следующего номера для юрисдикции и года.
func (n *Numbering) NextNumber(ctx context.Context, jurisdiction string, year int) (string, error) {
	count, err := n.store.CountInvoices(ctx, jurisdiction, year)
	if err != nil {
		return "", fmt.Errorf("count invoices: %w", err)
	}
	return fmt.Sprintf("INV-%s-%d-%06d", jurisdiction, year, count+1), nil
}

// IssueNumbered выпускает документ под следующим свободным номером.
// При столкновении номеров кандидат пересчитывается и вставка повторяется
// с небольшим случайным ожиданием, не более трёх попыток.
func (n *Numbering) IssueNumbered(ctx context.Context, orderID uuid.UUID, jurisdiction string, year int) (*model.Invoice, error) {
	var issued *model.Invoice

	backoff := retry.WithJitter(10*time.Millisecond,
		retry.WithMaxRetries(numberingAttempts-1, retry.NewFibonacci(20*time.Millisecond)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		number, err := n.NextNumber(ctx, jurisdiction, year)
		if err != nil {
			return err
		}

		artifactURL := fmt.Sprintf("invoices/%d/%s.pdf", year, number)

		inv, err := n.store.InsertInvoice(ctx, orderID, number, jurisdiction, artifactURL)
		if err != nil {
			if errors.Is(err, repository.ErrInvoiceNumberTaken) {
				return retry.RetryableError(err)
			}
			return err
		}

		issued = inv
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrInvoiceNumberTaken) {
			return nil, fmt.Errorf("%w: %s", ErrNumberingExhausted, jurisdiction)
		}
		return nil, err
	}

	return issued, nil
}
