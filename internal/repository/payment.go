package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/checkout-system/internal/model"
)

const paymentColumns = `id, order_id, provider, provider_payment_id, status,
	 amount, currency, metadata, created_at, updated_at`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var p model.Payment
	var status string
	err := row.Scan(&p.ID, &p.OrderID, &p.Provider, &p.ProviderPaymentID, &status,
		&p.Amount, &p.Currency, &p.Metadata, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = model.PaymentStatus(status)
	return &p, nil
}

// UpsertPayment создаёт запись об оплате при первом появлении платежа у процессинга
// либо возвращает уже существующую по паре (provider, provider_payment_id).
func (r *PostgresRepository) UpsertPayment(ctx context.Context, orderID uuid.UUID, providerName, providerPaymentID string, amount int64, currency string, metadata json.RawMessage) (*model.Payment, error) {
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO payments (id, order_id, provider, provider_payment_id, status, amount, currency, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (provider, provider_payment_id)
		 DO UPDATE SET updated_at = now()
		 RETURNING `+paymentColumns,
		uuid.New(), orderID, providerName, providerPaymentID,
		string(model.PaymentStatusPending), amount, currency, metadata)

	p, err := scanPayment(row)
	if err != nil {
		return nil, fmt.Errorf("upsert payment: %w", err)
	}
	return p, nil
}

// GetPayment возвращает попытку оплаты по идентификатору.
func (r *PostgresRepository) GetPayment(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)

	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

// TransitionPayment выполняет атомарный CAS-переход статуса платежа.
// Из терминальных статусов переходов нет; проигрыш гонки отражается как ErrConflict.
func (r *PostgresRepository) TransitionPayment(ctx context.Context, id uuid.UUID, from []model.PaymentStatus, to model.PaymentStatus) (*model.Payment, error) {
	fromStrs := make([]string, 0, len(from))
	for _, s := range from {
		fromStrs = append(fromStrs, string(s))
	}

	row := r.pool.QueryRow(ctx,
		`UPDATE payments SET status = $3, updated_at = now()
		 WHERE id = $1 AND status = ANY($2)
		 RETURNING `+paymentColumns,
		id, fromStrs, string(to))

	p, err := scanPayment(row)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transition payment: %w", err)
	}

	if _, getErr := r.GetPayment(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrConflict
}
