package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/checkout-system/internal/model"
)

// OrderSpec описывает параметры создания заказа.
type OrderSpec struct {
	OrganizationID uuid.UUID
	ProductType    model.ProductType
	ProductData    json.RawMessage
	Amount         int64
	Currency       string
	ExpiresAt      *time.Time
}

const orderColumns = `id, number, organization_id, product_type, product_data,
	 amount, currency, status, expires_at, payment_id, created_at, updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var status, productType string
	err := row.Scan(&o.ID, &o.Number, &o.OrganizationID, &productType, &o.ProductData,
		&o.Amount, &o.Currency, &status, &o.ExpiresAt, &o.PaymentID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = model.OrderStatus(status)
	o.ProductType = model.ProductType(productType)
	return &o, nil
}

// CreateOrder создаёт заказ в статусе pending_payment и присваивает ему читаемый номер.
func (r *PostgresRepository) CreateOrder(ctx context.Context, spec OrderSpec) (*model.Order, error) {
	productData := spec.ProductData
	if len(productData) == 0 {
		productData = json.RawMessage(`{}`)
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO orders (id, number, organization_id, product_type, product_data, amount, currency, status, expires_at)
		 VALUES ($1, 'ORD-' || lpad(nextval('order_number_seq')::text, 6, '0'), $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+orderColumns,
		uuid.New(), spec.OrganizationID, string(spec.ProductType), productData,
		spec.Amount, spec.Currency, string(model.OrderStatusPendingPayment), spec.ExpiresAt,
	)

	o, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return o, nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// GetOrderByNumber возвращает заказ организации по читаемому номеру.
func (r *PostgresRepository) GetOrderByNumber(ctx context.Context, orgID uuid.UUID, number string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE organization_id = $1 AND number = $2`,
		orgID, number)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order by number: %w", err)
	}
	return o, nil
}

// ListOrders возвращает заказы организации, новые первыми.
func (r *PostgresRepository) ListOrders(ctx context.Context, orgID uuid.UUID) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE organization_id = $1 ORDER BY created_at DESC`,
		orgID)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// TransitionOrder выполняет атомарный CAS-переход статуса заказа.
// Возвращает ErrConflict, если текущий статус не входит в from: так движок
// узнаёт, что другой вызов уже продвинул заказ.
func (r *PostgresRepository) TransitionOrder(ctx context.Context, id uuid.UUID, from []model.OrderStatus, to model.OrderStatus) (*model.Order, error) {
	fromStrs := make([]string, 0, len(from))
	for _, s := range from {
		fromStrs = append(fromStrs, string(s))
	}

	row := r.pool.QueryRow(ctx,
		`UPDATE orders SET status = $3, updated_at = now()
		 WHERE id = $1 AND status = ANY($2)
		 RETURNING `+orderColumns,
		id, fromStrs, string(to))

	o, err := scanOrder(row)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transition order: %w", err)
	}

	// Переход не применился: либо заказа нет, либо статус уже другой.
	if _, getErr := r.GetOrder(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrConflict
}

// AttachPayment связывает заказ с попыткой оплаты, если связь ещё не установлена.
func (r *PostgresRepository) AttachPayment(ctx context.Context, orderID, paymentID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE orders SET payment_id = $2, updated_at = now()
		 WHERE id = $1 AND payment_id IS NULL`,
		orderID, paymentID)
	if err != nil {
		return fmt.Errorf("attach payment: %w", err)
	}
	return nil
}
