package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/checkout-system/internal/model"
)

// GetInvoiceByOrder возвращает выпущенный документ по заказу.
func (r *PostgresRepository) GetInvoiceByOrder(ctx context.Context, orderID uuid.UUID) (*model.Invoice, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, order_id, number, jurisdiction, artifact_url, issued_at
		 FROM invoices WHERE order_id = $1`,
		orderID)

	var inv model.Invoice
	err := row.Scan(&inv.ID, &inv.OrderID, &inv.Number, &inv.Jurisdiction, &inv.ArtifactURL, &inv.IssuedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return &inv, nil
}

// CountInvoices возвращает число выпущенных документов юрисдикции за год.
// Используется нумератором для вычисления кандидата следующего номера.
func (r *PostgresRepository) CountInvoices(ctx context.Context, jurisdiction string, year int) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM invoices
		 WHERE jurisdiction = $1 AND date_part('year', issued_at) = $2`,
		jurisdiction, year,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count invoices: %w", err)
	}
	return count, nil
}

// InsertInvoice сохраняет выпущенный документ. Повторная вставка по тому же
// заказу возвращает уже существующий документ; занятый номер — ErrInvoiceNumberTaken.
func (r *PostgresRepository) InsertInvoice(ctx context.Context, orderID uuid.UUID, number, jurisdiction, artifactURL string) (*model.Invoice, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO invoices (order_id, number, jurisdiction, artifact_url)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, order_id, number, jurisdiction, artifact_url, issued_at`,
		orderID, number, jurisdiction, artifactURL)

	var inv model.Invoice
	err := row.Scan(&inv.ID, &inv.OrderID, &inv.Number, &inv.Jurisdiction, &inv.ArtifactURL, &inv.IssuedAt)
	if err == nil {
		return &inv, nil
	}

	if isUniqueViolation(err, "invoices_order_id_key") {
		return r.GetInvoiceByOrder(ctx, orderID)
	}
	if isUniqueViolation(err, "invoices_number_key") {
		return nil, ErrInvoiceNumberTaken
	}
	return nil, fmt.Errorf("insert invoice: %w", err)
}

// EnqueueInvoiceRequest ставит заявку на выпуск документа. Повторная постановка
// по тому же заказу — no-op: воркер идемпотентен по order_id.
func (r *PostgresRepository) EnqueueInvoiceRequest(ctx context.Context, orderID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO invoice_requests (order_id) VALUES ($1)
		 ON CONFLICT (order_id) DO NOTHING`,
		orderID)
	if err != nil {
		return fmt.Errorf("enqueue invoice request: %w", err)
	}
	return nil
}

// DueInvoiceRequests возвращает заявки, срок обработки которых наступил.
func (r *PostgresRepository) DueInvoiceRequests(ctx context.Context, limit int) ([]model.InvoiceRequest, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT order_id, attempts, next_attempt_at, done, created_at
		 FROM invoice_requests
		 WHERE NOT done AND next_attempt_at <= now()
		 ORDER BY next_attempt_at
		 LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("select invoice requests: %w", err)
	}
	defer rows.Close()

	var res []model.InvoiceRequest
	for rows.Next() {
		var req model.InvoiceRequest
		if err := rows.Scan(&req.OrderID, &req.Attempts, &req.NextAttemptAt, &req.Done, &req.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan invoice request: %w", err)
		}
		res = append(res, req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// MarkInvoiceRequestDone помечает заявку обработанной.
func (r *PostgresRepository) MarkInvoiceRequestDone(ctx context.Context, orderID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE invoice_requests SET done = TRUE WHERE order_id = $1`,
		orderID)
	if err != nil {
		return fmt.Errorf("mark invoice request done: %w", err)
	}
	return nil
}

// RescheduleInvoiceRequest откладывает заявку на указанное время и увеличивает счётчик попыток.
func (r *PostgresRepository) RescheduleInvoiceRequest(ctx context.Context, orderID uuid.UUID, next time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE invoice_requests SET attempts = attempts + 1, next_attempt_at = $2 WHERE order_id = $1`,
		orderID, next)
	if err != nil {
		return fmt.Errorf("reschedule invoice request: %w", err)
	}
	return nil
}
