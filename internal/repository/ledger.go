package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/checkout-system/internal/model"
)

// CreditEarned зачисляет средства по успешному платежу. Идемпотентность
// обеспечивается частичным уникальным индексом (organization_id, payment_id)
// для type = 'earned': повторная вставка возвращает ErrAlreadyCredited.
// Баланс сериализуется блокировкой строки организации.
func (r *PostgresRepository) CreditEarned(ctx context.Context, orgID, paymentID uuid.UUID, orderNumber string, amount int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var dummy int
	err = tx.QueryRow(ctx, `SELECT 1 FROM organizations WHERE id = $1 FOR UPDATE`, orgID).Scan(&dummy)
	if err != nil {
		return fmt.Errorf("lock organization for update: %w", err)
	}

	var balance int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_transactions WHERE organization_id = $1`,
		orgID,
	).Scan(&balance)
	if err != nil {
		return fmt.Errorf("sum ledger: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_transactions (organization_id, type, amount, balance_after, payment_id, order_number)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		orgID, string(model.LedgerEarned), amount, balance+amount, paymentID, orderNumber)
	if err != nil {
		if isUniqueViolation(err, "uniq_ledger_earned") {
			return ErrAlreadyCredited
		}
		return fmt.Errorf("insert earned transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// SpendCredits создаёт запись о списании средств. Использует блокировку строки
// организации для сериализации списаний, превышающих баланс.
func (r *PostgresRepository) SpendCredits(ctx context.Context, orgID uuid.UUID, orderNumber string, amount int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var dummy int
	err = tx.QueryRow(ctx, `SELECT 1 FROM organizations WHERE id = $1 FOR UPDATE`, orgID).Scan(&dummy)
	if err != nil {
		return fmt.Errorf("lock organization for update: %w", err)
	}

	var balance int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_transactions WHERE organization_id = $1`,
		orgID,
	).Scan(&balance)
	if err != nil {
		return fmt.Errorf("sum ledger: %w", err)
	}

	if amount > balance {
		return ErrInsufficientBalance
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_transactions (organization_id, type, amount, balance_after, order_number)
		 VALUES ($1, $2, $3, $4, $5)`,
		orgID, string(model.LedgerSpent), -amount, balance-amount, orderNumber)
	if err != nil {
		return fmt.Errorf("insert spent transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetBalance возвращает производный баланс организации и сумму всех списаний.
func (r *PostgresRepository) GetBalance(ctx context.Context, orgID uuid.UUID) (int64, int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_transactions WHERE organization_id = $1`,
		orgID,
	).Scan(&balance)
	if err != nil {
		return 0, 0, fmt.Errorf("sum ledger: %w", err)
	}

	var spent int64
	err = r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(-amount), 0) FROM ledger_transactions WHERE organization_id = $1 AND type = $2`,
		orgID, string(model.LedgerSpent),
	).Scan(&spent)
	if err != nil {
		return 0, 0, fmt.Errorf("sum spent: %w", err)
	}

	return balance, spent, nil
}

// ListTransactions возвращает историю операций организации, новые первыми.
func (r *PostgresRepository) ListTransactions(ctx context.Context, orgID uuid.UUID) ([]model.LedgerTransaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, organization_id, type, amount, balance_after, payment_id, order_number, created_at
		 FROM ledger_transactions
		 WHERE organization_id = $1
		 ORDER BY created_at DESC, id DESC`,
		orgID)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.LedgerTransaction
	for rows.Next() {
		var t model.LedgerTransaction
		var typ string
		var createdAt time.Time
		if err := rows.Scan(&t.ID, &t.OrganizationID, &typ, &t.Amount, &t.BalanceAfter, &t.PaymentID, &t.OrderNumber, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Type = model.LedgerType(typ)
		t.CreatedAt = createdAt
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
