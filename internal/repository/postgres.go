// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/checkout-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrOrgExists возвращается при попытке создать организацию с уже существующим именем.
var (
	ErrOrgExists = errors.New("organization already exists")
	// ErrOrgNotFound возвращается, если организация не найдена.
	ErrOrgNotFound = errors.New("organization not found")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrPaymentNotFound возвращается, если платёж не найден.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrConflict возвращается, когда CAS-переход статуса проиграл другому вызову.
	ErrConflict = errors.New("status transition conflict")
	// ErrAlreadyCredited возвращается при повторной попытке зачисления по тому же платежу.
	ErrAlreadyCredited = errors.New("payment already credited")
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvoiceNumberTaken возвращается, когда номер документа уже занят конкурентом.
	ErrInvoiceNumberTaken = errors.New("invoice number already taken")
	// ErrInvoiceNotFound возвращается, если документ по заказу ещё не выпущен.
	ErrInvoiceNotFound = errors.New("invoice not found")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// isUniqueViolation сообщает, является ли ошибка нарушением указанного уникального ограничения.
// Пустое имя ограничения совпадает с любым.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateOrganization создаёт новую организацию.
func (r *PostgresRepository) CreateOrganization(ctx context.Context, name string, secretHash []byte) (uuid.UUID, error) {
	id := uuid.New()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO organizations (id, name, secret_hash) VALUES ($1, $2, $3)`,
		id, name, secretHash,
	)
	if err != nil {
		if isUniqueViolation(err, "") {
			return uuid.Nil, fmt.Errorf("%w: %s", ErrOrgExists, name)
		}
		return uuid.Nil, fmt.Errorf("create organization: %w", err)
	}
	return id, nil
}

// GetOrganizationByName возвращает организацию по имени.
func (r *PostgresRepository) GetOrganizationByName(ctx context.Context, name string) (*model.Organization, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, secret_hash, created_at FROM organizations WHERE name = $1`,
		name,
	)

	var org model.Organization
	err := row.Scan(&org.ID, &org.Name, &org.SecretHash, &org.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrgNotFound
		}
		return nil, fmt.Errorf("get organization: %w", err)
	}

	return &org, nil
}
