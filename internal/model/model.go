// Package model содержит доменные сущности сервиса оформления заказов.
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Organization представляет организацию — владельца заказов и кредитного счёта.
type Organization struct {
	ID         uuid.UUID
	Name       string
	SecretHash []byte
	CreatedAt  time.Time
}

// OrderStatus описывает статус жизненного цикла заказа.
type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	OrderStatusPaid           OrderStatus = "paid"
	OrderStatusCompleted      OrderStatus = "completed"
	OrderStatusCancelled      OrderStatus = "cancelled"
	OrderStatusRefunded       OrderStatus = "refunded"
)

// ProductType описывает тип приобретаемого продукта.
type ProductType string

const (
	ProductCredits          ProductType = "credits"
	ProductDocumentService  ProductType = "document_service"
	ProductSignatureService ProductType = "signature_service"
)

// Order описывает намерение покупки: продукт, сумму и статус жизненного цикла.
// Сумма хранится в минимальных единицах валюты.
type Order struct {
	ID             uuid.UUID
	Number         string
	OrganizationID uuid.UUID
	ProductType    ProductType
	ProductData    json.RawMessage
	Amount         int64
	Currency       string
	Status         OrderStatus
	ExpiresAt      *time.Time
	PaymentID      *uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsTerminal сообщает, достиг ли заказ конечного статуса.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusCompleted || o.Status == OrderStatusRefunded
}

// IsExpired сообщает, истёк ли срок оплаты заказа на момент now.
// Имеет смысл только для статуса pending_payment.
func (o *Order) IsExpired(now time.Time) bool {
	return o.Status == OrderStatusPendingPayment && o.ExpiresAt != nil && now.After(*o.ExpiresAt)
}

// PaymentStatus описывает статус попытки оплаты на стороне процессинга.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// Payment описывает одну попытку оплаты заказа у внешнего процессинга.
type Payment struct {
	ID                uuid.UUID
	OrderID           uuid.UUID
	Provider          string
	ProviderPaymentID string
	Status            PaymentStatus
	Amount            int64
	Currency          string
	Metadata          json.RawMessage
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// LedgerType описывает тип операции по кредитному счёту.
type LedgerType string

const (
	LedgerEarned LedgerType = "earned"
	LedgerSpent  LedgerType = "spent"
	LedgerRefund LedgerType = "refund"
)

// LedgerTransaction описывает неизменяемую запись об изменении баланса организации.
// BalanceAfter фиксируется в момент вставки и не пересчитывается задним числом.
type LedgerTransaction struct {
	ID             int64
	OrganizationID uuid.UUID
	Type           LedgerType
	Amount         int64
	BalanceAfter   int64
	PaymentID      *uuid.UUID
	OrderNumber    string
	CreatedAt      time.Time
}

// Balance содержит производный баланс организации и сумму всех списаний.
type Balance struct {
	Current int64 `json:"current"`
	Spent   int64 `json:"spent"`
}

// Invoice описывает выпущенный налоговый документ по завершённому заказу.
type Invoice struct {
	ID           int64
	OrderID      uuid.UUID
	Number       string
	Jurisdiction string
	ArtifactURL  string
	IssuedAt     time.Time
}

// InvoiceRequest описывает заявку на выпуск документа, ожидающую обработки воркером.
type InvoiceRequest struct {
	OrderID       uuid.UUID
	Attempts      int
	NextAttemptAt time.Time
	Done          bool
	CreatedAt     time.Time
}
