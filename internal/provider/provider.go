// Package provider содержит адаптеры внешних платёжных процессингов и их реестр.
package provider

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/mmeshcher/checkout-system/internal/model"
)

// ErrProviderUnavailable возвращается при сетевой ошибке или 5xx процессинга.
// Вызывающий обязан трактовать её как временную: повторить позже, не мутируя состояние.
var ErrProviderUnavailable = errors.New("payment provider unavailable")

// VerifyParams содержит открытый набор параметров проверки платежа.
// Адаптер игнорирует поля, которые ему не нужны.
type VerifyParams struct {
	OrderID        uuid.UUID
	OrganizationID uuid.UUID
	Token          string
	SessionID      string
	PaymentID      string
}

// VerifyResult описывает результат проверки платежа у процессинга.
type VerifyResult struct {
	Status            model.PaymentStatus
	ProviderPaymentID string
}

// Provider описывает единый контракт проверки платежа у внешнего процессинга.
// VerifyPayment обязан быть безопасным для повторных вызовов: это чтение
// состояния платежа, а не побочный эффект. Статус pending — нормальный
// результат, а не ошибка.
type Provider interface {
	Name() string
	VerifyPayment(ctx context.Context, p VerifyParams) (*VerifyResult, error)
}

// Registry хранит сконфигурированные адаптеры по именам.
// Доступность провайдера определяется конфигурацией, а не содержимым запроса.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry создаёт реестр из переданных адаптеров.
func NewRegistry(providers ...Provider) *Registry {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

// Get возвращает адаптер по имени или nil, если провайдер не сконфигурирован.
func (r *Registry) Get(name string) Provider {
	return r.providers[name]
}

// IsAvailable сообщает, сконфигурирован ли провайдер с указанным именем.
func (r *Registry) IsAvailable(name string) bool {
	_, ok := r.providers[name]
	return ok
}

// Available возвращает имена всех сконфигурированных провайдеров.
func (r *Registry) Available() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// newHTTPClient создаёт HTTP-клиент с ограниченными повторами и таймаутом на запрос.
// Таймаут секундный: зависший процессинг должен превращаться в ErrProviderUnavailable,
// а не удерживать обработчик.
func newHTTPClient() *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 1 * time.Second
	rc.Logger = nil
	rc.HTTPClient.Timeout = 5 * time.Second

	c := rc.StandardClient()
	c.Timeout = 15 * time.Second
	return c
}
