package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/checkout-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса оформления заказов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/org/register", h.Register)
		r.Post("/org/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/orders", h.CreateOrder)
			r.Get("/orders", h.ListOrders)
			r.Get("/orders/{number}", h.GetOrder)
			r.Post("/orders/{number}/confirm", h.ConfirmOrder)
			r.Post("/orders/{number}/cancel", h.CancelOrder)
			r.Get("/orders/{number}/invoice", h.GetInvoice)

			r.Get("/balance", h.GetBalance)
			r.Post("/balance/spend", h.Spend)

			r.Get("/transactions", h.GetTransactions)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.webhookMiddleware.Middleware)

			r.Post("/webhooks/{provider}", h.Webhook)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
