package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/smmpanel-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware SMM-панели.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/api/services", h.GetServices)

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/logout", h.Logout)
			r.Get("/balance", h.GetBalance)
			r.Get("/activity", h.GetActivity)
			r.Post("/payments", h.SubmitPayment)
		})
	})

	r.Route("/api/orders", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/", h.PlaceOrder)
		r.Get("/", h.GetOrders)
		r.Post("/mass", h.PlaceMassOrder)
		r.Get("/{orderID}", h.GetOrder)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Get("/payments", h.ListPendingPayments)
		r.Post("/payments/{paymentID}/approve", h.ApprovePayment)
		r.Post("/payments/{paymentID}/reject", h.RejectPayment)

		r.Post("/balance", h.AdjustBalance)

		r.Post("/orders/{orderID}/status", h.SetOrderStatus)
		r.Post("/orders/{orderID}/refund", h.RefundOrder)

		r.Get("/users/{userID}/activity", h.GetUserActivity)
		r.Post("/unlock", h.UnlockLogin)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
