package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/akorotchenko/tvtime-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса аренды ТВ-времени.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/users/signup", h.Signup)
		r.Post("/users/login", h.Login)

		r.Get("/rates/rate", h.GetRate)
		r.Post("/payments/webhook", h.PaymentWebhook)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/orders/buy-tv-time", h.BuyTvTime)
			r.Get("/orders/my-orders", h.MyOrders)
			r.Post("/orders/transfer", h.Transfer)
			r.Post("/orders/checkout-session", h.CheckoutSession)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)
			r.Use(custommiddleware.AdminOnly)

			r.Get("/all-orders", h.AllOrders)
			r.Get("/all-users", h.AllUsers)
			r.Post("/change-room", h.ChangeRoom)
			r.Post("/change-rate", h.ChangeRate)
			r.Get("/all-rooms", h.AllRooms)
			r.Post("/add-room", h.AddRoom)
			r.Post("/add-tv", h.AddTv)
			r.Put("/toggle-tv", h.ToggleTv)
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
