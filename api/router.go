package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Routes builds the router. requestTimeout applies to every route except the
// notification stream, which lives as long as the client stays connected.
func (h *Handler) Routes(requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.With(h.auth.RequireUser).Get("/notifications/stream", h.StreamNotifications)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.Post("/auth/register", h.Register)
			r.Post("/auth/login", h.Login)

			r.Get("/products", h.ListProducts)
			r.Get("/products/{id}", h.GetProduct)

			r.Post("/webhooks/stripe", h.StripeWebhook)

			r.Group(func(r chi.Router) {
				r.Use(h.auth.RequireUser)

				r.Post("/checkout", h.Checkout)
				r.Post("/checkout/confirm", h.ConfirmCheckout)

				r.Get("/orders", h.ListOrders)
				r.Get("/orders/{id}", h.GetOrder)

				r.Get("/notifications", h.ListNotifications)
				r.Post("/notifications/{id}/read", h.MarkNotificationRead)
				r.Delete("/notifications/{id}", h.DeleteNotification)

				r.Get("/profile", h.GetProfile)
				r.Put("/profile/preferences", h.UpdatePreferences)

				r.Get("/cart", h.GetCart)
				r.Delete("/cart", h.ClearCart)
				r.Post("/cart/items", h.AddCartItem)
				r.Patch("/cart/items/{id}", h.UpdateCartItem)
				r.Delete("/cart/items/{id}", h.RemoveCartItem)
				r.Put("/wishlist/{id}", h.AddWishlistItem)
				r.Delete("/wishlist/{id}", h.RemoveWishlistItem)

				r.Route("/admin", func(r chi.Router) {
					r.Use(h.auth.RequireAdmin)

					r.Get("/orders", h.AdminListOrders)
					r.Get("/orders/{id}", h.AdminGetOrder)
					r.Patch("/orders/{id}/status", h.AdminUpdateOrderStatus)
					r.Delete("/orders/{id}", h.AdminDeleteOrder)

					r.Get("/products", h.ListProducts)
					r.Post("/products", h.AdminCreateProduct)
					r.Put("/products/{id}", h.AdminUpdateProduct)
					r.Delete("/products/{id}", h.AdminDeleteProduct)

					r.Get("/users", h.AdminListUsers)
					r.Patch("/users/{id}/admin", h.AdminSetAdmin)
					r.Delete("/users/{id}", h.AdminDeleteUser)

					r.Get("/notifications", h.AdminListNotifications)
					r.Post("/notifications", h.AdminCreateNotification)
					r.Delete("/notifications/{id}", h.AdminDeleteNotification)
				})
			})
		})
	})

	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			h.logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
