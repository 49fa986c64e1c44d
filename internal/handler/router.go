package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/servicemarket/internal/middleware"
	"github.com/mmeshcher/servicemarket/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware маркетплейса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(chimw.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(chimw.Compress(5, "application/json"))

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", h.Register)
		r.Post("/user/login", h.Login)
		r.Get("/services", h.ListServices)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/user/me", h.Me)
			r.Get("/user/ledger", h.Ledger)

			r.Get("/users", h.ListAccounts)
			r.Get("/users/recipients", h.ListRecipients)

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", h.CreateOrder)

				r.With(custommiddleware.RequireRole(model.RoleSupplier)).Route("/supplier", func(r chi.Router) {
					r.Get("/in-progress", h.SupplierInProgress)
					r.Get("/closed", h.SupplierClosed)
				})
				r.With(custommiddleware.RequireRole(model.RoleApplicant)).Route("/applicant", func(r chi.Router) {
					r.Get("/in-progress", h.ApplicantInProgress)
					r.Get("/closed", h.ApplicantClosed)
				})

				r.Get("/{id}", h.GetOrder)
				r.Put("/{id}/cancel", h.CancelOrder)
				r.Put("/{id}/complete", h.CompleteOrder)
				r.Post("/{id}/rate", h.RateOrder)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
	})

	return r
}
