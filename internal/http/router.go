package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/webhook", h.InventoryWebhook)
		r.Get("/webhook", h.LastNotified)

		r.Get("/subscribers", h.ListSubscribers)
		r.Post("/subscribers", h.CreateSubscriber)
		r.Patch("/subscribers", h.UpdateSubscriberFlag)

		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.SaveSettings)

		r.Get("/template", h.GetTemplate)
		r.Put("/template", h.SaveTemplate)
	})

	return r
}
