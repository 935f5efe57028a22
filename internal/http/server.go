package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	Router *chi.Mux
}

func NewServer(handler *Handler) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/checkout", handler.Checkout)
		r.Get("/orders/{orderNumber}", handler.GetOrder)
		r.Get("/orders/{orderNumber}/fulfillment", handler.GetFulfillment)
		r.Post("/payments/webhook", handler.Webhook)
	})

	r.Post("/internal/sweep", handler.Sweep)
	r.Get("/ws/orders/{orderNumber}", handler.OrderFeed)

	return &Server{Router: r}
}
