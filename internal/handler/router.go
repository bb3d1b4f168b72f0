package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	waHandler "github.com/barberclick/whatsapp-gateway/internal/handler/wa"
	middlewarePkg "github.com/barberclick/whatsapp-gateway/internal/middleware"
	waService "github.com/barberclick/whatsapp-gateway/internal/service/wa"
)

// NewRouter wires HTTP routes to the session manager.
func NewRouter(manager *waService.Manager) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	waHandler.New(manager).RegisterRoutes(r)

	return r
}
