package router

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/invoice-extractor/orderdesk/internal/config"
	"github.com/invoice-extractor/orderdesk/internal/events"
	"github.com/invoice-extractor/orderdesk/internal/handler"
	"github.com/invoice-extractor/orderdesk/internal/metrics"
	"github.com/invoice-extractor/orderdesk/internal/service"
	"github.com/invoice-extractor/orderdesk/internal/ws"
)

// New creates a Chi router with all application routes wired up.
func New(cfg *config.Config, wb *service.Workbench, hub *events.Hub, m *metrics.Registry) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", m.Handler())

	// Event stream; ?draft=<id> adds that draft's room
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, w, r)
	})

	tableHandler := handler.NewTableHandler(wb.Table())
	r.Route("/orders", tableHandler.RegisterRoutes)

	draftHandler := handler.NewDraftHandler(wb)
	r.Route("/drafts", draftHandler.RegisterRoutes)

	log.Println("Router initialized with all handlers")
	return r
}
