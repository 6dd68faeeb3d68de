package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/travochat/internal/handler/account"
	"github.com/zhouzirui/travochat/internal/handler/bus"
	middlewarePkg "github.com/zhouzirui/travochat/internal/middleware"
	busService "github.com/zhouzirui/travochat/internal/service/bus"
	"github.com/zhouzirui/travochat/internal/service/registry"
	"github.com/zhouzirui/travochat/pkg/utils"
)

// NewRouter wires the reference service routes. Account routes live at the
// root, matching the paths the widget is configured with by default.
func NewRouter(reg *registry.Registry, broadcaster *busService.Broadcaster, busOpts bus.Options, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	accountHandler := account.New(reg, logger)
	busHandler := bus.New(broadcaster, busOpts, logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"users":  reg.Len(),
		})
	})

	accountHandler.RegisterRoutes(r)
	busHandler.RegisterRoutes(r)

	return r
}
