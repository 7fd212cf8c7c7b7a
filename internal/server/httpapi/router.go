// Package httpapi exposes the checklist server over HTTP with gin.
package httpapi

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fieldops/preshift/internal/config"
	"github.com/fieldops/preshift/internal/server/store"
)

// NewRouter wires middleware and every route. Middleware order: recovery,
// request id, logging, CORS, rate limit.
func NewRouter(cfg *config.ServerConfig, svc *store.Service, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(Recovery(logger))
	router.Use(RequestID())
	router.Use(Logging(logger))
	router.Use(CORS(cfg.CORS))
	router.Use(RateLimit(cfg.RateLimit, logger))

	h := NewHandler(svc, logger)
	router.GET("/health", h.Health)
	h.RegisterRoutes(router.Group("/api"))

	logger.Info("Routes initialized", zap.Int("routes", len(router.Routes())))
	return router
}
