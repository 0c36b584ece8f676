package app

import (
	"github.com/gin-gonic/gin"

	httpserver "github.com/framewell/studio-qc-backend/internal/http"
	"github.com/framewell/studio-qc-backend/internal/platform/logger"
)

func wireRouter(log *logger.Logger, handlers Handlers, middleware Middleware) *gin.Engine {
	return httpserver.NewRouter(httpserver.RouterConfig{
		Log:              log,
		AuthMiddleware:   middleware.Auth,
		WorkerMiddleware: middleware.Worker,
		QCHandler:        handlers.QC,
		WorkerHandler:    handlers.Worker,
		AdminHandler:     handlers.Admin,
		HealthHandler:    handlers.Health,
	})
}
