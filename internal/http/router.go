package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/framewell/studio-qc-backend/internal/http/handlers"
	httpMW "github.com/framewell/studio-qc-backend/internal/http/middleware"
	"github.com/framewell/studio-qc-backend/internal/platform/logger"
	"github.com/framewell/studio-qc-backend/internal/services"
)

type RouterConfig struct {
	Log *logger.Logger

	AuthMiddleware   *httpMW.AuthMiddleware
	WorkerMiddleware *httpMW.WorkerAuthMiddleware

	QCHandler     *httpH.QCHandler
	WorkerHandler *httpH.WorkerHandler
	AdminHandler  *httpH.AdminHandler
	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("studio-qc-backend"))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")

	// Portal surface (human callers)
	if cfg.QCHandler != nil {
		qc := api.Group("/qc")
		if cfg.AuthMiddleware != nil {
			qc.Use(cfg.AuthMiddleware.RequireAuth())
		}
		qc.POST("/intake", cfg.QCHandler.Intake)
		qc.GET("/uploads/:id", cfg.QCHandler.Get)
		qc.POST("/uploads/:id/dismiss", cfg.QCHandler.Dismiss)
	}

	// Worker surface (machine callers, shared secret)
	if cfg.WorkerHandler != nil {
		worker := api.Group("/worker")
		if cfg.WorkerMiddleware != nil {
			worker.Use(cfg.WorkerMiddleware.RequireWorkerSecret())
		}
		worker.POST("/dispatch/pull", cfg.WorkerHandler.Pull)
		worker.GET("/dispatch/pull", cfg.WorkerHandler.Pull)
		worker.POST("/dispatch/callback", cfg.WorkerHandler.Callback)
		worker.POST("/dispatch/progress", cfg.WorkerHandler.Progress)
		if cfg.AdminHandler != nil {
			// The worker refreshes the suppression document before a run.
			worker.POST("/feedback/sync", cfg.AdminHandler.FeedbackSync)
		}
	}

	// Admin surface
	if cfg.AdminHandler != nil {
		admin := api.Group("/admin")
		if cfg.AuthMiddleware != nil {
			admin.Use(cfg.AuthMiddleware.RequireAuth())
			admin.Use(cfg.AuthMiddleware.RequireRole(services.RoleAdmin))
		}
		admin.POST("/feedback/sync", cfg.AdminHandler.FeedbackSync)
		admin.GET("/uploads/stuck", cfg.AdminHandler.ListStuck)
		admin.POST("/uploads/:id/reset-deep-analysis", cfg.AdminHandler.ResetDeepAnalysis)
	}

	return r
}
