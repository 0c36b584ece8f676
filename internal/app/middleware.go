package app

import (
	httpMW "github.com/framewell/studio-qc-backend/internal/http/middleware"
	"github.com/framewell/studio-qc-backend/internal/platform/logger"
)

type Middleware struct {
	Auth   *httpMW.AuthMiddleware
	Worker *httpMW.WorkerAuthMiddleware
}

func wireMiddleware(log *logger.Logger, services Services) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Auth:   httpMW.NewAuthMiddleware(log, services.Auth),
		Worker: httpMW.NewWorkerAuthMiddleware(log, services.WorkerAuth),
	}
}
