package app

import (
	httpH "github.com/framewell/studio-qc-backend/internal/http/handlers"
	"github.com/framewell/studio-qc-backend/internal/platform/logger"
)

type Handlers struct {
	QC     *httpH.QCHandler
	Worker *httpH.WorkerHandler
	Admin  *httpH.AdminHandler
	Health *httpH.HealthHandler
}

func wireHandlers(log *logger.Logger, services Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		QC:     httpH.NewQCHandler(services.Intake, services.Upload),
		Worker: httpH.NewWorkerHandler(services.Dispatch),
		Admin:  httpH.NewAdminHandler(services.Feedback, services.Dispatch),
		Health: httpH.NewHealthHandler(),
	}
}
