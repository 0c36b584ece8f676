package app

import (
	"gorm.io/gorm"

	"github.com/framewell/studio-qc-backend/internal/platform/logger"
	"github.com/framewell/studio-qc-backend/internal/qc"
	"github.com/framewell/studio-qc-backend/internal/services"
)

type Services struct {
	Auth       services.AuthService
	WorkerAuth services.WorkerAuthenticator
	Intake     services.IntakeService
	Upload     services.UploadService
	Dispatch   services.DispatchService
	Feedback   services.FeedbackService
	Handoff    services.HandoffBroker
	Events     services.UploadEventPublisher
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, repos Repos, clients Clients) Services {
	log.Info("Wiring services...")

	events := services.NewUploadEventPublisher(log, clients.EventBus)
	handoff := services.NewHandoffBroker(log, repos.Upload, clients.Bucket, events)
	rules := qc.NewFileRuleStore(cfg.RulesDir)
	analyzer := services.NewTextAnalyzer(log, clients.OpenAI)

	return Services{
		Auth:       services.NewAuthService(log, cfg.JWTSecretKey),
		WorkerAuth: services.NewWorkerAuthenticator(cfg.WorkerSecret),
		Intake:     services.NewIntakeService(db, log, repos.Upload, clients.Bucket, rules, analyzer, handoff, events),
		Upload:     services.NewUploadService(log, repos.Upload),
		Dispatch: services.NewDispatchService(db, log, repos.Upload, clients.Bucket, events, services.DispatchConfig{
			SignedURLTTL:  cfg.SignedURLTTL,
			RefreshBuffer: cfg.SignedURLBuffer,
			StaleAfter:    cfg.DeepAnalysisStale,
		}),
		Feedback: services.NewFeedbackService(log, repos.Upload, clients.Bucket),
		Handoff:  handoff,
		Events:   events,
	}
}
