package app

import (
	"time"

	"github.com/framewell/studio-qc-backend/internal/platform/envutil"
	"github.com/framewell/studio-qc-backend/internal/platform/logger"
)

type Config struct {
	Port         string
	Environment  string
	JWTSecretKey string
	WorkerSecret string
	RulesDir     string

	SignedURLTTL         time.Duration
	SignedURLBuffer      time.Duration
	DeepAnalysisStale    time.Duration
	FeedbackSyncInterval time.Duration
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Port:         envutil.String("PORT", "8080"),
		Environment:  envutil.String("ENVIRONMENT", "development"),
		JWTSecretKey: envutil.String("JWT_SECRET_KEY", "defaultsecret"),
		WorkerSecret: envutil.String("QC_WORKER_SECRET", ""),
		RulesDir:     envutil.String("QC_RULES_DIR", "rules"),

		SignedURLTTL:         envutil.Duration("QC_SIGNED_URL_TTL", time.Hour),
		SignedURLBuffer:      envutil.Duration("QC_SIGNED_URL_REFRESH_BUFFER", 10*time.Minute),
		DeepAnalysisStale:    envutil.Duration("QC_DEEP_ANALYSIS_STALE_AFTER", 2*time.Hour),
		FeedbackSyncInterval: envutil.Duration("QC_FEEDBACK_SYNC_INTERVAL", 6*time.Hour),
	}
	if cfg.WorkerSecret == "" {
		log.Warn("QC_WORKER_SECRET not set; worker endpoints will reject all requests")
	}
	return cfg
}
