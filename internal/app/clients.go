package app

import (
	"github.com/framewell/studio-qc-backend/internal/clients/redis"
	"github.com/framewell/studio-qc-backend/internal/platform/gcp"
	"github.com/framewell/studio-qc-backend/internal/platform/logger"
	"github.com/framewell/studio-qc-backend/internal/platform/openai"
)

type Clients struct {
	Bucket   gcp.BucketService
	OpenAI   openai.Client
	EventBus redis.UploadEventBus
}

func wireClients(log *logger.Logger) (Clients, error) {
	log.Info("Wiring clients...")

	bucket, err := gcp.NewBucketService(log)
	if err != nil {
		return Clients{}, err
	}
	ai, err := openai.NewClient(log)
	if err != nil {
		return Clients{}, err
	}
	// Event publishing is best effort; run without a bus when redis is down.
	bus, err := redis.NewUploadEventBus(log)
	if err != nil {
		log.Warn("Redis event bus unavailable; upload events disabled", "error", err)
		bus = nil
	}

	return Clients{
		Bucket:   bucket,
		OpenAI:   ai,
		EventBus: bus,
	}, nil
}
