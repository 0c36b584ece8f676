package services

import (
	"context"

	"github.com/framewell/studio-qc-backend/internal/clients/redis"
	types "github.com/framewell/studio-qc-backend/internal/domain"
	"github.com/framewell/studio-qc-backend/internal/platform/logger"
)

// UploadEventPublisher broadcasts lifecycle changes. Publishing is
// best-effort; a broken bus never fails the pipeline.
type UploadEventPublisher interface {
	PublishUploadEvent(ctx context.Context, upload *types.Upload)
}

type uploadEventPublisher struct {
	log *logger.Logger
	bus redis.UploadEventBus
}

// NewUploadEventPublisher wraps the redis bus; bus may be nil, in which case
// publishing is a no-op.
func NewUploadEventPublisher(baseLog *logger.Logger, bus redis.UploadEventBus) UploadEventPublisher {
	return &uploadEventPublisher{
		log: baseLog.With("service", "UploadEventPublisher"),
		bus: bus,
	}
}

func (p *uploadEventPublisher) PublishUploadEvent(ctx context.Context, upload *types.Upload) {
	if p == nil || p.bus == nil || upload == nil {
		return
	}
	evt := redis.UploadEvent{
		UploadID:           upload.ID.String(),
		Status:             upload.Status,
		DeepAnalysisStatus: upload.DeepAnalysisStatus,
	}
	if err := p.bus.Publish(ctx, evt); err != nil {
		p.log.Warn("Upload event publish failed", "upload_id", upload.ID, "error", err)
	}
}
