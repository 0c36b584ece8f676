package services

import (
	"context"
	"fmt"
	"path"

	"github.com/google/uuid"

	uploadrepo "github.com/framewell/studio-qc-backend/internal/data/repos/qc"
	types "github.com/framewell/studio-qc-backend/internal/domain"
	"github.com/framewell/studio-qc-backend/internal/platform/dbctx"
	"github.com/framewell/studio-qc-backend/internal/platform/gcp"
	"github.com/framewell/studio-qc-backend/internal/platform/logger"
)

// HandoffBroker streams an upload's source file into the deep-analysis
// worker's input location. The transfer is a single pass reader-to-writer
// pipe; the file is never materialized in process memory.
type HandoffBroker interface {
	Stream(ctx context.Context, uploadID uuid.UUID) error
}

type handoffBroker struct {
	log    *logger.Logger
	repo   uploadrepo.UploadRepo
	bucket gcp.BucketService
	events UploadEventPublisher
}

func NewHandoffBroker(
	baseLog *logger.Logger,
	repo uploadrepo.UploadRepo,
	bucket gcp.BucketService,
	events UploadEventPublisher,
) HandoffBroker {
	return &handoffBroker{
		log:    baseLog.With("service", "HandoffBroker"),
		repo:   repo,
		bucket: bucket,
		events: events,
	}
}

// WorkerIntakeKey is where an upload's bytes land in the worker-intake
// bucket. Deterministic, so re-running a transfer overwrites the same
// object and the operation stays idempotent.
func WorkerIntakeKey(upload *types.Upload) string {
	return path.Join("intake", upload.ID.String(), upload.FileName)
}

func (b *handoffBroker) Stream(ctx context.Context, uploadID uuid.UUID) error {
	dbc := dbctx.Context{Ctx: ctx}
	upload, err := b.repo.GetByID(dbc, uploadID)
	if err != nil {
		return fmt.Errorf("load upload %s: %w", uploadID, err)
	}
	if upload == nil {
		return fmt.Errorf("upload %s not found", uploadID)
	}
	if upload.StoragePath == "" {
		return b.fail(dbc, upload, fmt.Errorf("upload %s has no storage path", uploadID))
	}
	if upload.DeepAnalysisTerminal() {
		// A completed or failed analysis is never restarted by a late
		// transfer.
		return nil
	}

	reader, err := b.bucket.DownloadFile(ctx, gcp.BucketCategorySource, upload.StoragePath)
	if err != nil {
		return b.fail(dbc, upload, fmt.Errorf("open source stream: %w", err))
	}
	defer reader.Close()

	if err := b.bucket.UploadFile(ctx, gcp.BucketCategoryWorkerIntake, WorkerIntakeKey(upload), reader); err != nil {
		return b.fail(dbc, upload, fmt.Errorf("stream to worker intake: %w", err))
	}

	b.log.Info("Handoff transfer complete", "upload_id", upload.ID, "storage_path", upload.StoragePath)
	return nil
}

func (b *handoffBroker) fail(dbc dbctx.Context, upload *types.Upload, cause error) error {
	b.log.Warn("Handoff transfer failed", "upload_id", upload.ID, "error", cause)
	if err := b.repo.UpdateFields(dbc, upload.ID, map[string]interface{}{
		"deep_analysis_status": types.DeepAnalysisFailed,
	}); err != nil {
		b.log.Error("Failed to mark deep analysis failed", "upload_id", upload.ID, "error", err)
		return cause
	}
	upload.DeepAnalysisStatus = types.DeepAnalysisFailed
	if b.events != nil {
		b.events.PublishUploadEvent(dbc.Ctx, upload)
	}
	return cause
}
