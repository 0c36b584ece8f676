package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	uploadrepo "github.com/framewell/studio-qc-backend/internal/data/repos/qc"
	types "github.com/framewell/studio-qc-backend/internal/domain"
	"github.com/framewell/studio-qc-backend/internal/platform/apierr"
	"github.com/framewell/studio-qc-backend/internal/platform/dbctx"
	"github.com/framewell/studio-qc-backend/internal/platform/gcp"
	"github.com/framewell/studio-qc-backend/internal/platform/logger"
	"github.com/framewell/studio-qc-backend/internal/qc"
)

// IntakeInput describes one submitted file. Either File carries the bytes to
// persist, or StoragePath points at an object already in primary storage.
type IntakeInput struct {
	ProjectID  uuid.UUID
	UploaderID uuid.UUID
	FileName   string

	File        io.Reader
	StoragePath string

	ClientName    string
	Metadata      map[string]string
	FeedbackItems []string
	AnalysisMode  string // "quick" (default) or "thorough"
}

type IntakeResult struct {
	Upload *types.Upload
	Result *qc.QCResult
}

// IntakeService is the synchronous entry point of the QC pipeline: it
// persists the file, runs the fast checks, writes the first-pass result and
// schedules the deep-analysis handoff in the background.
type IntakeService interface {
	Analyze(dbc dbctx.Context, in IntakeInput) (*IntakeResult, error)
}

type intakeService struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     uploadrepo.UploadRepo
	bucket   gcp.BucketService
	rules    qc.RuleStore
	analyzer TextAnalyzer
	handoff  HandoffBroker
	events   UploadEventPublisher
}

func NewIntakeService(
	db *gorm.DB,
	baseLog *logger.Logger,
	repo uploadrepo.UploadRepo,
	bucket gcp.BucketService,
	rules qc.RuleStore,
	analyzer TextAnalyzer,
	handoff HandoffBroker,
	events UploadEventPublisher,
) IntakeService {
	return &intakeService{
		db:       db,
		log:      baseLog.With("service", "IntakeService"),
		repo:     repo,
		bucket:   bucket,
		rules:    rules,
		analyzer: analyzer,
		handoff:  handoff,
		events:   events,
	}
}

func (s *intakeService) Analyze(dbc dbctx.Context, in IntakeInput) (*IntakeResult, error) {
	if in.ProjectID == uuid.Nil {
		return nil, apierr.New(http.StatusBadRequest, "validation", fmt.Errorf("missing project id"))
	}
	if in.UploaderID == uuid.Nil {
		return nil, apierr.New(http.StatusBadRequest, "validation", fmt.Errorf("missing uploader id"))
	}
	if in.FileName == "" {
		return nil, apierr.New(http.StatusBadRequest, "validation", fmt.Errorf("missing file name"))
	}
	if in.File == nil && in.StoragePath == "" {
		return nil, apierr.New(http.StatusBadRequest, "validation", fmt.Errorf("missing file or storage path"))
	}

	upload := &types.Upload{
		ID:                 uuid.New(),
		ProjectID:          in.ProjectID,
		UploaderID:         in.UploaderID,
		FileName:           in.FileName,
		ClientName:         in.ClientName,
		Status:             types.UploadStatusPending,
		DeepAnalysisStatus: types.DeepAnalysisPending,
		StoragePath:        in.StoragePath,
	}
	if _, err := s.repo.Create(dbc, []*types.Upload{upload}); err != nil {
		return nil, apierr.New(http.StatusInternalServerError, "storage", fmt.Errorf("create upload: %w", err))
	}

	// Persist the file before the row can reach analyzing. A storage failure
	// here surfaces to the caller and the row stays pending.
	if in.File != nil {
		key := path.Join("uploads", upload.ID.String(), in.FileName)
		if err := s.bucket.UploadFile(dbc.Ctx, gcp.BucketCategorySource, key, in.File); err != nil {
			return nil, apierr.New(http.StatusBadGateway, "storage", fmt.Errorf("persist upload file: %w", err))
		}
		upload.StoragePath = key
	}
	if err := s.repo.UpdateFields(dbc, upload.ID, map[string]interface{}{
		"storage_path": upload.StoragePath,
		"status":       types.UploadStatusAnalyzing,
	}); err != nil {
		return nil, apierr.New(http.StatusInternalServerError, "storage", fmt.Errorf("mark analyzing: %w", err))
	}
	upload.Status = types.UploadStatusAnalyzing

	result, err := s.runFastChecks(dbc.Ctx, in)
	if err != nil {
		// Surface the partial trace but never leave the row stuck in
		// analyzing.
		s.failUpload(dbc, upload, result, err)
		return &IntakeResult{Upload: upload, Result: result},
			apierr.New(http.StatusBadGateway, "external_service", fmt.Errorf("fast checks: %w", err))
	}

	resultJSON, _ := json.Marshal(result)
	updates := map[string]interface{}{
		"qc_result":            datatypes.JSON(resultJSON),
		"qc_passed":            result.Passed,
		"status":               types.UploadStatusReviewed,
		"deep_analysis_status": types.DeepAnalysisPending,
	}
	// The deep-analysis handoff depends on this write; retry once before
	// surfacing the error.
	if err := s.repo.UpdateFields(dbc, upload.ID, updates); err != nil {
		s.log.Warn("Reviewed result write failed; retrying once", "upload_id", upload.ID, "error", err)
		if err := s.repo.UpdateFields(dbc, upload.ID, updates); err != nil {
			s.failUpload(dbc, upload, result, err)
			return &IntakeResult{Upload: upload, Result: result},
				apierr.New(http.StatusInternalServerError, "storage", fmt.Errorf("write reviewed result: %w", err))
		}
	}
	upload.Status = types.UploadStatusReviewed
	upload.QCResult = datatypes.JSON(resultJSON)
	passed := result.Passed
	upload.QCPassed = &passed

	s.publishEvent(dbc.Ctx, upload)

	// Fire and forget: the transfer to the worker's input location runs on a
	// detached context and reports only through the upload row.
	if s.handoff != nil {
		uploadID := upload.ID
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 45*time.Minute)
			defer cancel()
			if err := s.handoff.Stream(ctx, uploadID); err != nil {
				s.log.Warn("Deep-analysis handoff failed", "upload_id", uploadID, "error", err)
			}
		}()
	}

	return &IntakeResult{Upload: upload, Result: result}, nil
}

// runFastChecks evaluates the deterministic rules and the AI text pass
// concurrently; the caller's response waits for both.
func (s *intakeService) runFastChecks(ctx context.Context, in IntakeInput) (*qc.QCResult, error) {
	baseline, err := s.rules.Baseline()
	if err != nil {
		return nil, fmt.Errorf("load baseline rules: %w", err)
	}
	clientSet, err := s.rules.ForClient(in.ClientName)
	if err != nil {
		return nil, fmt.Errorf("load client rules: %w", err)
	}
	sets := []*qc.RuleSet{baseline, clientSet}

	var (
		ruleFlags []qc.Flag
		aiReview  *TextReviewResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ruleFlags = qc.EvaluateRules(sets, in.FileName, in.Metadata)
		return nil
	})
	g.Go(func() error {
		var rerr error
		aiReview, rerr = s.analyzer.Review(gctx, TextReviewInput{
			FileName:      in.FileName,
			Metadata:      in.Metadata,
			RuleSets:      sets,
			FeedbackItems: in.FeedbackItems,
			AnalysisMode:  in.AnalysisMode,
		})
		return rerr
	})
	trace := qc.ThoughtTrace{
		StandardsChecked:      qc.StandardsChecked(sets),
		FeedbackItemsReviewed: len(in.FeedbackItems),
	}
	if err := g.Wait(); err != nil {
		return &qc.QCResult{
			Flags:        ruleFlags,
			Passed:       qc.Passed(ruleFlags),
			AnalyzedAt:   time.Now(),
			ThoughtTrace: trace,
		}, err
	}

	// The two sources are disjoint by construction; Merge just concatenates.
	flags := qc.Merge(ruleFlags, aiReview.Flags)
	trace.AIModel = aiReview.Model
	meta := map[string]any{}
	for k, v := range in.Metadata {
		meta[k] = v
	}
	return &qc.QCResult{
		Passed:       qc.Passed(flags),
		Flags:        flags,
		Metadata:     meta,
		AnalyzedAt:   time.Now(),
		ThoughtTrace: trace,
	}, nil
}

func (s *intakeService) failUpload(dbc dbctx.Context, upload *types.Upload, partial *qc.QCResult, cause error) {
	updates := map[string]interface{}{
		"status": types.UploadStatusFailed,
	}
	if partial != nil {
		if b, err := json.Marshal(partial); err == nil {
			updates["qc_result"] = datatypes.JSON(b)
		}
	}
	if err := s.repo.UpdateFields(dbc, upload.ID, updates); err != nil {
		s.log.Error("Failed to mark upload failed", "upload_id", upload.ID, "error", err, "cause", cause)
		return
	}
	upload.Status = types.UploadStatusFailed
	s.publishEvent(dbc.Ctx, upload)
}

func (s *intakeService) publishEvent(ctx context.Context, upload *types.Upload) {
	if s.events == nil {
		return
	}
	s.events.PublishUploadEvent(ctx, upload)
}
