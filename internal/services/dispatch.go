package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
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

// PendingUpload is one claimed work item handed to the deep-analysis worker.
type PendingUpload struct {
	ID                 uuid.UUID `json:"id"`
	ProjectID          uuid.UUID `json:"projectId"`
	FileName           string    `json:"fileName"`
	StoragePath        string    `json:"storagePath"`
	SignedURL          string    `json:"signedUrl"`
	SignedURLExpiresAt time.Time `json:"signedUrlExpiresAt"`
}

// DeepIssue is one finding reported by the external worker. Identity fields
// are required; telemetry is optional and defaults soft.
type DeepIssue struct {
	Severity    string   `json:"severity"`
	Category    string   `json:"category"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Timestamp   *float64 `json:"timestamp,omitempty"`
}

type VisualAnalysisPayload struct {
	FramesAnalyzed int         `json:"framesAnalyzed"`
	Issues         []DeepIssue `json:"issues"`
	Summary        string      `json:"summary"`
	QualityScore   *float64    `json:"qualityScore,omitempty"`
}

type SilenceGap struct {
	StartSec float64 `json:"startSec"`
	EndSec   float64 `json:"endSec"`
}

type AudioAnalysisPayload struct {
	AverageDialogueDb *float64     `json:"averageDialogueDb,omitempty"`
	PeakDb            *float64     `json:"peakDb,omitempty"`
	SilenceGaps       []SilenceGap `json:"silenceGaps,omitempty"`
	Issues            []DeepIssue  `json:"issues"`
	Summary           string       `json:"summary"`
}

type CallbackPayload struct {
	UploadID       uuid.UUID              `json:"uploadId"`
	Success        bool                   `json:"success"`
	Error          string                 `json:"error,omitempty"`
	VisualAnalysis *VisualAnalysisPayload `json:"visualAnalysis,omitempty"`
	AudioAnalysis  *AudioAnalysisPayload  `json:"audioAnalysis,omitempty"`
}

type CallbackResult struct {
	FlagCount int  `json:"flagCount"`
	Passed    bool `json:"passed"`
}

// DispatchService owns both sides of the external worker contract: the pull
// endpoint that claims pending uploads and the push endpoint that receives
// results. It is the only writer of the signed URL fields.
type DispatchService interface {
	ListPending(dbc dbctx.Context, limit int) ([]PendingUpload, error)
	HandleCallback(dbc dbctx.Context, payload CallbackPayload) (*CallbackResult, error)
	RecordProgress(dbc dbctx.Context, uploadID uuid.UUID, percent int, stage string) error
	ListStuck(dbc dbctx.Context) ([]*types.Upload, error)
	ResetStuck(dbc dbctx.Context, uploadID uuid.UUID) (bool, error)
}

type dispatchService struct {
	db     *gorm.DB
	log    *logger.Logger
	repo   uploadrepo.UploadRepo
	bucket gcp.BucketService
	events UploadEventPublisher

	signedURLTTL  time.Duration
	refreshBuffer time.Duration
	staleAfter    time.Duration
	clock         func() time.Time
}

// DispatchConfig tunes signed URL validity and the stuck-processing
// threshold. Zero values fall back to defaults (1h TTL, 10m buffer, 2h
// staleness).
type DispatchConfig struct {
	SignedURLTTL  time.Duration
	RefreshBuffer time.Duration
	StaleAfter    time.Duration
}

func NewDispatchService(
	db *gorm.DB,
	baseLog *logger.Logger,
	repo uploadrepo.UploadRepo,
	bucket gcp.BucketService,
	events UploadEventPublisher,
	cfg DispatchConfig,
) DispatchService {
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = time.Hour
	}
	if cfg.RefreshBuffer <= 0 {
		cfg.RefreshBuffer = 10 * time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 2 * time.Hour
	}
	return &dispatchService{
		db:            db,
		log:           baseLog.With("service", "DispatchService"),
		repo:          repo,
		bucket:        bucket,
		events:        events,
		signedURLTTL:  cfg.SignedURLTTL,
		refreshBuffer: cfg.RefreshBuffer,
		staleAfter:    cfg.StaleAfter,
		clock:         time.Now,
	}
}

func (s *dispatchService) ListPending(dbc dbctx.Context, limit int) ([]PendingUpload, error) {
	claimed, err := s.repo.ClaimPendingDeepAnalysis(dbc, limit)
	if err != nil {
		return nil, apierr.New(http.StatusInternalServerError, "storage", fmt.Errorf("claim pending uploads: %w", err))
	}

	out := make([]PendingUpload, 0, len(claimed))
	for _, u := range claimed {
		url, expires, err := s.signedURLFor(dbc, u)
		if err != nil {
			// Leave the row claimed; the worker will see it on the next
			// pull once signing recovers, or an operator resets it.
			s.log.Error("Signed URL mint failed", "upload_id", u.ID, "error", err)
			continue
		}
		out = append(out, PendingUpload{
			ID:                 u.ID,
			ProjectID:          u.ProjectID,
			FileName:           u.FileName,
			StoragePath:        u.StoragePath,
			SignedURL:          url,
			SignedURLExpiresAt: expires,
		})
		s.publishEvent(dbc, u)
	}
	return out, nil
}

// signedURLFor reuses the persisted URL while it retains more validity than
// the refresh buffer, and mints a fresh one otherwise. At most one signed
// URL is outstanding per upload.
func (s *dispatchService) signedURLFor(dbc dbctx.Context, u *types.Upload) (string, time.Time, error) {
	now := s.clock()
	if u.SignedURL != "" && u.SignedURLExpiresAt != nil && u.SignedURLExpiresAt.After(now.Add(s.refreshBuffer)) {
		return u.SignedURL, *u.SignedURLExpiresAt, nil
	}

	url, expires, err := s.bucket.SignedReadURL(gcp.BucketCategorySource, u.StoragePath, s.signedURLTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	if err := s.repo.UpdateFields(dbc, u.ID, map[string]interface{}{
		"signed_url":            url,
		"signed_url_expires_at": expires,
	}); err != nil {
		return "", time.Time{}, fmt.Errorf("persist signed url: %w", err)
	}
	u.SignedURL = url
	u.SignedURLExpiresAt = &expires
	return url, expires, nil
}

func (s *dispatchService) HandleCallback(dbc dbctx.Context, payload CallbackPayload) (*CallbackResult, error) {
	if payload.UploadID == uuid.Nil {
		return nil, apierr.New(http.StatusBadRequest, "validation", fmt.Errorf("missing uploadId"))
	}

	upload, err := s.repo.GetByID(dbc, payload.UploadID)
	if err != nil {
		return nil, apierr.New(http.StatusInternalServerError, "storage", fmt.Errorf("load upload: %w", err))
	}
	if upload == nil {
		return nil, apierr.New(http.StatusNotFound, "not_found", fmt.Errorf("upload %s not found", payload.UploadID))
	}

	if !payload.Success {
		return s.handleFailure(dbc, upload, payload)
	}
	return s.handleSuccess(dbc, upload, payload)
}

// handleFailure marks the secondary lifecycle failed and keeps the
// fast-path result untouched; the upload remains usable.
func (s *dispatchService) handleFailure(dbc dbctx.Context, upload *types.Upload, payload CallbackPayload) (*CallbackResult, error) {
	diag, _ := json.Marshal(map[string]any{
		"error":       payload.Error,
		"reported_at": s.clock(),
	})
	updates := map[string]interface{}{
		"deep_analysis_status":  types.DeepAnalysisFailed,
		"deep_failure":          datatypes.JSON(diag),
		"signed_url":            "",
		"signed_url_expires_at": gorm.Expr("NULL"),
	}
	if err := s.repo.UpdateFields(dbc, upload.ID, updates); err != nil {
		return nil, apierr.New(http.StatusInternalServerError, "storage", fmt.Errorf("mark deep analysis failed: %w", err))
	}
	s.reconcileStatus(dbc, upload)
	upload.DeepAnalysisStatus = types.DeepAnalysisFailed
	s.publishEvent(dbc, upload)

	result := existingResult(upload)
	return &CallbackResult{FlagCount: len(result.Flags), Passed: result.Passed}, nil
}

// handleSuccess merges the worker's findings into the stored result. The
// content-based dedup key makes redelivery of the same payload a no-op.
func (s *dispatchService) handleSuccess(dbc dbctx.Context, upload *types.Upload, payload CallbackPayload) (*CallbackResult, error) {
	incoming := deepFlags(payload)

	result := existingResult(upload)
	merged := qc.MergeResult(result, incoming)
	merged.AnalyzedAt = s.clock()
	if payload.VisualAnalysis != nil {
		merged.ThoughtTrace.VisualFramesAnalyzed = payload.VisualAnalysis.FramesAnalyzed
	}
	if payload.AudioAnalysis != nil {
		merged.ThoughtTrace.AudioAnalyzed = true
	}

	resultJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, apierr.New(http.StatusInternalServerError, "internal", fmt.Errorf("encode merged result: %w", err))
	}
	updates := map[string]interface{}{
		"qc_result":             datatypes.JSON(resultJSON),
		"qc_passed":             merged.Passed,
		"deep_analysis_status":  types.DeepAnalysisCompleted,
		"signed_url":            "",
		"signed_url_expires_at": gorm.Expr("NULL"),
	}
	if payload.VisualAnalysis != nil {
		if b, err := json.Marshal(payload.VisualAnalysis); err == nil {
			updates["visual_analysis"] = datatypes.JSON(b)
		}
	}
	if payload.AudioAnalysis != nil {
		if b, err := json.Marshal(payload.AudioAnalysis); err == nil {
			updates["audio_analysis"] = datatypes.JSON(b)
		}
	}
	if err := s.repo.UpdateFields(dbc, upload.ID, updates); err != nil {
		return nil, apierr.New(http.StatusInternalServerError, "storage", fmt.Errorf("write merged result: %w", err))
	}

	s.reconcileStatus(dbc, upload)
	upload.DeepAnalysisStatus = types.DeepAnalysisCompleted
	upload.QCResult = datatypes.JSON(resultJSON)
	s.publishEvent(dbc, upload)

	return &CallbackResult{FlagCount: len(merged.Flags), Passed: merged.Passed}, nil
}

// reconcileStatus is the correctness backstop between the two lifecycles:
// when deep analysis reaches a terminal state while the primary status has
// not yet reached reviewed, force it forward.
func (s *dispatchService) reconcileStatus(dbc dbctx.Context, upload *types.Upload) {
	if upload.Status != types.UploadStatusPending && upload.Status != types.UploadStatusAnalyzing {
		return
	}
	changed, err := s.repo.ForceReviewedIfEarly(dbc, upload.ID)
	if err != nil {
		s.log.Error("Status reconciliation failed", "upload_id", upload.ID, "error", err)
		return
	}
	if changed {
		upload.Status = types.UploadStatusReviewed
	}
}

func (s *dispatchService) RecordProgress(dbc dbctx.Context, uploadID uuid.UUID, percent int, stage string) error {
	if uploadID == uuid.Nil {
		return apierr.New(http.StatusBadRequest, "validation", fmt.Errorf("missing uploadId"))
	}
	if err := s.repo.UpdateDeepProgress(dbc, uploadID, percent, stage); err != nil {
		return apierr.New(http.StatusInternalServerError, "storage", fmt.Errorf("record progress: %w", err))
	}
	return nil
}

func (s *dispatchService) ListStuck(dbc dbctx.Context) ([]*types.Upload, error) {
	return s.repo.ListStaleProcessing(dbc, s.staleAfter)
}

// ResetStuck is the operator recovery action for uploads abandoned by a
// crashed worker; there is no automatic timeout-based reset.
func (s *dispatchService) ResetStuck(dbc dbctx.Context, uploadID uuid.UUID) (bool, error) {
	reset, err := s.repo.ResetDeepAnalysis(dbc, uploadID)
	if err != nil {
		return false, apierr.New(http.StatusInternalServerError, "storage", fmt.Errorf("reset deep analysis: %w", err))
	}
	if reset {
		s.log.Info("Deep analysis reset to pending", "upload_id", uploadID)
	}
	return reset, nil
}

func (s *dispatchService) publishEvent(dbc dbctx.Context, upload *types.Upload) {
	if s.events == nil {
		return
	}
	s.events.PublishUploadEvent(dbc.Ctx, upload)
}

// existingResult decodes the stored result, falling back to an empty
// passing result when the fast path has not written one yet.
func existingResult(upload *types.Upload) *qc.QCResult {
	result := &qc.QCResult{Passed: true}
	if len(upload.QCResult) > 0 {
		_ = json.Unmarshal(upload.QCResult, result)
	}
	return result
}

// deepFlags converts worker issues into flags with fresh source-local ids.
func deepFlags(payload CallbackPayload) []qc.Flag {
	flags := []qc.Flag{}
	n := 0
	if payload.VisualAnalysis != nil {
		for _, issue := range payload.VisualAnalysis.Issues {
			n++
			flags = append(flags, issueToFlag(issue, qc.FlagSourceDeepVisual, n))
		}
	}
	if payload.AudioAnalysis != nil {
		for _, issue := range payload.AudioAnalysis.Issues {
			n++
			flags = append(flags, issueToFlag(issue, qc.FlagSourceDeepAudio, n))
		}
	}
	return flags
}

func issueToFlag(issue DeepIssue, source qc.FlagSource, n int) qc.Flag {
	typ := qc.FlagType(issue.Severity)
	switch typ {
	case qc.FlagTypeError, qc.FlagTypeWarning, qc.FlagTypeInfo:
	default:
		typ = qc.FlagTypeWarning
	}
	return qc.Flag{
		ID:          qc.NewFlagID(source, n),
		Type:        typ,
		Category:    issue.Category,
		Title:       issue.Title,
		Description: issue.Description,
		Source:      source,
		Timestamp:   issue.Timestamp,
	}
}
