package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	types "github.com/framewell/studio-qc-backend/internal/domain"
	"github.com/framewell/studio-qc-backend/internal/platform/apierr"
	"github.com/framewell/studio-qc-backend/internal/platform/dbctx"
	"github.com/framewell/studio-qc-backend/internal/qc"
)

func newTestDispatch(t *testing.T, repo *fakeUploadRepo, bucket *fakeBucket, now time.Time) *dispatchService {
	t.Helper()
	return &dispatchService{
		log:           testLogger(t).With("service", "DispatchService"),
		repo:          repo,
		bucket:        bucket,
		signedURLTTL:  time.Hour,
		refreshBuffer: 10 * time.Minute,
		staleAfter:    2 * time.Hour,
		clock:         func() time.Time { return now },
	}
}

func seedReviewedUpload(repo *fakeUploadRepo, flags []qc.Flag) *types.Upload {
	result := qc.QCResult{
		Passed:     qc.Passed(flags),
		Flags:      flags,
		AnalyzedAt: time.Now(),
	}
	b, _ := json.Marshal(result)
	passed := result.Passed
	u := &types.Upload{
		ID:                 uuid.New(),
		ProjectID:          uuid.New(),
		UploaderID:         uuid.New(),
		FileName:           "sunrise_005_v02.mp4",
		StoragePath:        "uploads/x/sunrise_005_v02.mp4",
		Status:             types.UploadStatusReviewed,
		DeepAnalysisStatus: types.DeepAnalysisPending,
		QCResult:           b,
		QCPassed:           &passed,
		CreatedAt:          time.Now(),
		UpdatedAt:          time.Now(),
	}
	repo.put(u)
	return u
}

func dbcBg() dbctx.Context { return dbctx.Context{Ctx: context.Background()} }

func TestListPendingClaimsAndSigns(t *testing.T) {
	repo := newFakeUploadRepo()
	bucket := newFakeBucket()
	svc := newTestDispatch(t, repo, bucket, time.Now())

	u := seedReviewedUpload(repo, nil)

	// Fast checks still running: must not be claimed.
	early := seedReviewedUpload(repo, nil)
	_ = repo.UpdateFields(dbcBg(), early.ID, map[string]interface{}{"status": types.UploadStatusAnalyzing})

	pending, err := svc.ListPending(dbcBg(), 10)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != u.ID {
		t.Fatalf("expected only the reviewed upload claimed, got %+v", pending)
	}
	if !strings.HasPrefix(pending[0].SignedURL, "https://signed.example/") {
		t.Fatalf("missing signed url: %q", pending[0].SignedURL)
	}

	stored := repo.get(u.ID)
	if stored.DeepAnalysisStatus != types.DeepAnalysisProcessing {
		t.Fatalf("claimed upload not processing: %s", stored.DeepAnalysisStatus)
	}
	if stored.SignedURL != pending[0].SignedURL || stored.SignedURLExpiresAt == nil {
		t.Fatalf("signed url not persisted")
	}

	again, err := svc.ListPending(dbcBg(), 10)
	if err != nil {
		t.Fatalf("ListPending second: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("processing upload re-claimed: %+v", again)
	}
}

func TestSignedURLReuseInsideBuffer(t *testing.T) {
	repo := newFakeUploadRepo()
	bucket := newFakeBucket()
	now := time.Now()
	svc := newTestDispatch(t, repo, bucket, now)

	u := seedReviewedUpload(repo, nil)
	exp := now.Add(30 * time.Minute)
	u.SignedURL = "https://signed.example/existing"
	u.SignedURLExpiresAt = &exp
	repo.put(u)

	url, gotExp, err := svc.signedURLFor(dbcBg(), repo.get(u.ID))
	if err != nil {
		t.Fatalf("signedURLFor: %v", err)
	}
	if url != "https://signed.example/existing" || !gotExp.Equal(exp) {
		t.Fatalf("expected reuse, got %q exp %v", url, gotExp)
	}
	if bucket.mints != 0 {
		t.Fatalf("reuse path minted %d new urls", bucket.mints)
	}
}

func TestSignedURLRefreshNearExpiry(t *testing.T) {
	repo := newFakeUploadRepo()
	bucket := newFakeBucket()
	now := time.Now()
	svc := newTestDispatch(t, repo, bucket, now)

	u := seedReviewedUpload(repo, nil)
	exp := now.Add(5 * time.Minute)
	u.SignedURL = "https://signed.example/stale"
	u.SignedURLExpiresAt = &exp
	repo.put(u)

	url, _, err := svc.signedURLFor(dbcBg(), repo.get(u.ID))
	if err != nil {
		t.Fatalf("signedURLFor: %v", err)
	}
	if url == "https://signed.example/stale" {
		t.Fatalf("near-expiry url was reused")
	}
	if bucket.mints != 1 {
		t.Fatalf("expected exactly one mint, got %d", bucket.mints)
	}
	if repo.get(u.ID).SignedURL != url {
		t.Fatalf("fresh url not persisted")
	}
}

func callbackWithVisual(id uuid.UUID, issues ...DeepIssue) CallbackPayload {
	return CallbackPayload{
		UploadID: id,
		Success:  true,
		VisualAnalysis: &VisualAnalysisPayload{
			FramesAnalyzed: 240,
			Issues:         issues,
			Summary:        "checked 240 frames",
		},
	}
}

func TestCallbackMergeIsIdempotent(t *testing.T) {
	repo := newFakeUploadRepo()
	bucket := newFakeBucket()
	svc := newTestDispatch(t, repo, bucket, time.Now())

	fast := []qc.Flag{
		{ID: "rule-1", Type: qc.FlagTypeWarning, Category: "naming", Title: "Draft marker present", Description: "no drafts", Source: qc.FlagSourceRule},
	}
	u := seedReviewedUpload(repo, fast)
	_ = repo.UpdateFields(dbcBg(), u.ID, map[string]interface{}{"deep_analysis_status": types.DeepAnalysisProcessing})

	payload := callbackWithVisual(u.ID,
		DeepIssue{Severity: "warning", Category: "color", Title: "Banding", Description: "gradient banding", Timestamp: fptr(12.3)},
		// Same finding the fast pass already produced.
		DeepIssue{Severity: "warning", Category: "naming", Title: "Draft marker present", Description: "no drafts"},
	)

	res, err := svc.HandleCallback(dbcBg(), payload)
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if res.FlagCount != 2 {
		t.Fatalf("expected 2 merged flags, got %d", res.FlagCount)
	}
	if !res.Passed {
		t.Fatalf("warnings only should pass")
	}

	stored := repo.get(u.ID)
	if stored.DeepAnalysisStatus != types.DeepAnalysisCompleted {
		t.Fatalf("deep status = %s, want completed", stored.DeepAnalysisStatus)
	}
	if stored.SignedURL != "" || stored.SignedURLExpiresAt != nil {
		t.Fatalf("signed url not cleared after completion")
	}
	if len(stored.VisualAnalysis) == 0 {
		t.Fatalf("visual analysis payload not stored")
	}

	// At-least-once delivery: the retry must change nothing.
	res2, err := svc.HandleCallback(dbcBg(), payload)
	if err != nil {
		t.Fatalf("HandleCallback redelivery: %v", err)
	}
	if res2.FlagCount != res.FlagCount || res2.Passed != res.Passed {
		t.Fatalf("redelivery changed outcome: %+v vs %+v", res2, res)
	}
}

func TestCallbackErrorFlagFailsVerdict(t *testing.T) {
	repo := newFakeUploadRepo()
	svc := newTestDispatch(t, repo, newFakeBucket(), time.Now())

	u := seedReviewedUpload(repo, nil)
	_ = repo.UpdateFields(dbcBg(), u.ID, map[string]interface{}{"deep_analysis_status": types.DeepAnalysisProcessing})

	res, err := svc.HandleCallback(dbcBg(), callbackWithVisual(u.ID,
		DeepIssue{Severity: "error", Category: "color", Title: "Corrupt frames", Description: "frames 100-140 unreadable"},
	))
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if res.Passed {
		t.Fatalf("error-severity deep finding must fail the verdict")
	}
	stored := repo.get(u.ID)
	if stored.QCPassed == nil || *stored.QCPassed {
		t.Fatalf("qc_passed not updated")
	}
}

func TestCallbackFailureKeepsFastResult(t *testing.T) {
	repo := newFakeUploadRepo()
	svc := newTestDispatch(t, repo, newFakeBucket(), time.Now())

	fast := []qc.Flag{{ID: "rule-1", Type: qc.FlagTypeWarning, Title: "soft", Source: qc.FlagSourceRule}}
	u := seedReviewedUpload(repo, fast)
	before := repo.get(u.ID).QCResult
	_ = repo.UpdateFields(dbcBg(), u.ID, map[string]interface{}{"deep_analysis_status": types.DeepAnalysisProcessing})

	res, err := svc.HandleCallback(dbcBg(), CallbackPayload{
		UploadID: u.ID,
		Success:  false,
		Error:    "gpu node lost",
	})
	if err != nil {
		t.Fatalf("HandleCallback failure: %v", err)
	}
	if res.FlagCount != 1 || !res.Passed {
		t.Fatalf("fast verdict should survive worker failure: %+v", res)
	}

	stored := repo.get(u.ID)
	if stored.DeepAnalysisStatus != types.DeepAnalysisFailed {
		t.Fatalf("deep status = %s, want failed", stored.DeepAnalysisStatus)
	}
	if string(stored.QCResult) != string(before) {
		t.Fatalf("worker failure altered the fast-check result")
	}
	if len(stored.DeepFailure) == 0 {
		t.Fatalf("failure diagnostics not stored")
	}
	if stored.Status != types.UploadStatusReviewed {
		t.Fatalf("primary status changed: %s", stored.Status)
	}
}

func TestCallbackReconcilesEarlyStatus(t *testing.T) {
	repo := newFakeUploadRepo()
	svc := newTestDispatch(t, repo, newFakeBucket(), time.Now())

	u := seedReviewedUpload(repo, nil)
	_ = repo.UpdateFields(dbcBg(), u.ID, map[string]interface{}{
		"status":               types.UploadStatusAnalyzing,
		"deep_analysis_status": types.DeepAnalysisProcessing,
	})

	if _, err := svc.HandleCallback(dbcBg(), callbackWithVisual(u.ID)); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	stored := repo.get(u.ID)
	if stored.Status != types.UploadStatusReviewed {
		t.Fatalf("status = %s, want reviewed after reconciliation", stored.Status)
	}

	// Later lifecycle states are left alone.
	u2 := seedReviewedUpload(repo, nil)
	_ = repo.UpdateFields(dbcBg(), u2.ID, map[string]interface{}{
		"status":               types.UploadStatusCompleted,
		"deep_analysis_status": types.DeepAnalysisProcessing,
	})
	if _, err := svc.HandleCallback(dbcBg(), callbackWithVisual(u2.ID)); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if got := repo.get(u2.ID).Status; got != types.UploadStatusCompleted {
		t.Fatalf("completed status rewritten to %s", got)
	}
}

func TestCallbackUnknownUpload(t *testing.T) {
	svc := newTestDispatch(t, newFakeUploadRepo(), newFakeBucket(), time.Now())
	_, err := svc.HandleCallback(dbcBg(), CallbackPayload{UploadID: uuid.New(), Success: true})
	var ae *apierr.Error
	if !errors.As(err, &ae) || ae.Status != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestRecordProgressMonotonic(t *testing.T) {
	repo := newFakeUploadRepo()
	svc := newTestDispatch(t, repo, newFakeBucket(), time.Now())

	u := seedReviewedUpload(repo, nil)
	_ = repo.UpdateFields(dbcBg(), u.ID, map[string]interface{}{"deep_analysis_status": types.DeepAnalysisProcessing})

	if err := svc.RecordProgress(dbcBg(), u.ID, 60, "audio"); err != nil {
		t.Fatalf("RecordProgress: %v", err)
	}
	if err := svc.RecordProgress(dbcBg(), u.ID, 40, "visual"); err != nil {
		t.Fatalf("RecordProgress regression: %v", err)
	}

	var state types.DeepProgressState
	if err := json.Unmarshal(repo.get(u.ID).DeepProgress, &state); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if state.Percent != 60 || state.Stage != "audio" {
		t.Fatalf("regressive progress applied: %+v", state)
	}
}

func TestResetStuck(t *testing.T) {
	repo := newFakeUploadRepo()
	svc := newTestDispatch(t, repo, newFakeBucket(), time.Now())

	u := seedReviewedUpload(repo, nil)
	_ = repo.UpdateFields(dbcBg(), u.ID, map[string]interface{}{"deep_analysis_status": types.DeepAnalysisProcessing})

	reset, err := svc.ResetStuck(dbcBg(), u.ID)
	if err != nil {
		t.Fatalf("ResetStuck: %v", err)
	}
	if !reset {
		t.Fatalf("processing upload not reset")
	}
	stored := repo.get(u.ID)
	if stored.DeepAnalysisStatus != types.DeepAnalysisPending || stored.SignedURL != "" {
		t.Fatalf("reset incomplete: %+v", stored)
	}

	reset, err = svc.ResetStuck(dbcBg(), u.ID)
	if err != nil {
		t.Fatalf("ResetStuck second: %v", err)
	}
	if reset {
		t.Fatalf("pending upload reported as reset")
	}
}
