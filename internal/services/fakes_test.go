package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/framewell/studio-qc-backend/internal/domain"
	"github.com/framewell/studio-qc-backend/internal/platform/dbctx"
	"github.com/framewell/studio-qc-backend/internal/platform/gcp"
	"github.com/framewell/studio-qc-backend/internal/platform/logger"
	"github.com/framewell/studio-qc-backend/internal/qc"
)

func fptr(v float64) *float64 { return &v }

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return log
}

// fakeUploadRepo is an in-memory UploadRepo. Field updates mirror the column
// names the real repo writes.
type fakeUploadRepo struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]*types.Upload
	failAll bool
}

func newFakeUploadRepo() *fakeUploadRepo {
	return &fakeUploadRepo{rows: map[uuid.UUID]*types.Upload{}}
}

func (r *fakeUploadRepo) put(u *types.Upload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.rows[u.ID] = &cp
}

func (r *fakeUploadRepo) get(id uuid.UUID) *types.Upload {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.rows[id]; ok {
		cp := *u
		return &cp
	}
	return nil
}

func (r *fakeUploadRepo) Create(dbc dbctx.Context, uploads []*types.Upload) ([]*types.Upload, error) {
	if r.failAll {
		return nil, fmt.Errorf("repo down")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, u := range uploads {
		if u.ID == uuid.Nil {
			u.ID = uuid.New()
		}
		u.CreatedAt = now
		u.UpdatedAt = now
		cp := *u
		r.rows[u.ID] = &cp
	}
	return uploads, nil
}

func (r *fakeUploadRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Upload, error) {
	if r.failAll {
		return nil, fmt.Errorf("repo down")
	}
	return r.get(id), nil
}

func (r *fakeUploadRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if r.failAll {
		return fmt.Errorf("repo down")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.rows[id]
	if !ok {
		return nil
	}
	for col, v := range updates {
		switch col {
		case "storage_path":
			u.StoragePath = v.(string)
		case "status":
			u.Status = v.(string)
		case "deep_analysis_status":
			u.DeepAnalysisStatus = v.(string)
		case "deep_analysis_progress":
			u.DeepProgress = asJSONOrNil(v)
		case "qc_result":
			u.QCResult = asJSONOrNil(v)
		case "qc_passed":
			b := v.(bool)
			u.QCPassed = &b
		case "dismissed_flags":
			u.DismissedFlags = asJSONOrNil(v)
		case "visual_analysis":
			u.VisualAnalysis = asJSONOrNil(v)
		case "audio_analysis":
			u.AudioAnalysis = asJSONOrNil(v)
		case "deep_failure":
			u.DeepFailure = asJSONOrNil(v)
		case "signed_url":
			u.SignedURL = v.(string)
		case "signed_url_expires_at":
			if ts, ok := v.(time.Time); ok {
				u.SignedURLExpiresAt = &ts
			} else {
				u.SignedURLExpiresAt = nil
			}
		case "updated_at":
			if ts, ok := v.(time.Time); ok {
				u.UpdatedAt = ts
			}
		}
	}
	if _, ok := updates["updated_at"]; !ok {
		u.UpdatedAt = time.Now()
	}
	return nil
}

func asJSONOrNil(v interface{}) datatypes.JSON {
	if b, ok := v.(datatypes.JSON); ok {
		return b
	}
	return nil
}

func (r *fakeUploadRepo) ClaimPendingDeepAnalysis(dbc dbctx.Context, limit int) ([]*types.Upload, error) {
	if r.failAll {
		return nil, fmt.Errorf("repo down")
	}
	if limit <= 0 {
		limit = 10
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var eligible []*types.Upload
	for _, u := range r.rows {
		if u.DeepAnalysisStatus != types.DeepAnalysisPending || u.StoragePath == "" {
			continue
		}
		if u.Status == types.UploadStatusPending || u.Status == types.UploadStatusAnalyzing {
			continue
		}
		eligible = append(eligible, u)
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].CreatedAt.Before(eligible[j].CreatedAt) })
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	out := make([]*types.Upload, 0, len(eligible))
	for _, u := range eligible {
		u.DeepAnalysisStatus = types.DeepAnalysisProcessing
		u.UpdatedAt = time.Now()
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeUploadRepo) UpdateDeepProgress(dbc dbctx.Context, id uuid.UUID, percent int, stage string) error {
	if r.failAll {
		return fmt.Errorf("repo down")
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.rows[id]
	if !ok || u.DeepAnalysisStatus != types.DeepAnalysisProcessing {
		return nil
	}
	if len(u.DeepProgress) > 0 {
		var cur types.DeepProgressState
		if err := json.Unmarshal(u.DeepProgress, &cur); err == nil && percent < cur.Percent {
			return nil
		}
	}
	b, _ := json.Marshal(types.DeepProgressState{Percent: percent, Stage: stage})
	u.DeepProgress = b
	u.UpdatedAt = time.Now()
	return nil
}

func (r *fakeUploadRepo) AddDismissedFlags(dbc dbctx.Context, id uuid.UUID, flagIDs []string) (*types.Upload, error) {
	if r.failAll {
		return nil, fmt.Errorf("repo down")
	}
	r.mu.Lock()
	u, ok := r.rows[id]
	if !ok {
		r.mu.Unlock()
		return nil, nil
	}
	existing := []string{}
	if len(u.DismissedFlags) > 0 {
		_ = json.Unmarshal(u.DismissedFlags, &existing)
	}
	seen := map[string]struct{}{}
	for _, f := range existing {
		seen[f] = struct{}{}
	}
	for _, f := range flagIDs {
		if _, ok := seen[f]; !ok {
			seen[f] = struct{}{}
			existing = append(existing, f)
		}
	}
	b, _ := json.Marshal(existing)
	u.DismissedFlags = b
	u.UpdatedAt = time.Now()
	r.mu.Unlock()
	return r.get(id), nil
}

func (r *fakeUploadRepo) ForceReviewedIfEarly(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	if r.failAll {
		return false, fmt.Errorf("repo down")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.rows[id]
	if !ok {
		return false, nil
	}
	if u.Status != types.UploadStatusPending && u.Status != types.UploadStatusAnalyzing {
		return false, nil
	}
	u.Status = types.UploadStatusReviewed
	u.UpdatedAt = time.Now()
	return true, nil
}

func (r *fakeUploadRepo) ListDismissedSince(dbc dbctx.Context, since time.Time) ([]*types.Upload, error) {
	if r.failAll {
		return nil, fmt.Errorf("repo down")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Upload
	for _, u := range r.rows {
		if len(u.DismissedFlags) == 0 || string(u.DismissedFlags) == "[]" || string(u.DismissedFlags) == "null" {
			continue
		}
		if u.UpdatedAt.Before(since) {
			continue
		}
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeUploadRepo) ListStaleProcessing(dbc dbctx.Context, staleAfter time.Duration) ([]*types.Upload, error) {
	if r.failAll {
		return nil, fmt.Errorf("repo down")
	}
	cutoff := time.Now().Add(-staleAfter)
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Upload
	for _, u := range r.rows {
		if u.DeepAnalysisStatus == types.DeepAnalysisProcessing && u.UpdatedAt.Before(cutoff) {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeUploadRepo) ResetDeepAnalysis(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	if r.failAll {
		return false, fmt.Errorf("repo down")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.rows[id]
	if !ok || u.DeepAnalysisStatus != types.DeepAnalysisProcessing {
		return false, nil
	}
	u.DeepAnalysisStatus = types.DeepAnalysisPending
	u.DeepProgress = nil
	u.SignedURL = ""
	u.SignedURLExpiresAt = nil
	u.UpdatedAt = time.Now()
	return true, nil
}

// fakeBucket stores objects in memory, keyed by category and object key.
type fakeBucket struct {
	mu        sync.Mutex
	objects   map[string][]byte
	mints     int
	failUp    bool
	failDown  bool
	failSign  bool
	signClock func() time.Time
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string][]byte{}, signClock: time.Now}
}

func bucketObjKey(category gcp.BucketCategory, key string) string {
	return string(category) + "/" + key
}

func (b *fakeBucket) UploadFile(ctx context.Context, category gcp.BucketCategory, key string, file io.Reader) error {
	if b.failUp {
		return fmt.Errorf("bucket upload down")
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[bucketObjKey(category, key)] = data
	return nil
}

func (b *fakeBucket) DownloadFile(ctx context.Context, category gcp.BucketCategory, key string) (io.ReadCloser, error) {
	if b.failDown {
		return nil, fmt.Errorf("bucket download down")
	}
	b.mu.Lock()
	data, ok := b.objects[bucketObjKey(category, key)]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *fakeBucket) SignedReadURL(category gcp.BucketCategory, key string, ttl time.Duration) (string, time.Time, error) {
	if b.failSign {
		return "", time.Time{}, fmt.Errorf("signer down")
	}
	b.mu.Lock()
	b.mints++
	n := b.mints
	b.mu.Unlock()
	return fmt.Sprintf("https://signed.example/%s/%s?mint=%d", category, key, n), b.signClock().Add(ttl), nil
}

func (b *fakeBucket) GetPublicURL(category gcp.BucketCategory, key string) string {
	return fmt.Sprintf("https://public.example/%s/%s", category, key)
}

func (b *fakeBucket) object(category gcp.BucketCategory, key string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[bucketObjKey(category, key)]
	return data, ok
}

// fakeAnalyzer returns scripted flags or a scripted failure.
type fakeAnalyzer struct {
	flags []qc.Flag
	err   error
}

func (a *fakeAnalyzer) Review(ctx context.Context, in TextReviewInput) (*TextReviewResult, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &TextReviewResult{Flags: a.flags, Model: "fake-model"}, nil
}

// fakeHandoff records streamed upload ids on a channel so tests can wait for
// the fire-and-forget goroutine.
type fakeHandoff struct {
	streamed chan uuid.UUID
	err      error
}

func newFakeHandoff() *fakeHandoff {
	return &fakeHandoff{streamed: make(chan uuid.UUID, 4)}
}

func (h *fakeHandoff) Stream(ctx context.Context, uploadID uuid.UUID) error {
	h.streamed <- uploadID
	return h.err
}
