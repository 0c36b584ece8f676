package qc

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/framewell/studio-qc-backend/internal/domain"
	"github.com/framewell/studio-qc-backend/internal/platform/dbctx"
	"github.com/framewell/studio-qc-backend/internal/platform/logger"
)

type UploadRepo interface {
	Create(dbc dbctx.Context, uploads []*types.Upload) ([]*types.Upload, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Upload, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	ClaimPendingDeepAnalysis(dbc dbctx.Context, limit int) ([]*types.Upload, error)
	UpdateDeepProgress(dbc dbctx.Context, id uuid.UUID, percent int, stage string) error
	AddDismissedFlags(dbc dbctx.Context, id uuid.UUID, flagIDs []string) (*types.Upload, error)
	ForceReviewedIfEarly(dbc dbctx.Context, id uuid.UUID) (bool, error)
	ListDismissedSince(dbc dbctx.Context, since time.Time) ([]*types.Upload, error)
	ListStaleProcessing(dbc dbctx.Context, staleAfter time.Duration) ([]*types.Upload, error)
	ResetDeepAnalysis(dbc dbctx.Context, id uuid.UUID) (bool, error)
}

type uploadRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUploadRepo(db *gorm.DB, baseLog *logger.Logger) UploadRepo {
	return &uploadRepo{
		db:  db,
		log: baseLog.With("repo", "UploadRepo"),
	}
}

func (r *uploadRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *uploadRepo) Create(dbc dbctx.Context, uploads []*types.Upload) ([]*types.Upload, error) {
	if len(uploads) == 0 {
		return []*types.Upload{}, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).Create(&uploads).Error; err != nil {
		return nil, err
	}
	return uploads, nil
}

func (r *uploadRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Upload, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var u types.Upload
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *uploadRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.Upload{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// ClaimPendingDeepAnalysis atomically flips up to limit pending uploads to
// processing and returns them. SKIP LOCKED keeps concurrent pulls from
// claiming the same rows; uploads already processing are never re-claimed.
func (r *uploadRepo) ClaimPendingDeepAnalysis(dbc dbctx.Context, limit int) ([]*types.Upload, error) {
	if limit <= 0 {
		limit = 10
	}
	now := time.Now()
	var claimed []*types.Upload
	err := r.conn(dbc).WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var rows []*types.Upload
		if err := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("deep_analysis_status = ? AND storage_path <> '' AND status NOT IN ?",
				types.DeepAnalysisPending, []string{types.UploadStatusPending, types.UploadStatusAnalyzing}).
			Order("created_at ASC").
			Limit(limit).
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(rows))
		for _, u := range rows {
			ids = append(ids, u.ID)
		}
		if err := txx.Model(&types.Upload{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"deep_analysis_status": types.DeepAnalysisProcessing,
				"updated_at":           now,
			}).Error; err != nil {
			return err
		}
		for _, u := range rows {
			u.DeepAnalysisStatus = types.DeepAnalysisProcessing
			u.UpdatedAt = now
		}
		claimed = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// UpdateDeepProgress applies a worker progress report. Percent is monotone
// while processing: a report below the stored percent is dropped.
func (r *uploadRepo) UpdateDeepProgress(dbc dbctx.Context, id uuid.UUID, percent int, stage string) error {
	if id == uuid.Nil {
		return nil
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return r.conn(dbc).WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var u types.Upload
		err := txx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&u).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if u.DeepAnalysisStatus != types.DeepAnalysisProcessing {
			return nil
		}
		if len(u.DeepProgress) > 0 {
			var cur types.DeepProgressState
			if err := json.Unmarshal(u.DeepProgress, &cur); err == nil && percent < cur.Percent {
				return nil
			}
		}
		b, _ := json.Marshal(types.DeepProgressState{Percent: percent, Stage: stage})
		return txx.Model(&types.Upload{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"deep_analysis_progress": datatypes.JSON(b),
				"updated_at":             time.Now(),
			}).Error
	})
}

// AddDismissedFlags unions flag ids into dismissed_flags. Dismissal never
// removes a flag from qc_result.
func (r *uploadRepo) AddDismissedFlags(dbc dbctx.Context, id uuid.UUID, flagIDs []string) (*types.Upload, error) {
	if id == uuid.Nil || len(flagIDs) == 0 {
		return r.GetByID(dbc, id)
	}
	var out *types.Upload
	err := r.conn(dbc).WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var u types.Upload
		if err := txx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&u).Error; err != nil {
			return err
		}
		existing := []string{}
		if len(u.DismissedFlags) > 0 {
			_ = json.Unmarshal(u.DismissedFlags, &existing)
		}
		seen := make(map[string]struct{}, len(existing))
		for _, f := range existing {
			seen[f] = struct{}{}
		}
		for _, f := range flagIDs {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			existing = append(existing, f)
		}
		b, _ := json.Marshal(existing)
		now := time.Now()
		if err := txx.Model(&types.Upload{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"dismissed_flags": datatypes.JSON(b),
				"updated_at":      now,
			}).Error; err != nil {
			return err
		}
		u.DismissedFlags = datatypes.JSON(b)
		u.UpdatedAt = now
		out = &u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ForceReviewedIfEarly is the reconciliation write: when the primary
// lifecycle is still pending or analyzing it jumps straight to reviewed.
// Later states are never touched.
func (r *uploadRepo) ForceReviewedIfEarly(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	res := r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.Upload{}).
		Where("id = ? AND status IN ?", id, []string{types.UploadStatusPending, types.UploadStatusAnalyzing}).
		Updates(map[string]interface{}{
			"status":     types.UploadStatusReviewed,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *uploadRepo) ListDismissedSince(dbc dbctx.Context, since time.Time) ([]*types.Upload, error) {
	var out []*types.Upload
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("dismissed_flags IS NOT NULL AND dismissed_flags::text NOT IN ('[]', 'null') AND updated_at >= ?", since).
		Order("updated_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListStaleProcessing finds uploads stuck in processing: no progress write
// for longer than staleAfter. Detection only; reset is an operator action.
func (r *uploadRepo) ListStaleProcessing(dbc dbctx.Context, staleAfter time.Duration) ([]*types.Upload, error) {
	cutoff := time.Now().Add(-staleAfter)
	var out []*types.Upload
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("deep_analysis_status = ? AND updated_at < ?", types.DeepAnalysisProcessing, cutoff).
		Order("updated_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ResetDeepAnalysis returns a processing upload to pending so the next
// dispatcher pull can re-claim it. Reports false when the upload was not in
// processing.
func (r *uploadRepo) ResetDeepAnalysis(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	res := r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.Upload{}).
		Where("id = ? AND deep_analysis_status = ?", id, types.DeepAnalysisProcessing).
		Updates(map[string]interface{}{
			"deep_analysis_status":   types.DeepAnalysisPending,
			"deep_analysis_progress": gorm.Expr("NULL"),
			"signed_url":             "",
			"signed_url_expires_at":  gorm.Expr("NULL"),
			"updated_at":             time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
