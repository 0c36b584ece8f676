package services

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"

	uploadrepo "github.com/framewell/studio-qc-backend/internal/data/repos/qc"
	types "github.com/framewell/studio-qc-backend/internal/domain"
	"github.com/framewell/studio-qc-backend/internal/platform/apierr"
	"github.com/framewell/studio-qc-backend/internal/platform/ctxutil"
	"github.com/framewell/studio-qc-backend/internal/platform/dbctx"
	"github.com/framewell/studio-qc-backend/internal/platform/logger"
)

const RoleAdmin = "admin"

// UploadService is the portal-facing read and annotation surface over upload
// rows: polling reads and flag dismissal.
type UploadService interface {
	GetForRequestUser(dbc dbctx.Context, id uuid.UUID) (*types.Upload, error)
	Dismiss(dbc dbctx.Context, id uuid.UUID, flagIDs []string) (*types.Upload, error)
}

type uploadService struct {
	log  *logger.Logger
	repo uploadrepo.UploadRepo
}

func NewUploadService(baseLog *logger.Logger, repo uploadrepo.UploadRepo) UploadService {
	return &uploadService{
		log:  baseLog.With("service", "UploadService"),
		repo: repo,
	}
}

// GetForRequestUser returns the upload when the caller owns it or holds the
// admin role. A row the caller may not see reads as not found.
func (s *uploadService) GetForRequestUser(dbc dbctx.Context, id uuid.UUID) (*types.Upload, error) {
	upload, err := s.repo.GetByID(dbc, id)
	if err != nil {
		return nil, apierr.New(http.StatusInternalServerError, "storage", fmt.Errorf("load upload: %w", err))
	}
	if upload == nil {
		return nil, apierr.New(http.StatusNotFound, "not_found", fmt.Errorf("upload %s not found", id))
	}
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil {
		return nil, apierr.New(http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing request identity"))
	}
	if rd.Role != RoleAdmin && rd.UserID != upload.UploaderID {
		return nil, apierr.New(http.StatusNotFound, "not_found", fmt.Errorf("upload %s not found", id))
	}
	return upload, nil
}

// Dismiss records reviewer sign-off on individual flags. The flags stay in
// qc_result; dismissal is an annotation, not a deletion.
func (s *uploadService) Dismiss(dbc dbctx.Context, id uuid.UUID, flagIDs []string) (*types.Upload, error) {
	if len(flagIDs) == 0 {
		return nil, apierr.New(http.StatusBadRequest, "validation", fmt.Errorf("no flag ids given"))
	}
	if _, err := s.GetForRequestUser(dbc, id); err != nil {
		return nil, err
	}
	upload, err := s.repo.AddDismissedFlags(dbc, id, flagIDs)
	if err != nil {
		return nil, apierr.New(http.StatusInternalServerError, "storage", fmt.Errorf("record dismissals: %w", err))
	}
	s.log.Info("Flags dismissed", "upload_id", id, "count", len(flagIDs))
	return upload, nil
}
