package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/framewell/studio-qc-backend/internal/http/response"
	"github.com/framewell/studio-qc-backend/internal/platform/ctxutil"
	"github.com/framewell/studio-qc-backend/internal/platform/dbctx"
	"github.com/framewell/studio-qc-backend/internal/services"
)

type QCHandler struct {
	intakeService services.IntakeService
	uploadService services.UploadService
}

func NewQCHandler(intakeService services.IntakeService, uploadService services.UploadService) *QCHandler {
	return &QCHandler{intakeService: intakeService, uploadService: uploadService}
}

// Intake accepts a multipart submission: the file part plus form fields, or
// a storage_path referencing an object already persisted. The response
// carries the fast-check verdict; deep analysis continues asynchronously.
func (qh *QCHandler) Intake(c *gin.Context) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	projectID, err := uuid.Parse(c.PostForm("project_id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	in := services.IntakeInput{
		ProjectID:    projectID,
		UploaderID:   rd.UserID,
		FileName:     c.PostForm("file_name"),
		StoragePath:  c.PostForm("storage_path"),
		ClientName:   c.PostForm("client_name"),
		AnalysisMode: c.PostForm("analysis_mode"),
	}
	if raw := c.PostForm("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &in.Metadata); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	}
	if raw := c.PostForm("feedback_items"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &in.FeedbackItems); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	}

	if fh, err := c.FormFile("file"); err == nil && fh != nil {
		f, err := fh.Open()
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
		defer f.Close()
		in.File = f
		if in.FileName == "" {
			in.FileName = fh.Filename
		}
	}

	out, err := qh.intakeService.Analyze(dbctx.Context{Ctx: c.Request.Context()}, in)
	if err != nil {
		// A mid-analysis failure still carries the partial verdict; return it
		// alongside the error so the caller sees what was checked.
		if out != nil && out.Result != nil {
			response.RespondServiceErrorWithResult(c, err, out.Result)
			return
		}
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"upload": out.Upload,
		"result": out.Result,
	})
}

// Get is the polling read. The serialized row already carries both lifecycle
// statuses, the merged result and progress; clients re-read until the deep
// status goes terminal.
func (qh *QCHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	upload, err := qh.uploadService.GetForRequestUser(dbctx.Context{Ctx: c.Request.Context()}, id)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"upload": upload})
}

func (qh *QCHandler) Dismiss(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	var req struct {
		FlagIDs []string `json:"flag_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	upload, err := qh.uploadService.Dismiss(dbctx.Context{Ctx: c.Request.Context()}, id, req.FlagIDs)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"upload": upload})
}
