package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/framewell/studio-qc-backend/internal/http/response"
	"github.com/framewell/studio-qc-backend/internal/platform/dbctx"
	"github.com/framewell/studio-qc-backend/internal/services"
)

// WorkerHandler is the machine-to-machine surface for the external
// deep-analysis worker: pull work, push progress, push results.
type WorkerHandler struct {
	dispatchService services.DispatchService
}

func NewWorkerHandler(dispatchService services.DispatchService) *WorkerHandler {
	return &WorkerHandler{dispatchService: dispatchService}
}

func (wh *WorkerHandler) Pull(c *gin.Context) {
	var req struct {
		Limit int `json:"limit"`
	}
	// An empty body means default batch size.
	_ = c.ShouldBindJSON(&req)

	uploads, err := wh.dispatchService.ListPending(dbctx.Context{Ctx: c.Request.Context()}, req.Limit)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"uploads": uploads})
}

func (wh *WorkerHandler) Callback(c *gin.Context) {
	var payload services.CallbackPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	result, err := wh.dispatchService.HandleCallback(dbctx.Context{Ctx: c.Request.Context()}, payload)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, result)
}

func (wh *WorkerHandler) Progress(c *gin.Context) {
	var req struct {
		UploadID uuid.UUID `json:"uploadId"`
		Percent  int       `json:"percent"`
		Stage    string    `json:"stage"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := wh.dispatchService.RecordProgress(dbctx.Context{Ctx: c.Request.Context()}, req.UploadID, req.Percent, req.Stage); err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}
