package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/framewell/studio-qc-backend/internal/http/response"
	"github.com/framewell/studio-qc-backend/internal/platform/dbctx"
	"github.com/framewell/studio-qc-backend/internal/services"
)

type AdminHandler struct {
	feedbackService services.FeedbackService
	dispatchService services.DispatchService
}

func NewAdminHandler(feedbackService services.FeedbackService, dispatchService services.DispatchService) *AdminHandler {
	return &AdminHandler{feedbackService: feedbackService, dispatchService: dispatchService}
}

func (ah *AdminHandler) FeedbackSync(c *gin.Context) {
	cfg, err := ah.feedbackService.Sync(dbctx.Context{Ctx: c.Request.Context()})
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, cfg)
}

func (ah *AdminHandler) ListStuck(c *gin.Context) {
	uploads, err := ah.dispatchService.ListStuck(dbctx.Context{Ctx: c.Request.Context()})
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"uploads": uploads})
}

func (ah *AdminHandler) ResetDeepAnalysis(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	reset, err := ah.dispatchService.ResetStuck(dbctx.Context{Ctx: c.Request.Context()}, id)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"reset": reset})
}
