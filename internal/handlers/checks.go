package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lotsentry/lotsentry-backend/internal/logger"
	"github.com/lotsentry/lotsentry-backend/internal/services"
)

type CheckHandler struct {
	log          *logger.Logger
	checkService services.CheckService
}

func NewCheckHandler(log *logger.Logger, checkService services.CheckService) *CheckHandler {
	return &CheckHandler{
		log:          log.With("handler", "CheckHandler"),
		checkService: checkService,
	}
}

type runCheckRequest struct {
	URL          string `json:"url" binding:"required"`
	StateCode    string `json:"state_code" binding:"required"`
	PageType     string `json:"page_type"`
	PlatformHint string `json:"platform_hint"`
}

func (h *CheckHandler) RunCheck(c *gin.Context) {
	var req runCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	check, err := h.checkService.RunCheck(c.Request.Context(), services.RunCheckInput{
		URL:          req.URL,
		StateCode:    req.StateCode,
		PageType:     req.PageType,
		PlatformHint: req.PlatformHint,
	})
	if err != nil {
		h.log.Error("RunCheck failed", "error", err, "url", req.URL)
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"check": check})
}

func (h *CheckHandler) GetCheck(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	check, err := h.checkService.GetCheck(c.Request.Context(), id)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"check": check})
}

func (h *CheckHandler) ListChecks(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		RespondError(c, http.StatusBadRequest, "missing_url", nil)
		return
	}
	limit := 20
	checks, err := h.checkService.ListChecks(c.Request.Context(), url, limit)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"checks": checks})
}
