package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lotsentry/lotsentry-backend/internal/logger"
	"github.com/lotsentry/lotsentry-backend/internal/services"
)

type LegislationHandler struct {
	log           *logger.Logger
	legislation   services.LegislationService
	digestService services.DigestService
}

func NewLegislationHandler(log *logger.Logger, legislation services.LegislationService, digestService services.DigestService) *LegislationHandler {
	return &LegislationHandler{
		log:           log.With("handler", "LegislationHandler"),
		legislation:   legislation,
		digestService: digestService,
	}
}

type createSourceRequest struct {
	StateCode          string     `json:"state_code" binding:"required"`
	StatuteNumber      string     `json:"statute_number" binding:"required"`
	Title              string     `json:"title"`
	FullText           string     `json:"full_text" binding:"required"`
	SourceURL          string     `json:"source_url"`
	EffectiveDate      *time.Time `json:"effective_date"`
	SunsetDate         *time.Time `json:"sunset_date"`
	AppliesToPageTypes []string   `json:"applies_to_page_types"`
}

func (h *LegislationHandler) CreateSource(c *gin.Context) {
	var req createSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	source, err := h.legislation.CreateSource(c.Request.Context(), services.CreateSourceInput{
		StateCode:          req.StateCode,
		StatuteNumber:      req.StatuteNumber,
		Title:              req.Title,
		FullText:           req.FullText,
		SourceURL:          req.SourceURL,
		EffectiveDate:      req.EffectiveDate,
		SunsetDate:         req.SunsetDate,
		AppliesToPageTypes: req.AppliesToPageTypes,
	})
	if err != nil {
		h.log.Error("CreateSource failed", "error", err)
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"source": source})
}

func (h *LegislationHandler) GetSource(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	source, err := h.legislation.GetSource(c.Request.Context(), id)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"source": source})
}

func (h *LegislationHandler) ListSources(c *gin.Context) {
	sources, err := h.legislation.ListSources(c.Request.Context(), c.Query("state"))
	if err != nil {
		h.log.Error("ListSources failed", "error", err)
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"sources": sources})
}

func (h *LegislationHandler) DeleteSource(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	result, err := h.legislation.DeleteSource(c.Request.Context(), id)
	if err != nil {
		h.log.Error("DeleteSource failed", "error", err, "source_id", id)
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, result)
}

type createDigestRequest struct {
	InterpretedRequirements string `json:"interpreted_requirements" binding:"required"`
	CreatedBy               string `json:"created_by"`
}

func (h *LegislationHandler) CreateDigest(c *gin.Context) {
	sourceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	var req createDigestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	digest, err := h.digestService.CreateDigest(c.Request.Context(), services.CreateDigestInput{
		SourceID:                sourceID,
		InterpretedRequirements: req.InterpretedRequirements,
		CreatedBy:               req.CreatedBy,
	})
	if err != nil {
		h.log.Error("CreateDigest failed", "error", err, "source_id", sourceID)
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"digest": digest})
}

func (h *LegislationHandler) ListDigests(c *gin.Context) {
	sourceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	digests, err := h.digestService.ListDigests(c.Request.Context(), sourceID)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"digests": digests})
}

func (h *LegislationHandler) GetActiveDigest(c *gin.Context) {
	sourceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	digest, err := h.digestService.GetActiveDigest(c.Request.Context(), sourceID)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"digest": digest})
}

type approveDigestRequest struct {
	ReviewedBy string `json:"reviewed_by" binding:"required"`
}

func (h *LegislationHandler) ApproveDigest(c *gin.Context) {
	digestID, err := uuid.Parse(c.Param("digest_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	var req approveDigestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	digest, err := h.digestService.ApproveDigest(c.Request.Context(), digestID, req.ReviewedBy)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"digest": digest})
}
