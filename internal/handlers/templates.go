package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lotsentry/lotsentry-backend/internal/logger"
	"github.com/lotsentry/lotsentry-backend/internal/services"
	"github.com/lotsentry/lotsentry-backend/internal/types"
)

type TemplateHandler struct {
	log   *logger.Logger
	cache services.DecisionCache
}

func NewTemplateHandler(log *logger.Logger, cache services.DecisionCache) *TemplateHandler {
	return &TemplateHandler{
		log:   log.With("handler", "TemplateHandler"),
		cache: cache,
	}
}

// ListCachedDecisions exposes the decision cache for one template so
// reviewers can see which (template, rule) pairs are already settled.
func (h *TemplateHandler) ListCachedDecisions(c *gin.Context) {
	templateID := c.Param("template_id")
	if templateID == "" {
		RespondError(c, http.StatusBadRequest, "missing_template_id", nil)
		return
	}
	entries, err := h.cache.ListByTemplate(c.Request.Context(), templateID)
	if err != nil {
		h.log.Error("ListCachedDecisions failed", "error", err, "template_id", templateID)
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"template_id": templateID, "entries": entries})
}

type humanDecisionRequest struct {
	RuleKey    string  `json:"rule_key" binding:"required"`
	Status     string  `json:"status" binding:"required"`
	Confidence float64 `json:"confidence"`
	Notes      string  `json:"notes"`
}

// PutHumanDecision records a human override in the decision cache. Human
// writes use the same last-write-wins upsert the visual tier uses.
func (h *TemplateHandler) PutHumanDecision(c *gin.Context) {
	templateID := c.Param("template_id")
	if templateID == "" {
		RespondError(c, http.StatusBadRequest, "missing_template_id", nil)
		return
	}
	var req humanDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	status := types.CacheStatus(req.Status)
	if !status.Valid() {
		RespondError(c, http.StatusBadRequest, "invalid_status", nil)
		return
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		RespondError(c, http.StatusBadRequest, "invalid_confidence", nil)
		return
	}
	if req.Confidence == 0 {
		// A human decision is authoritative unless stated otherwise.
		req.Confidence = 1.0
	}
	entry := &types.TemplateRuleCache{
		ID:                 uuid.New(),
		TemplateID:         templateID,
		RuleKey:            req.RuleKey,
		Status:             status,
		Confidence:         req.Confidence,
		VerificationMethod: types.VerificationHuman,
		Notes:              req.Notes,
		VerifiedAt:         time.Now().UTC(),
	}
	if err := h.cache.Put(c.Request.Context(), entry); err != nil {
		h.log.Error("PutHumanDecision failed", "error", err, "template_id", templateID)
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"entry": entry})
}
