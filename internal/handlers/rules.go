package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lotsentry/lotsentry-backend/internal/logger"
	"github.com/lotsentry/lotsentry-backend/internal/repos"
	"github.com/lotsentry/lotsentry-backend/internal/services"
)

type RuleHandler struct {
	log         *logger.Logger
	ruleService services.RuleService
}

func NewRuleHandler(log *logger.Logger, ruleService services.RuleService) *RuleHandler {
	return &RuleHandler{
		log:         log.With("handler", "RuleHandler"),
		ruleService: ruleService,
	}
}

func (h *RuleHandler) GenerateRules(c *gin.Context) {
	sourceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	rules, err := h.ruleService.GenerateRules(c.Request.Context(), sourceID)
	if err != nil {
		h.log.Error("GenerateRules failed", "error", err, "source_id", sourceID)
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"rules": rules})
}

type redigestRequest struct {
	InterpretedRequirements string `json:"interpreted_requirements" binding:"required"`
	CreatedBy               string `json:"created_by"`
}

func (h *RuleHandler) Redigest(c *gin.Context) {
	sourceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	var req redigestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	result, err := h.ruleService.Redigest(c.Request.Context(), services.RedigestInput{
		SourceID:                sourceID,
		InterpretedRequirements: req.InterpretedRequirements,
		CreatedBy:               req.CreatedBy,
	})
	if err != nil {
		h.log.Error("Redigest failed", "error", err, "source_id", sourceID)
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, result)
}

func (h *RuleHandler) DeleteRulesForSource(c *gin.Context) {
	sourceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	deleted, err := h.ruleService.DeleteRulesForSource(c.Request.Context(), sourceID)
	if err != nil {
		h.log.Error("DeleteRulesForSource failed", "error", err, "source_id", sourceID)
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"source_id": sourceID, "rules_deleted": deleted})
}

func (h *RuleHandler) ListRules(c *gin.Context) {
	filter := repos.RuleFilter{
		StateCode:    c.Query("state"),
		ActiveOnly:   c.Query("active") == "true",
		ApprovedOnly: c.Query("approved") == "true",
	}
	if raw := c.Query("source_id"); raw != "" {
		sourceID, err := uuid.Parse(raw)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_source_id", err)
			return
		}
		filter.SourceID = sourceID
	}
	rules, err := h.ruleService.ListRules(c.Request.Context(), filter)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"rules": rules})
}

func (h *RuleHandler) GetRule(c *gin.Context) {
	ruleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	rule, err := h.ruleService.GetRule(c.Request.Context(), ruleID)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"rule": rule})
}

type editRuleRequest struct {
	RuleText string `json:"rule_text" binding:"required"`
	EditedBy string `json:"edited_by"`
}

func (h *RuleHandler) EditRule(c *gin.Context) {
	ruleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	var req editRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	rule, err := h.ruleService.EditRule(c.Request.Context(), services.EditRuleInput{
		RuleID:   ruleID,
		RuleText: req.RuleText,
		EditedBy: req.EditedBy,
	})
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"rule": rule})
}

type approveRuleRequest struct {
	ApprovedBy string `json:"approved_by" binding:"required"`
}

func (h *RuleHandler) ApproveRule(c *gin.Context) {
	ruleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	var req approveRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	rule, err := h.ruleService.ApproveRule(c.Request.Context(), ruleID, req.ApprovedBy)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"rule": rule})
}
