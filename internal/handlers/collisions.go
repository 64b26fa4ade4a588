package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lotsentry/lotsentry-backend/internal/logger"
	"github.com/lotsentry/lotsentry-backend/internal/services"
	"github.com/lotsentry/lotsentry-backend/internal/types"
)

type CollisionHandler struct {
	log        *logger.Logger
	collisions services.CollisionService
}

func NewCollisionHandler(log *logger.Logger, collisions services.CollisionService) *CollisionHandler {
	return &CollisionHandler{
		log:        log.With("handler", "CollisionHandler"),
		collisions: collisions,
	}
}

func (h *CollisionHandler) ListCollisions(c *gin.Context) {
	pendingOnly := c.Query("pending") == "true"
	collisions, err := h.collisions.ListCollisions(c.Request.Context(), pendingOnly)
	if err != nil {
		h.log.Error("ListCollisions failed", "error", err)
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"collisions": collisions})
}

type resolveCollisionRequest struct {
	Resolution string `json:"resolution" binding:"required"`
	ResolvedBy string `json:"resolved_by" binding:"required"`
	MergedText string `json:"merged_text"`
}

func (h *CollisionHandler) ResolveCollision(c *gin.Context) {
	collisionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	var req resolveCollisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	resolution := types.CollisionResolution(req.Resolution)
	if !resolution.Valid() {
		RespondError(c, http.StatusBadRequest, "invalid_resolution", nil)
		return
	}
	collision, err := h.collisions.Resolve(c.Request.Context(), services.ResolveCollisionInput{
		CollisionID: collisionID,
		Resolution:  resolution,
		ResolvedBy:  req.ResolvedBy,
		MergedText:  req.MergedText,
	})
	if err != nil {
		h.log.Error("ResolveCollision failed", "error", err, "collision_id", collisionID)
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"collision": collision})
}
