package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lotsentry/lotsentry-backend/internal/services"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondDomainError maps the service error taxonomy onto HTTP statuses.
// Anything outside the taxonomy is a 500.
func RespondDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrSourceNotFound):
		RespondError(c, http.StatusNotFound, "source_not_found", err)
	case errors.Is(err, services.ErrDigestNotFound):
		RespondError(c, http.StatusNotFound, "digest_not_found", err)
	case errors.Is(err, services.ErrRuleNotFound):
		RespondError(c, http.StatusNotFound, "rule_not_found", err)
	case errors.Is(err, services.ErrCheckNotFound):
		RespondError(c, http.StatusNotFound, "check_not_found", err)
	case errors.Is(err, services.ErrCollisionNotFound):
		RespondError(c, http.StatusNotFound, "collision_not_found", err)
	case errors.Is(err, services.ErrActivationConflict):
		RespondError(c, http.StatusConflict, "activation_conflict", err)
	case errors.Is(err, services.ErrCollisionResolved):
		RespondError(c, http.StatusConflict, "collision_already_resolved", err)
	case errors.Is(err, services.ErrJudgmentUnavailable):
		RespondError(c, http.StatusBadGateway, "judgment_unavailable", err)
	case errors.Is(err, services.ErrMalformedJudgment):
		RespondError(c, http.StatusBadGateway, "malformed_judgment", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal_error", err)
	}
}
