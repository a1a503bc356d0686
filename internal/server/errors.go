package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/quorum/internal/qa"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type errorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func statusForKind(kind qa.Kind) int {
	switch kind {
	case qa.KindValidation:
		return http.StatusBadRequest
	case qa.KindNotFound:
		return http.StatusNotFound
	case qa.KindConcurrency:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *httpHandler) writeServiceError(c *gin.Context, err error) {
	var serviceErr *qa.ServiceError
	if !errors.As(err, &serviceErr) {
		h.logger.Error("unclassified service error", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorPayload{Error: "internal", Code: "server.internal"})
		return
	}
	status := statusForKind(serviceErr.Kind())
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("code", serviceErr.Code()), zap.Error(err))
	}
	c.JSON(status, errorPayload{Error: serviceErr.Reason(), Code: serviceErr.Code()})
}

// writeBindError reports a rejected request body, naming the custom rule that failed when there is one.
func (h *httpHandler) writeBindError(c *gin.Context, operation string, err error) {
	reason := "invalid_request"
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		switch validationErrs[0].Tag() {
		case reactionTypeRule:
			reason = "invalid_reaction_type"
		case flagReasonRule:
			reason = "invalid_flag_reason"
		}
	}
	c.JSON(http.StatusBadRequest, errorPayload{Error: reason, Code: operation + "." + reason})
}
