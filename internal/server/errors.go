package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError renders a service failure as {"error": reason, "code": code}.
// Internal failures were already logged at their origin and are not detailed.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	var serviceErr *apperr.ServiceError
	if !errors.As(err, &serviceErr) {
		h.logger.Error("unclassified handler error", zap.Error(err), zap.String("path", c.FullPath()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "code": "http.internal_error"})
		return
	}
	status := statusFor(serviceErr.Kind())
	if status >= http.StatusInternalServerError {
		c.JSON(status, gin.H{"error": "internal_error", "code": serviceErr.Code()})
		return
	}
	h.logger.Debug("request rejected",
		zap.String("path", c.FullPath()),
		zap.String("code", serviceErr.Code()),
		zap.Error(err))
	c.JSON(status, gin.H{"error": serviceErr.Reason(), "code": serviceErr.Code()})
}

func (h *httpHandler) respondInvalid(c *gin.Context, reason string, err error) {
	h.logger.Warn("invalid request", zap.String("path", c.FullPath()), zap.String("reason", reason), zap.Error(err))
	c.JSON(http.StatusBadRequest, gin.H{"error": reason, "code": "http." + reason})
}
