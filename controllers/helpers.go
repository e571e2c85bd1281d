package controllers

import (
	"net/http"

	apperrors "github.com/mrugaya/storefront-backend/common/errors"
	"github.com/mrugaya/storefront-backend/common/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const idempotencyHeader = "Idempotency-Key"

// respondError maps err onto the JSON error envelope. Internal causes are
// logged and never shown to the customer.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	appErr := apperrors.From(err)
	body := gin.H{"success": false, "message": appErr.Message}

	switch appErr.Kind {
	case apperrors.KindInternal, apperrors.KindOrderCreation:
		logger.For(c, log).Error(appErr.Message, zap.Error(err))
	case apperrors.KindUserCancelled:
		body["cancelled"] = true
	default:
		logger.For(c, log).Warn(appErr.Message, zap.String("kind", string(appErr.Kind)))
	}
	c.JSON(appErr.Code, body)
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": message})
}
