package rest

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/heimchen/bossboard/apperror"
)

// writeError maps an error onto the wire contract {error, code}. The
// CONCURRENT_MODIFICATION code rides on HTTP 409 so clients can offer a
// refresh/retry instead of treating the failure as fatal.
func writeError(c *gin.Context, err error) {
	var ae *apperror.AppError
	if errors.As(err, &ae) {
		c.JSON(ae.HTTPStatus, gin.H{"error": ae.Message, "code": ae.Code})
		return
	}
	c.JSON(apperror.StatusOf(err), gin.H{"error": "internal error", "code": apperror.CodeInternal})
}

// bindError reports a request-body validation failure.
func bindError(c *gin.Context, err error) {
	c.JSON(400, gin.H{"error": err.Error(), "code": apperror.CodeValidation})
}
