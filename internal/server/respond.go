package server

import (
	stderrors "errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sparkq/sparkq/internal/common/errors"
	"github.com/sparkq/sparkq/internal/common/logger"
)

// errorBody is the uniform error shape: a human-readable detail plus a stable
// machine-readable code.
type errorBody struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

// respondError maps the typed error taxonomy onto an HTTP status and the
// uniform body. Unexpected errors are logged server-side and surfaced as 500
// without internal detail.
func respondError(c *gin.Context, log *logger.Logger, err error) {
	status := errors.GetHTTPStatus(err)
	code := errors.GetCode(err)
	var detail string
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		detail = appErr.Message
	} else {
		detail = "internal server error"
	}
	if status >= 500 {
		log.WithContext(c.Request.Context()).Error("request failed",
			zap.Error(err), zap.String("path", c.FullPath()))
	}
	c.JSON(status, errorBody{Detail: detail, Code: code})
}

// bindJSON binds the body and reports malformed input as a 400 with the
// request.invalid code.
func bindJSON(c *gin.Context, log *logger.Logger, out interface{}) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		respondError(c, log, errors.Invalid("invalid request body: "+err.Error()))
		return false
	}
	return true
}
