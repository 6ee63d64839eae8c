package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"classroll/internal/attendance"
	"classroll/internal/httpmiddleware"
)

type errorBody struct {
	Error  string                  `json:"error"`
	Code   string                  `json:"code"`
	Fields []attendance.FieldError `json:"fields,omitempty"`
}

// writeError maps domain errors onto HTTP statuses. Unknown errors are logged
// and reported without detail.
func (h *Handler) writeError(c *gin.Context, err error) {
	var verr *attendance.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, errorBody{Error: verr.Error(), Code: "invalid_input", Fields: verr.Fields})
	case errors.Is(err, attendance.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, attendance.ErrInvalidCredential):
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid credential", Code: "invalid_credential"})
	case errors.Is(err, attendance.ErrCredentialExpired):
		c.JSON(http.StatusGone, errorBody{Error: "credential expired", Code: "credential_expired"})
	case errors.Is(err, attendance.ErrAlreadyMarked):
		c.JSON(http.StatusConflict, errorBody{Error: "attendance already marked", Code: "already_marked"})
	case errors.Is(err, attendance.ErrTransientConflict):
		h.log.Warn("request lost to concurrent updates", "route", c.FullPath(), "request_id", httpmiddleware.GetRequestID(c), "error", err)
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, errorBody{Error: "concurrent update, retry", Code: "conflict_retry"})
	default:
		h.log.Error("request failed", "route", c.FullPath(), "request_id", httpmiddleware.GetRequestID(c), "error", err)
		c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Code: "invalid_input"})
}
