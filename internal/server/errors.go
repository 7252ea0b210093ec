package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feedbackkit/fb/internal/bridge"
	"github.com/feedbackkit/fb/internal/jira"
	"github.com/feedbackkit/fb/internal/sheets"
	"github.com/feedbackkit/fb/internal/transport"
	"github.com/feedbackkit/fb/internal/validation"
)

// StatusFor maps a bridge error onto the relay's HTTP status.
//
//	validation             400
//	unknown bridge, row    404
//	no matching transition 409
//	upstream 4xx           502
//	retries exhausted      503
func StatusFor(err error) int {
	var unknown *bridge.UnknownBridgeError
	switch {
	case validation.Is(err):
		return http.StatusBadRequest
	case errors.As(err, &unknown), errors.Is(err, sheets.ErrRowNotFound):
		return http.StatusNotFound
	case errors.Is(err, jira.ErrTransitionNotFound):
		return http.StatusConflict
	case transport.IsRetryable(err):
		return http.StatusServiceUnavailable
	case transport.StatusCode(err) >= 400:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error, res *bridge.Result) {
	body := gin.H{"success": false, "error": err.Error()}

	var verr *validation.Error
	if errors.As(err, &verr) {
		body["field"] = verr.Field
	}
	var tnf *jira.TransitionNotFoundError
	if errors.As(err, &tnf) {
		body["available"] = tnf.Available
	}
	if code := transport.StatusCode(err); code > 0 {
		body["upstreamStatus"] = code
	}
	if res != nil {
		body["result"] = res
	}
	c.JSON(StatusFor(err), body)
}
