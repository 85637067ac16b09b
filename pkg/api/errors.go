package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/torc-hpc/torc/pkg/log"
	"github.com/torc-hpc/torc/pkg/torcerr"
)

// errorBody is the wire shape of every error response.
type errorBody struct {
	Code    torcerr.Code `json:"code"`
	Message string       `json:"message"`
}

// abortError classifies err, writes the JSON error body, and stops the
// handler chain. Unclassified errors are internal: the cause goes to
// the log, not to the client.
func abortError(c *gin.Context, err error) {
	status := torcerr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger := log.WithComponent("api")
		logger.Error().
			Err(err).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("request_id", c.GetString(ctxKeyRequestID)).
			Msg("request failed")
	}

	body := errorBody{Code: torcerr.CodeOf(err)}
	var te *torcerr.Error
	if errors.As(err, &te) && body.Code != torcerr.CodeInternal {
		body.Message = te.Message
	} else {
		body.Message = "internal error"
	}
	c.AbortWithStatusJSON(status, body)
}

// pathID parses a positive integer path parameter. On failure it writes
// the error response and reports false.
func pathID(c *gin.Context, name string) (int64, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		abortError(c, torcerr.InvalidInput("invalid %s %q", name, raw))
		return 0, false
	}
	return id, true
}

// boolQuery parses an optional boolean query parameter, defaulting to
// false when absent.
func boolQuery(c *gin.Context, name string) (bool, bool) {
	raw := c.Query(name)
	if raw == "" {
		return false, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		abortError(c, torcerr.InvalidInput("invalid %s %q", name, raw))
		return false, false
	}
	return v, true
}

// bindJSON decodes the request body. On failure it writes the error
// response and reports false.
func bindJSON(c *gin.Context, out interface{}) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		abortError(c, torcerr.InvalidInput("invalid request body: %v", err))
		return false
	}
	return true
}
