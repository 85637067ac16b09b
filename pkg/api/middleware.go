package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/torc-hpc/torc/pkg/auth"
	"github.com/torc-hpc/torc/pkg/metrics"
	"github.com/torc-hpc/torc/pkg/torcerr"
)

const (
	headerRequestID = "X-Request-Id"

	ctxKeyRequestID = "torc.request_id"
	ctxKeyUser      = "torc.user"
)

// requestID propagates the caller's request id or mints one, and echoes
// it on the response so client and server logs can be joined.
func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxKeyRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := metrics.NewTimer()
		c.Next()

		status := c.Writer.Status()
		evt := s.logger.Info()
		if status >= 500 {
			evt = s.logger.Error()
		}
		evt.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", timer.Duration()).
			Str("request_id", c.GetString(ctxKeyRequestID)).
			Str("user", c.GetString(ctxKeyUser)).
			Msg("request")

		metrics.APIRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, c.Request.Method)
	}
}

// authenticate resolves the request identity. With no verifier
// configured the service runs open and everyone is AnonymousUser;
// otherwise missing credentials and bad credentials are distinct
// failures (AuthRequired vs AuthFailed), both 401.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.Verifier == nil {
			c.Set(ctxKeyUser, auth.AnonymousUser)
			c.Next()
			return
		}
		username, password, ok := c.Request.BasicAuth()
		if !ok {
			c.Header("WWW-Authenticate", `Basic realm="torc"`)
			abortError(c, torcerr.AuthRequired("basic auth credentials required"))
			return
		}
		if err := s.cfg.Verifier.Verify(username, password); err != nil {
			abortError(c, err)
			return
		}
		c.Set(ctxKeyUser, username)
		c.Next()
	}
}

// currentUser returns the identity the auth middleware attached.
func currentUser(c *gin.Context) string {
	return c.GetString(ctxKeyUser)
}
