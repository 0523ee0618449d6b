package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/analytics-gateway/internal/common/gatewayerrors"
	"github.com/G-Research/analytics-gateway/internal/common/logging"
	"github.com/G-Research/analytics-gateway/internal/common/requestid"
	"github.com/G-Research/analytics-gateway/internal/gateway/authorization"
	"github.com/G-Research/analytics-gateway/internal/gateway/domain"
)

const userKey = "user"

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(log.Fields{
			"requestId": requestid.FromContextOrMissing(c.Request.Context()),
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    c.Writer.Status(),
			"latency":   time.Since(start),
		})
		if user, ok := c.Get(userKey); ok {
			entry = entry.WithField("user", user.(*domain.User).Username)
		}
		entry.Info("handled request")
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, "+authorization.TokenHeader)
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// authenticate resolves the user from the request token. Requests with a missing or unknown
// token are logged as illegal accesses and rejected.
func (s *Server) authenticate(c *gin.Context) {
	token := authorization.TokenFromHeaders(c.GetHeader)
	user, err := s.authenticator.Authenticate(token)
	if err != nil {
		s.recordIllegalAccess(c, "", token)
		s.fail(c, err)
		c.Abort()
		return
	}
	c.Set(userKey, user)
	c.Next()
}

func currentUser(c *gin.Context) *domain.User {
	return c.MustGet(userKey).(*domain.User)
}

func (s *Server) recordIllegalAccess(c *gin.Context, username string, token string) {
	s.metrics.IllegalAccesses.Inc()
	record := &domain.IllegalAccessRecord{
		Username: username,
		Token:    token,
		Headers:  c.Request.Header,
		Path:     c.Request.URL.Path,
	}
	if err := s.audit.LogIllegalAccess(record); err != nil {
		logging.WithStacktrace(log.WithField("path", record.Path), err).Error("could not record illegal access")
	}
}

func (s *Server) recordAuditAccess(c *gin.Context) {
	record := &domain.AuditAccessRecord{
		Headers: c.Request.Header,
		Path:    c.Request.URL.Path,
	}
	if err := s.audit.LogAuditAccess(record); err != nil {
		logging.WithStacktrace(log.WithField("path", record.Path), err).Error("could not record audit access")
	}
}

// fail writes err as {"error": message} with the status matching its type. A user refused a
// command is logged as an illegal access.
func (s *Server) fail(c *gin.Context, err error) {
	status := gatewayerrors.HTTPStatusFromError(err)
	entry := log.WithField("requestId", requestid.FromContextOrMissing(c.Request.Context()))
	if status >= http.StatusInternalServerError {
		logging.WithStacktrace(entry, err).Errorf("%s %s failed", c.Request.Method, c.Request.URL.Path)
	} else {
		entry.WithError(err).Debugf("%s %s rejected", c.Request.Method, c.Request.URL.Path)
	}

	var noPermission *gatewayerrors.ErrNoPermission
	if errors.As(err, &noPermission) {
		if user, ok := c.Get(userKey); ok {
			u := user.(*domain.User)
			s.recordIllegalAccess(c, u.Username, u.Token)
		}
	}

	body := gin.H{"error": gatewayerrors.MessageFromError(err)}
	var persistence *gatewayerrors.ErrPersistence
	if errors.As(err, &persistence) && persistence.JobId != "" {
		body["jobID"] = persistence.JobId
	}
	c.JSON(status, body)
}

func (s *Server) badRequest(c *gin.Context, err error) {
	s.fail(c, &gatewayerrors.ErrInvalidArgument{Name: "body", Value: "request", Message: err.Error()})
}
