package server

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/analytics-gateway/internal/common/gatewayerrors"
	"github.com/G-Research/analytics-gateway/internal/common/logging"
	"github.com/G-Research/analytics-gateway/internal/gateway/authorization"
	"github.com/G-Research/analytics-gateway/internal/gateway/domain"
)

type auditFileRequest struct {
	Name string `json:"name"`
}

type accessesRequest struct {
	Type            domain.AccessLogKind `json:"type"`
	NumberOfRecords int                  `json:"numberOfRecords"`
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK", "instanceId": s.monitor.InstanceId()})
}

func (s *Server) specs(c *gin.Context) {
	specs, err := s.monitor.Specs(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, specs)
}

func (s *Server) servicesStatus(c *gin.Context) {
	if err := authorization.RequireAdmin(currentUser(c), "read the services status"); err != nil {
		s.fail(c, err)
		return
	}
	statuses, err := s.monitor.Statuses(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, statuses)
}

func (s *Server) downloadAudit(c *gin.Context) {
	if err := authorization.RequireAdmin(currentUser(c), "read the audit logs"); err != nil {
		s.fail(c, err)
		return
	}
	var request auditFileRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.badRequest(c, err)
		return
	}
	path, err := s.audit.AuditFilePath(request.Name)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.recordAuditAccess(c)
	c.FileAttachment(path, filepath.Base(path))
}

func (s *Server) getAccesses(c *gin.Context) {
	if err := authorization.RequireAdmin(currentUser(c), "read the access logs"); err != nil {
		s.fail(c, err)
		return
	}
	var request accessesRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.badRequest(c, err)
		return
	}
	if request.Type == "" || request.NumberOfRecords == 0 {
		s.fail(c, &gatewayerrors.ErrInvalidArgument{
			Name:    "type",
			Value:   request.Type,
			Message: "type and numberOfRecords are both required",
		})
		return
	}
	path, err := s.audit.DumpPrivateLog(request.Type, request.NumberOfRecords)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.recordAuditAccess(c)
	c.FileAttachment(path, filepath.Base(path))
}

func (s *Server) logAuditFailure(c *gin.Context, err error) {
	logging.WithStacktrace(log.WithField("path", c.Request.URL.Path), err).Error("could not write audit record")
}
