package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/G-Research/analytics-gateway/internal/common/gatewayerrors"
	"github.com/G-Research/analytics-gateway/internal/gateway/authorization"
	"github.com/G-Research/analytics-gateway/internal/gateway/submit"
)

type createJobRequest struct {
	Job map[string]interface{} `json:"job" binding:"required"`
}

type jobIdRequest struct {
	JobId string `json:"jobID" binding:"required"`
}

func (s *Server) createJob(c *gin.Context) {
	var request createJobRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.badRequest(c, err)
		return
	}
	result, err := s.submitter.Submit(c.Request.Context(), &submit.Submission{
		Token:   authorization.TokenFromHeaders(c.GetHeader),
		Path:    c.Request.URL.Path,
		Headers: c.Request.Header,
		Request: request.Job,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result.Response)
}

// getJob answers the same for a job that does not exist and for one the user may not see.
func (s *Server) getJob(c *gin.Context) {
	var request jobIdRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.badRequest(c, err)
		return
	}
	user := currentUser(c)
	job, err := s.lifecycle.Get(c.Request.Context(), request.JobId, user)
	var notFound *gatewayerrors.ErrNotFound
	var noPermission *gatewayerrors.ErrNoPermission
	if errors.As(err, &notFound) || errors.As(err, &noPermission) {
		s.recordIllegalAccess(c, user.Username, user.Token)
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": fmt.Sprintf("job %s does not exist or you are not allowed to see it; the access has been logged", request.JobId),
		})
		return
	} else if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) getAllJobs(c *gin.Context) {
	jobs, err := s.lifecycle.List(c.Request.Context(), currentUser(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, jobs)
}

func (s *Server) cancelJob(c *gin.Context) {
	var request jobIdRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.badRequest(c, err)
		return
	}
	user := currentUser(c)
	job, err := s.lifecycle.Cancel(c.Request.Context(), request.JobId, user)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.audit.LogRequest(user.Username, gin.H{"cancelledJob": job.Id}); err != nil {
		s.logAuditFailure(c, err)
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       fmt.Sprintf("Job %s has been successfully cancelled.", job.Id),
		"cancelledJob": job,
	})
}
