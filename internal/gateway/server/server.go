package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/G-Research/analytics-gateway/internal/common/health"
	"github.com/G-Research/analytics-gateway/internal/common/requestid"
	"github.com/G-Research/analytics-gateway/internal/gateway/cluster"
	"github.com/G-Research/analytics-gateway/internal/gateway/domain"
	"github.com/G-Research/analytics-gateway/internal/gateway/metrics"
	"github.com/G-Research/analytics-gateway/internal/gateway/submit"
	"github.com/G-Research/analytics-gateway/internal/gateway/users"
)

type Authenticator interface {
	Authenticate(token string) (*domain.User, error)
}

type Submitter interface {
	Submit(ctx context.Context, submission *submit.Submission) (*submit.Result, error)
}

type JobLifecycle interface {
	Get(ctx context.Context, jobId string, user *domain.User) (*domain.Job, error)
	List(ctx context.Context, user *domain.User) ([]*domain.Job, error)
	Cancel(ctx context.Context, jobId string, user *domain.User) (*domain.Job, error)
}

type UserService interface {
	Get(ctx context.Context, actor *domain.User, username string) (*domain.User, error)
	List(ctx context.Context, actor *domain.User, role string) ([]string, error)
	Create(ctx context.Context, actor *domain.User, request *users.NewUserRequest) (*domain.User, error)
	Update(ctx context.Context, actor *domain.User, username string, update domain.UserUpdate) (*domain.User, error)
	ResetToken(ctx context.Context, actor *domain.User, username string) (string, error)
	Delete(ctx context.Context, actor *domain.User, username string) error
}

type QuotaLedger interface {
	Status(ctx context.Context, username string) (domain.QuotaStatus, error)
	Reset(ctx context.Context, username string) error
	SetAllotmentForAll(ctx context.Context, allotment int) error
}

type ClusterMonitor interface {
	InstanceId() string
	Specs(ctx context.Context) (*cluster.Specs, error)
	Statuses(ctx context.Context) ([]*domain.ServiceStatus, error)
}

type AuditLogger interface {
	LogRequest(requester string, params interface{}) error
	LogIllegalAccess(record *domain.IllegalAccessRecord) error
	LogAuditAccess(record *domain.AuditAccessRecord) error
	DumpPrivateLog(kind domain.AccessLogKind, n int) (string, error)
	AuditFilePath(name string) (string, error)
}

// Server exposes the gateway commands over HTTP. Every command except the status endpoints
// requires a token; see authorization.TokenFromHeaders.
type Server struct {
	authenticator Authenticator
	submitter     Submitter
	lifecycle     JobLifecycle
	users         UserService
	quota         QuotaLedger
	monitor       ClusterMonitor
	audit         AuditLogger
	healthChecks  health.Checker
	metrics       *metrics.Metrics
	enableCors    bool
}

func NewServer(
	authenticator Authenticator,
	submitter Submitter,
	lifecycle JobLifecycle,
	users UserService,
	quota QuotaLedger,
	monitor ClusterMonitor,
	audit AuditLogger,
	healthChecks health.Checker,
	metrics *metrics.Metrics,
	enableCors bool,
) *Server {
	return &Server{
		authenticator: authenticator,
		submitter:     submitter,
		lifecycle:     lifecycle,
		users:         users,
		quota:         quota,
		monitor:       monitor,
		audit:         audit,
		healthChecks:  healthChecks,
		metrics:       metrics,
		enableCors:    enableCors,
	}
}

// Handler returns the routes of the gateway.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestid.Middleware(false), requestLogger())
	if s.enableCors {
		router.Use(cors())
	}

	router.GET("/status", s.status)
	router.GET("/health", gin.WrapH(health.Handler(s.healthChecks)))
	router.GET("/whoareyou", func(c *gin.Context) {
		c.String(http.StatusTeapot, "I'm a teapot")
	})
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Bad request"})
	})

	// Job creation resolves the user itself, after the request has been validated.
	router.POST("/job/create", s.createJob)

	authenticated := router.Group("/", s.authenticate)
	authenticated.GET("/specs", s.specs)
	authenticated.POST("/servicesStatus", s.servicesStatus)

	authenticated.POST("/job", s.getJob)
	authenticated.POST("/job/getAll", s.getAllJobs)
	authenticated.POST("/job/cancel", s.cancelJob)

	authenticated.POST("/user", s.getUser)
	authenticated.POST("/user/getAll", s.getAllUsers)
	authenticated.POST("/user/create", s.createUser)
	authenticated.POST("/user/update", s.updateUser)
	authenticated.POST("/user/resetPassword", s.resetPassword)
	authenticated.DELETE("/user/delete", s.deleteUser)
	authenticated.POST("/user/quota", s.getQuota)
	authenticated.POST("/user/resetUserQuota", s.resetUserQuota)
	authenticated.POST("/user/updateUsersQuotas", s.updateUsersQuotas)

	authenticated.POST("/audit", s.downloadAudit)
	authenticated.POST("/log/getAccesses", s.getAccesses)
	return router
}
