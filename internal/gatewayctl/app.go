package gatewayctl

import (
	"context"
	"io"
	"os"

	"github.com/G-Research/analytics-gateway/internal/gateway/domain"
	"github.com/G-Research/analytics-gateway/internal/gateway/submit"
	"github.com/G-Research/analytics-gateway/pkg/client"
)

// App is the gatewayctl application. Commands call its methods; the APIs in Params are
// swapped out in tests.
type App struct {
	Params *Params
	Out    io.Writer
}

type Params struct {
	ApiConnectionDetails *client.ApiConnectionDetails
	JobAPI               *JobAPI
	QuotaAPI             *QuotaAPI
}

type JobAPI struct {
	Submit func(ctx context.Context, job map[string]interface{}) (*submit.Response, error)
	Get    func(ctx context.Context, jobId string) (*domain.Job, error)
	GetAll func(ctx context.Context) ([]*domain.Job, error)
	Cancel func(ctx context.Context, jobId string) (*client.CancelResponse, error)
}

type QuotaAPI struct {
	Show         func(ctx context.Context) (*domain.QuotaStatus, error)
	SetAllotment func(ctx context.Context, allotment int) (*client.StatusResponse, error)
	Reset        func(ctx context.Context, username string) (*client.StatusResponse, error)
}

func New() *App {
	return &App{
		Params: &Params{},
		Out:    os.Stdout,
	}
}

// Connect points every API of the app at the gateway described by details.
func (a *App) Connect(details *client.ApiConnectionDetails) {
	c := client.NewClient(details)
	a.Params.ApiConnectionDetails = details
	a.Params.JobAPI = &JobAPI{
		Submit: c.SubmitJob,
		Get:    c.GetJob,
		GetAll: c.GetAllJobs,
		Cancel: c.CancelJob,
	}
	a.Params.QuotaAPI = &QuotaAPI{
		Show:         c.GetQuota,
		SetAllotment: c.SetAllotmentForAll,
		Reset:        c.ResetUserQuota,
	}
}
