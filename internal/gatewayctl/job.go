package gatewayctl

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/G-Research/analytics-gateway/internal/common"
)

// SubmitJobFile submits the job described by the YAML or JSON file at path.
func (a *App) SubmitJobFile(path string) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "error reading job file %s", path)
	}
	job := map[string]interface{}{}
	if err := yaml.Unmarshal(contents, &job); err != nil {
		return errors.Wrapf(err, "job file %s does not hold a single job", path)
	}

	ctx, cancel := common.ContextWithDefaultTimeout()
	defer cancel()
	response, err := a.Params.JobAPI.Submit(ctx, job)
	if err != nil {
		return errors.WithMessage(err, "error submitting job")
	}

	switch {
	case response.JobId != "":
		fmt.Fprintf(a.Out, "Submitted job %s", response.JobId)
		if response.JobPosition != nil {
			fmt.Fprintf(a.Out, " at position %d", *response.JobPosition)
		}
		fmt.Fprintln(a.Out)
	case len(response.Result) > 0:
		fmt.Fprintf(a.Out, "Result already computed:\n%s\n", response.Result)
	default:
		fmt.Fprintln(a.Out, response.Status)
	}
	return nil
}

func (a *App) GetJob(jobId string) error {
	ctx, cancel := common.ContextWithDefaultTimeout()
	defer cancel()
	job, err := a.Params.JobAPI.Get(ctx, jobId)
	if err != nil {
		return errors.WithMessagef(err, "error getting job %s", jobId)
	}
	return a.printJson(job)
}

func (a *App) GetAllJobs() error {
	ctx, cancel := common.ContextWithDefaultTimeout()
	defer cancel()
	jobs, err := a.Params.JobAPI.GetAll(ctx)
	if err != nil {
		return errors.WithMessage(err, "error listing jobs")
	}
	for _, job := range jobs {
		status := "UNDEFINED"
		if len(job.StatusHistory) > 0 {
			status = string(job.StatusHistory[0])
		}
		fmt.Fprintf(a.Out, "%s\t%s\t%s\t%s\n", job.Id, job.Requester, job.AlgorithmName, status)
	}
	return nil
}

func (a *App) CancelJob(jobId string) error {
	fmt.Fprintf(a.Out, "Requesting cancellation of job %s\n", jobId)
	ctx, cancel := common.ContextWithDefaultTimeout()
	defer cancel()
	response, err := a.Params.JobAPI.Cancel(ctx, jobId)
	if err != nil {
		return errors.WithMessagef(err, "error cancelling job %s", jobId)
	}
	fmt.Fprintln(a.Out, response.Status)
	return nil
}

func (a *App) printJson(v interface{}) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}
	fmt.Fprintln(a.Out, string(encoded))
	return nil
}
