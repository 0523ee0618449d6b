package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"

	"github.com/G-Research/analytics-gateway/internal/common/httpclient"
	"github.com/G-Research/analytics-gateway/internal/gateway/domain"
	"github.com/G-Research/analytics-gateway/internal/gateway/submit"
)

// ApiError is a non 2xx answer of the gateway.
type ApiError struct {
	StatusCode int
	Message    string
	// Set when a job was queued but the request still failed.
	JobId string
}

func (e *ApiError) Error() string {
	if e.JobId != "" {
		return fmt.Sprintf("gateway returned %d: %s (job %s)", e.StatusCode, e.Message, e.JobId)
	}
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Message)
}

type errorResponse struct {
	Error string `json:"error"`
	JobId string `json:"jobID"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type CancelResponse struct {
	Status       string      `json:"status"`
	CancelledJob *domain.Job `json:"cancelledJob"`
}

// Client calls the gateway over HTTP on behalf of the user owning the configured token.
type Client struct {
	url    string
	token  string
	client *retryablehttp.Client
}

func NewClient(details *ApiConnectionDetails) *Client {
	client := httpclient.NewClient(details.Timeout, details.RetryMax)
	// Every submission that reaches the gateway costs quota, so only requests that never got
	// an answer are retried.
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if err == nil {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return &Client{
		url:    strings.TrimSuffix(details.GatewayUrl, "/"),
		token:  details.Token,
		client: client,
	}
}

func (c *Client) SubmitJob(ctx context.Context, job map[string]interface{}) (*submit.Response, error) {
	response := &submit.Response{}
	if err := c.post(ctx, "/job/create", map[string]interface{}{"job": job}, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (c *Client) GetJob(ctx context.Context, jobId string) (*domain.Job, error) {
	job := &domain.Job{}
	if err := c.post(ctx, "/job", map[string]string{"jobID": jobId}, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (c *Client) GetAllJobs(ctx context.Context) ([]*domain.Job, error) {
	var jobs []*domain.Job
	if err := c.post(ctx, "/job/getAll", nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (c *Client) CancelJob(ctx context.Context, jobId string) (*CancelResponse, error) {
	response := &CancelResponse{}
	if err := c.post(ctx, "/job/cancel", map[string]string{"jobID": jobId}, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (c *Client) GetQuota(ctx context.Context) (*domain.QuotaStatus, error) {
	status := &domain.QuotaStatus{}
	if err := c.post(ctx, "/user/quota", nil, status); err != nil {
		return nil, err
	}
	return status, nil
}

func (c *Client) ResetUserQuota(ctx context.Context, username string) (*StatusResponse, error) {
	response := &StatusResponse{}
	if err := c.post(ctx, "/user/resetUserQuota", map[string]string{"username": username}, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (c *Client) SetAllotmentForAll(ctx context.Context, allotment int) (*StatusResponse, error) {
	response := &StatusResponse{}
	if err := c.post(ctx, "/user/updateUsersQuotas", map[string]int{"newQuota": allotment}, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}, into interface{}) error {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.WithStack(err)
		}
		payload = encoded
	} else {
		payload = []byte("{}")
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(payload))
	if err != nil {
		return errors.WithStack(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "[Client.post] error calling %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &ApiError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var decoded errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err == nil && decoded.Error != "" {
			apiErr.Message = decoded.Error
			apiErr.JobId = decoded.JobId
		}
		return apiErr
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return errors.Wrapf(err, "[Client.post] error decoding response of %s", path)
	}
	return nil
}
