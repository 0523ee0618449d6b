package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/analytics-gateway/internal/gateway/domain"
)

type recordedRequest struct {
	path          string
	authorization string
	body          map[string]interface{}
}

func withClient(t *testing.T, status int, response string, action func(c *Client, requests *[]recordedRequest)) {
	var requests []recordedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		requests = append(requests, recordedRequest{
			path:          r.URL.Path,
			authorization: r.Header.Get("Authorization"),
			body:          body,
		})
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	defer server.Close()

	c := NewClient(&ApiConnectionDetails{
		GatewayUrl: server.URL + "/",
		Token:      "secret",
		Timeout:    time.Second,
		RetryMax:   3,
	})
	action(c, &requests)
}

func TestSubmitJob(t *testing.T) {
	withClient(t, http.StatusOK, `{"status":"OK","jobID":"job-1","jobPosition":4}`, func(c *Client, requests *[]recordedRequest) {
		response, err := c.SubmitJob(context.Background(), map[string]interface{}{"algorithmName": "density"})
		require.NoError(t, err)
		assert.Equal(t, "job-1", response.JobId)
		require.NotNil(t, response.JobPosition)
		assert.Equal(t, 4, *response.JobPosition)

		require.Len(t, *requests, 1)
		request := (*requests)[0]
		assert.Equal(t, "/job/create", request.path)
		assert.Equal(t, "Token secret", request.authorization)
		assert.Equal(t, map[string]interface{}{"algorithmName": "density"}, request.body["job"])
	})
}

func TestSubmitJob_ServerErrorIsNotRetried(t *testing.T) {
	withClient(t, http.StatusServiceUnavailable, `{"error":"backend down"}`, func(c *Client, requests *[]recordedRequest) {
		_, err := c.SubmitJob(context.Background(), map[string]interface{}{})

		var apiErr *ApiError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
		assert.Equal(t, "backend down", apiErr.Message)
		assert.Len(t, *requests, 1)
	})
}

func TestSubmitJob_JobIdOfFailedRequest(t *testing.T) {
	withClient(t, http.StatusInternalServerError, `{"error":"could not determine position","jobID":"job-2"}`, func(c *Client, requests *[]recordedRequest) {
		_, err := c.SubmitJob(context.Background(), map[string]interface{}{})

		var apiErr *ApiError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "job-2", apiErr.JobId)
		assert.Contains(t, apiErr.Error(), "job-2")
	})
}

func TestErrorWithoutBody(t *testing.T) {
	withClient(t, http.StatusTeapot, ``, func(c *Client, requests *[]recordedRequest) {
		_, err := c.GetQuota(context.Background())

		var apiErr *ApiError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusText(http.StatusTeapot), apiErr.Message)
	})
}

func TestGetJob(t *testing.T) {
	withClient(t, http.StatusOK, `{"jobID":"job-1","status":["RUNNING","QUEUED"]}`, func(c *Client, requests *[]recordedRequest) {
		job, err := c.GetJob(context.Background(), "job-1")
		require.NoError(t, err)
		assert.Equal(t, []domain.JobStatus{domain.JobStatusRunning, domain.JobStatusQueued}, job.StatusHistory)
		assert.Equal(t, "/job", (*requests)[0].path)
		assert.Equal(t, "job-1", (*requests)[0].body["jobID"])
	})
}

func TestCancelJob(t *testing.T) {
	withClient(t, http.StatusOK, `{"status":"Job job-1 has been successfully cancelled.","cancelledJob":{"jobID":"job-1","status":["CANCELLED","QUEUED"]}}`, func(c *Client, requests *[]recordedRequest) {
		response, err := c.CancelJob(context.Background(), "job-1")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCancelled, response.CancelledJob.StatusHistory[0])
		assert.Equal(t, "/job/cancel", (*requests)[0].path)
	})
}

func TestQuota(t *testing.T) {
	withClient(t, http.StatusOK, `{"username":"alice","quota":50,"currentQuota":48,"outstandingDebits":2}`, func(c *Client, requests *[]recordedRequest) {
		status, err := c.GetQuota(context.Background())
		require.NoError(t, err)
		assert.Equal(t, domain.QuotaStatus{Username: "alice", Allotment: 50, Remaining: 48, OutstandingDebits: 2}, *status)
	})
	withClient(t, http.StatusOK, `{"status":"done"}`, func(c *Client, requests *[]recordedRequest) {
		_, err := c.SetAllotmentForAll(context.Background(), 20)
		require.NoError(t, err)
		_, err = c.ResetUserQuota(context.Background(), "alice")
		require.NoError(t, err)

		require.Len(t, *requests, 2)
		assert.Equal(t, "/user/updateUsersQuotas", (*requests)[0].path)
		assert.Equal(t, float64(20), (*requests)[0].body["newQuota"])
		assert.Equal(t, "/user/resetUserQuota", (*requests)[1].path)
		assert.Equal(t, "alice", (*requests)[1].body["username"])
	})
}
