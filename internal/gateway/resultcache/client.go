package resultcache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"

	"github.com/G-Research/analytics-gateway/internal/common/gatewayerrors"
	"github.com/G-Research/analytics-gateway/internal/common/httpclient"
	"github.com/G-Research/analytics-gateway/internal/gateway/configuration"
	"github.com/G-Research/analytics-gateway/internal/gateway/domain"
)

type OutcomeKind int

const (
	Miss OutcomeKind = iota
	Hit
	InFlight
)

func (k OutcomeKind) String() string {
	switch k {
	case Hit:
		return "hit"
	case InFlight:
		return "in_flight"
	default:
		return "miss"
	}
}

// Outcome is what the cache knows about a job. Result is set for a Hit, Status for InFlight.
type Outcome struct {
	Kind   OutcomeKind
	Result json.RawMessage
	Status string
}

type Cache interface {
	Query(ctx context.Context, job *domain.Job) (Outcome, error)
}

type queryRequest struct {
	Job *domain.Job `json:"job"`
}

type queryResponse struct {
	Result  json.RawMessage `json:"result"`
	Waiting bool            `json:"waiting"`
	Status  string          `json:"status"`
}

// HttpCache asks POST <url>/query whether a job has been computed already.
type HttpCache struct {
	url    string
	config configuration.ResultCacheConfig
	client *retryablehttp.Client
}

func NewHttpCache(config configuration.ResultCacheConfig) *HttpCache {
	return &HttpCache{
		url:    strings.TrimSuffix(config.Url, "/"),
		config: config,
		client: httpclient.NewClient(config.Timeout, config.RetryMax),
	}
}

// Query never reports a Miss when the cache could not be asked; that is ErrCacheUnavailable.
func (c *HttpCache) Query(ctx context.Context, job *domain.Job) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	body, err := json.Marshal(&queryRequest{Job: job})
	if err != nil {
		return Outcome{}, errors.WithStack(err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.url+"/query", body)
	if err != nil {
		return Outcome{}, errors.WithStack(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Outcome{}, &gatewayerrors.ErrCacheUnavailable{Timeout: httpclient.IsTimeout(err), Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Outcome{}, &gatewayerrors.ErrCacheUnavailable{Cause: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var decoded queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Outcome{}, &gatewayerrors.ErrCacheUnavailable{
			Timeout: httpclient.IsTimeout(err),
			Cause:   errors.Wrap(err, "undecodable cache response"),
		}
	}

	switch {
	case len(decoded.Result) > 0 && string(decoded.Result) != "null":
		return Outcome{Kind: Hit, Result: decoded.Result}, nil
	case decoded.Waiting:
		return Outcome{Kind: InFlight, Status: decoded.Status}, nil
	default:
		return Outcome{Kind: Miss}, nil
	}
}
