package algorithms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/analytics-gateway/internal/common/gatewayerrors"
	"github.com/G-Research/analytics-gateway/internal/common/httpclient"
	"github.com/G-Research/analytics-gateway/internal/gateway/configuration"
)

const listCacheKey = "list"

type Algorithm struct {
	Name    string `json:"_id"`
	Version string `json:"version"`
}

type listResponse struct {
	Item []Algorithm `json:"item"`
}

// Lister returns the algorithms currently advertised by the algorithm service, keyed by name.
type Lister interface {
	ListAlgorithms(ctx context.Context) (map[string]Algorithm, error)
}

// HttpLister queries GET <url>/list. Successful responses are kept for ListCacheTtl;
// failures are never cached.
type HttpLister struct {
	url    string
	config configuration.AlgorithmServiceConfig
	client *retryablehttp.Client
	cache  *cache.Cache
}

func NewHttpLister(config configuration.AlgorithmServiceConfig) *HttpLister {
	return &HttpLister{
		url:    strings.TrimSuffix(config.Url, "/"),
		config: config,
		client: httpclient.NewClient(config.Timeout, config.RetryMax),
		cache:  cache.New(config.ListCacheTtl, 2*config.ListCacheTtl),
	}
}

func (l *HttpLister) ListAlgorithms(ctx context.Context) (map[string]Algorithm, error) {
	if l.config.ListCacheTtl > 0 {
		if cached, found := l.cache.Get(listCacheKey); found {
			return cached.(map[string]Algorithm), nil
		}
	}

	algorithms, err := l.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if l.config.ListCacheTtl > 0 {
		l.cache.SetDefault(listCacheKey, algorithms)
	}
	return algorithms, nil
}

func (l *HttpLister) fetch(ctx context.Context) (map[string]Algorithm, error) {
	ctx, cancel := context.WithTimeout(ctx, l.config.Timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, l.url+"/list", nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, &gatewayerrors.ErrAlgorithmServiceUnavailable{
			Timeout: httpclient.IsTimeout(err),
			Cause:   err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &gatewayerrors.ErrAlgorithmServiceUnavailable{
			Cause: fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	var body listResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &gatewayerrors.ErrAlgorithmServiceUnavailable{
			Timeout: httpclient.IsTimeout(err),
			Cause:   errors.Wrap(err, "undecodable algorithm list"),
		}
	}

	algorithms := make(map[string]Algorithm, len(body.Item))
	for _, algorithm := range body.Item {
		algorithms[algorithm.Name] = algorithm
	}
	log.WithField("count", len(algorithms)).Debug("fetched algorithm list")
	return algorithms, nil
}
