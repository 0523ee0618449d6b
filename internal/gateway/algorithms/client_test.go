package algorithms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/analytics-gateway/internal/common/gatewayerrors"
	"github.com/G-Research/analytics-gateway/internal/gateway/configuration"
)

func newTestLister(url string, ttl time.Duration) *HttpLister {
	return NewHttpLister(configuration.AlgorithmServiceConfig{
		Url:          url,
		Timeout:      200 * time.Millisecond,
		ListCacheTtl: ttl,
	})
}

func TestHttpLister_ListAlgorithms(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/list", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"item":[{"_id":"density","version":"1.0"},{"_id":"mobility-long","version":"2.1"}]}`))
	}))
	defer server.Close()

	algorithms, err := newTestLister(server.URL+"/", 0).ListAlgorithms(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]Algorithm{
		"density":       {Name: "density", Version: "1.0"},
		"mobility-long": {Name: "mobility-long", Version: "2.1"},
	}, algorithms)
}

func TestHttpLister_CachesSuccessOnly(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"item":[{"_id":"density","version":"1.0"}]}`))
	}))
	defer server.Close()
	lister := newTestLister(server.URL, time.Minute)

	_, err := lister.ListAlgorithms(context.Background())
	var unavailable *gatewayerrors.ErrAlgorithmServiceUnavailable
	assert.ErrorAs(t, err, &unavailable)

	for i := 0; i < 3; i++ {
		algorithms, err := lister.ListAlgorithms(context.Background())
		require.NoError(t, err)
		assert.Contains(t, algorithms, "density")
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestHttpLister_Unavailable(t *testing.T) {
	tests := map[string]struct {
		handler         http.HandlerFunc
		expectedTimeout bool
	}{
		"server error": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
		},
		"undecodable body": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`not json`))
			},
		},
		"timeout": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			expectedTimeout: true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(tc.handler)
			defer server.Close()

			_, err := newTestLister(server.URL, 0).ListAlgorithms(context.Background())
			var unavailable *gatewayerrors.ErrAlgorithmServiceUnavailable
			require.ErrorAs(t, err, &unavailable)
			assert.Equal(t, tc.expectedTimeout, unavailable.Timeout)
		})
	}
}

func TestHttpLister_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := newTestLister(url, 0).ListAlgorithms(context.Background())
	var unavailable *gatewayerrors.ErrAlgorithmServiceUnavailable
	assert.ErrorAs(t, err, &unavailable)
}
