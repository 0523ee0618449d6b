package health

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fixedChecker struct {
	err error
}

func (c fixedChecker) Check() error {
	return c.err
}

func TestMultiChecker(t *testing.T) {
	mc := NewMultiChecker()
	assert.NoError(t, mc.Check())

	mc.Add(fixedChecker{})
	assert.NoError(t, mc.Check())

	mc.Add(fixedChecker{err: errors.New("redis down")})
	mc.Add(fixedChecker{err: errors.New("startup is not complete")})
	err := mc.Check()
	assert.EqualError(t, err, "redis down\nstartup is not complete")
}

func TestStartupCompleteChecker(t *testing.T) {
	c := NewStartupCompleteChecker()
	assert.Error(t, c.Check())
	c.MarkComplete()
	assert.NoError(t, c.Check())
}

func TestHealthCheckHttpHandler(t *testing.T) {
	startup := NewStartupCompleteChecker()
	mux := http.NewServeMux()
	mux.Handle("/health", Handler(NewMultiChecker(startup)))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "startup is not complete", rec.Body.String())

	startup.MarkComplete()
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
