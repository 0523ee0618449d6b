package httpclient

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	defaultRetryWaitMin = 100 * time.Millisecond
	defaultRetryWaitMax = time.Second
)

// NewClient returns a client retrying connection errors and 5xx responses up to retryMax times.
// Each attempt is bounded by timeout; callers should also bound the whole call with a context.
func NewClient(timeout time.Duration, retryMax int) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{Timeout: timeout}
	client.RetryMax = retryMax
	client.RetryWaitMin = defaultRetryWaitMin
	client.RetryWaitMax = defaultRetryWaitMax
	client.Logger = &leveledLogger{entry: log.WithField("component", "httpclient")}
	return client
}

// IsTimeout reports whether err was caused by a deadline, either of the context or of the client.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// leveledLogger adapts logrus to retryablehttp.LeveledLogger.
type leveledLogger struct {
	entry *log.Entry
}

func (l *leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.withFields(keysAndValues).Error(msg)
}

func (l *leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.withFields(keysAndValues).Debug(msg)
}

func (l *leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.withFields(keysAndValues).Debug(msg)
}

func (l *leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.withFields(keysAndValues).Warn(msg)
}

func (l *leveledLogger) withFields(keysAndValues []interface{}) *log.Entry {
	fields := log.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields[key] = keysAndValues[i+1]
		}
	}
	return l.entry.WithFields(fields)
}
