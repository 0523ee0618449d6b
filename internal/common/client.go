package common

import (
	"context"
	"time"
)

const DefaultClientTimeout = 30 * time.Second

func ContextWithDefaultTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), DefaultClientTimeout)
}
