package health

import (
	"errors"
	"sync/atomic"
)

// StartupCompleteChecker reports unhealthy until MarkComplete has been called.
type StartupCompleteChecker struct {
	complete int32
}

func NewStartupCompleteChecker() *StartupCompleteChecker {
	return &StartupCompleteChecker{}
}

func (c *StartupCompleteChecker) MarkComplete() {
	atomic.StoreInt32(&c.complete, 1)
}

func (c *StartupCompleteChecker) Check() error {
	if atomic.LoadInt32(&c.complete) == 1 {
		return nil
	}
	return errors.New("startup is not complete")
}
