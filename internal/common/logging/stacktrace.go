package logging

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const Stacktrace = "stacktrace"

// Implemented by the errors of pkg/errors that recorded where they were created.
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// WithStacktrace adds err to logger and, if any error in its chain recorded a stack, that stack.
func WithStacktrace(logger *logrus.Entry, err error) *logrus.Entry {
	logger = logger.WithError(err)
	if stack := ExtractStack(err); stack != nil {
		logger = logger.WithField(Stacktrace, fmt.Sprintf("%+v", stack))
	}
	return logger
}

// ExtractStack returns the outermost stack recorded in the chain of err, or nil.
func ExtractStack(err error) errors.StackTrace {
	var tracer stackTracer
	if errors.As(err, &tracer) {
		return tracer.StackTrace()
	}
	return nil
}
