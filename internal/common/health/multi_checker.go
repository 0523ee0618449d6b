package health

import (
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// MultiChecker is healthy only if every checker added to it is healthy.
// Checkers may be added while the HTTP handler is already serving.
type MultiChecker struct {
	mu       sync.RWMutex
	checkers []Checker
}

func NewMultiChecker(checkers ...Checker) *MultiChecker {
	return &MultiChecker{checkers: checkers}
}

// Check runs every checker, so that one failure does not hide the next.
func (mc *MultiChecker) Check() error {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	var result *multierror.Error
	for _, checker := range mc.checkers {
		if err := checker.Check(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if result != nil {
		result.ErrorFormat = oneErrorPerLine
	}
	return result.ErrorOrNil()
}

func (mc *MultiChecker) Add(checker Checker) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.checkers = append(mc.checkers, checker)
}

func oneErrorPerLine(errs []error) string {
	lines := make([]string, len(errs))
	for i, err := range errs {
		lines[i] = err.Error()
	}
	return strings.Join(lines, "\n")
}
