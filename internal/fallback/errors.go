package fallback

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAllProvidersExhausted signals that every provider in a task's route was
// tried, or skipped as unconfigured, without producing a result.
var ErrAllProvidersExhausted = errors.New("all providers exhausted")

// ProviderFailure records why one provider could not serve a request.
type ProviderFailure struct {
	Provider string
	Err      error
}

// ExhaustedError carries the per-provider failure reasons for a request that
// no provider could serve.
type ExhaustedError struct {
	TaskType string
	Failures []ProviderFailure
}

func (e *ExhaustedError) Error() string {
	reasons := make([]string, 0, len(e.Failures))
	for _, failure := range e.Failures {
		reasons = append(reasons, fmt.Sprintf("%s: %v", failure.Provider, failure.Err))
	}
	if len(reasons) == 0 {
		return fmt.Sprintf("task %q: all providers exhausted", e.TaskType)
	}
	return fmt.Sprintf("task %q: all providers exhausted (%s)", e.TaskType, strings.Join(reasons, "; "))
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrAllProvidersExhausted
}
