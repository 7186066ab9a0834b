// Package result classifies test outcomes and maps them to HTTP status codes.
package result

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/container-resource-predictor/fleet-diagnostics/internal/testdef"
)

// Outcome is the classification of a test run.
type Outcome string

const (
	Passed       Outcome = "passed"
	Failed       Outcome = "failed"
	Inconclusive Outcome = "inconclusive"
	TimedOut     Outcome = "timedOut"
)

// InconclusiveError signals that a test could not decide pass or fail.
type InconclusiveError struct {
	Message string
	Err     error
}

func (e *InconclusiveError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *InconclusiveError) Unwrap() error { return e.Err }

// TimeoutError signals that a test exceeded its allotted time.
type TimeoutError struct {
	Message string
	Err     error
}

func (e *TimeoutError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// NewInconclusive returns an InconclusiveError with a formatted message.
func NewInconclusive(format string, args ...any) error {
	return &InconclusiveError{Message: fmt.Sprintf(format, args...)}
}

// NewTimeout returns a TimeoutError with a formatted message.
func NewTimeout(format string, args ...any) error {
	return &TimeoutError{Message: fmt.Sprintf(format, args...)}
}

// Classify maps an invocation error to an outcome. A nil error passed.
func Classify(err error) Outcome {
	var inconclusive *InconclusiveError
	var timeout *TimeoutError
	switch {
	case err == nil:
		return Passed
	case errors.As(err, &timeout), errors.Is(err, context.DeadlineExceeded):
		return TimedOut
	case errors.As(err, &inconclusive):
		return Inconclusive
	default:
		return Failed
	}
}

// Test is a routable test instance.
type Test struct {
	Environment string              `json:"environment"`
	Application string              `json:"application"`
	Name        string              `json:"name"`
	URL         string              `json:"url"`
	Tags        []string            `json:"tags"`
	Parameters  []testdef.Parameter `json:"parameters"`
}

// TestResult is the response body of a test run.
type TestResult struct {
	ID          string        `json:"id"`
	Test        Test          `json:"test"`
	Outcome     Outcome       `json:"outcome"`
	Passed      bool          `json:"passed"`
	ReturnValue any           `json:"returnValue,omitempty"`
	Message     string        `json:"message,omitempty"`
	Duration    time.Duration `json:"-"`
	DurationMs  float64       `json:"durationMs"`
	Log         []string      `json:"log,omitempty"`

	err error
}

// New builds a result for test. err is the invocation error, nil on success.
func New(test Test, value any, err error, elapsed time.Duration) *TestResult {
	outcome := Classify(err)
	r := &TestResult{
		ID:         uuid.NewString(),
		Test:       test,
		Outcome:    outcome,
		Passed:     outcome == Passed,
		Duration:   elapsed,
		DurationMs: float64(elapsed.Microseconds()) / 1000,
		err:        err,
	}
	if err != nil {
		r.Message = err.Error()
	} else {
		r.ReturnValue = value
	}
	return r
}

// Err returns the invocation error, if any.
func (r *TestResult) Err() error {
	return r.err
}

// StatusCode maps the result to the HTTP status of its response.
func (r *TestResult) StatusCode() int {
	var formatErr *testdef.ParameterFormatError
	switch r.Outcome {
	case Passed:
		return http.StatusOK
	case Inconclusive:
		return http.StatusServiceUnavailable
	case TimedOut:
		return http.StatusGatewayTimeout
	}
	if errors.As(r.err, &formatErr) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
