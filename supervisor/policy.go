package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go2tv.app/browserstream/pipeline"
)

// RetryPolicy is fixed for the lifetime of the process.
type RetryPolicy struct {
	MaxRetries uint32
	Backoff    time.Duration
}

// ShouldRetry reports whether another attempt may follow after failures
// consecutive failures. The bound is inclusive.
func (p RetryPolicy) ShouldRetry(failures uint32) bool {
	return failures <= p.MaxRetries
}

type Outcome int

const (
	Success Outcome = iota
	Retryable
	Shutdown
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	case Shutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Classify maps an attempt result to an outcome. Any failure observed after
// shutdown was requested counts as shutdown, whatever its cause.
func Classify(ctx context.Context, err error) Outcome {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, pipeline.ErrShutdown), ctx.Err() != nil:
		return Shutdown
	default:
		return Retryable
	}
}

// ExhaustedError carries the last attempt failure once retries run out.
type ExhaustedError struct {
	Attempts uint32
	Failures uint32
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("stream failed after %d attempt(s) with %d failure(s): %v", e.Attempts, e.Failures, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}
