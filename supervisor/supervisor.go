// Package supervisor runs stream attempts and retries them with a fixed
// backoff until success, shutdown or exhaustion.
package supervisor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// Attempt identifies one run of the encoder and pipeline.
type Attempt struct {
	Number uint32
	ID     string
	Logger hclog.Logger
}

type AttemptFunc func(ctx context.Context, at Attempt) error

type Supervisor struct {
	policy RetryPolicy
	run    AttemptFunc
	logger hclog.Logger

	// OnAttempt, when set, is called before every attempt starts.
	OnAttempt func(Attempt)
}

func New(policy RetryPolicy, run AttemptFunc, logger hclog.Logger) *Supervisor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Supervisor{policy: policy, run: run, logger: logger}
}

// Run loops until an attempt succeeds, shutdown is requested or retries are
// exhausted. Only exhaustion returns a non-nil error, an *ExhaustedError.
func (s *Supervisor) Run(ctx context.Context) (Outcome, error) {
	var failures uint32

	for {
		at := Attempt{
			Number: failures + 1,
			ID:     uuid.NewString(),
		}
		at.Logger = s.logger.With("attempt", at.Number, "attempt_id", at.ID)
		at.Logger.Info("starting stream attempt")
		if s.OnAttempt != nil {
			s.OnAttempt(at)
		}

		err := s.run(ctx, at)

		switch Classify(ctx, err) {
		case Success:
			at.Logger.Info("stream finished")
			return Success, nil

		case Shutdown:
			at.Logger.Info("shutdown requested, exiting")
			if err != nil {
				at.Logger.Debug("attempt ended during shutdown", "error", err)
			}
			return Shutdown, nil
		}

		if failures < ^uint32(0) {
			failures++
		}
		if !s.policy.ShouldRetry(failures) {
			return Retryable, &ExhaustedError{Attempts: at.Number, Failures: failures, Err: err}
		}

		at.Logger.Warn("stream attempt failed; retrying",
			"failures", failures,
			"backoff_ms", s.policy.Backoff.Milliseconds(),
			"error", err,
		)

		if !sleepCtx(ctx, s.policy.Backoff) {
			s.logger.Info("shutdown requested during retry backoff, exiting")
			return Shutdown, nil
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
