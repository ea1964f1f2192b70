package resilience

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// Clock abstracts sleeping so tests can poll without real delays.
type Clock interface {
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock sleeps on the wall clock.
type RealClock struct{}

// Sleep implements Clock.
func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PollConfig parameterizes a bounded poll loop: fixed interval, attempt cap,
// injectable clock. Interval * MaxAttempts gives the hard wall-clock ceiling.
type PollConfig struct {
	Interval    time.Duration
	MaxAttempts int
	Clock       Clock
}

// ErrPollExhausted is returned when the attempt cap is reached without the
// polled operation completing.
var ErrPollExhausted = eris.New("resilience: poll attempts exhausted")

// Poll invokes check up to MaxAttempts times, sleeping Interval between
// attempts. check returns done=true to stop successfully; a non-nil error
// stops immediately. Exhausting the cap returns ErrPollExhausted so callers
// can treat the operation as failed or empty instead of blocking forever.
func Poll(ctx context.Context, cfg PollConfig, check func(ctx context.Context) (done bool, err error)) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 8 * time.Second
	}
	clock := cfg.Clock
	if clock == nil {
		clock = RealClock{}
	}

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		if err := clock.Sleep(ctx, cfg.Interval); err != nil {
			return err
		}
	}

	return ErrPollExhausted
}
