package i2b2

import (
	"context"
	"time"

	"github.com/ehr/warehouse/internal/platform/failure"
	"github.com/ehr/warehouse/pkg/resource"
)

const DefaultPollInterval = 3 * time.Second

// PollPolicy bounds the status polling loop. A zero Timeout polls until a
// terminal status or until the context is done.
type PollPolicy struct {
	Interval time.Duration
	Timeout  time.Duration
}

// ErrPollTimeout is returned when the policy's timeout elapses first.
var ErrPollTimeout = failure.Newf("query did not reach a terminal status in time")

// StatusFunc reports the current execution status.
type StatusFunc func(ctx context.Context) (resource.ResultStatus, error)

// Wait calls check until it reports COMPLETE or ERROR, once right away and
// then every Interval. A check error stops the loop.
func (p PollPolicy) Wait(ctx context.Context, check StatusFunc) (resource.ResultStatus, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	parent := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	// A done ctx with a live parent means the policy's own deadline passed.
	timedOut := func() bool { return ctx.Err() != nil && parent.Err() == nil }

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		status, err := check(ctx)
		if err != nil {
			if timedOut() {
				return resource.StatusError, failure.Wrapf(ErrPollTimeout, "after %s", p.Timeout)
			}
			return resource.StatusError, err
		}
		if status.Terminal() {
			return status, nil
		}

		if timer == nil {
			timer = time.NewTimer(interval)
		} else {
			timer.Reset(interval)
		}
		select {
		case <-ctx.Done():
			if err := parent.Err(); err != nil {
				return resource.StatusError, err
			}
			return resource.StatusError, failure.Wrapf(ErrPollTimeout, "after %s", p.Timeout)
		case <-timer.C:
		}
	}
}
