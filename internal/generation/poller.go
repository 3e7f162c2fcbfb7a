package generation

import (
	"context"
	"fmt"
	"time"

	"server/internal/providers"
)

// PollOptions bounds a polling loop. Whichever of MaxAttempts and MaxWait is
// hit first stops the loop.
type PollOptions struct {
	MaxAttempts  int
	MaxWait      time.Duration
	QueuedDelay  time.Duration
	RunningDelay time.Duration
}

func (o PollOptions) withDefaults() PollOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 60
	}
	if o.MaxWait <= 0 {
		o.MaxWait = 5 * time.Minute
	}
	if o.QueuedDelay <= 0 {
		o.QueuedDelay = 2 * time.Second
	}
	if o.RunningDelay <= 0 {
		o.RunningDelay = 5 * time.Second
	}
	return o
}

// PollingTimeoutError reports that a task never reached a terminal state
// within the configured bounds. It carries the last observed status for
// diagnostics.
type PollingTimeoutError struct {
	TaskID     string
	LastStatus providers.Status
	Attempts   int
	Elapsed    time.Duration
}

func (e *PollingTimeoutError) Error() string {
	return fmt.Sprintf("polling timed out for task %s after %d attempts (%s), last status %s",
		e.TaskID, e.Attempts, e.Elapsed.Round(time.Millisecond), e.LastStatus)
}

// AwaitTerminal drives QueryStatus until the task reaches a terminal state or
// a bound is hit. Transient provider errors are retried in place; a rejection
// (unknown task, 4xx) is immediately fatal. The backoff sleep is cancellable,
// so an overall request deadline always wins over an in-progress wait.
func AwaitTerminal(ctx context.Context, p providers.Provider, taskID string, opts PollOptions) (*providers.StatusSnapshot, error) {
	opts = opts.withDefaults()
	start := time.Now()
	deadline := start.Add(opts.MaxWait)
	lastStatus := providers.StatusQueued

	for attempt := 1; ; attempt++ {
		snap, err := p.QueryStatus(ctx, taskID)
		switch {
		case err == nil:
			lastStatus = snap.Status
			if snap.Status.Terminal() {
				return snap, nil
			}
		case providers.IsRetryable(err):
			// fall through to the backoff sleep
		default:
			return nil, err
		}

		if attempt >= opts.MaxAttempts || time.Now().After(deadline) {
			return nil, &PollingTimeoutError{
				TaskID:     taskID,
				LastStatus: lastStatus,
				Attempts:   attempt,
				Elapsed:    time.Since(start),
			}
		}

		delay := opts.RunningDelay
		if lastStatus == providers.StatusQueued {
			delay = opts.QueuedDelay
		}
		if remaining := time.Until(deadline); delay > remaining {
			delay = remaining
		}
		if err := sleepContext(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
