package generation

import (
	"context"
	"errors"
	"testing"
	"time"

	"server/internal/providers"
)

// scriptedProvider replays a fixed sequence of QueryStatus outcomes.
type scriptedProvider struct {
	name    string
	script  []scriptStep
	calls   int
	recheck bool
}

type scriptStep struct {
	snap *providers.StatusSnapshot
	err  error
}

func (p *scriptedProvider) Name() string       { return p.name }
func (p *scriptedProvider) CheapRecheck() bool { return p.recheck }

func (p *scriptedProvider) Submit(ctx context.Context, req providers.SubmitRequest) (string, error) {
	return "task-1", nil
}

func (p *scriptedProvider) QueryStatus(ctx context.Context, taskID string) (*providers.StatusSnapshot, error) {
	step := p.script[len(p.script)-1]
	if p.calls < len(p.script) {
		step = p.script[p.calls]
	}
	p.calls++
	return step.snap, step.err
}

func fastPollOptions() PollOptions {
	return PollOptions{
		MaxAttempts:  5,
		MaxWait:      time.Second,
		QueuedDelay:  time.Millisecond,
		RunningDelay: time.Millisecond,
	}
}

func TestAwaitTerminalReturnsOnSuccess(t *testing.T) {
	p := &scriptedProvider{script: []scriptStep{
		{snap: &providers.StatusSnapshot{Status: providers.StatusQueued}},
		{snap: &providers.StatusSnapshot{Status: providers.StatusRunning}},
		{snap: &providers.StatusSnapshot{Status: providers.StatusSucceeded, Candidates: []providers.Candidate{{AudioURL: "https://cdn/a.mp3"}}}},
	}}

	snap, err := AwaitTerminal(context.Background(), p, "task-1", fastPollOptions())
	if err != nil {
		t.Fatalf("AwaitTerminal: %v", err)
	}
	if snap.Status != providers.StatusSucceeded {
		t.Fatalf("status = %s, want succeeded", snap.Status)
	}
	if p.calls != 3 {
		t.Fatalf("calls = %d, want 3", p.calls)
	}
}

func TestAwaitTerminalReturnsOnFailure(t *testing.T) {
	p := &scriptedProvider{script: []scriptStep{
		{snap: &providers.StatusSnapshot{Status: providers.StatusFailed, ErrorReason: "content policy"}},
	}}

	snap, err := AwaitTerminal(context.Background(), p, "task-1", fastPollOptions())
	if err != nil {
		t.Fatalf("AwaitTerminal: %v", err)
	}
	if snap.Status != providers.StatusFailed {
		t.Fatalf("status = %s, want failed", snap.Status)
	}
	if snap.ErrorReason != "content policy" {
		t.Fatalf("error_reason = %q", snap.ErrorReason)
	}
}

func TestAwaitTerminalAttemptBoundProducesTimeoutError(t *testing.T) {
	p := &scriptedProvider{script: []scriptStep{
		{snap: &providers.StatusSnapshot{Status: providers.StatusRunning}},
	}}

	_, err := AwaitTerminal(context.Background(), p, "task-9", fastPollOptions())
	var timeout *PollingTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("err = %v, want PollingTimeoutError", err)
	}
	if timeout.TaskID != "task-9" {
		t.Fatalf("task id = %q, want task-9", timeout.TaskID)
	}
	if timeout.LastStatus != providers.StatusRunning {
		t.Fatalf("last status = %s, want running", timeout.LastStatus)
	}
	if timeout.Attempts != 5 {
		t.Fatalf("attempts = %d, want 5", timeout.Attempts)
	}
}

func TestAwaitTerminalWallClockBound(t *testing.T) {
	p := &scriptedProvider{script: []scriptStep{
		{snap: &providers.StatusSnapshot{Status: providers.StatusRunning}},
	}}

	opts := PollOptions{
		MaxAttempts:  1000,
		MaxWait:      30 * time.Millisecond,
		QueuedDelay:  10 * time.Millisecond,
		RunningDelay: 10 * time.Millisecond,
	}
	start := time.Now()
	_, err := AwaitTerminal(context.Background(), p, "task-1", opts)
	var timeout *PollingTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("err = %v, want PollingTimeoutError", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("poll ran %s past its wall-clock bound", elapsed)
	}
}

func TestAwaitTerminalRetriesTransientErrors(t *testing.T) {
	transient := providers.NewError("suno", providers.KindUnavailable, "status 503", nil)
	p := &scriptedProvider{script: []scriptStep{
		{err: transient},
		{err: transient},
		{snap: &providers.StatusSnapshot{Status: providers.StatusSucceeded}},
	}}

	snap, err := AwaitTerminal(context.Background(), p, "task-1", fastPollOptions())
	if err != nil {
		t.Fatalf("AwaitTerminal: %v", err)
	}
	if snap.Status != providers.StatusSucceeded {
		t.Fatalf("status = %s, want succeeded", snap.Status)
	}
	if p.calls != 3 {
		t.Fatalf("calls = %d, want 3", p.calls)
	}
}

func TestAwaitTerminalRejectionIsFatal(t *testing.T) {
	rejected := providers.NewError("suno", providers.KindRejected, "unknown task", nil)
	p := &scriptedProvider{script: []scriptStep{{err: rejected}}}

	_, err := AwaitTerminal(context.Background(), p, "task-1", fastPollOptions())
	if !providers.IsRejected(err) {
		t.Fatalf("err = %v, want rejected provider error", err)
	}
	if p.calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on rejection)", p.calls)
	}
}

func TestAwaitTerminalHonorsContextCancellation(t *testing.T) {
	p := &scriptedProvider{script: []scriptStep{
		{snap: &providers.StatusSnapshot{Status: providers.StatusRunning}},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	opts := PollOptions{MaxAttempts: 1000, MaxWait: time.Minute, QueuedDelay: time.Second, RunningDelay: time.Second}
	_, err := AwaitTerminal(ctx, p, "task-1", opts)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
