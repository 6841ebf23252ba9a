package presence

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingSender struct {
	calls atomic.Int64
	err   error
}

func (c *countingSender) SendChatAction(ctx context.Context, chatID int64, action string) error {
	c.calls.Add(1)
	return c.err
}

func TestStartEmitsImmediatelyAndPeriodically(t *testing.T) {
	sender := &countingSender{}
	s := Start(context.Background(), sender, 1001, Options{Interval: 5 * time.Millisecond})
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	if got := sender.calls.Load(); got < 3 {
		t.Fatalf("sends = %d, want at least 3 (immediate plus ticks)", got)
	}
	if !s.Done() {
		t.Fatal("goroutine should have exited after Stop")
	}
}

func TestStopJoinsBeforeReturning(t *testing.T) {
	sender := &countingSender{}
	s := Start(context.Background(), sender, 1001, Options{Interval: 5 * time.Millisecond})
	s.Stop()
	if !s.Done() {
		t.Fatal("Stop returned before the ticker goroutine exited")
	}
	before := sender.calls.Load()
	time.Sleep(25 * time.Millisecond)
	if after := sender.calls.Load(); after != before {
		t.Fatalf("sends continued after Stop: %d -> %d", before, after)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	sender := &countingSender{}
	s := Start(context.Background(), sender, 1001, Options{Interval: time.Millisecond})
	s.Stop()
	s.Stop()
}

func TestSendFailuresAreSwallowed(t *testing.T) {
	sender := &countingSender{err: errors.New("flaky transport")}
	s := Start(context.Background(), sender, 1001, Options{Interval: 5 * time.Millisecond})
	time.Sleep(20 * time.Millisecond)
	s.Stop()
	if got := sender.calls.Load(); got < 2 {
		t.Fatalf("sends = %d, want the loop to keep going despite errors", got)
	}
}

func TestContextCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sender := &countingSender{}
	s := Start(ctx, sender, 1001, Options{Interval: time.Millisecond})
	cancel()
	time.Sleep(10 * time.Millisecond)
	if !s.Done() {
		t.Fatal("goroutine should exit when parent context is cancelled")
	}
	s.Stop()
}

func TestNilSenderIsInert(t *testing.T) {
	s := Start(context.Background(), nil, 1001, Options{})
	if !s.Done() {
		t.Fatal("nil sender should produce an already-exited signal")
	}
	s.Stop()
}
