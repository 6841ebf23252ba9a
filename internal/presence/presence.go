// Package presence keeps a "typing" chat action alive while a completion call
// is in flight. Each exchange owns exactly one signal and must stop it before
// returning; Stop joins the goroutine with a bounded wait so no ticker can
// outlive its exchange.
package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// Telegram expires a chat action after ~5s; stay under that.
	defaultInterval    = 4 * time.Second
	defaultJoinTimeout = 10 * time.Second
)

// Sender is the slice of the messaging transport the signal needs.
type Sender interface {
	SendChatAction(ctx context.Context, chatID int64, action string) error
}

// Signal is one running typing indicator.
type Signal struct {
	done        chan struct{}
	exited      chan struct{}
	cancel      context.CancelFunc
	stopOnce    sync.Once
	joinTimeout time.Duration
	logger      *slog.Logger
	chatID      int64
}

// Options tune a signal; zero values pick the defaults above.
type Options struct {
	Action      string
	Interval    time.Duration
	JoinTimeout time.Duration
	Logger      *slog.Logger
}

// Start begins emitting the chat action immediately and then at a fixed
// interval until Stop is called or ctx is cancelled. Send failures are
// logged and swallowed; presence is best-effort.
func Start(ctx context.Context, sender Sender, chatID int64, opts Options) *Signal {
	if ctx == nil {
		ctx = context.Background()
	}
	action := opts.Action
	if action == "" {
		action = "typing"
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	joinTimeout := opts.JoinTimeout
	if joinTimeout <= 0 {
		joinTimeout = defaultJoinTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &Signal{
		done:        make(chan struct{}),
		exited:      make(chan struct{}),
		cancel:      cancel,
		joinTimeout: joinTimeout,
		logger:      logger,
		chatID:      chatID,
	}

	if sender == nil || chatID == 0 {
		cancel()
		close(s.exited)
		return s
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer close(s.exited)
		defer ticker.Stop()
		send := func() {
			if err := sender.SendChatAction(runCtx, chatID, action); err != nil {
				logger.Debug("presence_send_error", "chat_id", chatID, "error", err.Error())
			}
		}
		send()
		for {
			select {
			case <-ticker.C:
				send()
			case <-s.done:
				return
			case <-runCtx.Done():
				return
			}
		}
	}()
	return s
}

// Stop signals cancellation and waits up to the join timeout for the ticker
// goroutine to exit. A goroutine that misses the deadline is force-cancelled
// rather than leaked. Safe to call more than once.
func (s *Signal) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		select {
		case <-s.exited:
		case <-time.After(s.joinTimeout):
			s.logger.Warn("presence_stop_timeout", "chat_id", s.chatID)
			s.cancel()
			<-s.exited
		}
		s.cancel()
	})
}

// Done reports whether the ticker goroutine has exited, for tests.
func (s *Signal) Done() bool {
	select {
	case <-s.exited:
		return true
	default:
		return false
	}
}
