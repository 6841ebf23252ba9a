// Package admin implements the privileged operations: ban/unban, broadcast,
// stats and the user/log exports. Everything here goes through the context
// store's accessor contract; nothing touches the completion API.
package admin

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mentecuantica/game-of-gods/internal/contextstore"
	"github.com/mentecuantica/game-of-gods/internal/logutil"
	"github.com/mentecuantica/game-of-gods/internal/metrics"
)

const (
	activeWindow      = 7 * 24 * time.Hour
	broadcastParallel = 8
	timeLayout        = "2006-01-02 15:04:05"
)

// Sender is the slice of the messaging transport a broadcast needs.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

type Options struct {
	Store   *contextstore.Store
	AdminID int64
	Sender  Sender
	Logs    *logutil.Buffer
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type Ops struct {
	store   *contextstore.Store
	adminID int64
	sender  Sender
	logs    *logutil.Buffer
	logger  *slog.Logger
	metrics *metrics.Metrics
	nowFunc func() time.Time
}

func New(opts Options) *Ops {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Ops{
		store:   opts.Store,
		adminID: opts.AdminID,
		sender:  opts.Sender,
		logs:    opts.Logs,
		logger:  logger,
		metrics: opts.Metrics,
		nowFunc: time.Now,
	}
}

// SetNowFunc overrides the clock, for tests.
func (a *Ops) SetNowFunc(now func() time.Time) {
	if now != nil {
		a.nowFunc = now
	}
}

// Authorized reports whether the caller is the configured administrator.
// Unauthorized callers get an explicit "forbidden" reply from the transport,
// not silence.
func (a *Ops) Authorized(userID int64) bool {
	return userID == a.adminID
}

// Ban flags the user. Banning someone the bot has never seen is
// contextstore.ErrNotFound; banning an already-banned user is a no-op success.
func (a *Ops) Ban(userID int64) error {
	if err := a.store.SetBanned(userID, true); err != nil {
		return err
	}
	a.logger.Info("user_banned", "user_id", userID)
	return nil
}

// Unban clears the flag. Unknown ids error with contextstore.ErrNotFound:
// silently "unbanning" a user that was never seen would hide admin typos.
func (a *Ops) Unban(userID int64) error {
	if err := a.store.SetBanned(userID, false); err != nil {
		return err
	}
	a.logger.Info("user_unbanned", "user_id", userID)
	return nil
}

// Broadcast delivers text to every known user. Recipients fail independently;
// one dead chat never aborts the rest. Returns delivered/failed counts.
func (a *Ops) Broadcast(ctx context.Context, text string) (sent, failed int) {
	users := a.store.Snapshot()

	var okCount, errCount atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(broadcastParallel)
	for _, u := range users {
		id := u.ID
		g.Go(func() error {
			if err := a.sender.SendMessage(gctx, id, text); err != nil {
				errCount.Add(1)
				a.logger.Warn("broadcast_send_failed", "user_id", id, "error", err.Error())
				a.countBroadcast("failed")
				return nil // per-recipient isolation
			}
			okCount.Add(1)
			a.countBroadcast("ok")
			return nil
		})
	}
	_ = g.Wait()

	sent = int(okCount.Load())
	failed = int(errCount.Load())
	a.logger.Info("broadcast_done", "sent", sent, "failed", failed)
	return sent, failed
}

func (a *Ops) countBroadcast(result string) {
	if a.metrics != nil {
		a.metrics.BroadcastSends.WithLabelValues(result).Inc()
	}
}

type Stats struct {
	Users  int
	Active int
	Banned int
}

// Stats summarizes the store: total users, users active within the last
// seven days, and banned users.
func (a *Ops) Stats() Stats {
	cutoff := a.nowFunc().Add(-activeWindow)
	var s Stats
	for _, u := range a.store.Snapshot() {
		s.Users++
		if u.LastActiveAt.After(cutoff) {
			s.Active++
		}
		if u.Banned {
			s.Banned++
		}
	}
	return s
}

// FormatStats renders the stats reply sent to the administrator.
func FormatStats(s Stats) string {
	return fmt.Sprintf("Users: %d\nActive (7 days): %d\nBanned: %d", s.Users, s.Active, s.Banned)
}

// ExportUsers renders a CSV of (ID, Last Active, Messages, Banned), sorted by
// id so consecutive exports diff cleanly.
func (a *Ops) ExportUsers() ([]byte, error) {
	users := a.store.Snapshot()
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"ID", "Last Active", "Messages", "Banned"}); err != nil {
		return nil, err
	}
	for _, u := range users {
		row := []string{
			strconv.FormatInt(u.ID, 10),
			u.LastActiveAt.Format(timeLayout),
			strconv.Itoa(u.MessageCount),
			strconv.FormatBool(u.Banned),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportLogs returns the newline-joined tail of the last buffered log lines.
func (a *Ops) ExportLogs() string {
	if a.logs == nil {
		return ""
	}
	return a.logs.Dump()
}
