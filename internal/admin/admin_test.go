package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mentecuantica/game-of-gods/internal/contextstore"
	"github.com/mentecuantica/game-of-gods/internal/logutil"
)

type recordingSender struct {
	mu    sync.Mutex
	seen  []int64
	fails map[int64]bool
}

func (r *recordingSender) SendMessage(ctx context.Context, chatID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, chatID)
	if r.fails[chatID] {
		return errors.New("chat is dead")
	}
	return nil
}

func newOps(store *contextstore.Store, sender Sender) *Ops {
	return New(Options{Store: store, AdminID: 777, Sender: sender})
}

func TestAuthorized(t *testing.T) {
	ops := newOps(contextstore.New(6), &recordingSender{})
	if !ops.Authorized(777) {
		t.Fatal("admin id should be authorized")
	}
	if ops.Authorized(778) {
		t.Fatal("non-admin id should not be authorized")
	}
}

func TestBanUnbanRoundTrip(t *testing.T) {
	store := contextstore.New(6)
	ops := newOps(store, &recordingSender{})
	store.GetOrCreate(5)

	if err := ops.Ban(5); err != nil {
		t.Fatalf("ban: %v", err)
	}
	if !store.IsBanned(5) {
		t.Fatal("user should be banned")
	}
	if err := ops.Ban(5); err != nil {
		t.Fatalf("repeat ban should succeed, got %v", err)
	}
	if err := ops.Unban(5); err != nil {
		t.Fatalf("unban: %v", err)
	}
	if store.IsBanned(5) {
		t.Fatal("user should be unbanned")
	}
}

func TestBanUnknownUserIsNotFound(t *testing.T) {
	ops := newOps(contextstore.New(6), &recordingSender{})
	if err := ops.Ban(404); !errors.Is(err, contextstore.ErrNotFound) {
		t.Fatalf("Ban(unknown) = %v, want ErrNotFound", err)
	}
	if err := ops.Unban(404); !errors.Is(err, contextstore.ErrNotFound) {
		t.Fatalf("Unban(unknown) = %v, want ErrNotFound", err)
	}
}

func TestBroadcastIsolatesFailures(t *testing.T) {
	store := contextstore.New(6)
	for id := int64(1); id <= 5; id++ {
		store.GetOrCreate(id)
	}
	sender := &recordingSender{fails: map[int64]bool{3: true}}
	ops := newOps(store, sender)

	sent, failed := ops.Broadcast(context.Background(), "the oracle speaks")
	if sent != 4 || failed != 1 {
		t.Fatalf("broadcast = %d sent / %d failed, want 4/1", sent, failed)
	}
	if len(sender.seen) != 5 {
		t.Fatalf("attempted %d recipients, want all 5 despite the failure", len(sender.seen))
	}
	got := make(map[int64]bool, len(sender.seen))
	for _, id := range sender.seen {
		got[id] = true
	}
	for id := int64(1); id <= 5; id++ {
		if !got[id] {
			t.Fatalf("recipient %d was never attempted", id)
		}
	}
}

func TestBroadcastEmptyStore(t *testing.T) {
	ops := newOps(contextstore.New(6), &recordingSender{})
	sent, failed := ops.Broadcast(context.Background(), "anyone?")
	if sent != 0 || failed != 0 {
		t.Fatalf("broadcast on empty store = %d/%d, want 0/0", sent, failed)
	}
}

func TestStatsCountsActiveAndBanned(t *testing.T) {
	store := contextstore.New(6)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	store.SetNowFunc(func() time.Time { return now.Add(-30 * 24 * time.Hour) })
	store.AppendExchange(1, "q", "a") // stale
	store.SetNowFunc(func() time.Time { return now.Add(-time.Hour) })
	store.AppendExchange(2, "q", "a") // active
	store.AppendExchange(3, "q", "a") // active, will be banned
	if err := store.SetBanned(3, true); err != nil {
		t.Fatalf("ban: %v", err)
	}

	ops := newOps(store, &recordingSender{})
	ops.SetNowFunc(func() time.Time { return now })

	s := ops.Stats()
	if s.Users != 3 || s.Active != 2 || s.Banned != 1 {
		t.Fatalf("stats = %+v, want 3 users / 2 active / 1 banned", s)
	}
	text := FormatStats(s)
	if !strings.Contains(text, "Users: 3") || !strings.Contains(text, "Banned: 1") {
		t.Fatalf("formatted stats missing fields: %q", text)
	}
}

func TestExportUsersCSV(t *testing.T) {
	store := contextstore.New(6)
	stamp := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	store.SetNowFunc(func() time.Time { return stamp })
	store.AppendExchange(20, "q", "a")
	store.AppendExchange(10, "q", "a")
	if err := store.SetBanned(20, true); err != nil {
		t.Fatalf("ban: %v", err)
	}

	ops := newOps(store, &recordingSender{})
	raw, err := ops.ExportUsers()
	if err != nil {
		t.Fatalf("ExportUsers() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 3 {
		t.Fatalf("csv lines = %d, want header plus 2 rows:\n%s", len(lines), raw)
	}
	if lines[0] != "ID,Last Active,Messages,Banned" {
		t.Fatalf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "10,") {
		t.Fatalf("rows should be sorted by id, got %q first", lines[1])
	}
	if lines[2] != "20,2025-06-01 12:30:00,1,true" {
		t.Fatalf("row = %q", lines[2])
	}
}

func TestExportLogsReturnsTail(t *testing.T) {
	buf := logutil.NewBuffer(100)
	for i := 0; i < 120; i++ {
		_, _ = fmt.Fprintf(buf, "log line %d\n", i)
	}
	ops := New(Options{Store: contextstore.New(6), AdminID: 777, Sender: &recordingSender{}, Logs: buf})

	dump := ops.ExportLogs()
	lines := strings.Split(dump, "\n")
	if len(lines) != 100 {
		t.Fatalf("export lines = %d, want 100", len(lines))
	}
	if lines[0] != "log line 20" || lines[99] != "log line 119" {
		t.Fatalf("export bounds = %q .. %q", lines[0], lines[99])
	}
}
