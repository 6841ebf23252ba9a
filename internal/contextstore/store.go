// Package contextstore holds the per-user rolling conversation state. The
// store is the only shared mutable resource in the process; every other
// component reads and writes user state through it and never keeps a live
// reference across a blocking call.
package contextstore

import (
	"errors"
	"sync"
	"time"

	"github.com/mentecuantica/game-of-gods/llm"
)

// ErrNotFound is returned by admin mutations that target a user id the bot
// has never seen. First contact is the only thing that creates state.
var ErrNotFound = errors.New("user not found")

const defaultHistoryLimit = 6

// UserContext is a snapshot of one user's state. Values returned by the
// store are copies; mutating them does not touch the store.
type UserContext struct {
	ID           int64
	History      []llm.Message
	MessageCount int
	LastActiveAt time.Time
	Banned       bool
}

type userEntry struct {
	mu sync.Mutex

	history      []llm.Message
	messageCount int
	lastActiveAt time.Time
	banned       bool
}

// Store keeps all UserContext state in memory for the process lifetime.
// The map mutex only guards entry lookup; each user carries its own lock, so
// exchanges for distinct users never contend.
type Store struct {
	mu      sync.RWMutex
	users   map[int64]*userEntry
	limit   int
	nowFunc func() time.Time
}

func New(historyLimit int) *Store {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &Store{
		users:   make(map[int64]*userEntry),
		limit:   historyLimit,
		nowFunc: time.Now,
	}
}

// SetNowFunc overrides the clock, for tests.
func (s *Store) SetNowFunc(now func() time.Time) {
	if now != nil {
		s.nowFunc = now
	}
}

func (s *Store) entry(id int64) (*userEntry, bool) {
	s.mu.RLock()
	e, ok := s.users[id]
	s.mu.RUnlock()
	return e, ok
}

func (s *Store) entryOrCreate(id int64) *userEntry {
	if e, ok := s.entry(id); ok {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.users[id]; ok {
		return e
	}
	e := &userEntry{lastActiveAt: s.nowFunc()}
	s.users[id] = e
	return e
}

// GetOrCreate returns a copy of the user's context, creating an empty one on
// first contact. It never fails.
func (s *Store) GetOrCreate(id int64) UserContext {
	e := s.entryOrCreate(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshotLocked(id, e)
}

// IsBanned reports whether the user exists and carries the ban flag.
func (s *Store) IsBanned(id int64) bool {
	e, ok := s.entry(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.banned
}

// SetBanned flips the ban flag. Banning a user the bot has never talked to is
// ErrNotFound, not an auto-create. Setting the flag to its current value is a
// no-op success.
func (s *Store) SetBanned(id int64, banned bool) error {
	e, ok := s.entry(id)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.banned = banned
	return nil
}

// AppendExchange records one completed exchange: both turns are appended, the
// history is trimmed to the window limit, the message counter advances and the
// activity timestamp is refreshed. Atomic per user id.
func (s *Store) AppendExchange(id int64, userText, assistantText string) {
	e := s.entryOrCreate(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history,
		llm.Message{Role: "user", Content: userText},
		llm.Message{Role: "assistant", Content: assistantText},
	)
	if len(e.history) > s.limit {
		e.history = e.history[len(e.history)-s.limit:]
	}
	e.messageCount++
	e.lastActiveAt = s.nowFunc()
}

// Window returns a copy of the last n history entries for prompt building.
func (s *Store) Window(id int64, n int) []llm.Message {
	e, ok := s.entry(id)
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.history
	if n > 0 && len(h) > n {
		h = h[len(h)-n:]
	}
	return append([]llm.Message(nil), h...)
}

// Snapshot returns point-in-time copies of every known user. It is not
// linearizable with concurrent writes; admin reads tolerate that.
func (s *Store) Snapshot() []UserContext {
	s.mu.RLock()
	ids := make([]int64, 0, len(s.users))
	entries := make([]*userEntry, 0, len(s.users))
	for id, e := range s.users {
		ids = append(ids, id)
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]UserContext, 0, len(entries))
	for i, e := range entries {
		e.mu.Lock()
		out = append(out, snapshotLocked(ids[i], e))
		e.mu.Unlock()
	}
	return out
}

// Len reports how many users the store has seen.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

func snapshotLocked(id int64, e *userEntry) UserContext {
	return UserContext{
		ID:           id,
		History:      append([]llm.Message(nil), e.history...),
		MessageCount: e.messageCount,
		LastActiveAt: e.lastActiveAt,
		Banned:       e.banned,
	}
}
