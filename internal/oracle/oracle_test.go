package oracle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mentecuantica/game-of-gods/internal/contextstore"
	"github.com/mentecuantica/game-of-gods/internal/presence"
	"github.com/mentecuantica/game-of-gods/internal/profile"
	"github.com/mentecuantica/game-of-gods/llm"
)

type fakeClient struct {
	calls   atomic.Int64
	lastReq llm.Request
	text    string
	err     error
	delay   time.Duration
}

func (f *fakeClient) Chat(ctx context.Context, req llm.Request) (llm.Result, error) {
	f.calls.Add(1)
	f.lastReq = req
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	if f.err != nil {
		return llm.Result{}, f.err
	}
	return llm.Result{Text: f.text}, nil
}

type fakeTypist struct {
	sends atomic.Int64
}

func (f *fakeTypist) SendChatAction(ctx context.Context, chatID int64, action string) error {
	f.sends.Add(1)
	return nil
}

func newOrchestrator(t *testing.T, client llm.Client, typist presence.Sender) (*Orchestrator, *contextstore.Store) {
	t.Helper()
	store := contextstore.New(6)
	o := New(Options{
		Store:    store,
		Client:   client,
		Profile:  profile.Default(),
		Typist:   typist,
		Presence: presence.Options{Interval: 2 * time.Millisecond},
	})
	return o, store
}

func TestExchangeHappyPath(t *testing.T) {
	client := &fakeClient{text: "world"}
	o, store := newOrchestrator(t, client, &fakeTypist{})

	got := o.Exchange(context.Background(), 42, 100, "hello")
	if got != "world" {
		t.Fatalf("reply = %q, want world", got)
	}

	u := store.GetOrCreate(42)
	if u.MessageCount != 1 {
		t.Fatalf("message count = %d, want 1", u.MessageCount)
	}
	if len(u.History) != 2 {
		t.Fatalf("history len = %d, want 2", len(u.History))
	}
	if u.History[0].Role != "user" || u.History[0].Content != "hello" {
		t.Fatalf("first turn = %+v, want user/hello", u.History[0])
	}
	if u.History[1].Role != "assistant" || u.History[1].Content != "world" {
		t.Fatalf("second turn = %+v, want assistant/world", u.History[1])
	}
}

func TestExchangeBannedNeverCallsClient(t *testing.T) {
	client := &fakeClient{text: "should not be seen"}
	o, store := newOrchestrator(t, client, &fakeTypist{})

	store.GetOrCreate(42)
	if err := store.SetBanned(42, true); err != nil {
		t.Fatalf("ban: %v", err)
	}

	got := o.Exchange(context.Background(), 42, 100, "hello")
	if got != ReplyBanned {
		t.Fatalf("reply = %q, want the ban refusal", got)
	}
	if calls := client.calls.Load(); calls != 0 {
		t.Fatalf("completion calls = %d, want 0 for banned user", calls)
	}
}

func TestExchangePromptWindowIsBounded(t *testing.T) {
	client := &fakeClient{text: "ack"}
	o, store := newOrchestrator(t, client, &fakeTypist{})

	for i := 0; i < 10; i++ {
		store.AppendExchange(42, "old question", "old answer")
	}
	o.Exchange(context.Background(), 42, 100, "newest")

	msgs := client.lastReq.Messages
	// last 4 history entries + the new user turn
	if len(msgs) != 5 {
		t.Fatalf("prompt window len = %d, want 5, got %+v", len(msgs), msgs)
	}
	if msgs[len(msgs)-1].Content != "newest" {
		t.Fatalf("final turn = %+v, want the new question", msgs[len(msgs)-1])
	}
	if client.lastReq.Model != "deepseek-ai/DeepSeek-V3" || client.lastReq.MaxTokens != 1024 {
		t.Fatalf("model parameters not applied: %+v", client.lastReq)
	}
}

func TestExchangeIncludesSystemPrompt(t *testing.T) {
	client := &fakeClient{text: "ack"}
	store := contextstore.New(6)
	prof := profile.Default()
	prof.SystemPrompt = "You are the oracle."
	o := New(Options{
		Store:    store,
		Client:   client,
		Profile:  prof,
		Typist:   &fakeTypist{},
		Presence: presence.Options{Interval: 2 * time.Millisecond},
	})

	o.Exchange(context.Background(), 42, 100, "hello")
	msgs := client.lastReq.Messages
	if len(msgs) != 2 || msgs[0].Role != "system" {
		t.Fatalf("prompt should open with the system turn: %+v", msgs)
	}
}

func TestExchangeMapsErrorKindsToDistinctApologies(t *testing.T) {
	cases := []struct {
		kind llm.ErrorKind
		want string
	}{
		{llm.KindRateLimited, ReplyRateLimited},
		{llm.KindTimeout, ReplyTimeout},
		{llm.KindUnauthorized, ReplyUnauthorized},
		{llm.KindServerError, ReplyServerError},
		{llm.KindMalformedResponse, ReplyGarbled},
		{llm.KindNetworkError, ReplyUnavailable},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			client := &fakeClient{err: &llm.Error{Kind: tc.kind}}
			o, store := newOrchestrator(t, client, &fakeTypist{})

			got := o.Exchange(context.Background(), 42, 100, "hello")
			if got != tc.want {
				t.Fatalf("reply = %q, want %q", got, tc.want)
			}
			if u := store.GetOrCreate(42); u.MessageCount != 0 {
				t.Fatalf("failed exchange must not advance message count: %d", u.MessageCount)
			}
		})
	}
}

func TestExchangeUnknownErrorGetsGenericApology(t *testing.T) {
	client := &fakeClient{err: errors.New("surprise")}
	o, _ := newOrchestrator(t, client, &fakeTypist{})
	if got := o.Exchange(context.Background(), 42, 100, "hello"); got != ReplyUnavailable {
		t.Fatalf("reply = %q, want generic apology", got)
	}
}

func TestPresenceStopsBeforeReturnOnSuccessAndFailure(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
	}{
		{"success", nil},
		{"failure", &llm.Error{Kind: llm.KindServerError}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			typist := &fakeTypist{}
			client := &fakeClient{text: "ok", err: tc.err, delay: 15 * time.Millisecond}
			o, _ := newOrchestrator(t, client, typist)

			o.Exchange(context.Background(), 42, 100, "hello")
			settled := typist.sends.Load()
			if settled == 0 {
				t.Fatal("typing signal never fired during the exchange")
			}
			time.Sleep(20 * time.Millisecond)
			if after := typist.sends.Load(); after != settled {
				t.Fatalf("typing continued after Exchange returned: %d -> %d", settled, after)
			}
		})
	}
}

func TestExchangeTruncatesUserText(t *testing.T) {
	client := &fakeClient{text: "ok"}
	store := contextstore.New(6)
	o := New(Options{
		Store:        store,
		Client:       client,
		Profile:      profile.Default(),
		Typist:       &fakeTypist{},
		MaxUserChars: 10,
		Presence:     presence.Options{Interval: 2 * time.Millisecond},
	})

	o.Exchange(context.Background(), 42, 100, "0123456789ABCDEF")
	msgs := client.lastReq.Messages
	if got := msgs[len(msgs)-1].Content; got != "0123456789" {
		t.Fatalf("user turn = %q, want truncated to 10 chars", got)
	}
}
