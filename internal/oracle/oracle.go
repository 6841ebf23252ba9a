// Package oracle runs one user question through the completion API: ban
// check, typing presence, bounded prompt window, completion call, state
// update. The transport always gets a string back, never an error.
package oracle

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mentecuantica/game-of-gods/internal/contextstore"
	"github.com/mentecuantica/game-of-gods/internal/metrics"
	"github.com/mentecuantica/game-of-gods/internal/presence"
	"github.com/mentecuantica/game-of-gods/internal/profile"
	"github.com/mentecuantica/game-of-gods/llm"
)

// The bounded set of user-visible strings. Raw provider errors never leak.
const (
	ReplyBanned       = "Your access to the oracle is restricted."
	ReplyRateLimited  = "The oracle is answering too many seekers at once. Ask again in a minute."
	ReplyTimeout      = "The oracle took too long to answer. Please try again later."
	ReplyUnavailable  = "The oracle's realm is unreachable right now. Please try again later."
	ReplyServerError  = "The oracle stumbled while answering. Please try again later."
	ReplyGarbled      = "The oracle's answer arrived garbled. Please ask again."
	ReplyUnauthorized = "The oracle's keeper must renew the pact. Please come back later."
)

const (
	defaultWindowSize   = 4
	defaultMaxUserChars = 2000
)

type Options struct {
	Store    *contextstore.Store
	Client   llm.Client
	Profile  profile.Profile
	Typist   presence.Sender
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Presence presence.Options

	WindowSize   int
	MaxUserChars int
}

type Orchestrator struct {
	store        *contextstore.Store
	client       llm.Client
	profile      profile.Profile
	typist       presence.Sender
	logger       *slog.Logger
	metrics      *metrics.Metrics
	presenceOpts presence.Options
	windowSize   int
	maxUserChars int
}

func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	windowSize := opts.WindowSize
	if windowSize <= 0 {
		windowSize = defaultWindowSize
	}
	maxUserChars := opts.MaxUserChars
	if maxUserChars <= 0 {
		maxUserChars = defaultMaxUserChars
	}
	if opts.Presence.Logger == nil {
		opts.Presence.Logger = logger
	}
	return &Orchestrator{
		store:        opts.Store,
		client:       opts.Client,
		profile:      opts.Profile,
		typist:       opts.Typist,
		logger:       logger,
		metrics:      opts.Metrics,
		presenceOpts: opts.Presence,
		windowSize:   windowSize,
		maxUserChars: maxUserChars,
	}
}

// Exchange answers one user question. Banned users are rejected before any
// completion call; the typing signal is stopped on every path before this
// returns; errors become fixed apology strings.
func (o *Orchestrator) Exchange(ctx context.Context, userID, chatID int64, text string) string {
	log := o.logger.With(
		"correlation_id", uuid.NewString(),
		"user_id", userID,
		"chat_id", chatID,
	)

	if o.store.IsBanned(userID) {
		log.Info("exchange_rejected", "reason", "banned")
		o.countExchange("rejected")
		return ReplyBanned
	}

	sig := presence.Start(ctx, o.typist, chatID, o.presenceOpts)
	defer sig.Stop()

	text = llm.Sanitize(text, o.maxUserChars)
	o.store.GetOrCreate(userID)
	window := o.store.Window(userID, o.windowSize)

	msgs := make([]llm.Message, 0, len(window)+2)
	if o.profile.SystemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: o.profile.SystemPrompt})
	}
	msgs = append(msgs, window...)
	msgs = append(msgs, llm.Message{Role: "user", Content: text})

	start := time.Now()
	res, err := o.client.Chat(ctx, llm.Request{
		Model:       o.profile.Model,
		Messages:    msgs,
		MaxTokens:   o.profile.MaxTokens,
		Temperature: o.profile.Temperature,
		TopP:        o.profile.TopP,
	})
	if o.metrics != nil {
		o.metrics.ObserveCompletionLatency(time.Since(start))
	}
	if err != nil {
		log.Warn("exchange_failed", "kind", string(llm.KindOf(err)), "error", err.Error())
		o.countExchange("failed")
		return apologyFor(err)
	}

	o.store.AppendExchange(userID, text, res.Text)
	log.Info("exchange_done",
		"duration", time.Since(start).String(),
		"total_tokens", res.Usage.TotalTokens,
		"reply_len", len(res.Text),
	)
	o.countExchange("ok")
	return res.Text
}

func (o *Orchestrator) countExchange(outcome string) {
	if o.metrics != nil {
		o.metrics.ExchangesTotal.WithLabelValues(outcome).Inc()
	}
}

func apologyFor(err error) string {
	switch llm.KindOf(err) {
	case llm.KindRateLimited:
		return ReplyRateLimited
	case llm.KindTimeout:
		return ReplyTimeout
	case llm.KindUnauthorized:
		return ReplyUnauthorized
	case llm.KindServerError:
		return ReplyServerError
	case llm.KindMalformedResponse:
		return ReplyGarbled
	default:
		return ReplyUnavailable
	}
}
