package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mentecuantica/game-of-gods/internal/admin"
	"github.com/mentecuantica/game-of-gods/internal/contextstore"
)

const (
	defaultPollTimeout    = 30 * time.Second
	defaultTaskTimeout    = 10 * time.Minute
	defaultMaxConcurrency = 3
	workerQueueSize       = 16

	helpText = "Ask me anything and the oracle will answer.\n" +
		"In groups, address me with /oracle <question>.\n" +
		"Plain messages in a private chat are treated as questions."
	forbiddenText = "You are not allowed to do that."
)

// Exchanger runs one question/answer round trip and always produces a reply.
type Exchanger interface {
	Exchange(ctx context.Context, userID, chatID int64, text string) string
}

type RuntimeOptions struct {
	API    *API
	Oracle Exchanger
	Admin  *admin.Ops
	Logger *slog.Logger

	PollTimeout    time.Duration
	TaskTimeout    time.Duration
	MaxConcurrency int
}

// Runtime drives the long-poll loop and dispatches each inbound message to a
// per-chat worker, so replies within one chat stay in order while distinct
// chats proceed in parallel up to the global concurrency cap.
type Runtime struct {
	api    *API
	oracle Exchanger
	admin  *admin.Ops
	logger *slog.Logger

	pollTimeout time.Duration
	taskTimeout time.Duration
	sem         chan struct{}

	mu      sync.Mutex
	workers map[int64]chan job

	botUsername string
}

type job struct {
	chatID    int64
	chatType  string
	userID    int64
	messageID int64
	text      string
}

func NewRuntime(opts RuntimeOptions) *Runtime {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pollTimeout := opts.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}
	taskTimeout := opts.TaskTimeout
	if taskTimeout <= 0 {
		taskTimeout = defaultTaskTimeout
	}
	maxConc := opts.MaxConcurrency
	if maxConc <= 0 {
		maxConc = defaultMaxConcurrency
	}
	return &Runtime{
		api:         opts.API,
		oracle:      opts.Oracle,
		admin:       opts.Admin,
		logger:      logger,
		pollTimeout: pollTimeout,
		taskTimeout: taskTimeout,
		sem:         make(chan struct{}, maxConc),
		workers:     make(map[int64]chan job),
	}
}

// Run blocks until ctx is cancelled. A failed getUpdates call backs off
// briefly and retries with the same offset, so no update is skipped.
func (r *Runtime) Run(ctx context.Context) error {
	me, err := r.api.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	r.botUsername = me.Username
	r.logger.Info("telegram runtime started", "bot", me.Username, "bot_id", me.ID)

	var offset int64
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		updates, next, err := r.api.GetUpdates(ctx, offset, r.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if IsPollTimeout(err) {
				continue
			}
			r.logger.Warn("getUpdates failed, retrying", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
			continue
		}
		offset = next
		for _, u := range updates {
			r.dispatch(ctx, u)
		}
	}
}

func (r *Runtime) dispatch(ctx context.Context, u Update) {
	msg := u.Message
	if msg == nil || msg.Chat == nil || msg.From == nil || msg.From.IsBot {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	j := job{
		chatID:    msg.Chat.ID,
		chatType:  msg.Chat.Type,
		userID:    msg.From.ID,
		messageID: msg.MessageID,
		text:      text,
	}
	r.enqueue(ctx, j)
}

// enqueue hands the job to the chat's worker, starting one on first contact.
// A full queue drops the message rather than stalling the poll loop.
func (r *Runtime) enqueue(ctx context.Context, j job) {
	r.mu.Lock()
	ch, ok := r.workers[j.chatID]
	if !ok {
		ch = make(chan job, workerQueueSize)
		r.workers[j.chatID] = ch
		go r.workerLoop(ctx, j.chatID, ch)
	}
	r.mu.Unlock()

	select {
	case ch <- j:
	default:
		r.logger.Warn("chat queue full, dropping message", "chat_id", j.chatID)
	}
}

func (r *Runtime) workerLoop(ctx context.Context, chatID int64, jobs <-chan job) {
	r.logger.Debug("chat worker started", "chat_id", chatID)
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-jobs:
			select {
			case <-ctx.Done():
				return
			case r.sem <- struct{}{}:
			}
			r.handle(ctx, j)
			<-r.sem
		}
	}
}

func (r *Runtime) handle(ctx context.Context, j job) {
	taskCtx, cancel := context.WithTimeout(ctx, r.taskTimeout)
	defer cancel()

	cmd, args := splitCommand(j.text, r.botUsername)
	switch cmd {
	case "/start", "/help":
		r.reply(taskCtx, j, helpText)
	case "/oracle", "/ask":
		if args == "" {
			r.reply(taskCtx, j, "Usage: /oracle <question>")
			return
		}
		r.exchange(taskCtx, j, args)
	case "/admin", "/stats":
		r.adminGate(taskCtx, j, func() {
			r.reply(taskCtx, j, admin.FormatStats(r.admin.Stats()))
		})
	case "/ban":
		r.adminGate(taskCtx, j, func() { r.setBan(taskCtx, j, args, true) })
	case "/unban":
		r.adminGate(taskCtx, j, func() { r.setBan(taskCtx, j, args, false) })
	case "/broadcast":
		r.adminGate(taskCtx, j, func() {
			if args == "" {
				r.reply(taskCtx, j, "Usage: /broadcast <message>")
				return
			}
			sent, failed := r.admin.Broadcast(taskCtx, args)
			r.reply(taskCtx, j, fmt.Sprintf("Broadcast done: %d sent, %d failed.", sent, failed))
		})
	case "/export":
		r.adminGate(taskCtx, j, func() { r.exportUsers(taskCtx, j) })
	case "/logs":
		r.adminGate(taskCtx, j, func() { r.exportLogs(taskCtx, j) })
	case "":
		// Bare text is a question only in a direct chat. Group chatter that
		// does not address the bot is ignored.
		if j.chatType == "private" {
			r.exchange(taskCtx, j, j.text)
		}
	default:
		if j.chatType == "private" {
			r.reply(taskCtx, j, "Unknown command. Try /help.")
		}
	}
}

func (r *Runtime) exchange(ctx context.Context, j job, question string) {
	reply := r.oracle.Exchange(ctx, j.userID, j.chatID, question)
	r.reply(ctx, j, reply)
}

func (r *Runtime) adminGate(ctx context.Context, j job, fn func()) {
	if !r.admin.Authorized(j.userID) {
		r.logger.Warn("admin command rejected", "user_id", j.userID, "chat_id", j.chatID)
		r.reply(ctx, j, forbiddenText)
		return
	}
	fn()
}

func (r *Runtime) setBan(ctx context.Context, j job, args string, banned bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil || id == 0 {
		r.reply(ctx, j, "Usage: /ban <user id> or /unban <user id>")
		return
	}
	var verb string
	if banned {
		err = r.admin.Ban(id)
		verb = "banned"
	} else {
		err = r.admin.Unban(id)
		verb = "unbanned"
	}
	if err != nil {
		if errors.Is(err, contextstore.ErrNotFound) {
			r.reply(ctx, j, fmt.Sprintf("User %d has never talked to the oracle.", id))
			return
		}
		r.reply(ctx, j, "Operation failed: "+err.Error())
		return
	}
	r.reply(ctx, j, fmt.Sprintf("User %d %s.", id, verb))
}

func (r *Runtime) exportUsers(ctx context.Context, j job) {
	data, err := r.admin.ExportUsers()
	if err != nil {
		r.reply(ctx, j, "Export failed: "+err.Error())
		return
	}
	name := "users_" + time.Now().UTC().Format("20060102_150405") + ".csv"
	if err := r.api.SendDocument(ctx, j.chatID, name, data, "User export"); err != nil {
		r.logger.Error("send export failed", "error", err)
		r.reply(ctx, j, "Could not deliver the export.")
	}
}

func (r *Runtime) exportLogs(ctx context.Context, j job) {
	dump := r.admin.ExportLogs()
	if strings.TrimSpace(dump) == "" {
		r.reply(ctx, j, "No log lines buffered yet.")
		return
	}
	name := "logs_" + time.Now().UTC().Format("20060102_150405") + ".txt"
	if err := r.api.SendDocument(ctx, j.chatID, name, []byte(dump), "Recent log lines"); err != nil {
		r.logger.Error("send logs failed", "error", err)
		r.reply(ctx, j, "Could not deliver the log dump.")
	}
}

func (r *Runtime) reply(ctx context.Context, j job, text string) {
	if err := r.api.SendReply(ctx, j.chatID, text, j.messageID); err != nil {
		r.logger.Error("send reply failed", "chat_id", j.chatID, "error", err)
	}
}

// splitCommand pulls a leading /command out of text, tolerating the
// /command@botname form used in groups. A command addressed to a different
// bot is treated as plain text.
func splitCommand(text, botUsername string) (cmd, args string) {
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	head, rest, _ := strings.Cut(text, " ")
	if name, target, ok := strings.Cut(head, "@"); ok {
		if botUsername != "" && !strings.EqualFold(target, botUsername) {
			return "", text
		}
		head = name
	}
	return strings.ToLower(head), strings.TrimSpace(rest)
}
