package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mentecuantica/game-of-gods/internal/admin"
	"github.com/mentecuantica/game-of-gods/internal/config"
	"github.com/mentecuantica/game-of-gods/internal/contextstore"
	"github.com/mentecuantica/game-of-gods/internal/logutil"
	"github.com/mentecuantica/game-of-gods/internal/metrics"
	"github.com/mentecuantica/game-of-gods/internal/oracle"
	"github.com/mentecuantica/game-of-gods/internal/presence"
	"github.com/mentecuantica/game-of-gods/internal/profile"
	"github.com/mentecuantica/game-of-gods/internal/telegram"
	"github.com/mentecuantica/game-of-gods/providers/openai"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"run"},
		Short:   "Run the bot daemon (long-polls Telegram until interrupted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, err := config.FromViper()
	if err != nil {
		return err
	}
	logger, logBuf, err := logutil.NewFromViper()
	if err != nil {
		return err
	}
	prof, err := profile.Load(cfg.ProfilePath)
	if err != nil {
		return err
	}

	client := openai.New(cfg.APIBaseURL, cfg.APIKey)
	if cfg.RequestTimeout > 0 {
		client.AttemptTimeout = cfg.RequestTimeout
	}

	store := contextstore.New(cfg.HistoryLimit)
	m := metrics.New("game_of_gods")
	api := telegram.NewAPI(nil, "", cfg.BotToken)

	orch := oracle.New(oracle.Options{
		Store:        store,
		Client:       client,
		Profile:      prof,
		Typist:       api,
		Logger:       logger,
		Metrics:      m,
		Presence:     presence.Options{Logger: logger},
		WindowSize:   cfg.WindowSize,
		MaxUserChars: cfg.MaxUserChars,
	})
	ops := admin.New(admin.Options{
		Store:   store,
		AdminID: cfg.AdminID,
		Sender:  api,
		Logs:    logBuf,
		Logger:  logger,
		Metrics: m,
	})
	rt := telegram.NewRuntime(telegram.RuntimeOptions{
		API:            api,
		Oracle:         orch,
		Admin:          ops,
		Logger:         logger,
		PollTimeout:    cfg.PollTimeout,
		TaskTimeout:    cfg.TaskTimeout,
		MaxConcurrency: cfg.MaxConcurrency,
	})

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv := &http.Server{Addr: cfg.MetricsListen, Handler: mux}
		go func() {
			logger.Info("metrics listener started", "addr", cfg.MetricsListen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener failed", "error", err)
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
		}()
	}

	logger.Info("model profile loaded", "model", prof.Model, "profile_path", cfg.ProfilePath)

	err = rt.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("shutting down")
		return nil
	}
	return err
}
