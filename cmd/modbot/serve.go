package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/whisper/modbot/internal/archive"
	"github.com/whisper/modbot/internal/ban"
	"github.com/whisper/modbot/internal/bot"
	"github.com/whisper/modbot/internal/config"
	"github.com/whisper/modbot/internal/detect"
	"github.com/whisper/modbot/internal/messaging"
	"github.com/whisper/modbot/internal/metrics"
	"github.com/whisper/modbot/internal/moderation"
	"github.com/whisper/modbot/internal/protocol"
	"github.com/whisper/modbot/internal/ratelimit"
	"github.com/whisper/modbot/internal/report"
	"github.com/whisper/modbot/internal/ws"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		if err := run(logger); err != nil {
			logger.Error("modbot exited with error", zap.Error(err))
			return err
		}
		return nil
	},
}

func run(logger *zap.Logger) error {
	// ── Configuration ─────────────────────────────────────────────────────────
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── NATS gateway ──────────────────────────────────────────────────────────
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATS.URL
	natsConfig.Name = cfg.NATS.Name

	natsClient, err := messaging.NewNATSClient(natsConfig, logger)
	if err != nil {
		return err
	}
	defer natsClient.Close()

	gateway := messaging.NewGateway(natsClient, cfg.NATS.RequestTimeout, logger)

	deps := bot.Deps{
		Identity:  gateway,
		Messages:  gateway,
		DM:        gateway,
		Queue:     report.NewMemoryQueue(),
		Watchlist: moderation.NewMemoryWatchlist(),
		Scorer:    detect.NewRuleScorer(),
		Logger:    logger,
	}

	// ── Redis: bans and rate limiting ─────────────────────────────────────────
	var limiter *ratelimit.Limiter
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer rdb.Close()

		bans := ban.NewStore(rdb)
		limiter = ratelimit.NewLimiter(rdb, logger)
		deps.Enforcer = bans
		deps.Bans = bans
		deps.Offenses = bans
		deps.Limiter = limiter
	} else {
		logger.Warn("redis.addr not set, bans and rate limiting disabled")
	}

	// ── Postgres: moderation archive ──────────────────────────────────────────
	if cfg.Database.URL != "" {
		db, err := archive.Open(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer db.Close()
		deps.Archive = archive.NewStore(db)
	} else {
		logger.Warn("database.url not set, moderation archive disabled")
	}

	// ── Console ───────────────────────────────────────────────────────────────
	var (
		dispatcher *bot.Dispatcher
		console    *ws.Server
	)

	deliver := func(out []protocol.Outbound) {
		for _, o := range out {
			if console != nil {
				handled, err := console.Deliver(o)
				if err != nil {
					logger.Warn("console delivery failed", zap.String("channel", o.ChannelID), zap.Error(err))
				}
				if handled {
					continue
				}
			}
			if err := natsClient.PublishOutbound([]protocol.Outbound{o}); err != nil {
				logger.Error("publish reply", zap.String("channel", o.ChannelID), zap.Error(err))
			}
		}
	}

	if cfg.WS.ListenAddr != "" {
		wsConfig := ws.DefaultServerConfig()
		wsConfig.ListenAddr = cfg.WS.ListenAddr
		wsConfig.MaxConnections = cfg.WS.MaxConnections

		router := ws.NewMessageDispatcher(logger)
		console = ws.NewServer(wsConfig, router.Dispatch, logger)
		if limiter != nil {
			console.SetLimiter(limiter)
		}
		router.Register(protocol.TypeMessage, func(conn *ws.Connection, msg interface{}) {
			consoleMsg, ok := msg.(protocol.ConsoleMsg)
			if !ok {
				return
			}
			deliver(dispatcher.Handle(ctx, ws.ConsoleInbound(conn, consoleMsg)))
		})

		deps.DM = ws.NewDMRouter(console, gateway)
	}

	// ── Dispatcher ────────────────────────────────────────────────────────────
	dispatcher = bot.New(bot.Config{
		BotUserID:     cfg.Bot.UserID,
		ReportChannel: cfg.Bot.ReportChannel,
		ModChannel:    cfg.Bot.ModChannel,
		FlagThreshold: cfg.Bot.FlagThreshold,
		MessageRule: ratelimit.Rule{
			Key:    ratelimit.RuleMessage.Key,
			Limit:  cfg.RateLimit.Limit,
			Window: cfg.RateLimit.Window,
		},
	}, deps)

	if console != nil {
		go func() {
			if err := console.Start(); err != nil {
				logger.Error("console server", zap.Error(err))
			}
		}()
	}

	if err := natsClient.SubscribeInbound(func(in protocol.Inbound) {
		deliver(dispatcher.Handle(ctx, in))
	}); err != nil {
		return err
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsSrv := &http.Server{
		Addr:              cfg.Metrics.ListenAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()

	logger.Info("modbot running",
		zap.String("version", version),
		zap.String("nats_url", cfg.NATS.URL),
		zap.String("report_channel", cfg.Bot.ReportChannel),
		zap.String("mod_channel", cfg.Bot.ModChannel),
		zap.String("console_addr", cfg.WS.ListenAddr),
		zap.String("metrics_addr", cfg.Metrics.ListenAddr))

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if console != nil {
		_ = console.Shutdown(shutdownCtx)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown", zap.Error(err))
	}
	return nil
}
