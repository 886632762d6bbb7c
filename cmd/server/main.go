package main

import (
	"context"

	"github.com/kindled-app/kindled/internal/app"
	"github.com/kindled-app/kindled/internal/cache"
	"github.com/kindled-app/kindled/internal/chat"
	"github.com/kindled-app/kindled/internal/clock"
	"github.com/kindled-app/kindled/internal/config"
	"github.com/kindled-app/kindled/internal/db"
	"github.com/kindled-app/kindled/internal/logger"
	"github.com/kindled-app/kindled/internal/match"
	"github.com/kindled-app/kindled/internal/notify"
	"github.com/kindled-app/kindled/internal/outbox"
	"github.com/kindled-app/kindled/internal/ranking"
	"github.com/kindled-app/kindled/internal/ratelimit"
	"github.com/kindled-app/kindled/internal/repository"
	"github.com/kindled-app/kindled/internal/retry"
	"github.com/kindled-app/kindled/internal/scoring"
	"github.com/kindled-app/kindled/internal/server"
	"github.com/kindled-app/kindled/internal/swipe"
)

func main() {
	cfg := config.New()

	// Init logger (global singleton)
	logger.InitFromConfig(cfg)
	log := logger.L()

	// Init DB
	database, err := db.NewDB(cfg)
	if err != nil {
		log.Error("failed to init db", "err", err)
		return
	}

	// Init Redis
	redisCache := cache.NewRedisCache(cfg)
	if err := redisCache.Ping(context.Background()); err != nil {
		log.Error("failed to connect to redis", "err", err)
		return
	}

	clk := clock.NewSystem()
	appCtx := app.New(database, redisCache, log, clk, cfg)

	// Repositories
	profiles := repository.NewProfileRepository(appCtx.DB)
	decisions := repository.NewDecisionRepository(appCtx.DB)
	matches := repository.NewMatchRepository(appCtx.DB)
	messages := repository.NewMessageRepository(appCtx.DB)
	outboxRepo := repository.NewOutboxRepository(appCtx.DB)

	// Notifications: match and message events go to the log sink until a
	// push provider is wired.
	dispatcher := notify.NewDispatcher(&notify.LogSink{Logger: log})

	// Quota enforcement shared by swipes and messages.
	guard := ratelimit.NewGuard(ratelimit.Limits{
		SwipesPerWindow:   cfg.Quota.SwipesPerWindow,
		MessagesPerWindow: cfg.Quota.MessagesPerWindow,
		Window:            cfg.Quota.Window,
		RemoteTimeout:     cfg.Quota.RemoteTimeout,
	}, redisCache, clk, log)

	// Discovery
	engine := scoring.NewEngine(scoring.DefaultWeights(), cfg.Discovery.MaxDistanceKm)
	ranker := ranking.NewRanker(engine, profiles, redisCache, ranking.Options{
		FeedSize:    cfg.Discovery.FeedSize,
		CacheSize:   cfg.Discovery.CacheEntries,
		CacheTTL:    cfg.Discovery.CacheTTL,
		SnapshotTTL: cfg.Discovery.SnapshotTTL,
	}, clk, log)

	// Swipes and matching
	detector := match.NewDetector(decisions, matches, dispatcher, clk, log)
	processor := swipe.NewProcessor(decisions, profiles, guard, detector, ranker, clk, log)

	// Messaging
	live := chat.NewPollingFeed(messages, cfg.Outbox.PollEvery, clk, log)
	chatEngine := chat.NewEngine(messages, matches, outboxRepo, guard, live, redisCache, dispatcher, cfg.Chat.PageSize, clk, log)

	// Outbox delivery worker
	policy := retry.Policy{
		Base:        cfg.Outbox.BackoffBase,
		MaxDelay:    cfg.Outbox.BackoffMax,
		MaxAttempts: cfg.Outbox.MaxAttempts,
	}
	sender := outbox.NewStoreSender(messages, dispatcher, clk)
	worker := outbox.NewWorker(outboxRepo, sender, policy, cfg.Outbox.PollEvery, clk, log)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	go worker.Run(workerCtx)

	if cfg.App.ENV == "development" {
		if err := db.SeedTestData(database); err != nil {
			log.Error("failed to seed", "err", err)
		}
	}

	registrars := []server.Registrar{
		server.NewHandlers(ranker, processor, detector, matches, decisions, guard, chatEngine),
	}

	log.Info("starting http server", "addr", cfg.HTTP.Host+":"+cfg.HTTP.Port)
	if err := server.StartHTTPServer(cfg, registrars...); err != nil {
		log.Error("failed to start http server", "err", err)
	}

	processor.Wait()
}
