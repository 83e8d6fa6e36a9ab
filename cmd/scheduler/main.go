package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"moneyflow-bot/internal/adapters/repo"
	"moneyflow-bot/internal/adapters/telegram"
	"moneyflow-bot/internal/infra/cache"
	"moneyflow-bot/internal/infra/config"
	"moneyflow-bot/internal/infra/db"
	"moneyflow-bot/internal/infra/log"
	"moneyflow-bot/internal/infra/metrics"
	"moneyflow-bot/internal/usecase/course"
	"moneyflow-bot/internal/usecase/drip"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	metrics.StartServer(ctx, logger, ":9091")

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: database connection failed")
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: bot client creation failed")
	}

	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		logger.Warn().Err(err).Str("tz", cfg.TZ).Msg("scheduler: unknown timezone, using UTC")
		loc = time.UTC
	}

	repoAdapter := repo.NewPostgres(pool)
	sender := telegram.NewSender(botAPI, logger,
		cfg.Sending.MaxChunkSize, time.Duration(cfg.Sending.ChunkDelayMS)*time.Millisecond)
	courseService := course.NewService(repoAdapter, repoAdapter, logger)
	dripService := drip.NewService(repoAdapter, courseService, cache.NewRedis(redisClient),
		drip.SenderFunc(func(chatID int64, text string) error {
			return sender.Deliver(chatID, text, nil)
		}), logger, cfg.Scheduler.LessonHour, loc)

	logger.Info().Int("lesson_hour", cfg.Scheduler.LessonHour).Str("tz", loc.String()).Msg("scheduler started")

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("scheduler stopping")
			return
		case now := <-ticker.C:
			dripService.RunOnce(now)
		}
	}
}
