package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"moneyflow-bot/internal/adapters/repo"
	"moneyflow-bot/internal/adapters/telegram"
	"moneyflow-bot/internal/domain"
	"moneyflow-bot/internal/infra/config"
	"moneyflow-bot/internal/infra/db"
	"moneyflow-bot/internal/infra/log"
	"moneyflow-bot/internal/infra/metrics"
	"moneyflow-bot/internal/infra/queue"
	"moneyflow-bot/internal/usecase/broadcast"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	metrics.StartServer(ctx, logger, ":9092")

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: database connection failed")
	}
	defer pool.Close()

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: bot client creation failed")
	}

	var jobs domain.BroadcastQueue
	if cfg.AMQPURL != "" {
		rabbit, err := queue.NewRabbitBroadcastQueue(cfg.AMQPURL, cfg.Queues.Broadcast)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: rabbitmq connection failed")
		}
		defer rabbit.Close()
		jobs = rabbit
	} else {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		jobs = queue.NewRedisBroadcastQueue(redisClient, cfg.Queues.Broadcast)
	}

	repoAdapter := repo.NewPostgres(pool)
	sender := telegram.NewSender(botAPI, logger,
		cfg.Sending.MaxChunkSize, time.Duration(cfg.Sending.ChunkDelayMS)*time.Millisecond)
	broadcastService := broadcast.NewService(repoAdapter,
		broadcast.SenderFunc(func(chatID int64, text string) error {
			return sender.Deliver(chatID, text, nil)
		}), logger, time.Duration(cfg.Sending.RecipientGapMS)*time.Millisecond)

	logger.Info().Msg("broadcast worker started")
	for {
		job, err := jobs.Pop(ctx)
		if errors.Is(err, context.Canceled) {
			logger.Info().Msg("broadcast worker stopping")
			return
		}
		if err != nil {
			logger.Error().Err(err).Msg("worker: queue pop failed")
			time.Sleep(time.Second)
			continue
		}
		result, err := broadcastService.Run(ctx, job)
		if err != nil {
			logger.Error().Err(err).Str("job", job.ID).Msg("worker: broadcast aborted")
		}
		logger.Info().Str("job", job.ID).Str("audience", string(job.Audience)).
			Int("sent", result.Sent).Int("failed", result.Failed).Msg("broadcast finished")
	}
}
