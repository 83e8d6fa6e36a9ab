package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"moneyflow-bot/internal/adapters/bot"
	"moneyflow-bot/internal/adapters/repo"
	"moneyflow-bot/internal/adapters/telegram"
	"moneyflow-bot/internal/domain"
	"moneyflow-bot/internal/infra/config"
	"moneyflow-bot/internal/infra/db"
	httpinfra "moneyflow-bot/internal/infra/http"
	"moneyflow-bot/internal/infra/log"
	"moneyflow-bot/internal/infra/metrics"
	"moneyflow-bot/internal/infra/queue"
	"moneyflow-bot/internal/usecase/access"
	"moneyflow-bot/internal/usecase/course"
	"moneyflow-bot/internal/usecase/sequence"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer pool.Close()

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot client creation failed")
	}

	repoAdapter := repo.NewPostgres(pool)
	sender := telegram.NewSender(botAPI, logger,
		cfg.Sending.MaxChunkSize, time.Duration(cfg.Sending.ChunkDelayMS)*time.Millisecond)

	courseService := course.NewService(repoAdapter, repoAdapter, logger)
	gate := access.NewGate(repoAdapter, logger)
	sequences := sequence.NewRegistry(repoAdapter,
		sequence.SenderFunc(func(chatID int64, text string, attempts int) error {
			return sender.SendWithRetry(chatID, text, nil, attempts)
		}), sequence.NewRealClock(), logger)

	var jobs domain.BroadcastQueue
	if cfg.AMQPURL != "" {
		rabbit, err := queue.NewRabbitBroadcastQueue(cfg.AMQPURL, cfg.Queues.Broadcast)
		if err != nil {
			logger.Fatal().Err(err).Msg("rabbitmq connection failed")
		}
		defer rabbit.Close()
		jobs = rabbit
	} else {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		jobs = queue.NewRedisBroadcastQueue(redisClient, cfg.Queues.Broadcast)
	}

	h := bot.NewHandler(botAPI, sender, logger, courseService, gate, sequences, repoAdapter, repoAdapter, jobs, cfg.IsAdmin)

	if cfg.Telegram.WebhookURL != "" {
		wh, err := tgbotapi.NewWebhook(cfg.Telegram.WebhookURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("webhook config invalid")
		}
		if _, err := botAPI.Request(wh); err != nil {
			logger.Fatal().Err(err).Msg("webhook registration failed")
		}
	}

	srv := httpinfra.NewServer(logger)
	srv.Router.Post("/bot/webhook", func(w http.ResponseWriter, r *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.HandleUpdate(r.Context(), update)
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("HTTP server stopped")
		}
	}()
	logger.Info().Int("port", cfg.Port).Msg("bot gateway started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop
	logger.Info().Msg("bot gateway stopping")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

var _ domain.UserRepo = (*repo.Postgres)(nil)
var _ domain.ProgressRepo = (*repo.Postgres)(nil)
var _ domain.UpsellRepo = (*repo.Postgres)(nil)
var _ domain.BroadcastQueue = (*queue.RedisBroadcastQueue)(nil)
var _ domain.BroadcastQueue = (*queue.RabbitBroadcastQueue)(nil)
