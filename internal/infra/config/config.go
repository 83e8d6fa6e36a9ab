package config

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig holds the configuration of all services.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"Asia/Phnom_Penh"`
	Port   int    `envconfig:"PORT" default:"8080"`

	Telegram struct {
		Token      string `envconfig:"TG_BOT_TOKEN"`
		WebhookURL string `envconfig:"TG_WEBHOOK_URL"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	AMQPURL string `envconfig:"AMQP_URL"`

	Admin struct {
		PrimaryID int64   `envconfig:"ADMIN_PRIMARY_ID"`
		IDs       []int64 `envconfig:"ADMIN_IDS"`
	} `envconfig:""`

	Sending struct {
		MaxChunkSize   int `envconfig:"MAX_CHUNK_SIZE" default:"4090"`
		ChunkDelayMS   int `envconfig:"CHUNK_DELAY_MS" default:"2000"`
		RecipientGapMS int `envconfig:"BROADCAST_GAP_MS" default:"100"`
	} `envconfig:""`

	Scheduler struct {
		LessonHour int `envconfig:"LESSON_HOUR" default:"7"`
	} `envconfig:""`

	Queues struct {
		Broadcast string `envconfig:"BROADCAST_QUEUE_KEY" default:"broadcast_jobs"`
	} `envconfig:""`
}

// IsAdmin reports whether the given Telegram ID may run admin commands.
func (c AppConfig) IsAdmin(tgUserID int64) bool {
	if tgUserID == 0 {
		return false
	}
	if tgUserID == c.Admin.PrimaryID {
		return true
	}
	for _, id := range c.Admin.IDs {
		if id == tgUserID {
			return true
		}
	}
	return false
}

// Load reads the config from the environment. A .env file is applied first
// when present.
func Load() AppConfig {
	_ = godotenv.Load()
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}
