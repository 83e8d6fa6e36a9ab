package telegram

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"moneyflow-bot/internal/infra/metrics"
)

// API is the slice of the Telegram client the sender depends on.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// SendOptions carries per-message options. They apply to the first chunk
// only; follow-up chunks go out plain.
type SendOptions struct {
	ParseMode   string
	ReplyMarkup *tgbotapi.InlineKeyboardMarkup
}

const fallbackNotice = "Part of the message could not be delivered. Contact support if anything is missing."

// Sender delivers arbitrary-length text as ordered Telegram-safe chunks.
type Sender struct {
	api        API
	log        zerolog.Logger
	maxChunk   int
	chunkDelay time.Duration
	sleep      func(time.Duration)
}

// NewSender creates the sender. chunkDelay spaces consecutive chunks to stay
// under transport rate limits and keep long content readable.
func NewSender(api API, logger zerolog.Logger, maxChunk int, chunkDelay time.Duration) *Sender {
	return &Sender{
		api:        api,
		log:        logger,
		maxChunk:   maxChunk,
		chunkDelay: chunkDelay,
		sleep:      time.Sleep,
	}
}

// Send delivers the text fire-and-forget. Chunk failures are logged and a
// short fallback notice is attempted in place of the lost chunk; nothing is
// ever returned to the caller.
func (s *Sender) Send(chatID int64, text string, opts *SendOptions) {
	if err := s.Deliver(chatID, text, opts); err != nil {
		s.log.Error().Err(err).Int64("chat", chatID).Msg("message not fully delivered")
	}
}

// Deliver sends all chunks in order and reports an aggregate error when one
// or more chunks failed. A failed chunk never aborts the remaining ones.
func (s *Sender) Deliver(chatID int64, text string, opts *SendOptions) error {
	chunks := SplitMessage(text, s.maxChunk)
	if len(chunks) == 0 {
		return nil
	}

	var errs []error
	for i, chunk := range chunks {
		if i > 0 {
			s.sleep(s.chunkDelay)
		}
		msg := tgbotapi.NewMessage(chatID, chunk)
		if i == 0 && opts != nil {
			msg.ParseMode = opts.ParseMode
			if opts.ReplyMarkup != nil {
				msg.ReplyMarkup = opts.ReplyMarkup
			}
		}
		start := time.Now()
		_, err := s.api.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			metrics.BotSendErrors.Inc()
			s.log.Error().Err(err).Int64("chat", chatID).Int("chunk", i+1).Int("chunks", len(chunks)).Msg("failed to send chunk")
			errs = append(errs, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err))
			s.sendFallback(chatID)
			continue
		}
		metrics.MessageChunksTotal.Inc()
	}
	return errors.Join(errs...)
}

// SendWithRetry delivers the text with up to attempts tries, backing off
// exponentially between them (1s, 2s, ...). Used for follow-up steps where
// a transient transport error should not lose the message.
func (s *Sender) SendWithRetry(chatID int64, text string, opts *SendOptions, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			s.sleep(time.Second << (attempt - 1))
		}
		if err = s.Deliver(chatID, text, opts); err == nil {
			return nil
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, err)
}

func (s *Sender) sendFallback(chatID int64) {
	start := time.Now()
	_, err := s.api.Send(tgbotapi.NewMessage(chatID, fallbackNotice))
	metrics.ObserveNetworkRequest("telegram_bot", "send_fallback", strconv.FormatInt(chatID, 10), start, err)
	if err != nil {
		s.log.Error().Err(err).Int64("chat", chatID).Msg("fallback notice failed")
	}
}
