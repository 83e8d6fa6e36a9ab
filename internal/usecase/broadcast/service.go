package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"moneyflow-bot/internal/domain"
	"moneyflow-bot/internal/infra/metrics"
)

// Sender delivers one broadcast message to one recipient.
type Sender interface {
	Deliver(chatID int64, text string) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(chatID int64, text string) error

// Deliver calls f.
func (f SenderFunc) Deliver(chatID int64, text string) error {
	return f(chatID, text)
}

// Result tallies one broadcast run.
type Result struct {
	Sent   int
	Failed int
}

// Service fans a message out to an audience. One recipient's failure is
// logged and counted; the loop always moves on to the next recipient.
type Service struct {
	users  domain.UserRepo
	sender Sender
	log    zerolog.Logger
	gap    time.Duration
	sleep  func(time.Duration)
}

// NewService creates the service. gap paces consecutive recipients so bulk
// sends stay under transport rate limits.
func NewService(users domain.UserRepo, sender Sender, logger zerolog.Logger, gap time.Duration) *Service {
	return &Service{users: users, sender: sender, log: logger, gap: gap, sleep: time.Sleep}
}

// Run executes one broadcast job.
func (s *Service) Run(ctx context.Context, job domain.BroadcastJob) (Result, error) {
	recipients, err := s.users.ListByAudience(job.Audience)
	if err != nil {
		return Result{}, fmt.Errorf("list audience %q: %w", job.Audience, err)
	}

	var result Result
	for i, user := range recipients {
		if ctx.Err() != nil {
			s.log.Warn().Str("job", job.ID).Int("sent", result.Sent).Int("remaining", len(recipients)-i).
				Msg("broadcast interrupted")
			return result, ctx.Err()
		}
		if i > 0 {
			s.sleep(s.gap)
		}
		if err := s.sender.Deliver(user.TGUserID, job.Text); err != nil {
			result.Failed++
			metrics.BroadcastRecipientsTotal.WithLabelValues("failed").Inc()
			s.log.Error().Err(err).Str("job", job.ID).Int64("user", user.TGUserID).Msg("broadcast recipient skipped")
			continue
		}
		result.Sent++
		metrics.BroadcastRecipientsTotal.WithLabelValues("sent").Inc()
	}

	s.log.Info().Str("job", job.ID).Str("audience", string(job.Audience)).
		Int("sent", result.Sent).Int("failed", result.Failed).Msg("broadcast completed")
	return result, nil
}
