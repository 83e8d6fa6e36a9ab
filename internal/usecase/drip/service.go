package drip

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"moneyflow-bot/internal/domain"
	"moneyflow-bot/internal/infra/metrics"
	"moneyflow-bot/internal/usecase/course"
)

// dedupeTTL keeps a delivery marker long enough to survive restarts within
// the same send window.
const dedupeTTL = 48 * time.Hour

// nurtureDays are the days after registration on which an unpaid user gets
// a warm-up message.
var nurtureDays = map[int]string{
	1: "Yesterday you saw the day-1 preview. The full program turns that one exercise into a " +
		"7-day money routine. Send /pricing when you want in.",
	3: "Three days in, most of our students have already found leaks in their budget. " +
		"The course shows you where to look. Details: /pricing.",
	7: "A week ago you checked out MoneyFlow. If money still feels scattered, the 7-day " +
		"program is the reset. Last call from us: /pricing.",
}

// Sender delivers one message to one chat.
type Sender interface {
	Deliver(chatID int64, text string) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(chatID int64, text string) error

// Deliver calls f.
func (f SenderFunc) Deliver(chatID int64, text string) error {
	return f(chatID, text)
}

// Service dispatches the daily lesson drip and the nurture warm-ups. Every
// delivery runs through a cache marker, so overlapping ticks within the send
// hour never double-send.
type Service struct {
	users    domain.UserRepo
	courseUC *course.Service
	cache    domain.Cache
	sender   Sender
	log      zerolog.Logger
	hour     int
	loc      *time.Location
}

// NewService creates the dispatcher. loc defines whose morning lessonHour
// refers to.
func NewService(users domain.UserRepo, courseUC *course.Service, cache domain.Cache, sender Sender, logger zerolog.Logger, lessonHour int, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		users:    users,
		courseUC: courseUC,
		cache:    cache,
		sender:   sender,
		log:      logger,
		hour:     lessonHour,
		loc:      loc,
	}
}

// RunOnce performs one scheduler tick. Outside the send hour it does
// nothing; inside it, it delivers pending lessons and nurture messages.
func (s *Service) RunOnce(now time.Time) {
	if now.In(s.loc).Hour() != s.hour {
		return
	}
	s.sendLessons()
	s.sendNurture(now)
}

func (s *Service) sendLessons() {
	users, err := s.users.ListByAudience(domain.AudiencePaid)
	if err != nil {
		s.log.Error().Err(err).Msg("drip: paid user listing failed")
		return
	}
	for _, user := range users {
		progress := s.courseUC.ProgressFor(user)
		if progress.ProgramCompleted {
			continue
		}
		day := progress.CurrentDay
		if day > domain.LastDay {
			continue
		}
		lesson, err := s.courseUC.Lesson(day)
		if err != nil {
			continue
		}
		chatID := user.TGUserID
		key := fmt.Sprintf("lesson:%d:%d", user.TGUserID, day)
		err = s.cache.Once(key, dedupeTTL, func() error {
			if err := s.sender.Deliver(chatID, lesson); err != nil {
				return err
			}
			metrics.LessonDeliveriesTotal.Inc()
			return nil
		})
		if err != nil {
			s.log.Error().Err(err).Int64("user", user.TGUserID).Int("day", day).Msg("drip: lesson not delivered")
		}
	}
}

func (s *Service) sendNurture(now time.Time) {
	users, err := s.users.ListByAudience(domain.AudienceUnpaid)
	if err != nil {
		s.log.Error().Err(err).Msg("drip: unpaid user listing failed")
		return
	}
	for _, user := range users {
		daysSince := int(now.Sub(user.JoinedAt).Hours() / 24)
		text, ok := nurtureDays[daysSince]
		if !ok {
			continue
		}
		chatID := user.TGUserID
		key := fmt.Sprintf("nurture:%d:%d", user.TGUserID, daysSince)
		err := s.cache.Once(key, dedupeTTL, func() error {
			return s.sender.Deliver(chatID, text)
		})
		if err != nil {
			s.log.Error().Err(err).Int64("user", user.TGUserID).Int("day", daysSince).Msg("drip: nurture not delivered")
		}
	}
}
