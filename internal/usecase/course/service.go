package course

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"moneyflow-bot/internal/domain"
)

// ErrInvalidDay is returned for day numbers outside the course.
var ErrInvalidDay = errors.New("invalid course day")

// Service handles registration and 7-day course progression.
type Service struct {
	users    domain.UserRepo
	progress domain.ProgressRepo
	log      zerolog.Logger
}

// NewService creates the service.
func NewService(users domain.UserRepo, progress domain.ProgressRepo, logger zerolog.Logger) *Service {
	return &Service{users: users, progress: progress, log: logger}
}

// Register upserts the user on first contact.
func (s *Service) Register(profile domain.TelegramProfile) (domain.User, error) {
	user, err := s.users.UpsertByTGID(profile)
	if err != nil {
		return domain.User{}, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}

// ProgressFor returns the user's course progress. A storage failure degrades
// to day-1 defaults so the interaction still works.
func (s *Service) ProgressFor(user domain.User) domain.Progress {
	progress, err := s.progress.GetByUserID(user.ID)
	if err != nil {
		s.log.Error().Err(err).Int64("user", user.TGUserID).Msg("progress read failed, using day 1 defaults")
		return domain.Progress{UserID: user.ID, CurrentDay: 1}
	}
	if progress.CurrentDay < 1 {
		progress.CurrentDay = 1
	}
	return progress
}

// Lesson returns the lesson text for the given day.
func (s *Service) Lesson(day int) (string, error) {
	if day < 1 || day > domain.LastDay {
		return "", ErrInvalidDay
	}
	return lessons[day], nil
}

// CompleteDay marks the day done and advances the current day. The final
// day's completion flips the program-completed flag in storage.
func (s *Service) CompleteDay(user domain.User, day int) (domain.Progress, error) {
	if day < 1 || day > domain.LastDay {
		return domain.Progress{}, ErrInvalidDay
	}
	progress, err := s.progress.CompleteDay(user.ID, day)
	if err != nil {
		return domain.Progress{}, fmt.Errorf("complete day %d: %w", day, err)
	}
	return progress, nil
}

// UpsellDay reports whether completing the day triggers an upsell nudge.
func UpsellDay(day int) bool {
	return day == 3 || day == 5 || day == domain.LastDay
}
