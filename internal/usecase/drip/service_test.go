package drip

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"moneyflow-bot/internal/domain"
	"moneyflow-bot/internal/usecase/course"
)

type stubUserRepo struct {
	paid   []domain.User
	unpaid []domain.User
}

func (s *stubUserRepo) ListByAudience(audience domain.Audience) ([]domain.User, error) {
	switch audience {
	case domain.AudiencePaid:
		return s.paid, nil
	case domain.AudienceUnpaid:
		return s.unpaid, nil
	}
	return nil, domain.ErrUnknownAudience
}

func (s *stubUserRepo) UpsertByTGID(domain.TelegramProfile) (domain.User, error) {
	return domain.User{}, errors.New("not implemented")
}
func (s *stubUserRepo) GetByTGID(int64) (domain.User, error) {
	return domain.User{}, domain.ErrUserNotFound
}
func (s *stubUserRepo) MarkPaid(int64, domain.Tier, int) (domain.User, error) {
	return domain.User{}, errors.New("not implemented")
}
func (s *stubUserRepo) TouchLastActive(int64) error  { return nil }
func (s *stubUserRepo) IncFollowUpCount(int64) error { return nil }
func (s *stubUserRepo) IncPricingViews(int64) error  { return nil }

type stubProgressRepo struct {
	byUser map[int64]domain.Progress
}

func (s *stubProgressRepo) GetByUserID(userID int64) (domain.Progress, error) {
	if p, ok := s.byUser[userID]; ok {
		return p, nil
	}
	return domain.Progress{UserID: userID, CurrentDay: 1}, nil
}
func (s *stubProgressRepo) CompleteDay(int64, int) (domain.Progress, error) {
	return domain.Progress{}, errors.New("not implemented")
}
func (s *stubProgressRepo) SetCurrentDay(int64, int) error { return nil }

// memCache mimics the SetNX/Del contract of the Redis cache.
type memCache struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newMemCache() *memCache {
	return &memCache{keys: make(map[string]struct{})}
}

func (c *memCache) Once(key string, _ time.Duration, fn func() error) error {
	c.mu.Lock()
	if _, ok := c.keys[key]; ok {
		c.mu.Unlock()
		return nil
	}
	c.keys[key] = struct{}{}
	c.mu.Unlock()
	if err := fn(); err != nil {
		c.mu.Lock()
		delete(c.keys, key)
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *memCache) Set(string, []byte, time.Duration) error { return nil }
func (c *memCache) Get(string) ([]byte, error)              { return nil, errors.New("missing") }

type recordingSender struct {
	mu   sync.Mutex
	sent map[int64][]string
	fail map[int64]bool
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: make(map[int64][]string), fail: make(map[int64]bool)}
}

func (r *recordingSender) Deliver(chatID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[chatID] {
		return errors.New("unreachable")
	}
	r.sent[chatID] = append(r.sent[chatID], text)
	return nil
}

func at(hour int) time.Time {
	return time.Date(2026, 3, 10, hour, 30, 0, 0, time.UTC)
}

func newService(users *stubUserRepo, progress *stubProgressRepo, cache domain.Cache, sender Sender) *Service {
	logger := zerolog.Nop()
	courseUC := course.NewService(users, progress, logger)
	return NewService(users, courseUC, cache, sender, logger, 7, time.UTC)
}

func TestRunOnceOutsideSendHourDoesNothing(t *testing.T) {
	sender := newRecordingSender()
	users := &stubUserRepo{paid: []domain.User{{ID: 1, TGUserID: 100, IsPaid: true}}}
	svc := newService(users, &stubProgressRepo{}, newMemCache(), sender)

	svc.RunOnce(at(12))

	if len(sender.sent) != 0 {
		t.Fatalf("expected no sends outside the send hour, got %v", sender.sent)
	}
}

func TestLessonSentOncePerDay(t *testing.T) {
	sender := newRecordingSender()
	users := &stubUserRepo{paid: []domain.User{{ID: 1, TGUserID: 100, IsPaid: true}}}
	progress := &stubProgressRepo{byUser: map[int64]domain.Progress{1: {UserID: 1, CurrentDay: 3}}}
	svc := newService(users, progress, newMemCache(), sender)

	svc.RunOnce(at(7))
	svc.RunOnce(at(7))

	if got := len(sender.sent[100]); got != 1 {
		t.Fatalf("expected exactly 1 lesson despite two ticks, got %d", got)
	}
}

func TestCompletedProgramGetsNoLesson(t *testing.T) {
	sender := newRecordingSender()
	users := &stubUserRepo{paid: []domain.User{{ID: 1, TGUserID: 100, IsPaid: true}}}
	progress := &stubProgressRepo{byUser: map[int64]domain.Progress{
		1: {UserID: 1, CurrentDay: 8, CompletedDays: []int{1, 2, 3, 4, 5, 6, 7}, ProgramCompleted: true},
	}}
	svc := newService(users, progress, newMemCache(), sender)

	svc.RunOnce(at(7))

	if len(sender.sent[100]) != 0 {
		t.Fatalf("expected no lesson after completion, got %v", sender.sent[100])
	}
}

func TestNurtureOnMilestoneDaysOnly(t *testing.T) {
	now := at(7)
	sender := newRecordingSender()
	users := &stubUserRepo{unpaid: []domain.User{
		{ID: 1, TGUserID: 100, JoinedAt: now.Add(-26 * time.Hour)}, // day 1
		{ID: 2, TGUserID: 200, JoinedAt: now.Add(-2 * 24 * time.Hour)},
		{ID: 3, TGUserID: 300, JoinedAt: now.Add(-7*24*time.Hour - time.Hour)}, // day 7
	}}
	svc := newService(users, &stubProgressRepo{}, newMemCache(), sender)

	svc.RunOnce(now)

	if len(sender.sent[100]) != 1 {
		t.Fatalf("expected a day-1 nurture message, got %v", sender.sent[100])
	}
	if len(sender.sent[200]) != 0 {
		t.Fatalf("expected nothing on day 2, got %v", sender.sent[200])
	}
	if len(sender.sent[300]) != 1 {
		t.Fatalf("expected a day-7 nurture message, got %v", sender.sent[300])
	}
}

func TestFailedDeliveryReleasesDedupeKey(t *testing.T) {
	sender := newRecordingSender()
	sender.fail[100] = true
	users := &stubUserRepo{paid: []domain.User{{ID: 1, TGUserID: 100, IsPaid: true}}}
	svc := newService(users, &stubProgressRepo{}, newMemCache(), sender)

	svc.RunOnce(at(7))
	sender.fail[100] = false
	svc.RunOnce(at(7))

	if got := len(sender.sent[100]); got != 1 {
		t.Fatalf("expected the retry after a failed send to deliver once, got %d", got)
	}
}
