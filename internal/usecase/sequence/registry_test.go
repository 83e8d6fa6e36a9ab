package sequence

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"moneyflow-bot/internal/domain"
)

type fakeTimer struct {
	deadline time.Duration
	fn       func()
	stopped  bool
	fired    bool
}

func (t *fakeTimer) Stop() bool {
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &fakeTimer{deadline: c.now + d, fn: fn}
	c.timers = append(c.timers, timer)
	return timer
}

// Advance moves the clock forward, firing due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	due := make([]*fakeTimer, 0)
	for _, timer := range c.timers {
		if !timer.fired && !timer.stopped && timer.deadline <= c.now {
			timer.fired = true
			due = append(due, timer)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].deadline < due[j].deadline })
	c.mu.Unlock()

	for _, timer := range due {
		timer.fn()
	}
}

type fakeUserRepo struct {
	mu          sync.Mutex
	user        domain.User
	getErrs     int
	followUps   int
	followUpErr error
}

func (r *fakeUserRepo) GetByTGID(tgUserID int64) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErrs > 0 {
		r.getErrs--
		return domain.User{}, errors.New("db unreachable")
	}
	return r.user, nil
}

func (r *fakeUserRepo) setPaid(paid bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.user.IsPaid = paid
}

func (r *fakeUserRepo) IncFollowUpCount(tgUserID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.followUpErr != nil {
		return r.followUpErr
	}
	r.followUps++
	return nil
}

func (r *fakeUserRepo) UpsertByTGID(domain.TelegramProfile) (domain.User, error) {
	return domain.User{}, nil
}
func (r *fakeUserRepo) MarkPaid(int64, domain.Tier, int) (domain.User, error) {
	return domain.User{}, nil
}
func (r *fakeUserRepo) TouchLastActive(int64) error                      { return nil }
func (r *fakeUserRepo) IncPricingViews(int64) error                      { return nil }
func (r *fakeUserRepo) ListByAudience(domain.Audience) ([]domain.User, error) { return nil, nil }

type fakeSender struct {
	mu     sync.Mutex
	sent   []string
	failOn map[int]bool
	calls  int
}

func (s *fakeSender) SendWithRetry(chatID int64, text string, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if s.failOn[idx] {
		return errors.New("send failed")
	}
	s.sent = append(s.sent, text)
	return nil
}

func (s *fakeSender) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func newTestRegistry(repo *fakeUserRepo, sender *fakeSender) (*Registry, *fakeClock) {
	clock := &fakeClock{}
	return NewRegistry(repo, sender, clock, zerolog.Nop()), clock
}

func steps(delays ...time.Duration) []Step {
	out := make([]Step, 0, len(delays))
	for i, d := range delays {
		out = append(out, Step{Delay: d, Label: fmt.Sprintf("step_%d", i+1), Text: StaticText(fmt.Sprintf("message %d", i+1))})
	}
	return out
}

func TestScheduleFiresAllSteps(t *testing.T) {
	repo := &fakeUserRepo{}
	sender := &fakeSender{}
	r, clock := newTestRegistry(repo, sender)

	if !r.Schedule(1, 100, "conversion", steps(time.Minute, 2*time.Minute, 3*time.Minute)) {
		t.Fatal("expected sequence to be scheduled")
	}
	clock.Advance(3 * time.Minute)

	if got := sender.texts(); len(got) != 3 || got[0] != "message 1" || got[2] != "message 3" {
		t.Fatalf("unexpected sends: %v", got)
	}
	if tally := r.TallyFor(100); tally.Attempted != 3 || tally.Delivered != 3 {
		t.Fatalf("unexpected tally: %+v", tally)
	}
	if repo.followUps != 3 {
		t.Fatalf("expected 3 follow-up increments, got %d", repo.followUps)
	}
	if kinds := r.PendingKinds(100); len(kinds) != 0 {
		t.Fatalf("sequence should be completed, still pending: %v", kinds)
	}
}

func TestScheduleDuplicateKindIsNoOp(t *testing.T) {
	repo := &fakeUserRepo{}
	sender := &fakeSender{}
	r, clock := newTestRegistry(repo, sender)

	if !r.Schedule(1, 100, "conversion", steps(time.Minute)) {
		t.Fatal("first schedule should succeed")
	}
	if r.Schedule(1, 100, "conversion", steps(time.Minute, 2*time.Minute)) {
		t.Fatal("duplicate kind should not be rescheduled")
	}
	clock.Advance(2 * time.Minute)
	if got := sender.texts(); len(got) != 1 {
		t.Fatalf("only the first sequence should fire, got %d sends", len(got))
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	repo := &fakeUserRepo{}
	sender := &fakeSender{}
	r, clock := newTestRegistry(repo, sender)

	r.Schedule(1, 100, "conversion", steps(time.Minute, 2*time.Minute))
	r.Cancel(100)
	r.Cancel(100)
	r.Cancel(999) // never scheduled

	clock.Advance(time.Hour)
	if got := sender.texts(); len(got) != 0 {
		t.Fatalf("canceled sequence must not send, got %v", got)
	}
}

func TestAbortOnConversion(t *testing.T) {
	repo := &fakeUserRepo{}
	sender := &fakeSender{}
	r, clock := newTestRegistry(repo, sender)

	r.Schedule(1, 100, "conversion", steps(5*time.Minute, 15*time.Minute, 30*time.Minute, time.Hour))

	// First two steps fire before conversion.
	clock.Advance(20 * time.Minute)
	if got := sender.texts(); len(got) != 2 {
		t.Fatalf("expected 2 sends before conversion, got %d", len(got))
	}

	// Recipient pays at t=20m; the step at t=30m observes it, aborts itself
	// and cancels the rest without an explicit Cancel call.
	repo.setPaid(true)
	clock.Advance(time.Hour)

	if got := sender.texts(); len(got) != 2 {
		t.Fatalf("steps after conversion must not send, got %d", len(got))
	}
	if tally := r.TallyFor(100); tally.Attempted != 2 || tally.Delivered != 2 {
		t.Fatalf("aborted steps must not count as attempted: %+v", tally)
	}
	if kinds := r.PendingKinds(100); len(kinds) != 0 {
		t.Fatalf("sequence should be gone after abort, still pending: %v", kinds)
	}
}

func TestStepFailureKeepsLaterSteps(t *testing.T) {
	repo := &fakeUserRepo{}
	sender := &fakeSender{failOn: map[int]bool{0: true}}
	r, clock := newTestRegistry(repo, sender)

	r.Schedule(1, 100, "conversion", steps(time.Minute, 2*time.Minute))
	clock.Advance(2 * time.Minute)

	if got := sender.texts(); len(got) != 1 || got[0] != "message 2" {
		t.Fatalf("second step should still deliver after first fails: %v", got)
	}
	if tally := r.TallyFor(100); tally.Attempted != 2 || tally.Delivered != 1 {
		t.Fatalf("unexpected tally: %+v", tally)
	}
	if repo.followUps != 1 {
		t.Fatalf("only delivered steps increment the counter, got %d", repo.followUps)
	}
}

func TestFetchErrorSkipsStepOnly(t *testing.T) {
	repo := &fakeUserRepo{getErrs: 1}
	sender := &fakeSender{}
	r, clock := newTestRegistry(repo, sender)

	r.Schedule(1, 100, "conversion", steps(time.Minute, 2*time.Minute))
	clock.Advance(2 * time.Minute)

	if got := sender.texts(); len(got) != 1 || got[0] != "message 2" {
		t.Fatalf("step with failed state read is skipped, later step still runs: %v", got)
	}
	if tally := r.TallyFor(100); tally.Attempted != 1 || tally.Delivered != 1 {
		t.Fatalf("skipped step must not count as attempted: %+v", tally)
	}
}

func TestDynamicTextRendersAtFireTime(t *testing.T) {
	repo := &fakeUserRepo{}
	sender := &fakeSender{}
	r, clock := newTestRegistry(repo, sender)

	slots := 20
	r.Schedule(1, 100, "conversion", []Step{{
		Delay: time.Minute,
		Label: "slots",
		Text:  DynamicText(func() string { return fmt.Sprintf("%d slots left", slots) }),
	}})

	slots = 3
	clock.Advance(time.Minute)

	if got := sender.texts(); len(got) != 1 || got[0] != "3 slots left" {
		t.Fatalf("dynamic text should use the value at fire time: %v", got)
	}
}

func TestSeparateKindsAreIndependent(t *testing.T) {
	repo := &fakeUserRepo{}
	sender := &fakeSender{}
	r, clock := newTestRegistry(repo, sender)

	r.Schedule(1, 100, "conversion", steps(time.Minute))
	if !r.Schedule(1, 100, "nurture", steps(2*time.Minute)) {
		t.Fatal("different kind should schedule alongside an existing sequence")
	}
	kinds := r.PendingKinds(100)
	if len(kinds) != 2 {
		t.Fatalf("expected 2 pending kinds, got %v", kinds)
	}
	clock.Advance(2 * time.Minute)
	if got := sender.texts(); len(got) != 2 {
		t.Fatalf("both kinds should fire, got %v", got)
	}
}
