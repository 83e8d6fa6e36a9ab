package sequence

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"moneyflow-bot/internal/domain"
	"moneyflow-bot/internal/infra/metrics"
)

// sendAttempts is how often a step's delivery is tried before it is
// recorded as failed.
const sendAttempts = 3

// Step is one timed message in a follow-up sequence. Delay is measured from
// the Schedule call, not from the previous step.
type Step struct {
	Delay time.Duration
	Label string
	Text  Text
}

// Sender delivers rendered step text.
type Sender interface {
	SendWithRetry(chatID int64, text string, attempts int) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(chatID int64, text string, attempts int) error

// SendWithRetry calls f.
func (f SenderFunc) SendWithRetry(chatID int64, text string, attempts int) error {
	return f(chatID, text, attempts)
}

// Tally is the per-recipient delivery bookkeeping of fired steps.
type Tally struct {
	Attempted int
	Delivered int
}

// Registry owns all pending follow-up sequences of the process. Sequences
// live in memory only: a restart silently drops them, which is acceptable
// for marketing nudges.
type Registry struct {
	users  domain.UserRepo
	sender Sender
	clock  Clock
	log    zerolog.Logger

	mu      sync.Mutex
	active  map[int64]map[string][]Timer
	tallies map[int64]Tally
}

// NewRegistry creates the registry.
func NewRegistry(users domain.UserRepo, sender Sender, clock Clock, logger zerolog.Logger) *Registry {
	return &Registry{
		users:   users,
		sender:  sender,
		clock:   clock,
		log:     logger,
		active:  make(map[int64]map[string][]Timer),
		tallies: make(map[int64]Tally),
	}
}

// Schedule registers every step as an independent timer. At most one
// sequence per recipient per kind may be pending: a duplicate call is a
// logged no-op and returns false.
func (r *Registry) Schedule(chatID, tgUserID int64, kind string, steps []Step) bool {
	if len(steps) == 0 {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	kinds, ok := r.active[tgUserID]
	if !ok {
		kinds = make(map[string][]Timer)
		r.active[tgUserID] = kinds
	}
	if _, exists := kinds[kind]; exists {
		r.log.Debug().Int64("user", tgUserID).Str("kind", kind).Msg("sequence already pending, not rescheduled")
		return false
	}

	timers := make([]Timer, 0, len(steps))
	last := len(steps) - 1
	for i, step := range steps {
		i, step := i, step
		timers = append(timers, r.clock.AfterFunc(step.Delay, func() {
			r.fire(chatID, tgUserID, kind, i, last, step)
		}))
	}
	kinds[kind] = timers
	metrics.SequencesActive.Inc()

	r.log.Info().Int64("user", tgUserID).Str("kind", kind).Int("steps", len(steps)).
		Dur("span", steps[last].Delay).Msg("follow-up sequence scheduled")
	return true
}

// Cancel clears every pending timer of the recipient across all sequence
// kinds. Calling it twice, or with no sequence active, is a no-op.
func (r *Registry) Cancel(tgUserID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelLocked(tgUserID)
}

// PendingKinds reports which sequence kinds are still active for the
// recipient. Used by admin reporting.
func (r *Registry) PendingKinds(tgUserID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, 0, len(r.active[tgUserID]))
	for kind := range r.active[tgUserID] {
		kinds = append(kinds, kind)
	}
	return kinds
}

// TallyFor returns the attempted/delivered step counts of the recipient.
func (r *Registry) TallyFor(tgUserID int64) Tally {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tallies[tgUserID]
}

func (r *Registry) cancelLocked(tgUserID int64) {
	kinds, ok := r.active[tgUserID]
	if !ok {
		return
	}
	for kind, timers := range kinds {
		for _, timer := range timers {
			timer.Stop()
		}
		metrics.SequencesActive.Dec()
		r.log.Info().Int64("user", tgUserID).Str("kind", kind).Msg("follow-up sequence canceled")
	}
	delete(r.active, tgUserID)
}

// fire runs when a step's timer elapses. The recipient's persisted state is
// re-read first: a conversion observed here aborts this step and everything
// still pending. The state could flip between this read and the send; the
// cost of that race is one extra message, which is tolerated.
func (r *Registry) fire(chatID, tgUserID int64, kind string, idx, last int, step Step) {
	user, err := r.users.GetByTGID(tgUserID)
	if err != nil {
		// No send on unknown state.
		r.log.Error().Err(err).Int64("user", tgUserID).Str("step", step.Label).Msg("state read failed, step skipped")
		metrics.ObserveSequenceStep(kind, "skipped")
		r.finishStep(tgUserID, kind, idx, last)
		return
	}
	if user.IsPaid {
		r.log.Info().Int64("user", tgUserID).Str("kind", kind).Msg("recipient converted, aborting sequence")
		metrics.ObserveSequenceStep(kind, "skipped")
		r.Cancel(tgUserID)
		return
	}

	text := step.Text.Render()
	sendErr := r.sender.SendWithRetry(chatID, text, sendAttempts)

	r.mu.Lock()
	tally := r.tallies[tgUserID]
	tally.Attempted++
	if sendErr == nil {
		tally.Delivered++
	}
	r.tallies[tgUserID] = tally
	r.mu.Unlock()

	if sendErr != nil {
		r.log.Error().Err(sendErr).Int64("user", tgUserID).Str("step", step.Label).Msg("follow-up step failed")
		metrics.ObserveSequenceStep(kind, "failed")
	} else {
		metrics.ObserveSequenceStep(kind, "delivered")
		if err := r.users.IncFollowUpCount(tgUserID); err != nil {
			r.log.Error().Err(err).Int64("user", tgUserID).Msg("follow-up counter not persisted")
		}
	}

	r.finishStep(tgUserID, kind, idx, last)
}

// finishStep marks the sequence completed once its final step has fired,
// regardless of per-step outcomes.
func (r *Registry) finishStep(tgUserID int64, kind string, idx, last int) {
	if idx != last {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds, ok := r.active[tgUserID]
	if !ok {
		return
	}
	if _, ok := kinds[kind]; !ok {
		return
	}
	delete(kinds, kind)
	if len(kinds) == 0 {
		delete(r.active, tgUserID)
	}
	metrics.SequencesActive.Dec()
	r.log.Info().Int64("user", tgUserID).Str("kind", kind).Msg("follow-up sequence completed")
}
