package bot

import (
	"fmt"
	"sync"
	"time"

	"moneyflow-bot/internal/usecase/sequence"
)

// scarcity feeds the closing follow-up step with a live spot counter. The
// counter only ever shrinks and never drops below the floor, so the urgency
// line stays plausible however often it is rendered.
type scarcity struct {
	mu    sync.Mutex
	slots int
}

const scarcityFloor = 3

func newScarcity(slots int) *scarcity {
	if slots < scarcityFloor {
		slots = scarcityFloor
	}
	return &scarcity{slots: slots}
}

func (s *scarcity) take() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slots > scarcityFloor {
		s.slots--
	}
	return s.slots
}

// conversionSteps is the follow-up ladder for users who looked at pricing
// but did not buy. Delays are measured from the moment of scheduling.
func conversionSteps(spots *scarcity) []sequence.Step {
	return []sequence.Step{
		{
			Delay: 5 * time.Minute,
			Label: "value_reminder",
			Text: sequence.StaticText("Still thinking it over? The 7-day program walks you from budgeting basics " +
				"to an investing routine, one short lesson a day. Send /pricing whenever you are ready."),
		},
		{
			Delay: 15 * time.Minute,
			Label: "social_proof",
			Text: sequence.StaticText("Most students tell us day 3 is where things click: that is when the " +
				"savings framework comes together. Join them with /payment."),
		},
		{
			Delay: 30 * time.Minute,
			Label: "objection",
			Text: sequence.StaticText("Not sure the program fits your situation? Essential starts at $24 and " +
				"covers the full course. You can upgrade any time. Details: /pricing."),
		},
		{
			Delay: time.Hour,
			Label: "closing",
			Text: sequence.DynamicText(func() string {
				return fmt.Sprintf("Last nudge from us: only %d spots left at the current price. "+
					"Send /payment to lock yours in.", spots.take())
			}),
		},
	}
}
