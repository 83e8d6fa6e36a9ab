package domain

import (
	"errors"
	"strings"
	"time"
)

// Audience selects which users a broadcast targets.
type Audience string

const (
	AudienceAll       Audience = "all"
	AudiencePaid      Audience = "paid"
	AudienceUnpaid    Audience = "unpaid"
	AudienceEssential Audience = "essential"
	AudiencePremium   Audience = "premium"
	AudienceVIP       Audience = "vip"
)

// ErrUnknownAudience is returned for audience selectors outside the known set.
var ErrUnknownAudience = errors.New("unknown audience")

// ParseAudience normalizes an audience selector.
func ParseAudience(raw string) (Audience, error) {
	audience := Audience(strings.ToLower(strings.TrimSpace(raw)))
	switch audience {
	case AudienceAll, AudiencePaid, AudienceUnpaid, AudienceEssential, AudiencePremium, AudienceVIP:
		return audience, nil
	}
	return "", ErrUnknownAudience
}

// BroadcastJob is one queued fan-out request.
type BroadcastJob struct {
	ID        string    `json:"id"`
	Audience  Audience  `json:"audience"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
