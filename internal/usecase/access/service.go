package access

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"moneyflow-bot/internal/domain"
)

// Messages shown with denials. The gate never returns an error to callers:
// any failure degrades to a denial with a human-readable prompt.
const (
	msgRegisterFirst = "You are not registered yet. Send /start to begin."
	msgPayFirst      = "This is part of the paid program. Send /pricing to see the options."
	msgUpgrade       = "Your current tier does not include this feature. Send /pricing to upgrade."
	msgTryAgain      = "Something went wrong. Please try again."
)

// Decision is the outcome of a feature check.
type Decision struct {
	Allowed bool
	Tier    domain.Tier
	Message string
}

// Gate answers tier-based feature checks against persisted user state.
type Gate struct {
	users domain.UserRepo
	log   zerolog.Logger
}

// NewGate creates the gate.
func NewGate(users domain.UserRepo, logger zerolog.Logger) *Gate {
	return &Gate{users: users, log: logger}
}

// Check decides whether the recipient may use the feature. The decision is a
// pure function of the persisted tier and the feature's minimum rank.
func (g *Gate) Check(ctx context.Context, tgUserID int64, feature domain.Feature) Decision {
	user, err := g.users.GetByTGID(tgUserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return Decision{Allowed: false, Tier: domain.TierFree, Message: msgRegisterFirst}
		}
		g.log.Error().Err(err).Int64("user", tgUserID).Str("feature", string(feature)).Msg("access check read failed")
		return Decision{Allowed: false, Tier: domain.TierFree, Message: msgTryAgain}
	}

	// Free-rank features need no payment.
	if min, ok := domain.MinTierFor(feature); ok && min == domain.TierFree {
		return Decision{Allowed: true, Tier: user.Plan().Tier}
	}

	if !user.IsPaid {
		return Decision{Allowed: false, Tier: domain.TierFree, Message: msgPayFirst}
	}

	tier := domain.TierForName(string(user.Tier))
	if !tier.HasFeature(feature) {
		return Decision{Allowed: false, Tier: tier, Message: msgUpgrade}
	}
	return Decision{Allowed: true, Tier: tier}
}
