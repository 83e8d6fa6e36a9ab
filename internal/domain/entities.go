package domain

import "time"

// User describes a Telegram recipient of the course.
type User struct {
	ID            int64
	TGUserID      int64
	Username      string
	FirstName     string
	LastName      string
	IsPaid        bool
	PaymentAt     *time.Time
	Tier          Tier
	TierPrice     int
	JoinedAt      time.Time
	LastActiveAt  time.Time
	FollowUpCount int
	PricingViews  int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TelegramProfile carries the identity fields of an inbound update.
type TelegramProfile struct {
	TGUserID  int64
	Username  string
	FirstName string
	LastName  string
}

// Progress tracks a user's position in the 7-day course.
type Progress struct {
	ID                 int64
	UserID             int64
	CurrentDay         int
	CompletedDays      []int
	ProgramCompleted   bool
	ProgramCompletedAt *time.Time
	UpdatedAt          time.Time
}

// LastDay is the final lesson day of the course.
const LastDay = 7

// DayCompleted reports whether the given day is in CompletedDays.
func (p Progress) DayCompleted(day int) bool {
	for _, d := range p.CompletedDays {
		if d == day {
			return true
		}
	}
	return false
}

// UpsellAttempt records one upsell message shown to a paid user.
type UpsellAttempt struct {
	ID          int64
	UserID      int64
	DayNumber   int
	CurrentTier Tier
	AttemptedAt time.Time
	Converted   bool
	ConvertedAt *time.Time
}

// ConversionRecord captures a tier change and the amount paid.
type ConversionRecord struct {
	ID          int64
	UserID      int64
	FromTier    Tier
	ToTier      Tier
	Amount      int
	ConvertedAt time.Time
}
