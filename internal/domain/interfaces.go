package domain

import (
	"context"
	"errors"
	"time"
)

// ErrUserNotFound is returned by repositories when no record exists for the
// given Telegram ID.
var ErrUserNotFound = errors.New("user not found")

// UserRepo manages user records.
type UserRepo interface {
	UpsertByTGID(profile TelegramProfile) (User, error)
	GetByTGID(tgUserID int64) (User, error)
	MarkPaid(tgUserID int64, tier Tier, price int) (User, error)
	TouchLastActive(tgUserID int64) error
	IncFollowUpCount(tgUserID int64) error
	IncPricingViews(tgUserID int64) error
	ListByAudience(audience Audience) ([]User, error)
}

// ProgressRepo manages course progress records.
type ProgressRepo interface {
	GetByUserID(userID int64) (Progress, error)
	CompleteDay(userID int64, day int) (Progress, error)
	SetCurrentDay(userID int64, day int) error
}

// UpsellRepo records upsell attempts and tier conversions.
type UpsellRepo interface {
	RecordUpsellAttempt(userID int64, day int, tier Tier) error
	MarkRecentAttemptsConverted(userID int64, window time.Duration) error
	RecordConversion(record ConversionRecord) error
}

// Cache is a simple TTL store used for send dedupe.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}

// BroadcastQueue transports broadcast jobs between the gateway and the worker.
type BroadcastQueue interface {
	Enqueue(ctx context.Context, job BroadcastJob) error
	Pop(ctx context.Context) (BroadcastJob, error)
}
