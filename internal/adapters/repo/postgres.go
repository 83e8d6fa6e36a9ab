package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"moneyflow-bot/internal/domain"
	"moneyflow-bot/internal/infra/metrics"
)

// Postgres implements the repositories on pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates the database adapter.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

const userColumns = `id, tg_user_id, COALESCE(username, ''), COALESCE(first_name, ''), COALESCE(last_name, ''),
is_paid, payment_at, tier, tier_price, joined_at, last_active_at, follow_up_count, pricing_views, created_at, updated_at`

func scanUser(row pgx.Row) (domain.User, error) {
	var user domain.User
	var tier string
	err := row.Scan(
		&user.ID, &user.TGUserID, &user.Username, &user.FirstName, &user.LastName,
		&user.IsPaid, &user.PaymentAt, &tier, &user.TierPrice, &user.JoinedAt,
		&user.LastActiveAt, &user.FollowUpCount, &user.PricingViews, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, err
	}
	user.Tier = domain.TierForName(tier)
	return user, nil
}

// UpsertByTGID implements domain.UserRepo. The record is created on first
// contact and its identity fields refreshed on every later one.
func (p *Postgres) UpsertByTGID(profile domain.TelegramProfile) (domain.User, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO users (tg_user_id, username, first_name, last_name, tier)
VALUES ($1, $2, $3, $4, 'free')
ON CONFLICT (tg_user_id) DO UPDATE SET
    username = EXCLUDED.username,
    first_name = EXCLUDED.first_name,
    last_name = EXCLUDED.last_name,
    last_active_at = now(),
    updated_at = now()
RETURNING `+userColumns,
		profile.TGUserID,
		strings.TrimSpace(profile.Username),
		strings.TrimSpace(profile.FirstName),
		strings.TrimSpace(profile.LastName),
	)
	user, err := scanUser(row)
	metrics.ObserveNetworkRequest("postgres", "users_upsert", "users", start, err)
	if err != nil {
		return domain.User{}, fmt.Errorf("upsert user: %w", err)
	}

	start = time.Now()
	_, err = p.pool.Exec(ctx, `
INSERT INTO progress (user_id, current_day) VALUES ($1, 1)
ON CONFLICT (user_id) DO NOTHING`, user.ID)
	metrics.ObserveNetworkRequest("postgres", "progress_init", "progress", start, err)
	if err != nil {
		return domain.User{}, fmt.Errorf("init progress: %w", err)
	}
	return user, nil
}

// GetByTGID implements domain.UserRepo.
func (p *Postgres) GetByTGID(tgUserID int64) (domain.User, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE tg_user_id = $1`, tgUserID)
	user, err := scanUser(row)
	metrics.ObserveNetworkRequest("postgres", "users_get", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// MarkPaid flips the payment flag and sets the tier. A paid user can never
// stay on the free tier; callers passing free get essential.
func (p *Postgres) MarkPaid(tgUserID int64, tier domain.Tier, price int) (domain.User, error) {
	tier = domain.TierForName(string(tier))
	if tier == domain.TierFree {
		tier = domain.TierEssential
	}

	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
UPDATE users SET
    is_paid = TRUE,
    payment_at = COALESCE(payment_at, now()),
    tier = $2,
    tier_price = $3,
    updated_at = now()
WHERE tg_user_id = $1
RETURNING `+userColumns, tgUserID, string(tier), price)
	user, err := scanUser(row)
	metrics.ObserveNetworkRequest("postgres", "users_mark_paid", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("mark paid: %w", err)
	}
	return user, nil
}

// TouchLastActive implements domain.UserRepo.
func (p *Postgres) TouchLastActive(tgUserID int64) error {
	return p.bumpUser(tgUserID, "users_touch", `
UPDATE users SET last_active_at = now(), updated_at = now() WHERE tg_user_id = $1`)
}

// IncFollowUpCount implements domain.UserRepo.
func (p *Postgres) IncFollowUpCount(tgUserID int64) error {
	return p.bumpUser(tgUserID, "users_inc_follow_up", `
UPDATE users SET follow_up_count = follow_up_count + 1, updated_at = now() WHERE tg_user_id = $1`)
}

// IncPricingViews implements domain.UserRepo.
func (p *Postgres) IncPricingViews(tgUserID int64) error {
	return p.bumpUser(tgUserID, "users_inc_pricing_views", `
UPDATE users SET pricing_views = pricing_views + 1, updated_at = now() WHERE tg_user_id = $1`)
}

func (p *Postgres) bumpUser(tgUserID int64, operation, query string) error {
	ctx, cancel := p.connCtx()
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, query, tgUserID)
	metrics.ObserveNetworkRequest("postgres", operation, "users", start, err)
	return err
}

// ListByAudience implements domain.UserRepo.
func (p *Postgres) ListByAudience(audience domain.Audience) ([]domain.User, error) {
	var where string
	args := []any{}
	switch audience {
	case domain.AudienceAll:
		where = "TRUE"
	case domain.AudiencePaid:
		where = "is_paid"
	case domain.AudienceUnpaid:
		where = "NOT is_paid"
	case domain.AudienceEssential, domain.AudiencePremium, domain.AudienceVIP:
		where = "is_paid AND tier = $1"
		args = append(args, string(audience))
	default:
		return nil, domain.ErrUnknownAudience
	}

	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE `+where+` ORDER BY id`, args...)
	metrics.ObserveNetworkRequest("postgres", "users_list", "users", start, err)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

const progressColumns = `id, user_id, current_day, completed_days, program_completed, program_completed_at, updated_at`

func scanProgress(row pgx.Row) (domain.Progress, error) {
	var progress domain.Progress
	var days []int32
	err := row.Scan(
		&progress.ID, &progress.UserID, &progress.CurrentDay, &days,
		&progress.ProgramCompleted, &progress.ProgramCompletedAt, &progress.UpdatedAt,
	)
	if err != nil {
		return domain.Progress{}, err
	}
	progress.CompletedDays = make([]int, 0, len(days))
	for _, d := range days {
		progress.CompletedDays = append(progress.CompletedDays, int(d))
	}
	return progress, nil
}

// GetByUserID implements domain.ProgressRepo. A missing row is not a
// failure: the user simply has not started, so day-1 defaults come back.
func (p *Postgres) GetByUserID(userID int64) (domain.Progress, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `SELECT `+progressColumns+` FROM progress WHERE user_id = $1`, userID)
	progress, err := scanProgress(row)
	metrics.ObserveNetworkRequest("postgres", "progress_get", "progress", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Progress{UserID: userID, CurrentDay: 1}, nil
	}
	if err != nil {
		return domain.Progress{}, fmt.Errorf("get progress: %w", err)
	}
	return progress, nil
}

// CompleteDay implements domain.ProgressRepo. Completing a day twice does
// not duplicate it; the final day's completion marks the whole program done.
func (p *Postgres) CompleteDay(userID int64, day int) (domain.Progress, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO progress (user_id, current_day, completed_days)
VALUES ($1, $2 + 1, ARRAY[$2]::int[])
ON CONFLICT (user_id) DO UPDATE SET
    completed_days = CASE
        WHEN $2 = ANY (progress.completed_days) THEN progress.completed_days
        ELSE array_append(progress.completed_days, $2)
    END,
    current_day = GREATEST(progress.current_day, $2 + 1),
    updated_at = now()
RETURNING `+progressColumns, userID, day)
	progress, err := scanProgress(row)
	metrics.ObserveNetworkRequest("postgres", "progress_complete_day", "progress", start, err)
	if err != nil {
		return domain.Progress{}, fmt.Errorf("complete day: %w", err)
	}

	if len(progress.CompletedDays) >= domain.LastDay && !progress.ProgramCompleted {
		start = time.Now()
		row = p.pool.QueryRow(ctx, `
UPDATE progress SET program_completed = TRUE, program_completed_at = now(), updated_at = now()
WHERE user_id = $1
RETURNING `+progressColumns, userID)
		progress, err = scanProgress(row)
		metrics.ObserveNetworkRequest("postgres", "progress_mark_completed", "progress", start, err)
		if err != nil {
			return domain.Progress{}, fmt.Errorf("mark program completed: %w", err)
		}
	}
	return progress, nil
}

// SetCurrentDay implements domain.ProgressRepo.
func (p *Postgres) SetCurrentDay(userID int64, day int) error {
	ctx, cancel := p.connCtx()
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE progress SET current_day = $2, updated_at = now() WHERE user_id = $1`, userID, day)
	metrics.ObserveNetworkRequest("postgres", "progress_set_day", "progress", start, err)
	return err
}

// RecordUpsellAttempt implements domain.UpsellRepo.
func (p *Postgres) RecordUpsellAttempt(userID int64, day int, tier domain.Tier) error {
	ctx, cancel := p.connCtx()
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO upsell_attempts (user_id, day_number, current_tier, attempted_at)
VALUES ($1, $2, $3, now())`, userID, day, string(tier))
	metrics.ObserveNetworkRequest("postgres", "upsell_insert", "upsell_attempts", start, err)
	return err
}

// MarkRecentAttemptsConverted implements domain.UpsellRepo. Only attempts
// inside the window count as converted by the purchase.
func (p *Postgres) MarkRecentAttemptsConverted(userID int64, window time.Duration) error {
	ctx, cancel := p.connCtx()
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE upsell_attempts SET converted = TRUE, converted_at = now()
WHERE user_id = $1 AND NOT converted AND attempted_at >= $2`,
		userID, time.Now().UTC().Add(-window))
	metrics.ObserveNetworkRequest("postgres", "upsell_mark_converted", "upsell_attempts", start, err)
	return err
}

// RecordConversion implements domain.UpsellRepo.
func (p *Postgres) RecordConversion(record domain.ConversionRecord) error {
	ctx, cancel := p.connCtx()
	defer cancel()
	if record.ConvertedAt.IsZero() {
		record.ConvertedAt = time.Now().UTC()
	}
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO conversions (user_id, from_tier, to_tier, amount, converted_at)
VALUES ($1, $2, $3, $4, $5)`,
		record.UserID, string(record.FromTier), string(record.ToTier), record.Amount, record.ConvertedAt)
	metrics.ObserveNetworkRequest("postgres", "conversions_insert", "conversions", start, err)
	return err
}
