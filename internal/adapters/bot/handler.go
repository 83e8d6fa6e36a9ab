package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"moneyflow-bot/internal/adapters/telegram"
	"moneyflow-bot/internal/domain"
	"moneyflow-bot/internal/infra/metrics"
	"moneyflow-bot/internal/usecase/access"
	"moneyflow-bot/internal/usecase/course"
	"moneyflow-bot/internal/usecase/sequence"
)

// Sequence kinds owned by the handler.
const (
	kindConversion = "conversion"
	kindUpsell     = "upsell"
)

// conversionWindow bounds how far back a purchase is credited to earlier
// upsell attempts.
const conversionWindow = 48 * time.Hour

const msgApology = "Something went wrong on our side. Please try the command again."

// Requester is the slice of the Telegram client used for callback answers.
type Requester interface {
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Handler serves the bot webhook.
type Handler struct {
	bot       Requester
	sender    *telegram.Sender
	log       zerolog.Logger
	courseUC  *course.Service
	gate      *access.Gate
	sequences *sequence.Registry
	users     domain.UserRepo
	upsells   domain.UpsellRepo
	jobs      domain.BroadcastQueue
	isAdmin   func(tgUserID int64) bool
	spots     *scarcity
}

// NewHandler creates the handler.
func NewHandler(bot Requester, sender *telegram.Sender, log zerolog.Logger, courseUC *course.Service, gate *access.Gate, sequences *sequence.Registry, users domain.UserRepo, upsells domain.UpsellRepo, jobs domain.BroadcastQueue, isAdmin func(int64) bool) *Handler {
	return &Handler{
		bot:       bot,
		sender:    sender,
		log:       log,
		courseUC:  courseUC,
		gate:      gate,
		sequences: sequences,
		users:     users,
		upsells:   upsells,
		jobs:      jobs,
		isAdmin:   isAdmin,
		spots:     newScarcity(20),
	}
}

// HandleUpdate processes one inbound update. A panicking command handler is
// contained here: the user gets a generic apology and the update is dropped.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	defer func() {
		if rec := recover(); rec != nil {
			chatID := chatIDOf(upd)
			h.log.Error().Interface("panic", rec).Int64("chat", chatID).Msg("update handler panicked")
			if chatID != 0 {
				h.reply(chatID, msgApology, nil)
			}
		}
	}()

	if upd.Message != nil {
		h.handleMessage(ctx, upd.Message)
	} else if upd.CallbackQuery != nil {
		h.handleCallback(ctx, upd.CallbackQuery)
	}
}

func chatIDOf(upd tgbotapi.Update) int64 {
	if upd.Message != nil {
		return upd.Message.Chat.ID
	}
	if upd.CallbackQuery != nil && upd.CallbackQuery.Message != nil {
		return upd.CallbackQuery.Message.Chat.ID
	}
	return 0
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	chatID := msg.Chat.ID
	tgUserID := msg.From.ID

	if err := h.users.TouchLastActive(tgUserID); err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		h.log.Debug().Err(err).Int64("user", tgUserID).Msg("last-active bump failed")
	}

	switch {
	case strings.HasPrefix(text, "/start"):
		h.handleStart(chatID, msg.From)
	case strings.HasPrefix(text, "/help"):
		h.handleHelp(ctx, chatID, tgUserID)
	case strings.HasPrefix(text, "/day"):
		arg := strings.TrimSpace(strings.TrimPrefix(text, "/day"))
		h.handleDay(ctx, chatID, tgUserID, arg)
	case strings.HasPrefix(text, "/done"):
		arg := strings.TrimSpace(strings.TrimPrefix(text, "/done"))
		h.handleDone(ctx, chatID, tgUserID, arg)
	case strings.HasPrefix(text, "/progress"):
		h.handleProgress(ctx, chatID, tgUserID)
	case strings.HasPrefix(text, "/pricing"):
		h.handlePricing(chatID, tgUserID)
	case strings.HasPrefix(text, "/payment"):
		h.handlePayment(chatID, tgUserID, domain.TierEssential)
	case strings.HasPrefix(text, "/status"):
		h.handleStatus(chatID, tgUserID)
	case strings.HasPrefix(text, "/confirm_payment"):
		payload := strings.TrimSpace(strings.TrimPrefix(text, "/confirm_payment"))
		h.handleConfirmPayment(chatID, tgUserID, payload)
	case strings.HasPrefix(text, "/broadcast"):
		payload := strings.TrimSpace(strings.TrimPrefix(text, "/broadcast"))
		h.handleBroadcast(ctx, chatID, tgUserID, payload)
	case strings.HasPrefix(text, "/stats"):
		h.handleStats(chatID, tgUserID)
	default:
		h.reply(chatID, "Unknown command. Send /help for the list.", nil)
	}
}

func (h *Handler) handleStart(chatID int64, from *tgbotapi.User) {
	user, err := h.courseUC.Register(domain.TelegramProfile{
		TGUserID:  from.ID,
		Username:  from.UserName,
		FirstName: from.FirstName,
		LastName:  from.LastName,
	})
	if err != nil {
		h.log.Error().Err(err).Int64("user", from.ID).Msg("registration failed")
		h.reply(chatID, msgApology, nil)
		return
	}
	h.reply(chatID, h.buildStartMessage(user), h.mainKeyboard())
}

func (h *Handler) handleHelp(ctx context.Context, chatID, tgUserID int64) {
	decision := h.gate.Check(ctx, tgUserID, domain.FeatureBasicHelp)
	if !decision.Allowed {
		h.reply(chatID, decision.Message, nil)
		return
	}
	h.reply(chatID, h.buildHelpMessage(decision.Tier), h.mainKeyboard())
}

func (h *Handler) handleDay(ctx context.Context, chatID, tgUserID int64, arg string) {
	decision := h.gate.Check(ctx, tgUserID, domain.FeatureDailyLessons)
	if !decision.Allowed {
		h.reply(chatID, decision.Message, nil)
		return
	}
	user, err := h.users.GetByTGID(tgUserID)
	if err != nil {
		h.reply(chatID, msgApology, nil)
		return
	}
	progress := h.courseUC.ProgressFor(user)

	day := progress.CurrentDay
	if day > domain.LastDay {
		day = domain.LastDay
	}
	if arg != "" {
		parsed, err := strconv.Atoi(arg)
		if err != nil {
			h.reply(chatID, fmt.Sprintf("Send /day or /day N with a day between 1 and %d.", domain.LastDay), nil)
			return
		}
		day = parsed
	}

	lesson, err := h.courseUC.Lesson(day)
	if err != nil {
		h.reply(chatID, fmt.Sprintf("There is no day %d. The course runs from day 1 to day %d.", day, domain.LastDay), nil)
		return
	}
	metrics.LessonDeliveriesTotal.Inc()
	h.reply(chatID, lesson, nil)
}

func (h *Handler) handleDone(ctx context.Context, chatID, tgUserID int64, arg string) {
	decision := h.gate.Check(ctx, tgUserID, domain.FeatureProgressTracking)
	if !decision.Allowed {
		h.reply(chatID, decision.Message, nil)
		return
	}
	day, err := strconv.Atoi(arg)
	if err != nil {
		h.reply(chatID, "Send /done N with the number of the day you finished, for example /done 2.", nil)
		return
	}
	user, err := h.users.GetByTGID(tgUserID)
	if err != nil {
		h.reply(chatID, msgApology, nil)
		return
	}
	progress, err := h.courseUC.CompleteDay(user, day)
	if errors.Is(err, course.ErrInvalidDay) {
		h.reply(chatID, fmt.Sprintf("Day numbers run from 1 to %d.", domain.LastDay), nil)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("user", tgUserID).Int("day", day).Msg("day completion failed")
		h.reply(chatID, msgApology, nil)
		return
	}

	if progress.ProgramCompleted {
		h.reply(chatID, "That was the final day. You finished the whole program, congratulations!\n\n"+
			"Send /status any time to revisit your plan, or /pricing to see what the higher tiers add.", nil)
	} else {
		h.reply(chatID, fmt.Sprintf("Day %d is done. %s\n\nNext up: /day when you are ready for day %d.",
			day, renderProgressBar(progress), progress.CurrentDay), nil)
	}

	if course.UpsellDay(day) && user.Tier.Rank() < domain.TierVIP.Rank() {
		h.sendUpsell(chatID, user, day)
	}
}

// sendUpsell shows the next-tier pitch after milestone days and records the
// attempt so a later purchase can be attributed to it.
func (h *Handler) sendUpsell(chatID int64, user domain.User, day int) {
	next := domain.TierPremium
	if user.Tier.Rank() >= domain.TierPremium.Rank() {
		next = domain.TierVIP
	}
	info := domain.InfoForTier(next)
	text := fmt.Sprintf("You are making real progress. Students on %s also get %s — the upgrade is $%d.\n"+
		"Send /pricing to compare tiers.", info.Name, tierHighlight(next), info.Price)
	h.reply(chatID, text, nil)
	if err := h.upsells.RecordUpsellAttempt(user.ID, day, user.Tier); err != nil {
		h.log.Error().Err(err).Int64("user", user.TGUserID).Int("day", day).Msg("upsell attempt not recorded")
	}
}

func tierHighlight(tier domain.Tier) string {
	switch tier {
	case domain.TierPremium:
		return "priority support and the analytics workbook"
	case domain.TierVIP:
		return "1:1 booking, the capital clarity session and monthly reports"
	default:
		return "the full 7-day course"
	}
}

func (h *Handler) handleProgress(ctx context.Context, chatID, tgUserID int64) {
	decision := h.gate.Check(ctx, tgUserID, domain.FeatureProgressTracking)
	if !decision.Allowed {
		h.reply(chatID, decision.Message, nil)
		return
	}
	user, err := h.users.GetByTGID(tgUserID)
	if err != nil {
		h.reply(chatID, msgApology, nil)
		return
	}
	progress := h.courseUC.ProgressFor(user)
	lines := []string{
		renderProgressBar(progress),
		"",
		fmt.Sprintf("Days completed: %d of %d.", len(progress.CompletedDays), domain.LastDay),
	}
	if progress.ProgramCompleted {
		lines = append(lines, "The program is complete. Well done!")
	} else {
		lines = append(lines, fmt.Sprintf("Current day: %d. Send /day to read it and /done %d when finished.",
			progress.CurrentDay, progress.CurrentDay))
	}
	h.reply(chatID, strings.Join(lines, "\n"), nil)
}

func renderProgressBar(progress domain.Progress) string {
	var b strings.Builder
	b.WriteString("Progress: ")
	for day := 1; day <= domain.LastDay; day++ {
		if progress.DayCompleted(day) {
			b.WriteString("✅")
		} else {
			b.WriteString("⬜")
		}
	}
	return b.String()
}

func (h *Handler) handlePricing(chatID, tgUserID int64) {
	user, err := h.users.GetByTGID(tgUserID)
	if errors.Is(err, domain.ErrUserNotFound) {
		h.reply(chatID, "Send /start first so I know who you are.", nil)
		return
	}
	if err != nil {
		h.reply(chatID, msgApology, nil)
		return
	}
	if err := h.users.IncPricingViews(tgUserID); err != nil {
		h.log.Error().Err(err).Int64("user", tgUserID).Msg("pricing view not counted")
	}

	h.reply(chatID, h.buildPricingMessage(user), h.pricingKeyboard())
	h.scheduleConversionFollowUp(chatID, user)
}

func (h *Handler) handlePayment(chatID, tgUserID int64, tier domain.Tier) {
	user, err := h.users.GetByTGID(tgUserID)
	if errors.Is(err, domain.ErrUserNotFound) {
		h.reply(chatID, "Send /start first so I know who you are.", nil)
		return
	}
	if err != nil {
		h.reply(chatID, msgApology, nil)
		return
	}
	info := domain.InfoForTier(tier)
	lines := []string{
		fmt.Sprintf("To join %s ($%d):", info.Name, info.Price),
		"",
		"1. Transfer the amount via the payment details pinned in the channel.",
		"2. Send the receipt to the admin.",
		"3. Access is unlocked within a few hours of confirmation.",
		"",
		"Your Telegram ID for the receipt: " + strconv.FormatInt(tgUserID, 10),
	}
	h.reply(chatID, strings.Join(lines, "\n"), nil)
	h.scheduleConversionFollowUp(chatID, user)
}

// scheduleConversionFollowUp arms the nudge ladder for a user who showed
// buying intent but has not paid. Paid users never enter the ladder, and a
// ladder already pending is left untouched.
func (h *Handler) scheduleConversionFollowUp(chatID int64, user domain.User) {
	if user.IsPaid {
		return
	}
	h.sequences.Schedule(chatID, user.TGUserID, kindConversion, conversionSteps(h.spots))
}

func (h *Handler) handleStatus(chatID, tgUserID int64) {
	user, err := h.users.GetByTGID(tgUserID)
	if errors.Is(err, domain.ErrUserNotFound) {
		h.reply(chatID, "Send /start first so I know who you are.", nil)
		return
	}
	if err != nil {
		h.reply(chatID, msgApology, nil)
		return
	}
	plan := user.Plan()
	lines := []string{
		fmt.Sprintf("Tier: %s.", plan.Name),
	}
	if user.IsPaid {
		if user.PaymentAt != nil {
			lines = append(lines, fmt.Sprintf("Member since %s.", user.PaymentAt.Format("2 Jan 2006")))
		}
		progress := h.courseUC.ProgressFor(user)
		lines = append(lines, renderProgressBar(progress))
	} else {
		lines = append(lines, "The course is locked. Send /pricing to see the tiers.")
	}
	h.reply(chatID, strings.Join(lines, "\n"), nil)
}

func (h *Handler) handleConfirmPayment(chatID, tgUserID int64, payload string) {
	if !h.isAdmin(tgUserID) {
		h.reply(chatID, "Unknown command. Send /help for the list.", nil)
		return
	}
	parts := strings.Fields(payload)
	if len(parts) < 1 || len(parts) > 2 {
		h.reply(chatID, "Usage: /confirm_payment <telegram_id> [tier]", nil)
		return
	}
	buyerID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		h.reply(chatID, "The first argument must be a numeric Telegram ID.", nil)
		return
	}
	tier := domain.TierEssential
	if len(parts) == 2 {
		tier = domain.TierForName(parts[1])
		if tier == domain.TierFree {
			h.reply(chatID, "Tier must be one of: essential, premium, vip.", nil)
			return
		}
	}

	before, err := h.users.GetByTGID(buyerID)
	if errors.Is(err, domain.ErrUserNotFound) {
		h.reply(chatID, fmt.Sprintf("No user with ID %d. They need to /start the bot first.", buyerID), nil)
		return
	}
	if err != nil {
		h.reply(chatID, msgApology, nil)
		return
	}

	info := domain.InfoForTier(tier)
	user, err := h.users.MarkPaid(buyerID, tier, info.Price)
	if err != nil {
		h.log.Error().Err(err).Int64("user", buyerID).Msg("payment confirmation failed")
		h.reply(chatID, msgApology, nil)
		return
	}

	// The purchase ends every pending nudge and credits recent upsells.
	h.sequences.Cancel(buyerID)
	if err := h.upsells.MarkRecentAttemptsConverted(user.ID, conversionWindow); err != nil {
		h.log.Error().Err(err).Int64("user", buyerID).Msg("upsell attribution failed")
	}
	if err := h.upsells.RecordConversion(domain.ConversionRecord{
		UserID:   user.ID,
		FromTier: before.Plan().Tier,
		ToTier:   tier,
		Amount:   info.Price,
	}); err != nil {
		h.log.Error().Err(err).Int64("user", buyerID).Msg("conversion not recorded")
	}

	h.reply(buyerID, fmt.Sprintf("Payment confirmed — welcome to %s! 🎉\n\n"+
		"Send /day to start with day 1 and /done 1 once you finish it.", info.Name), h.mainKeyboard())
	h.reply(chatID, fmt.Sprintf("Confirmed: user %d is now on %s ($%d).", buyerID, info.Name, info.Price), nil)
}

func (h *Handler) handleBroadcast(ctx context.Context, chatID, tgUserID int64, payload string) {
	if !h.isAdmin(tgUserID) {
		h.reply(chatID, "Unknown command. Send /help for the list.", nil)
		return
	}
	parts := strings.SplitN(payload, " ", 2)
	if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
		h.reply(chatID, "Usage: /broadcast <all|paid|unpaid|essential|premium|vip> <message>", nil)
		return
	}
	audience, err := domain.ParseAudience(parts[0])
	if err != nil {
		h.reply(chatID, "Unknown audience. Use all, paid, unpaid, essential, premium or vip.", nil)
		return
	}
	job := domain.BroadcastJob{
		ID:        uuid.NewString(),
		Audience:  audience,
		Text:      strings.TrimSpace(parts[1]),
		CreatedAt: time.Now().UTC(),
	}
	if err := h.jobs.Enqueue(ctx, job); err != nil {
		h.log.Error().Err(err).Str("audience", string(audience)).Msg("broadcast not enqueued")
		h.reply(chatID, "Could not queue the broadcast, try again later.", nil)
		return
	}
	h.reply(chatID, fmt.Sprintf("Broadcast %s queued for audience %q.", job.ID, audience), nil)
}

func (h *Handler) handleStats(chatID, tgUserID int64) {
	if !h.isAdmin(tgUserID) {
		h.reply(chatID, "Unknown command. Send /help for the list.", nil)
		return
	}
	users, err := h.users.ListByAudience(domain.AudienceAll)
	if err != nil {
		h.log.Error().Err(err).Msg("stats listing failed")
		h.reply(chatID, msgApology, nil)
		return
	}
	var paid, followUps, pricingViews int
	tiers := make(map[domain.Tier]int)
	for _, user := range users {
		if user.IsPaid {
			paid++
			tiers[user.Plan().Tier]++
		}
		followUps += user.FollowUpCount
		pricingViews += user.PricingViews
	}
	lines := []string{
		fmt.Sprintf("Users: %d (paid %d, unpaid %d)", len(users), paid, len(users)-paid),
	}
	for _, tier := range domain.Tiers() {
		if tier == domain.TierFree {
			continue
		}
		lines = append(lines, fmt.Sprintf("  %s: %d", domain.InfoForTier(tier).Name, tiers[tier]))
	}
	lines = append(lines,
		fmt.Sprintf("Pricing views: %d", pricingViews),
		fmt.Sprintf("Follow-up messages delivered: %d", followUps),
	)
	h.reply(chatID, strings.Join(lines, "\n"), nil)
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	data := cb.Data
	switch {
	case data == "show_pricing":
		h.handlePricing(chatID, cb.From.ID)
	case data == "lesson_today":
		h.handleDay(ctx, chatID, cb.From.ID, "")
	case data == "my_progress":
		h.handleProgress(ctx, chatID, cb.From.ID)
	case data == "help_menu":
		h.handleHelp(ctx, chatID, cb.From.ID)
	case strings.HasPrefix(data, "buy:"):
		tier := domain.TierForName(strings.TrimPrefix(data, "buy:"))
		if tier == domain.TierFree {
			h.reply(chatID, "That tier is no longer offered. Send /pricing for the current options.", nil)
			break
		}
		h.handlePayment(chatID, cb.From.ID, tier)
	}
	start := time.Now()
	_, err := h.bot.Request(tgbotapi.NewCallback(cb.ID, ""))
	metrics.ObserveNetworkRequest("telegram_bot", "answer_callback", strconv.FormatInt(cb.From.ID, 10), start, err)
	if err != nil {
		h.log.Error().Err(err).Msg("callback answer failed")
	}
}

func (h *Handler) reply(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	var opts *telegram.SendOptions
	if keyboard != nil {
		opts = &telegram.SendOptions{ReplyMarkup: keyboard}
	}
	h.sender.Send(chatID, text, opts)
}

func (h *Handler) mainKeyboard() *tgbotapi.InlineKeyboardMarkup {
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📖 Today's lesson", "lesson_today"),
			tgbotapi.NewInlineKeyboardButtonData("📊 My progress", "my_progress"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💳 Pricing", "show_pricing"),
			tgbotapi.NewInlineKeyboardButtonData("ℹ️ Help", "help_menu"),
		),
	)
	return &markup
}

func (h *Handler) pricingKeyboard() *tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, 3)
	for _, tier := range domain.Tiers() {
		if tier == domain.TierFree {
			continue
		}
		info := domain.InfoForTier(tier)
		label := fmt.Sprintf("%s — $%d", info.Name, info.Price)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, "buy:"+string(tier)),
		))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

func (h *Handler) buildStartMessage(user domain.User) string {
	name := strings.TrimSpace(user.FirstName)
	greeting := "Welcome to MoneyFlow!"
	if name != "" {
		greeting = fmt.Sprintf("Welcome to MoneyFlow, %s!", name)
	}
	lines := []string{
		"👋 " + greeting,
		"",
		"A 7-day program that takes you from scattered finances to a working money routine:",
		"one short lesson a day, with a concrete exercise after each.",
		"",
	}
	if user.IsPaid {
		lines = append(lines,
			fmt.Sprintf("You are on the %s tier.", user.Plan().Name),
			"Send /day for today's lesson and /done N when you finish day N.",
		)
	} else {
		lines = append(lines,
			"Here is a taste of day 1: track every expense for one day, no exceptions.",
			"Most people find two subscriptions they forgot they pay for.",
			"",
			"The full course is part of the paid program. Send /pricing to see the tiers.",
		)
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) buildHelpMessage(tier domain.Tier) string {
	lines := []string{
		"📖 Commands:",
		"",
		"• /start — register and see the welcome tour.",
		"• /pricing — tiers and prices.",
		"• /payment — how to pay.",
		"• /status — your tier and progress.",
	}
	if tier.HasFeature(domain.FeatureDailyLessons) {
		lines = append(lines,
			"• /day — today's lesson, or /day N for a specific day.",
			"• /done N — mark day N as finished.",
			"• /progress — your course progress.",
		)
	} else {
		lines = append(lines, "", "Lessons unlock after payment. Send /pricing to get started.")
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) buildPricingMessage(user domain.User) string {
	lines := []string{
		"💳 MoneyFlow tiers:",
		"",
		"Essential — $24",
		"  The full 7-day course, progress tracking, basic support.",
		"",
		"Premium — $97",
		"  Everything in Essential, plus priority support, the analytics workbook and direct admin contact.",
		"",
		"VIP — $197",
		"  Everything in Premium, plus a 1:1 booking, the capital clarity session and monthly reports.",
		"",
	}
	if user.IsPaid {
		lines = append(lines, fmt.Sprintf("You are on %s. Pick a higher tier below to upgrade.", user.Plan().Name))
	} else {
		lines = append(lines, "Pick a tier below or send /payment for the payment details.")
	}
	return strings.Join(lines, "\n")
}
