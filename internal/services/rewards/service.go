package rewards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"play-rewards/internal/calendar"
	"play-rewards/internal/database"
	"play-rewards/internal/models"
	"play-rewards/internal/reward"
	"play-rewards/internal/streak"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidInput = errors.New("invalid input")
)

const (
	RewardTypeCash = "cash"
	// RewardTypeNone is recorded when the wheel lands on a losing segment.
	RewardTypeNone = "Better Luck Next Time"
)

type Options struct {
	Location           *time.Location
	Threshold          int
	DefaultContestType string
	DefaultLimit       int
	MaxLimit           int
	// Now defaults to time.Now.
	Now func() time.Time
}

type Service struct {
	store              *database.Store
	resolver           *reward.Resolver
	logger             *slog.Logger
	loc                *time.Location
	threshold          int
	defaultContestType string
	defaultLimit       int
	maxLimit           int
	now                func() time.Time
}

func NewService(store *database.Store, resolver *reward.Resolver, logger *slog.Logger, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Threshold <= 0 {
		opts.Threshold = 7
	}
	if opts.DefaultContestType == "" {
		opts.DefaultContestType = "mini"
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 50
	}
	if opts.MaxLimit < opts.DefaultLimit {
		opts.MaxLimit = opts.DefaultLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:              store,
		resolver:           resolver,
		logger:             logger,
		loc:                opts.Location,
		threshold:          opts.Threshold,
		defaultContestType: opts.DefaultContestType,
		defaultLimit:       opts.DefaultLimit,
		maxLimit:           opts.MaxLimit,
		now:                opts.Now,
	}
}

// Window is the current week in the configured time zone.
func (s *Service) Window() calendar.Window {
	return calendar.WindowFor(s.now().In(s.loc))
}

// Authenticate resolves a session token to an online user.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnauthorized
	}
	user, err := s.store.UserBySessionToken(ctx, token)
	if errors.Is(err, database.ErrUserNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

type EligibilityStatus struct {
	MatchesPlayed    int     `json:"matches_played"`
	MatchesRequired  int     `json:"matches_required"`
	MatchesRemaining int     `json:"matches_remaining"`
	IsEligible       bool    `json:"is_eligible"`
	HasSpun          bool    `json:"has_spun"`
	SpinDate         *string `json:"spin_date"`
	WeekStartDate    string  `json:"week_start_date"`
	WeekEndDate      string  `json:"week_end_date"`
	DaysRemaining    int     `json:"days_remaining"`
	CanSpin          bool    `json:"can_spin"`
}

func (s *Service) eligibilityStatus(rec *models.EligibilityRecord, w calendar.Window) *EligibilityStatus {
	return &EligibilityStatus{
		MatchesPlayed:    rec.MatchesPlayed,
		MatchesRequired:  s.threshold,
		MatchesRemaining: max(0, s.threshold-rec.MatchesPlayed),
		IsEligible:       rec.IsEligible,
		HasSpun:          rec.HasSpun,
		SpinDate:         rec.SpinDate,
		WeekStartDate:    w.WeekStartKey(),
		WeekEndDate:      w.WeekEndKey(),
		DaysRemaining:    w.DaysRemaining(),
		CanSpin:          rec.IsEligible && !rec.HasSpun,
	}
}

// CheckWeeklyEligibility recounts this week's contests and reports the bonus state.
func (s *Service) CheckWeeklyEligibility(ctx context.Context, user *models.User) (*EligibilityStatus, error) {
	w := s.Window()
	rec, err := s.store.EvaluateEligibility(ctx, user.ID, w.WeekStartKey(), s.threshold)
	if err != nil {
		return nil, err
	}
	return s.eligibilityStatus(rec, w), nil
}

type ContestPlayOutcome struct {
	Recorded bool `json:"recorded"`
	*EligibilityStatus
}

func (s *Service) RecordContestPlay(ctx context.Context, user *models.User, contestID int64, contestType string) (*ContestPlayOutcome, error) {
	if contestID <= 0 {
		return nil, fmt.Errorf("%w: contest_id is required", ErrInvalidInput)
	}
	w := s.Window()
	res, err := s.store.RecordContestPlay(ctx, database.ContestPlay{
		UserID:      user.ID,
		ContestID:   contestID,
		ContestType: s.contestType(contestType),
		Window:      w,
		Threshold:   s.threshold,
	})
	if err != nil {
		return nil, err
	}
	return &ContestPlayOutcome{Recorded: res.Recorded, EligibilityStatus: s.eligibilityStatus(&res.Eligibility, w)}, nil
}

type BonusOutcome struct {
	RewardType    string           `json:"reward_type"`
	RewardValue   string           `json:"reward_value"`
	MatchesPlayed int              `json:"matches_played"`
	SpinDate      string           `json:"spin_date"`
	Reference     string           `json:"reference"`
	NewBalance    *decimal.Decimal `json:"new_balance,omitempty"`
}

// ConsumeWeeklyBonus spends this week's bonus spin. An empty reward type is a
// losing spin and still consumes the week. Cash rewards are credited to the
// wallet in the same transaction.
func (s *Service) ConsumeWeeklyBonus(ctx context.Context, user *models.User, rewardType, rewardValue string) (*BonusOutcome, error) {
	rewardType = strings.TrimSpace(rewardType)
	rewardValue = strings.TrimSpace(rewardValue)
	if rewardType == "" {
		rewardType = RewardTypeNone
	}
	cash := decimal.Zero
	if strings.EqualFold(rewardType, RewardTypeCash) {
		if rewardValue == "" {
			return nil, fmt.Errorf("%w: cash reward_value is required", ErrInvalidInput)
		}
		v, err := decimal.NewFromString(rewardValue)
		if err != nil || v.IsNegative() {
			return nil, fmt.Errorf("%w: cash reward_value must be a non-negative amount", ErrInvalidInput)
		}
		cash = v
	}

	w := s.Window()
	res, err := s.store.ConsumeBonus(ctx, database.BonusClaim{
		UserID:      user.ID,
		Window:      w,
		RewardType:  rewardType,
		RewardValue: rewardValue,
		CashAmount:  cash,
	})
	if err != nil {
		s.logger.Warn("weekly bonus rejected", "user_id", user.ID, "reward_type", rewardType, "error", err)
		return nil, err
	}
	s.logger.Info("weekly bonus consumed", "user_id", user.ID, "reward_type", rewardType, "reward_value", rewardValue, "reference", res.Transaction.Reference)
	return &BonusOutcome{
		RewardType:    rewardType,
		RewardValue:   rewardValue,
		MatchesPlayed: res.Eligibility.MatchesPlayed,
		SpinDate:      w.DateKey(),
		Reference:     res.Transaction.Reference,
		NewBalance:    res.NewBalance,
	}, nil
}

type ScratchProgress struct {
	WeekStartDate   string          `json:"week_start_date"`
	CurrentDay      int             `json:"current_day"`
	ScratchedDays   []int           `json:"scratched_days"`
	TotalScratched  int             `json:"total_scratched"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	CanScratchToday bool            `json:"can_scratch_today"`
}

type SpinProgress struct {
	WeekStartDate    string          `json:"week_start_date"`
	CurrentDay       int             `json:"current_day"`
	SpunDays         []int           `json:"spun_days"`
	TotalSpun        int             `json:"total_spun"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	CanSpinToday     bool            `json:"can_spin_today"`
	CurrentStreakDay int             `json:"current_streak_day"`
	HasMissedDay     bool            `json:"has_missed_day"`
}

func (s *Service) scratchProgress(ctx context.Context, userID int64, w calendar.Window) (*ScratchProgress, error) {
	agg, err := s.store.WeeklyParticipation(ctx, userID, models.EventScratchCard, w.WeekStartKey())
	if err != nil {
		return nil, err
	}
	return &ScratchProgress{
		WeekStartDate:   w.WeekStartKey(),
		CurrentDay:      w.DayNumber,
		ScratchedDays:   agg.DayNumbers,
		TotalScratched:  agg.Count,
		TotalAmount:     agg.TotalAmount,
		CanScratchToday: !slices.Contains(agg.DayNumbers, w.DayNumber),
	}, nil
}

func (s *Service) spinProgress(ctx context.Context, userID int64, w calendar.Window) (*SpinProgress, error) {
	agg, err := s.store.WeeklyParticipation(ctx, userID, models.EventSpinWheel, w.WeekStartKey())
	if err != nil {
		return nil, err
	}
	st := streak.Evaluate(w.DayNumber, agg.DayNumbers)
	return &SpinProgress{
		WeekStartDate:    w.WeekStartKey(),
		CurrentDay:       w.DayNumber,
		SpunDays:         agg.DayNumbers,
		TotalSpun:        agg.Count,
		TotalAmount:      agg.TotalAmount,
		CanSpinToday:     st.CanProceedToday,
		CurrentStreakDay: st.CurrentStreakDay,
		HasMissedDay:     st.HasMissedDay,
	}, nil
}

type ScratchQuote struct {
	Amount          decimal.Decimal  `json:"amount"`
	ContestType     string           `json:"contest_type"`
	CanScratchToday bool             `json:"can_scratch_today"`
	WeeklyProgress  *ScratchProgress `json:"weekly_progress"`
}

// QuoteScratch draws the amount a scratch card would pay for the contest.
func (s *Service) QuoteScratch(ctx context.Context, user *models.User, contestID *int64, contestType string) (*ScratchQuote, error) {
	w := s.Window()
	contestType = s.contestType(contestType)
	progress, err := s.scratchProgress(ctx, user.ID, w)
	if err != nil {
		return nil, err
	}
	amount, err := s.resolver.Scratch(ctx, contestID, contestType)
	if err != nil {
		return nil, err
	}
	return &ScratchQuote{
		Amount:          amount,
		ContestType:     contestType,
		CanScratchToday: progress.CanScratchToday,
		WeeklyProgress:  progress,
	}, nil
}

type SpinQuote struct {
	Amount           decimal.Decimal `json:"amount"`
	CanSpinToday     bool            `json:"can_spin_today"`
	CurrentStreakDay int             `json:"current_streak_day"`
	WeeklyProgress   *SpinProgress   `json:"weekly_progress"`
}

// QuoteSpin prices today's spin from the current streak day.
func (s *Service) QuoteSpin(ctx context.Context, user *models.User) (*SpinQuote, error) {
	progress, err := s.spinProgress(ctx, user.ID, s.Window())
	if err != nil {
		return nil, err
	}
	return &SpinQuote{
		Amount:           s.resolver.Progressive(progress.CurrentStreakDay),
		CanSpinToday:     progress.CanSpinToday,
		CurrentStreakDay: progress.CurrentStreakDay,
		WeeklyProgress:   progress,
	}, nil
}

type SettleOutcome struct {
	NewBalance     decimal.Decimal `json:"new_balance"`
	AmountAdded    decimal.Decimal `json:"amount_added"`
	Reference      string          `json:"reference"`
	WeeklyProgress any             `json:"weekly_progress"`
}

// SettleScratch credits a scratch reward. The amount may not exceed the
// maximum of the range configured for the contest.
func (s *Service) SettleScratch(ctx context.Context, user *models.User, contestID *int64, contestType string, amount decimal.Decimal) (*SettleOutcome, error) {
	if !amount.Round(2).IsPositive() {
		return nil, database.ErrInvalidAmount
	}
	contestType = s.contestType(contestType)
	rg, err := s.resolver.ScratchRange(ctx, contestID, contestType)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(rg.Max) {
		return nil, fmt.Errorf("%w: %s exceeds the %s maximum", database.ErrInvalidAmount, amount, rg.Max)
	}

	w := s.Window()
	res, err := s.store.Settle(ctx, database.Settlement{
		UserID:      user.ID,
		EventType:   models.EventScratchCard,
		Amount:      amount,
		Window:      w,
		Period:      database.PerDay,
		ContestID:   contestID,
		ContestType: contestType,
		Description: fmt.Sprintf("Scratch card reward - Day %d", w.DayNumber),
	})
	if err != nil {
		s.logSettleFailure(user.ID, models.EventScratchCard, amount, err)
		return nil, err
	}
	s.logSettled(user.ID, res)
	progress, err := s.scratchProgress(ctx, user.ID, w)
	if err != nil {
		return nil, err
	}
	return &SettleOutcome{
		NewBalance:     res.NewBalance,
		AmountAdded:    res.AmountAdded,
		Reference:      res.Transaction.Reference,
		WeeklyProgress: progress,
	}, nil
}

// SettleSpin credits a daily spin. The amount may not exceed the progressive
// amount for the current streak day.
func (s *Service) SettleSpin(ctx context.Context, user *models.User, amount decimal.Decimal) (*SettleOutcome, error) {
	if !amount.Round(2).IsPositive() {
		return nil, database.ErrInvalidAmount
	}
	w := s.Window()
	before, err := s.spinProgress(ctx, user.ID, w)
	if err != nil {
		return nil, err
	}
	if limit := s.resolver.Progressive(before.CurrentStreakDay); amount.GreaterThan(limit) {
		return nil, fmt.Errorf("%w: %s exceeds streak day %d amount %s", database.ErrInvalidAmount, amount, before.CurrentStreakDay, limit)
	}

	res, err := s.store.Settle(ctx, database.Settlement{
		UserID:      user.ID,
		EventType:   models.EventSpinWheel,
		Amount:      amount,
		Window:      w,
		Period:      database.PerDay,
		Description: fmt.Sprintf("Spin wheel reward - Day %d", before.CurrentStreakDay),
	})
	if err != nil {
		s.logSettleFailure(user.ID, models.EventSpinWheel, amount, err)
		return nil, err
	}
	s.logSettled(user.ID, res)
	progress, err := s.spinProgress(ctx, user.ID, w)
	if err != nil {
		return nil, err
	}
	return &SettleOutcome{
		NewBalance:     res.NewBalance,
		AmountAdded:    res.AmountAdded,
		Reference:      res.Transaction.Reference,
		WeeklyProgress: progress,
	}, nil
}

// ListTransactions returns the user's history, newest first. weekStart may be
// any date of the wanted week.
func (s *Service) ListTransactions(ctx context.Context, user *models.User, eventType models.EventType, weekStart string, limit int) ([]models.TransactionRecord, error) {
	filter := database.TransactionFilter{UserID: user.ID, EventType: eventType, Limit: s.clampLimit(limit)}
	if weekStart = strings.TrimSpace(weekStart); weekStart != "" {
		d, err := calendar.ParseDate(weekStart, s.loc)
		if err != nil {
			return nil, err
		}
		filter.WeekStart = calendar.WindowFor(d).WeekStartKey()
	}
	return s.store.ListTransactions(ctx, filter)
}

// UserTransactions is the admin view of any user's history.
func (s *Service) UserTransactions(ctx context.Context, userID int64, limit int) (*models.User, []models.TransactionRecord, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	txns, err := s.store.ListTransactions(ctx, database.TransactionFilter{UserID: userID, Limit: s.clampLimit(limit)})
	if err != nil {
		return nil, nil, err
	}
	return user, txns, nil
}

type WalletSummary struct {
	UserID        int64           `json:"user_id"`
	Name          string          `json:"name"`
	WalletBalance decimal.Decimal `json:"wallet_balance"`
}

func (s *Service) Wallet(ctx context.Context, user *models.User) (*WalletSummary, error) {
	fresh, err := s.store.GetUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &WalletSummary{UserID: fresh.ID, Name: fresh.Name, WalletBalance: fresh.WalletBalance}, nil
}

func (s *Service) contestType(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return s.defaultContestType
	}
	return v
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 {
		return s.defaultLimit
	}
	return min(limit, s.maxLimit)
}

func (s *Service) logSettled(userID int64, res *database.SettlementResult) {
	s.logger.Info("reward settled",
		"user_id", userID,
		"event_type", res.Transaction.EventType,
		"amount", res.AmountAdded.String(),
		"new_balance", res.NewBalance.String(),
		"reference", res.Transaction.Reference,
	)
}

func (s *Service) logSettleFailure(userID int64, eventType models.EventType, amount decimal.Decimal, err error) {
	level := slog.LevelWarn
	if errors.Is(err, database.ErrTransient) {
		level = slog.LevelError
	}
	s.logger.Log(context.Background(), level, "settlement failed",
		"user_id", userID,
		"event_type", eventType,
		"amount", amount.String(),
		"error", err,
	)
}
