package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"play-rewards/internal/calendar"
	"play-rewards/internal/models"
	"play-rewards/internal/util/refcode"
)

// ContestPlay is one finished contest reported by the client.
type ContestPlay struct {
	UserID      int64
	ContestID   int64
	ContestType string
	Window      calendar.Window
	Threshold   int
}

type ContestPlayResult struct {
	Recorded    bool
	Eligibility models.EligibilityRecord
}

// BonusClaim consumes the weekly bonus. CashAmount is credited to the wallet
// when positive; other reward types are only recorded.
type BonusClaim struct {
	UserID      int64
	Window      calendar.Window
	RewardType  string
	RewardValue string
	CashAmount  decimal.Decimal
}

type BonusResult struct {
	Eligibility models.EligibilityRecord
	Transaction models.TransactionRecord
	NewBalance  *decimal.Decimal
}

// EvaluateEligibility recounts distinct contests played in the week and
// upserts the eligibility row. has_spun and spin_date are left untouched.
func (s *Store) EvaluateEligibility(ctx context.Context, userID int64, weekStart string, threshold int) (*models.EligibilityRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}
	defer tx.Rollback()

	if _, err := s.lockBalance(ctx, tx, userID); err != nil {
		return nil, classify(err)
	}
	rec, err := s.evaluateEligibility(ctx, tx, userID, weekStart, threshold)
	if err != nil {
		return nil, classify(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, classify(err)
	}
	return rec, nil
}

// RecordContestPlay appends the play idempotently and re-evaluates the week.
func (s *Store) RecordContestPlay(ctx context.Context, play ContestPlay) (*ContestPlayResult, error) {
	if play.ContestID <= 0 {
		return nil, errors.New("contest id must be positive")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}
	defer tx.Rollback()

	// Plays for one user are serialized on the user row so each recount sees
	// every committed play.
	if _, err := s.lockBalance(ctx, tx, play.UserID); err != nil {
		return nil, classify(err)
	}
	contestID := play.ContestID
	inserted, err := s.insertParticipation(ctx, tx, Participation{
		UserID:      play.UserID,
		EventType:   models.EventContestPlay,
		EventKey:    strconv.FormatInt(play.ContestID, 10),
		Window:      play.Window,
		Amount:      decimal.Zero,
		ContestID:   &contestID,
		ContestType: play.ContestType,
	}, play.Window.DateKey())
	if err != nil {
		return nil, classify(err)
	}
	rec, err := s.evaluateEligibility(ctx, tx, play.UserID, play.Window.WeekStartKey(), play.Threshold)
	if err != nil {
		return nil, classify(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, classify(err)
	}
	return &ContestPlayResult{Recorded: inserted, Eligibility: *rec}, nil
}

func (s *Store) evaluateEligibility(ctx context.Context, q querier, userID int64, weekStart string, threshold int) (*models.EligibilityRecord, error) {
	var played int
	err := q.QueryRowContext(ctx, s.rebind(`
SELECT COUNT(DISTINCT event_key) FROM reward_participations
WHERE user_id = ? AND event_type = ? AND week_start_date = ?`),
		userID, string(models.EventContestPlay), weekStart).Scan(&played)
	if err != nil {
		return nil, fmt.Errorf("count contest plays: %w", err)
	}

	_, err = q.ExecContext(ctx, s.rebind(`
INSERT INTO weekly_bonus_eligibility (user_id, week_start_date, matches_played, is_eligible, has_spun, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, week_start_date) DO UPDATE
SET matches_played = excluded.matches_played,
    is_eligible = excluded.is_eligible,
    updated_at = excluded.updated_at`),
		userID, weekStart, played, played >= threshold, false, s.timestamp())
	if err != nil {
		return nil, fmt.Errorf("upsert eligibility: %w", err)
	}

	rec, err := s.getEligibility(ctx, q, userID, weekStart, false)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("eligibility row for user %d missing after upsert", userID)
	}
	return rec, nil
}

// GetEligibility returns the stored row or nil when the week was never evaluated.
func (s *Store) GetEligibility(ctx context.Context, userID int64, weekStart string) (*models.EligibilityRecord, error) {
	rec, err := s.getEligibility(ctx, s.db, userID, weekStart, false)
	return rec, classify(err)
}

func (s *Store) getEligibility(ctx context.Context, q querier, userID int64, weekStart string, lock bool) (*models.EligibilityRecord, error) {
	query := `
SELECT user_id, week_start_date, matches_played, is_eligible, has_spun, spin_date
FROM weekly_bonus_eligibility WHERE user_id = ? AND week_start_date = ?`
	if lock {
		query += s.forUpdate()
	}
	var rec models.EligibilityRecord
	var week, spinDate dateValue
	err := q.QueryRowContext(ctx, s.rebind(query), userID, weekStart).Scan(
		&rec.UserID,
		&week,
		&rec.MatchesPlayed,
		&rec.IsEligible,
		&rec.HasSpun,
		&spinDate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load eligibility: %w", err)
	}
	rec.WeekStartDate = string(week)
	rec.SpinDate = spinDate.ptr()
	return &rec, nil
}

// ConsumeBonus moves an unlocked week to consumed. The eligibility check, the
// has_spun flip, the audit row and any cash credit share one transaction.
func (s *Store) ConsumeBonus(ctx context.Context, claim BonusClaim) (*BonusResult, error) {
	if claim.CashAmount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	weekStart := claim.Window.WeekStartKey()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}
	defer tx.Rollback()

	// The user row is always locked before the eligibility row.
	balance, err := s.lockBalance(ctx, tx, claim.UserID)
	if err != nil {
		return nil, classify(err)
	}
	rec, err := s.getEligibility(ctx, tx, claim.UserID, weekStart, true)
	if err != nil {
		return nil, classify(err)
	}
	if rec == nil || !rec.IsEligible {
		return nil, ErrNotEligible
	}
	if rec.HasSpun {
		return nil, ErrAlreadyConsumed
	}

	today := claim.Window.DateKey()
	res, err := tx.ExecContext(ctx, s.rebind(`
UPDATE weekly_bonus_eligibility
SET has_spun = ?, spin_date = ?, updated_at = ?
WHERE user_id = ? AND week_start_date = ? AND has_spun = ?`),
		true, today, s.timestamp(), claim.UserID, weekStart, false)
	if err != nil {
		return nil, classify(fmt.Errorf("mark bonus consumed: %w", err))
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, classify(err)
	} else if n == 0 {
		return nil, ErrAlreadyConsumed
	}
	rec.HasSpun = true
	rec.SpinDate = &today

	cash := claim.CashAmount.Round(2)
	inserted, err := s.insertParticipation(ctx, tx, Participation{
		UserID:    claim.UserID,
		EventType: models.EventWeeklyBonus,
		Window:    claim.Window,
		Amount:    cash,
	}, weekStart)
	if err != nil {
		return nil, classify(err)
	}
	if !inserted {
		return nil, ErrAlreadyConsumed
	}

	result := &BonusResult{}
	if cash.IsPositive() {
		newBalance := balance.Add(cash)
		if err := s.writeBalance(ctx, tx, claim.UserID, newBalance); err != nil {
			return nil, classify(err)
		}
		result.NewBalance = &newBalance
	}

	ref, err := refcode.Generate(referencePrefix(models.EventWeeklyBonus))
	if err != nil {
		return nil, err
	}
	txn := models.TransactionRecord{
		UserID:        claim.UserID,
		EventType:     models.EventWeeklyBonus,
		Amount:        cash,
		DayNumber:     claim.Window.DayNumber,
		WeekStartDate: weekStart,
		EventDate:     today,
		Description:   "Weekly Spin Wheel Reward - " + claim.RewardType,
		RewardType:    claim.RewardType,
		RewardValue:   claim.RewardValue,
		MatchesPlayed: rec.MatchesPlayed,
		Reference:     ref,
	}
	if err := s.insertTransaction(ctx, tx, &txn); err != nil {
		return nil, classify(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, classify(fmt.Errorf("commit bonus: %w", err))
	}
	result.Eligibility = *rec
	result.Transaction = txn
	return result, nil
}
