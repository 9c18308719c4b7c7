package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"play-rewards/internal/calendar"
	"play-rewards/internal/models"
	"play-rewards/internal/util/refcode"
)

// Period selects the once-per-period gate applied by Settle.
type Period int

const (
	PerDay Period = iota
	PerWeek
)

type Settlement struct {
	UserID      int64
	EventType   models.EventType
	Amount      decimal.Decimal
	Window      calendar.Window
	Period      Period
	ContestID   *int64
	ContestType string
	Description string
}

type SettlementResult struct {
	PreviousBalance decimal.Decimal
	NewBalance      decimal.Decimal
	AmountAdded     decimal.Decimal
	Transaction     models.TransactionRecord
}

func (st Settlement) gateDate() string {
	if st.Period == PerWeek {
		return st.Window.WeekStartKey()
	}
	return st.Window.DateKey()
}

func (st Settlement) alreadyDone() error {
	if st.Period == PerWeek {
		return ErrAlreadyCompletedThisWeek
	}
	return ErrAlreadyCompletedToday
}

// Settle credits amount to the user's wallet exactly once per period. The
// period gate, balance update and audit row commit or roll back together.
func (s *Store) Settle(ctx context.Context, st Settlement) (*SettlementResult, error) {
	amount := st.Amount.Round(2)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}
	defer tx.Rollback()

	balance, err := s.lockBalance(ctx, tx, st.UserID)
	if err != nil {
		return nil, classify(err)
	}

	inserted, err := s.insertParticipation(ctx, tx, Participation{
		UserID:      st.UserID,
		EventType:   st.EventType,
		Window:      st.Window,
		Amount:      amount,
		ContestID:   st.ContestID,
		ContestType: st.ContestType,
	}, st.gateDate())
	if err != nil {
		return nil, classify(err)
	}
	if !inserted {
		return nil, st.alreadyDone()
	}

	newBalance := balance.Add(amount)
	if err := s.writeBalance(ctx, tx, st.UserID, newBalance); err != nil {
		return nil, classify(err)
	}

	ref, err := refcode.Generate(referencePrefix(st.EventType))
	if err != nil {
		return nil, err
	}
	rec := models.TransactionRecord{
		UserID:        st.UserID,
		EventType:     st.EventType,
		Amount:        amount,
		DayNumber:     st.Window.DayNumber,
		WeekStartDate: st.Window.WeekStartKey(),
		EventDate:     st.Window.DateKey(),
		Description:   st.Description,
		Reference:     ref,
	}
	if err := s.insertTransaction(ctx, tx, &rec); err != nil {
		return nil, classify(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, classify(fmt.Errorf("commit settlement: %w", err))
	}
	return &SettlementResult{
		PreviousBalance: balance,
		NewBalance:      newBalance,
		AmountAdded:     amount,
		Transaction:     rec,
	}, nil
}

// lockBalance reads the balance under a row lock. On sqlite the immediate
// transaction already holds the database write lock.
func (s *Store) lockBalance(ctx context.Context, tx *sql.Tx, userID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.QueryRowContext(ctx, s.rebind(`SELECT wallet_balance FROM users WHERE id = ?`+s.forUpdate()), userID).
		Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, ErrUserNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("lock balance: %w", err)
	}
	return balance.Round(2), nil
}

func (s *Store) writeBalance(ctx context.Context, tx *sql.Tx, userID int64, balance decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, s.rebind(`UPDATE users SET wallet_balance = ?, updated_at = ? WHERE id = ?`),
		balance.Round(2), s.timestamp(), userID)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return nil
}

func referencePrefix(eventType models.EventType) string {
	switch eventType {
	case models.EventScratchCard:
		return "SCR"
	case models.EventSpinWheel:
		return "SPN"
	case models.EventWeeklyBonus:
		return "WKB"
	default:
		return "RWD"
	}
}
