package database

import (
	"context"
	"fmt"
	"strings"

	"play-rewards/internal/models"
)

const transactionColumns = `id, user_id, event_type, amount, day_number, week_start_date, event_date,
    transaction_type, description, reward_type, reward_value, matches_played, reference, created_at`

func (s *Store) insertTransaction(ctx context.Context, q querier, rec *models.TransactionRecord) error {
	if rec.TransactionType == "" {
		rec.TransactionType = "credit"
	}
	rec.CreatedAt = s.timestamp()
	err := q.QueryRowContext(ctx, s.rebind(`
INSERT INTO reward_transactions
    (user_id, event_type, amount, day_number, week_start_date, event_date,
     transaction_type, description, reward_type, reward_value, matches_played, reference, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`),
		rec.UserID,
		string(rec.EventType),
		rec.Amount.Round(2),
		rec.DayNumber,
		rec.WeekStartDate,
		rec.EventDate,
		rec.TransactionType,
		rec.Description,
		rec.RewardType,
		rec.RewardValue,
		rec.MatchesPlayed,
		rec.Reference,
		rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// TransactionFilter narrows ListTransactions. Empty fields match everything.
type TransactionFilter struct {
	UserID    int64
	EventType models.EventType
	WeekStart string
	Limit     int
}

// ListTransactions returns the newest records first. A week filter orders by
// event date before creation time.
func (s *Store) ListTransactions(ctx context.Context, f TransactionFilter) ([]models.TransactionRecord, error) {
	var (
		where []string
		args  []any
	)
	where = append(where, "user_id = ?")
	args = append(args, f.UserID)
	if f.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, string(f.EventType))
	}
	order := "created_at DESC, id DESC"
	if f.WeekStart != "" {
		where = append(where, "week_start_date = ?")
		args = append(args, f.WeekStart)
		order = "event_date DESC, created_at DESC, id DESC"
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	query := `SELECT ` + transactionColumns + ` FROM reward_transactions WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY ` + order + ` LIMIT ?`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := make([]models.TransactionRecord, 0)
	for rows.Next() {
		var rec models.TransactionRecord
		var eventType string
		var weekStart, eventDate dateValue
		var created timeValue
		if err := rows.Scan(
			&rec.ID,
			&rec.UserID,
			&eventType,
			&rec.Amount,
			&rec.DayNumber,
			&weekStart,
			&eventDate,
			&rec.TransactionType,
			&rec.Description,
			&rec.RewardType,
			&rec.RewardValue,
			&rec.MatchesPlayed,
			&rec.Reference,
			&created,
		); err != nil {
			return nil, err
		}
		rec.EventType = models.EventType(eventType)
		rec.Amount = rec.Amount.Round(2)
		rec.WeekStartDate = string(weekStart)
		rec.EventDate = string(eventDate)
		rec.CreatedAt = created.time()
		out = append(out, rec)
	}
	return out, classify(rows.Err())
}
