package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"play-rewards/internal/calendar"
	"play-rewards/internal/models"
)

// Participation describes one event to append to the ledger.
type Participation struct {
	UserID      int64
	EventType   models.EventType
	EventKey    string
	Window      calendar.Window
	Amount      decimal.Decimal
	ContestID   *int64
	ContestType string
}

// RecordParticipation appends a ledger row unless one already exists for
// (user, event type, event key, date). It reports whether a row was written.
func (s *Store) RecordParticipation(ctx context.Context, p Participation) (bool, error) {
	inserted, err := s.insertParticipation(ctx, s.db, p, p.Window.DateKey())
	return inserted, classify(err)
}

// insertParticipation keys the row on eventDate, which is the week start for
// once-per-week events.
func (s *Store) insertParticipation(ctx context.Context, q querier, p Participation, eventDate string) (bool, error) {
	var contestID sql.NullInt64
	if p.ContestID != nil {
		contestID = sql.NullInt64{Int64: *p.ContestID, Valid: true}
	}
	res, err := q.ExecContext(ctx, s.rebind(`
INSERT INTO reward_participations
    (user_id, event_type, event_key, event_date, week_start_date, day_number, amount, contest_id, contest_type, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, event_type, event_key, event_date) DO NOTHING`),
		p.UserID,
		string(p.EventType),
		p.EventKey,
		eventDate,
		p.Window.WeekStartKey(),
		p.Window.DayNumber,
		p.Amount.Round(2),
		contestID,
		p.ContestType,
		s.timestamp(),
	)
	if err != nil {
		return false, fmt.Errorf("insert participation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// WeeklyParticipation aggregates a user's events of one type in a week.
func (s *Store) WeeklyParticipation(ctx context.Context, userID int64, eventType models.EventType, weekStart string) (models.WeeklyParticipation, error) {
	out := models.WeeklyParticipation{DayNumbers: []int{}, TotalAmount: decimal.Zero}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT day_number, amount FROM reward_participations
WHERE user_id = ? AND event_type = ? AND week_start_date = ?
ORDER BY day_number`), userID, string(eventType), weekStart)
	if err != nil {
		return out, classify(err)
	}
	defer rows.Close()
	for rows.Next() {
		var day int
		var amount decimal.Decimal
		if err := rows.Scan(&day, &amount); err != nil {
			return out, err
		}
		out.Count++
		out.TotalAmount = out.TotalAmount.Add(amount)
		if !slices.Contains(out.DayNumbers, day) {
			out.DayNumbers = append(out.DayNumbers, day)
		}
	}
	if err := rows.Err(); err != nil {
		return out, classify(err)
	}
	out.TotalAmount = out.TotalAmount.Round(2)
	return out, nil
}

// ListParticipations returns every ledger row of the week in the order the
// events happened.
func (s *Store) ListParticipations(ctx context.Context, userID int64, weekStart string) ([]models.ParticipationRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT id, user_id, event_type, event_key, event_date, week_start_date, day_number, amount, contest_id, contest_type, created_at
FROM reward_participations
WHERE user_id = ? AND week_start_date = ?
ORDER BY event_date, id`), userID, weekStart)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := make([]models.ParticipationRecord, 0)
	for rows.Next() {
		var rec models.ParticipationRecord
		var eventType string
		var eventDate, week dateValue
		var contestID sql.NullInt64
		var contestType sql.NullString
		var created timeValue
		if err := rows.Scan(
			&rec.ID,
			&rec.UserID,
			&eventType,
			&rec.EventKey,
			&eventDate,
			&week,
			&rec.DayNumber,
			&rec.Amount,
			&contestID,
			&contestType,
			&created,
		); err != nil {
			return nil, err
		}
		rec.EventType = models.EventType(eventType)
		rec.EventDate = string(eventDate)
		rec.WeekStartDate = string(week)
		rec.Amount = rec.Amount.Round(2)
		rec.ContestID = nullableInt64(contestID)
		rec.ContestType = contestType.String
		rec.CreatedAt = created.time()
		out = append(out, rec)
	}
	return out, classify(rows.Err())
}

func (s *Store) HasEventToday(ctx context.Context, userID int64, eventType models.EventType, date string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(`
SELECT 1 FROM reward_participations
WHERE user_id = ? AND event_type = ? AND event_date = ?
LIMIT 1`), userID, string(eventType), date).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify(err)
	}
	return true, nil
}
