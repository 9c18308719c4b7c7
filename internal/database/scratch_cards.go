package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"play-rewards/internal/models"
	"play-rewards/internal/reward"
)

const scratchCardColumns = `id, contest_id, contest_type, min_amount, max_amount, is_active, created_at, updated_at`

func scanScratchCard(row interface{ Scan(...any) error }) (*models.ScratchCard, error) {
	var card models.ScratchCard
	var contestID sql.NullInt64
	var created, updated timeValue
	if err := row.Scan(
		&card.ID,
		&contestID,
		&card.ContestType,
		&card.MinAmount,
		&card.MaxAmount,
		&card.IsActive,
		&created,
		&updated,
	); err != nil {
		return nil, err
	}
	card.ContestID = nullableInt64(contestID)
	card.MinAmount = card.MinAmount.Round(2)
	card.MaxAmount = card.MaxAmount.Round(2)
	card.CreatedAt = created.time()
	card.UpdatedAt = updated.time()
	return &card, nil
}

// ContestRange returns the newest active range configured for one contest.
func (s *Store) ContestRange(ctx context.Context, contestID int64, contestType string) (*reward.Range, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
SELECT `+scratchCardColumns+` FROM scratch_cards
WHERE contest_id = ? AND contest_type = ? AND is_active = ?
ORDER BY id DESC LIMIT 1`), contestID, contestType, true)
	return rangeFromRow(row)
}

// ContestTypeRange returns the newest active default for a contest type.
func (s *Store) ContestTypeRange(ctx context.Context, contestType string) (*reward.Range, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
SELECT `+scratchCardColumns+` FROM scratch_cards
WHERE contest_id IS NULL AND contest_type = ? AND is_active = ?
ORDER BY id DESC LIMIT 1`), contestType, true)
	return rangeFromRow(row)
}

func rangeFromRow(row *sql.Row) (*reward.Range, error) {
	card, err := scanScratchCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &reward.Range{Min: card.MinAmount, Max: card.MaxAmount}, nil
}

func (s *Store) ListScratchCards(ctx context.Context, activeOnly bool) ([]models.ScratchCard, error) {
	query := `SELECT ` + scratchCardColumns + ` FROM scratch_cards`
	var args []any
	if activeOnly {
		query += ` WHERE is_active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY contest_type, id DESC`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := make([]models.ScratchCard, 0)
	for rows.Next() {
		card, err := scanScratchCard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *card)
	}
	return out, classify(rows.Err())
}

func (s *Store) GetScratchCard(ctx context.Context, id int64) (*models.ScratchCard, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+scratchCardColumns+` FROM scratch_cards WHERE id = ?`), id)
	card, err := scanScratchCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScratchCardNotFound
	}
	return card, classify(err)
}

// CreateScratchCard stores a range. A nil ContestID makes it the contest type default.
func (s *Store) CreateScratchCard(ctx context.Context, card models.ScratchCard) (*models.ScratchCard, error) {
	if err := (reward.Range{Min: card.MinAmount, Max: card.MaxAmount}).Validate(); err != nil {
		return nil, err
	}
	now := s.timestamp()
	row := s.db.QueryRowContext(ctx, s.rebind(`
INSERT INTO scratch_cards (contest_id, contest_type, min_amount, max_amount, is_active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
RETURNING `+scratchCardColumns),
		nullContestID(card.ContestID),
		card.ContestType,
		card.MinAmount.Round(2),
		card.MaxAmount.Round(2),
		card.IsActive,
		now,
		now,
	)
	created, err := scanScratchCard(row)
	if err != nil {
		return nil, classify(fmt.Errorf("insert scratch card: %w", err))
	}
	return created, nil
}

func (s *Store) UpdateScratchCard(ctx context.Context, card models.ScratchCard) (*models.ScratchCard, error) {
	if err := (reward.Range{Min: card.MinAmount, Max: card.MaxAmount}).Validate(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`
UPDATE scratch_cards
SET contest_id = ?, contest_type = ?, min_amount = ?, max_amount = ?, is_active = ?, updated_at = ?
WHERE id = ?
RETURNING `+scratchCardColumns),
		nullContestID(card.ContestID),
		card.ContestType,
		card.MinAmount.Round(2),
		card.MaxAmount.Round(2),
		card.IsActive,
		s.timestamp(),
		card.ID,
	)
	updated, err := scanScratchCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScratchCardNotFound
	}
	if err != nil {
		return nil, classify(fmt.Errorf("update scratch card: %w", err))
	}
	return updated, nil
}

// DeactivateScratchCard hides a range from lookups without deleting it.
func (s *Store) DeactivateScratchCard(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE scratch_cards SET is_active = ?, updated_at = ? WHERE id = ?`),
		false, s.timestamp(), id)
	if err != nil {
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrScratchCardNotFound
	}
	return nil
}

func nullContestID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}
