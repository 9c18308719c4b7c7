package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"play-rewards/internal/models"
)

const userColumns = `id, name, status, wallet_balance, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	var created, updated timeValue
	if err := row.Scan(&u.ID, &u.Name, &u.Status, &u.WalletBalance, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	u.WalletBalance = u.WalletBalance.Round(2)
	u.CreatedAt = created.time()
	u.UpdatedAt = updated.time()
	return &u, nil
}

// CreateUser inserts an online user holding the given session token.
func (s *Store) CreateUser(ctx context.Context, name, sessionToken string, balance decimal.Decimal) (*models.User, error) {
	if balance.IsNegative() {
		return nil, ErrInvalidAmount
	}
	now := s.timestamp()
	row := s.db.QueryRowContext(ctx, s.rebind(`
INSERT INTO users (name, session_token, status, wallet_balance, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING `+userColumns),
		name, sessionToken, models.UserStatusOnline, balance.Round(2), now, now)
	return scanUser(row)
}

// UserBySessionToken resolves an active session. Unknown tokens and users that
// are not online both report ErrUserNotFound.
func (s *Store) UserBySessionToken(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrUserNotFound
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`
SELECT `+userColumns+` FROM users WHERE session_token = ? AND status = ?`),
		token, models.UserStatusOnline)
	return scanUser(row)
}

func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	return scanUser(row)
}

// SetUserStatus is used to log a user out ("offline") or back in.
func (s *Store) SetUserStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE users SET status = ?, updated_at = ? WHERE id = ?`),
		status, s.timestamp(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}
