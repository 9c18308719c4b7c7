package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventContestPlay EventType = "contest_play"
	EventScratchCard EventType = "scratch_card"
	EventSpinWheel   EventType = "spin_wheel"
	EventWeeklyBonus EventType = "weekly_bonus"
)

const UserStatusOnline = "online"

type User struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Status        string          `json:"status"`
	WalletBalance decimal.Decimal `json:"wallet_balance"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ParticipationRecord is one row of the append-only ledger.
type ParticipationRecord struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"user_id"`
	EventType     EventType       `json:"event_type"`
	EventKey      string          `json:"event_key"`
	EventDate     string          `json:"event_date"`
	WeekStartDate string          `json:"week_start_date"`
	DayNumber     int             `json:"day_number"`
	Amount        decimal.Decimal `json:"amount"`
	ContestID     *int64          `json:"contest_id,omitempty"`
	ContestType   string          `json:"contest_type,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// WeeklyParticipation aggregates one user's events of one type for a week.
type WeeklyParticipation struct {
	DayNumbers  []int           `json:"day_numbers"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Count       int             `json:"count"`
}

type EligibilityRecord struct {
	UserID        int64   `json:"user_id"`
	WeekStartDate string  `json:"week_start_date"`
	MatchesPlayed int     `json:"matches_played"`
	IsEligible    bool    `json:"is_eligible"`
	HasSpun       bool    `json:"has_spun"`
	SpinDate      *string `json:"spin_date"`
}

type TransactionRecord struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	EventType       EventType       `json:"event_type"`
	Amount          decimal.Decimal `json:"amount"`
	DayNumber       int             `json:"day_number"`
	WeekStartDate   string          `json:"week_start_date"`
	EventDate       string          `json:"event_date"`
	TransactionType string          `json:"transaction_type"`
	Description     string          `json:"description"`
	RewardType      string          `json:"reward_type,omitempty"`
	RewardValue     string          `json:"reward_value,omitempty"`
	MatchesPlayed   int             `json:"matches_played,omitempty"`
	Reference       string          `json:"reference"`
	CreatedAt       time.Time       `json:"created_at"`
}

type ScratchCard struct {
	ID          int64           `json:"id"`
	ContestID   *int64          `json:"contest_id"`
	ContestType string          `json:"contest_type"`
	MinAmount   decimal.Decimal `json:"min_amount"`
	MaxAmount   decimal.Decimal `json:"max_amount"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
