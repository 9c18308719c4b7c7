package reward

import (
	"context"
	"errors"
	"fmt"
	mrand "math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNoRewardConfigured = errors.New("no reward configured")
	ErrInvalidRange       = errors.New("invalid reward range")
)

type Range struct {
	Min decimal.Decimal `json:"min_amount"`
	Max decimal.Decimal `json:"max_amount"`
}

// Validate requires 0 < min <= max with at least one whole subunit inside.
func (r Range) Validate() error {
	if !r.Min.IsPositive() || r.Max.LessThan(r.Min) {
		return fmt.Errorf("%w: [%s, %s]", ErrInvalidRange, r.Min, r.Max)
	}
	lo, hi := r.subunits()
	if lo > hi {
		return fmt.Errorf("%w: no whole subunit in [%s, %s]", ErrInvalidRange, r.Min, r.Max)
	}
	return nil
}

func (r Range) subunits() (int64, int64) {
	return r.Min.Shift(2).Ceil().IntPart(), r.Max.Shift(2).Floor().IntPart()
}

// RangeSource finds active scratch ranges. Both methods return (nil, nil) when
// nothing is configured at that level.
type RangeSource interface {
	ContestRange(ctx context.Context, contestID int64, contestType string) (*Range, error)
	ContestTypeRange(ctx context.Context, contestType string) (*Range, error)
}

type Resolver struct {
	source   RangeSource
	fallback *Range
	unit     decimal.Decimal
	rng      *mrand.Rand
	mu       sync.Mutex
}

// NewResolver builds a resolver. fallback may be nil, in which case a missing
// configuration is reported as ErrNoRewardConfigured. rng may be nil.
func NewResolver(source RangeSource, fallback *Range, unit decimal.Decimal, rng *mrand.Rand) *Resolver {
	if rng == nil {
		rng = mrand.New(mrand.NewSource(time.Now().UnixNano()))
	}
	return &Resolver{
		source:   source,
		fallback: fallback,
		unit:     unit,
		rng:      rng,
	}
}

// ScratchRange walks contest → contest type → global default.
func (r *Resolver) ScratchRange(ctx context.Context, contestID *int64, contestType string) (Range, error) {
	if contestID != nil && *contestID > 0 {
		rg, err := r.source.ContestRange(ctx, *contestID, contestType)
		if err != nil {
			return Range{}, err
		}
		if rg != nil {
			return *rg, nil
		}
	}
	rg, err := r.source.ContestTypeRange(ctx, contestType)
	if err != nil {
		return Range{}, err
	}
	if rg != nil {
		return *rg, nil
	}
	if r.fallback != nil {
		return *r.fallback, nil
	}
	return Range{}, ErrNoRewardConfigured
}

// Scratch draws a random scratch-card amount for the contest.
func (r *Resolver) Scratch(ctx context.Context, contestID *int64, contestType string) (decimal.Decimal, error) {
	rg, err := r.ScratchRange(ctx, contestID, contestType)
	if err != nil {
		return decimal.Zero, err
	}
	return r.Draw(rg)
}

// Draw picks a uniform amount in rg at 0.01 granularity.
func (r *Resolver) Draw(rg Range) (decimal.Decimal, error) {
	if err := rg.Validate(); err != nil {
		return decimal.Zero, err
	}
	lo, hi := rg.subunits()
	r.mu.Lock()
	n := lo + r.rng.Int63n(hi-lo+1)
	r.mu.Unlock()
	return decimal.New(n, -2), nil
}

// Progressive returns the spin amount for a streak day.
func (r *Resolver) Progressive(streakDay int) decimal.Decimal {
	return Progressive(streakDay, r.unit)
}

func Progressive(streakDay int, unit decimal.Decimal) decimal.Decimal {
	if streakDay < 1 {
		streakDay = 1
	}
	return unit.Mul(decimal.NewFromInt(int64(streakDay))).Round(2)
}
