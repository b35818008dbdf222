// Package money converts between integer minor units and the decimal strings
// exchanged with clients.
package money

import (
	"errors"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of minor-unit digits.
const Scale = 2

var ErrInvalidAmount = errors.New("invalid amount")

var (
	maxCents = decimal.NewFromInt(math.MaxInt64)
	minCents = decimal.NewFromInt(math.MinInt64)
)

// ParseCents parses "12", "12.5" or "12.50" into 1250. More than two
// fractional digits are rejected instead of rounded.
func ParseCents(raw string) (int64, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
	clean = strings.ReplaceAll(clean, ",", ".")
	if clean == "" {
		return 0, ErrInvalidAmount
	}
	val, err := decimal.NewFromString(clean)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	shifted := val.Shift(Scale)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, ErrInvalidAmount
	}
	if shifted.GreaterThan(maxCents) || shifted.LessThan(minCents) {
		return 0, ErrInvalidAmount
	}
	return shifted.IntPart(), nil
}

// ParsePositiveCents is ParseCents restricted to amounts above zero.
func ParsePositiveCents(raw string) (int64, error) {
	cents, err := ParseCents(raw)
	if err != nil {
		return 0, err
	}
	if cents <= 0 {
		return 0, ErrInvalidAmount
	}
	return cents, nil
}

func Format(cents int64) string {
	return decimal.New(cents, -Scale).StringFixed(Scale)
}
