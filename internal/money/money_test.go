package money

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCents(t *testing.T) {
	cases := map[string]int64{
		"12":      1200,
		"12.5":    1250,
		"12.50":   1250,
		" 7,25 ":  725,
		"0":       0,
		"1 500.5": 150050,
	}
	for raw, want := range cases {
		got, err := ParseCents(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
}

func TestParseCentsRejectsSubCentAndGarbage(t *testing.T) {
	for _, raw := range []string{"", "abc", "1.005", "12..3", "184467440737095516.17", "-184467440737095516.17", "92233720368547758.08"} {
		_, err := ParseCents(raw)
		assert.ErrorIs(t, err, ErrInvalidAmount, raw)
	}

	_, err := ParsePositiveCents("184467440737095516.17")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	cents, err := ParseCents("92233720368547758.07")
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), cents)
}

func TestParsePositiveCentsRejectsZeroAndNegative(t *testing.T) {
	_, err := ParsePositiveCents("0")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = ParsePositiveCents("-3")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	cents, err := ParsePositiveCents("3.10")
	require.NoError(t, err)
	assert.Equal(t, int64(310), cents)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "12.50", Format(1250))
	assert.Equal(t, "0.05", Format(5))
	assert.Equal(t, "-3.00", Format(-300))
}
