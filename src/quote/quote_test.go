package quote

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Narrow book: edge rounds to 0.009999 and does not clear a 0.01 target.
func TestCalculateNarrowSpread(t *testing.T) {
	q, err := Calculate(d("1800.00"), d("1800.20"), d("0.01"))
	require.NoError(t, err)

	assert.True(t, q.MyBid.Equal(d("1800.01")), "my bid %s", q.MyBid)
	assert.True(t, q.MyAsk.Equal(d("1800.19")), "my ask %s", q.MyAsk)
	assert.True(t, q.EdgePct.Equal(d("0.009999")), "edge %s", q.EdgePct)
	assert.False(t, q.Exceeds(d("0.01")))
}

func TestCalculateWideSpread(t *testing.T) {
	q, err := Calculate(d("1800.00"), d("1800.40"), d("0.01"))
	require.NoError(t, err)

	assert.True(t, q.Exceeds(d("0.01")))
	assert.True(t, q.EdgePct.Equal(d("0.021107")), "edge %s", q.EdgePct)
}

func TestCalculateCrossedBookHasNoEdge(t *testing.T) {
	q, err := Calculate(d("100.00"), d("100.01"), d("0.01"))
	require.NoError(t, err)

	assert.True(t, q.EdgePct.IsNegative())
	assert.False(t, q.Exceeds(decimal.Zero))
}

func TestCalculateRejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name           string
		bid, ask, tick string
	}{
		{"zero bid", "0", "10", "0.01"},
		{"negative ask", "10", "-1", "0.01"},
		{"zero tick", "10", "11", "0"},
		{"ask equals tick", "0.005", "0.01", "0.01"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Calculate(d(tc.bid), d(tc.ask), d(tc.tick))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTick))
		})
	}
}

func TestRoundDown(t *testing.T) {
	cases := []struct {
		value, step, want string
	}{
		{"0.0123456", "0.0001", "0.0123"},
		{"5.5549", "0.01", "5.55"},
		{"3", "0", "3"},
		{"-1", "0.1", "0"},
		{"0.00999", "0.01", "0"},
	}

	for _, tc := range cases {
		got := RoundDown(d(tc.value), d(tc.step))
		assert.True(t, got.Equal(d(tc.want)), "RoundDown(%s, %s) = %s, want %s", tc.value, tc.step, got, tc.want)
	}

	assert.True(t, RoundToTick(d("1800.019"), d("0.01")).Equal(d("1800.01")))
}
