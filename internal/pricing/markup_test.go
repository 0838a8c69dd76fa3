package pricing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/nihonselect/api/internal/domain"
)

func TestDisplayPrice(t *testing.T) {
	t.Parallel()

	cases := []struct {
		original int64
		want     int64
	}{
		{0, 0},
		{1, 1},
		{2, 2},
		{3, 4},
		{5, 6},
		{8, 10},
		{100, 120},
		{999, 1199},
		{1234, 1481},
		{2500, 3000},
		{1_000_000, 1_200_000},
	}

	for _, tc := range cases {
		got, err := DisplayPrice(tc.original)
		require.NoError(t, err)
		assert.Equalf(t, tc.want, got, "DisplayPrice(%d)", tc.original)
	}
}

func TestDisplayPriceRejectsNegative(t *testing.T) {
	t.Parallel()

	_, err := DisplayPrice(-1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNegativePrice))
	assert.Panics(t, func() { MustDisplayPrice(-10) })
}

func TestDisplayPriceIsMonotonic(t *testing.T) {
	t.Parallel()

	prev := int64(-1)
	for original := int64(0); original <= 5000; original++ {
		got := MustDisplayPrice(original)
		if got < prev {
			t.Fatalf("DisplayPrice(%d)=%d is below DisplayPrice(%d)=%d", original, got, original-1, prev)
		}
		if got < original {
			t.Fatalf("DisplayPrice(%d)=%d is below the source price", original, got)
		}
		prev = got
	}
}

func TestSubtotals(t *testing.T) {
	t.Parallel()

	items := []domain.LineItem{
		{ProductID: "a", OriginalPrice: 500, Price: 1, Quantity: 2},
		{ProductID: "b", OriginalPrice: 1234, Quantity: 1},
	}

	original, err := OriginalSubtotal(items)
	require.NoError(t, err)
	assert.Equal(t, int64(2234), original)

	marked, err := SubtotalWithMarkup(items)
	require.NoError(t, err)
	assert.Equal(t, int64(600*2+1481), marked)
	assert.Greater(t, marked, original)
}

func TestSubtotalsStrictlyGreaterForPositivePrices(t *testing.T) {
	t.Parallel()

	for original := int64(1); original <= 200; original++ {
		items := []domain.LineItem{{OriginalPrice: original, Quantity: 3}}
		orig, err := OriginalSubtotal(items)
		require.NoError(t, err)
		marked, err := SubtotalWithMarkup(items)
		require.NoError(t, err)
		if marked <= orig {
			t.Fatalf("expected marked-up subtotal %d to exceed %d for price %d", marked, orig, original)
		}
	}
}

func TestSubtotalsRejectInvalidLines(t *testing.T) {
	t.Parallel()

	_, err := SubtotalWithMarkup([]domain.LineItem{{OriginalPrice: 100, Quantity: 0}})
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = OriginalSubtotal([]domain.LineItem{{OriginalPrice: -5, Quantity: 1}})
	assert.ErrorIs(t, err, ErrNegativePrice)

	empty, err := SubtotalWithMarkup(nil)
	require.NoError(t, err)
	assert.Zero(t, empty)
}

func TestApplyMarkupDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	items := []domain.LineItem{{ProductID: "a", OriginalPrice: 1000, Price: 5, Quantity: 1}}
	priced, err := ApplyMarkup(items)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), priced[0].Price)
	assert.Equal(t, int64(5), items[0].Price)
}

func TestPercentageAndAverage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 27.78, Percentage(500, 1800))
	assert.Zero(t, Percentage(100, 0))
	assert.Equal(t, 900.0, Average(1800, 2))
	assert.Equal(t, 333.33, Average(1000, 3))
	assert.Zero(t, Average(0, 0))
}
