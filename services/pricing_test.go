package services

import (
	"errors"
	"testing"

	"smm-telegram/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(cost string, min, max int) *models.ServiceEntry {
	return &models.ServiceEntry{
		Platform:    models.PlatformInstagram,
		Category:    "Followers",
		Name:        "Instagram Followers",
		UnitCost:    decimal.RequireFromString(cost),
		MinQuantity: min,
		MaxQuantity: max,
	}
}

func TestQuote(t *testing.T) {
	tests := []struct {
		name   string
		cost   string
		qty    int
		margin string
		want   string
	}{
		{"instagram followers 40%", "0.50", 500, "40", "350.00"},
		{"zero margin", "0.50", 500, "0", "250.00"},
		{"half rounds up", "0.005", 1, "0", "0.01"},
		{"below half rounds down", "0.0049", 1, "0", "0.00"},
		{"fractional margin", "0.123", 1000, "12.5", "138.38"},
		{"max bound", "0.50", 10000, "40", "7000.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := entry(tt.cost, 1, 10000)
			got, err := Quote(e, tt.qty, decimal.RequireFromString(tt.margin))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.StringFixed(2))
		})
	}
}

func TestQuote_OutOfBounds(t *testing.T) {
	e := entry("0.50", 100, 10000)
	for _, q := range []int{0, 99, 10001, -5} {
		_, err := Quote(e, q, decimal.NewFromInt(40))
		var ve *ValidationError
		require.True(t, errors.As(err, &ve), "q=%d", q)
		assert.Equal(t, "Quantity must be between 100 and 10000 for this service.", ve.Message)
	}
}

func TestQuote_Monotonic(t *testing.T) {
	e := entry("0.037", 10, 2000)
	margins := []int64{0, 1, 5, 17, 40, 99, 250}
	for _, m := range margins {
		prev := decimal.NewFromInt(-1)
		for q := e.MinQuantity; q <= e.MaxQuantity; q += 7 {
			got, err := Quote(e, q, decimal.NewFromInt(m))
			require.NoError(t, err)
			assert.True(t, got.GreaterThanOrEqual(prev), "quantity %d margin %d", q, m)
			prev = got
		}
	}
	for q := e.MinQuantity; q <= e.MaxQuantity; q += 97 {
		prev := decimal.NewFromInt(-1)
		for _, m := range margins {
			got, err := Quote(e, q, decimal.NewFromInt(m))
			require.NoError(t, err)
			assert.True(t, got.GreaterThanOrEqual(prev), "quantity %d margin %d", q, m)
			prev = got
		}
	}
}

func TestQuoteBreakdown(t *testing.T) {
	b, err := QuoteBreakdown(entry("0.50", 100, 10000), 500, decimal.NewFromInt(40))
	require.NoError(t, err)
	assert.Equal(t, "250.00", b.Cost.StringFixed(2))
	assert.Equal(t, "350.00", b.Total.StringFixed(2))
	assert.Equal(t, "100.00", b.Profit.StringFixed(2))
}

func TestPricePer1K(t *testing.T) {
	assert.Equal(t, "700.00", PricePer1K(entry("0.50", 1, 10), decimal.NewFromInt(40)).StringFixed(2))
	assert.Equal(t, "₹350.00", FormatMoney("₹", decimal.NewFromInt(350)))
}
