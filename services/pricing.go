package services

import (
	"fmt"

	"smm-telegram/models"

	"github.com/shopspring/decimal"
)

// CurrencyScale is the number of decimal places of the smallest currency unit.
const CurrencyScale = 2

var (
	hundred  = decimal.NewFromInt(100)
	thousand = decimal.NewFromInt(1000)
)

// UnitPrice is the exact resale price of one unit: cost * (1 + margin/100).
func UnitPrice(e *models.ServiceEntry, marginPercent decimal.Decimal) decimal.Decimal {
	return e.UnitCost.Mul(decimal.NewFromInt(1).Add(marginPercent.Div(hundred)))
}

// RoundMoney rounds half up to the smallest currency unit. Amounts are never negative.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(CurrencyScale)
}

// CheckQuantity returns a *ValidationError if q is outside the entry's bounds.
func CheckQuantity(e *models.ServiceEntry, q int) error {
	if q < e.MinQuantity || q > e.MaxQuantity {
		return &ValidationError{
			Field:   "quantity",
			Message: fmt.Sprintf("Quantity must be between %d and %d for this service.", e.MinQuantity, e.MaxQuantity),
		}
	}
	return nil
}

// Quote returns the total price for q units at the given margin percent.
func Quote(e *models.ServiceEntry, q int, marginPercent decimal.Decimal) (decimal.Decimal, error) {
	if err := CheckQuantity(e, q); err != nil {
		return decimal.Zero, err
	}
	return RoundMoney(UnitPrice(e, marginPercent).Mul(decimal.NewFromInt(int64(q)))), nil
}

// PricePer1K is the resale price of 1000 units, shown on service buttons.
func PricePer1K(e *models.ServiceEntry, marginPercent decimal.Decimal) decimal.Decimal {
	return RoundMoney(UnitPrice(e, marginPercent).Mul(thousand))
}

// Breakdown splits a quoted total into wholesale cost and profit.
type Breakdown struct {
	Cost   decimal.Decimal
	Total  decimal.Decimal
	Profit decimal.Decimal
}

func QuoteBreakdown(e *models.ServiceEntry, q int, marginPercent decimal.Decimal) (Breakdown, error) {
	total, err := Quote(e, q, marginPercent)
	if err != nil {
		return Breakdown{}, err
	}
	cost := RoundMoney(e.UnitCost.Mul(decimal.NewFromInt(int64(q))))
	return Breakdown{Cost: cost, Total: total, Profit: total.Sub(cost)}, nil
}

// FormatMoney renders an amount with exactly two decimals.
func FormatMoney(symbol string, d decimal.Decimal) string {
	return symbol + d.StringFixed(CurrencyScale)
}
