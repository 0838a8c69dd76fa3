// Package pricing converts scraped source prices into customer-facing yen amounts.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	domain "github.com/nihonselect/api/internal/domain"
)

// MarkupPercent is the fixed margin added on top of every source price.
const MarkupPercent = 20

var (
	// ErrNegativePrice is returned for source prices below zero.
	ErrNegativePrice = errors.New("pricing: price must not be negative")
	// ErrInvalidQuantity is returned for line quantities below one.
	ErrInvalidQuantity = errors.New("pricing: quantity must be at least 1")
)

var (
	markupFactor = decimal.NewFromInt(100 + MarkupPercent).Div(decimal.NewFromInt(100))
	hundred      = decimal.NewFromInt(100)
)

// DisplayPrice returns round(original * 1.2) in whole yen.
func DisplayPrice(original int64) (int64, error) {
	if original < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativePrice, original)
	}
	return decimal.NewFromInt(original).Mul(markupFactor).Round(0).IntPart(), nil
}

// MustDisplayPrice is DisplayPrice for values already validated as non-negative.
func MustDisplayPrice(original int64) int64 {
	price, err := DisplayPrice(original)
	if err != nil {
		panic(err)
	}
	return price
}

// SubtotalWithMarkup sums DisplayPrice(originalPrice) * quantity. The stored Price of each item is
// ignored so a tampered line cannot change the result.
func SubtotalWithMarkup(items []domain.LineItem) (int64, error) {
	var total int64
	for i, item := range items {
		if item.Quantity < 1 {
			return 0, fmt.Errorf("%w: item %d", ErrInvalidQuantity, i)
		}
		price, err := DisplayPrice(item.OriginalPrice)
		if err != nil {
			return 0, fmt.Errorf("item %d: %w", i, err)
		}
		total += price * int64(item.Quantity)
	}
	return total, nil
}

// OriginalSubtotal sums originalPrice * quantity.
func OriginalSubtotal(items []domain.LineItem) (int64, error) {
	var total int64
	for i, item := range items {
		if item.Quantity < 1 {
			return 0, fmt.Errorf("%w: item %d", ErrInvalidQuantity, i)
		}
		if item.OriginalPrice < 0 {
			return 0, fmt.Errorf("item %d: %w", i, ErrNegativePrice)
		}
		total += item.OriginalPrice * int64(item.Quantity)
	}
	return total, nil
}

// ApplyMarkup returns a copy of items with Price recomputed from OriginalPrice.
func ApplyMarkup(items []domain.LineItem) ([]domain.LineItem, error) {
	out := make([]domain.LineItem, len(items))
	for i, item := range items {
		price, err := DisplayPrice(item.OriginalPrice)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		item.Price = price
		out[i] = item
	}
	return out, nil
}

// Percentage returns part/whole*100 rounded to two decimals, or 0 when whole is 0.
func Percentage(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	value, _ := decimal.NewFromInt(part).Mul(hundred).Div(decimal.NewFromInt(whole)).Round(2).Float64()
	return value
}

// Average returns total/count rounded to two decimals, or 0 when count is 0.
func Average(total int64, count int) float64 {
	if count == 0 {
		return 0
	}
	value, _ := decimal.NewFromInt(total).Div(decimal.NewFromInt(int64(count))).Round(2).Float64()
	return value
}
