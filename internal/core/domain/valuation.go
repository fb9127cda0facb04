package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// SalvageCategory is the insurance write-off category of a vehicle.
type SalvageCategory string

const (
	SalvageNone SalvageCategory = ""
	SalvageCatN SalvageCategory = "CAT N"
	SalvageCatS SalvageCategory = "CAT S"
)

// Factor returns the multiplier applied to a clean valuation.
func (c SalvageCategory) Factor() float64 {
	switch SalvageCategory(strings.ToUpper(strings.TrimSpace(string(c)))) {
	case SalvageCatN:
		return 0.85
	case SalvageCatS:
		return 0.70
	default:
		return 1
	}
}

// Valuation is the amount persisted for a valuated record.
type Valuation struct {
	Amount float64
	// OriginalAmount is set only when a salvage adjustment changed the amount.
	OriginalAmount *float64
}

// NewValuation applies the salvage adjustment of category to the site amount.
func NewValuation(amount float64, category SalvageCategory) Valuation {
	factor := category.Factor()
	if factor == 1 {
		return Valuation{Amount: amount}
	}
	original := amount
	return Valuation{
		Amount:         math.Round(amount*factor*100) / 100,
		OriginalAmount: &original,
	}
}

// ParseAmount extracts a monetary amount from text such as "£12,345.67".
func ParseAmount(text string) (float64, error) {
	var b strings.Builder
	for _, r := range text {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	cleaned := strings.Trim(b.String(), ".")
	if cleaned == "" {
		return 0, fmt.Errorf("no amount in %q", text)
	}
	amount, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", text, err)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("invalid amount %q", text)
	}
	return amount, nil
}
