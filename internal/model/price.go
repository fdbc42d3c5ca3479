package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PriceScale is the fixed-point factor applied to every stored price.
// 1.000 is stored as 1000 so that equality checks and running extremes
// never drift through float rounding.
const PriceScale = 1000

var scaleDec = decimal.NewFromInt(PriceScale)

// Price is a fixed-point price in thousandths of the quote currency.
type Price int64

// ParsePrice converts a decimal string such as "101.255" into a Price.
// Digits beyond the scale are rounded half away from zero.
func ParsePrice(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", s, err)
	}
	return Price(d.Mul(scaleDec).Round(0).IntPart()), nil
}

// PriceFromFloat converts a broker float into a Price.
func PriceFromFloat(f float64) Price {
	return Price(decimal.NewFromFloat(f).Mul(scaleDec).Round(0).IntPart())
}

// PriceOf builds a Price from whole units, mostly for tests and fixtures.
func PriceOf(units int64) Price {
	return Price(units * PriceScale)
}

// Float returns the price in quote currency units.
func (p Price) Float() float64 {
	f, _ := decimal.New(int64(p), 0).Div(scaleDec).Float64()
	return f
}

// String renders the price with the full fixed-point precision.
func (p Price) String() string {
	return decimal.New(int64(p), -3).StringFixed(3)
}
