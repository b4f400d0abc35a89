package market

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Price is a fixed-point decimal quote. Binary floats are never used for
// money or share-risk arithmetic.
type Price = decimal.Decimal

// ParsePrice parses a decimal string such as "148.50".
func ParsePrice(s string) (Price, error) {
	p, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", s, err)
	}
	return p, nil
}

// MustPrice is ParsePrice for constants and tests.
func MustPrice(s string) Price {
	p, err := ParsePrice(s)
	if err != nil {
		panic(err)
	}
	return p
}

var two = decimal.NewFromInt(2)
