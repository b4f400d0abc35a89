package market

import "fmt"

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "Buy"
	Sell Side = "Sell"
)

func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// Opposite returns the side that reduces a position opened with s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Sign is +1 for buys and -1 for sells.
func (s Side) Sign() int64 {
	if s == Sell {
		return -1
	}
	return 1
}

// ParseSide accepts the canonical names plus the usual lower/upper case forms.
func ParseSide(s string) (Side, error) {
	switch s {
	case "Buy", "buy", "BUY", "long", "LONG":
		return Buy, nil
	case "Sell", "sell", "SELL", "short", "SHORT":
		return Sell, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}
