package domain

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnitsPerCredit is the fixed scale of Credits: two decimal places.
const MinorUnitsPerCredit = 100

const creditScale = 2

var errInvalidCredits = errors.New("invalid_credits")

// Credits is an exact amount of credits expressed in minor units
// (1.00 credit == 100). Amounts are signed; debits are negative.
type Credits int64

// ParseCredits parses a decimal string such as "2.50" into Credits.
// More than two fractional digits is rejected rather than rounded.
func ParseCredits(raw string) (Credits, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errInvalidCredits
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, errInvalidCredits
	}
	return FromDecimal(d)
}

// MustParseCredits is ParseCredits for constants; it panics on invalid input.
func MustParseCredits(raw string) Credits {
	c, err := ParseCredits(raw)
	if err != nil {
		panic(err)
	}
	return c
}

// FromDecimal converts an exact decimal amount into Credits.
func FromDecimal(d decimal.Decimal) (Credits, error) {
	scaled := d.Shift(creditScale)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, errInvalidCredits
	}
	if !scaled.BigInt().IsInt64() {
		return 0, errInvalidCredits
	}
	return Credits(scaled.IntPart()), nil
}

// Decimal returns the amount as a decimal with two fractional digits.
func (c Credits) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -creditScale)
}

func (c Credits) String() string {
	return c.Decimal().StringFixed(creditScale)
}

func (c Credits) Neg() Credits { return -c }

func (c Credits) Abs() Credits {
	if c < 0 {
		return -c
	}
	return c
}

func (c Credits) IsNegative() bool { return c < 0 }

// MarshalJSON encodes credits as a fixed-point decimal string.
func (c Credits) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON accepts either a decimal string or a JSON number.
func (c *Credits) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	parsed, err := ParseCredits(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
