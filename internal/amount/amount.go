// Package amount implements the fixed-point quantities used for prices and
// quantities. Values are non-negative decimals truncated to Scale fractional
// digits, so comparisons are exact.
package amount

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits kept by an Amount.
const Scale = 8

// ErrMalformed is returned for inputs that are not plain unsigned decimals.
var ErrMalformed = errors.New("malformed decimal")

var pattern = regexp.MustCompile(`^\d+(\.\d+)?$`)

// Amount is an unsigned decimal with a fixed scale of 8.
type Amount struct {
	d decimal.Decimal
}

// Zero is the zero amount.
var Zero = Amount{d: decimal.Zero}

// Parse converts s to an Amount. Surrounding whitespace is ignored; digits
// beyond Scale are truncated, never rounded.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if !pattern.MatchString(s) {
		return Amount{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	return Amount{d: d.Truncate(Scale)}, nil
}

// MustParse is like Parse but panics on malformed input. Intended for constants and tests.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Valid reports whether s parses as an Amount.
func Valid(s string) bool {
	return pattern.MatchString(strings.TrimSpace(s))
}

// Mantissa returns the amount scaled by 10^Scale as an integer.
func (a Amount) Mantissa() *big.Int {
	return a.d.Shift(Scale).BigInt()
}

// Cmp returns -1, 0 or +1 depending on whether a is less than, equal to or greater than b.
func (a Amount) Cmp(b Amount) int {
	return a.d.Cmp(b.d)
}

func (a Amount) LessThanOrEqual(b Amount) bool    { return a.Cmp(b) <= 0 }
func (a Amount) GreaterThanOrEqual(b Amount) bool { return a.Cmp(b) >= 0 }
func (a Amount) IsZero() bool                     { return a.d.IsZero() }
func (a Amount) IsPositive() bool                 { return a.d.IsPositive() }

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return Amount{d: a.d.Add(b.d)}
}

// String formats the amount with exactly Scale fractional digits.
func (a Amount) String() string {
	return a.d.StringFixed(Scale)
}
