// Package money provides exact monetary arithmetic in integer minor units
// (paise, cents). Billing totals and payment settlement must never drift,
// so float64 is kept out of every money path.
package money

import (
	"fmt"
	"strconv"
	"strings"
)

// Amount is a monetary value in minor units (1/100 of the major unit).
type Amount int64

// FromMajor builds an Amount from whole major units (e.g. rupees, dollars).
func FromMajor(v int64) Amount {
	return Amount(v * 100)
}

// FromMinor builds an Amount from minor units.
func FromMinor(v int64) Amount {
	return Amount(v)
}

// ParseDecimal parses a decimal string such as "600", "600.5" or "600.50"
// into an Amount. More than two fractional digits is an error: the caller
// is expected to bill in minor-unit precision.
func ParseDecimal(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has more than two fractional digits", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}

	v := w*100 + f
	if neg {
		v = -v
	}
	return Amount(v), nil
}

// Minor returns the value in minor units.
func (a Amount) Minor() int64 { return int64(a) }

// IsPositive reports whether the amount is strictly greater than zero.
func (a Amount) IsPositive() bool { return a > 0 }

// Add returns a + b.
func (a Amount) Add(b Amount) Amount { return a + b }

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount { return a - b }

// String formats the amount as a decimal with two fractional digits.
func (a Amount) String() string {
	v := int64(a)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// Sum returns the exact sum of the given amounts.
func Sum(amounts ...Amount) Amount {
	var total Amount
	for _, a := range amounts {
		total += a
	}
	return total
}
