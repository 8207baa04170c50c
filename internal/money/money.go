package money

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Amount is a monetary value in minor units (cents). Balances and ledger
// deltas are carried as int64 end to end so no floating point arithmetic
// ever touches money.
type Amount int64

var ErrMalformed = errors.New("malformed amount")

// Parse converts a decimal string such as "10.00" or "9.99" into minor
// units. At most two fractional digits are accepted; negative values are
// rejected at this boundary.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return 0, ErrMalformed
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
		// A dot requires fraction digits; "10." is not a valid wire
		// amount.
		if frac == "" {
			return 0, ErrMalformed
		}
	}
	if whole == "" || len(frac) > 2 {
		return 0, ErrMalformed
	}
	// Digits only. ParseInt alone would let a signed fraction such as
	// "1.-5" smuggle a negative past the boundary.
	for i := 0; i < len(frac); i++ {
		if frac[i] < '0' || frac[i] > '9' {
			return 0, ErrMalformed
		}
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, ErrMalformed
	}

	cents := int64(0)
	if frac != "" {
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, ErrMalformed
		}
		if len(frac) == 1 {
			cents *= 10
		}
	}

	if units > (1<<62)/100 {
		return 0, ErrMalformed
	}
	return Amount(units*100 + cents), nil
}

// String renders the amount back as a two-decimal string for wire formats
// that expect "10.00" style values.
func (a Amount) String() string {
	return fmt.Sprintf("%d.%02d", int64(a)/100, int64(a)%100)
}
