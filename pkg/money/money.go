// Package money provides an integer currency amount in minor units.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidAmount is returned when a textual amount cannot be parsed.
var ErrInvalidAmount = errors.New("money: invalid amount")

// Money is a currency amount in the smallest unit (cents, paise).
// All arithmetic is integer-only.
type Money int64

// Zero is the zero amount.
const Zero Money = 0

// FromMinor wraps a minor-unit count.
func FromMinor(v int64) Money { return Money(v) }

// FromMajor converts whole currency units, e.g. FromMajor(500) is 500.00.
func FromMajor(v int64) Money { return Money(v * 100) }

// Parse reads a decimal string with at most two fractional digits ("12", "12.5", "-3.05").
func Parse(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}

	negative := false
	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" && (!hasFrac || frac == "") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("%w: more than two decimal places in %q", ErrInvalidAmount, s)
	}

	var major int64
	if whole != "" {
		v, err := strconv.ParseInt(whole, 10, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
		major = v
	}

	var minor int64
	if frac != "" {
		for len(frac) < 2 {
			frac += "0"
		}
		v, err := strconv.ParseInt(frac, 10, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
		minor = v
	}

	if major > (math.MaxInt64-minor)/100 {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, s)
	}
	amount := Money(major*100 + minor)
	if negative {
		amount = -amount
	}
	return amount, nil
}

// MustParse is Parse for constants in tests and seeds. It panics on error.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Minor returns the raw minor-unit count.
func (m Money) Minor() int64 { return int64(m) }

func (m Money) Add(other Money) Money { return m + other }

func (m Money) Sub(other Money) Money { return m - other }

func (m Money) IsZero() bool { return m == 0 }

func (m Money) IsPositive() bool { return m > 0 }

func (m Money) IsNegative() bool { return m < 0 }

// Min returns the smaller of two amounts.
func Min(a, b Money) Money {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of two amounts.
func Max(a, b Money) Money {
	if a > b {
		return a
	}
	return b
}

// Sum adds all values. An empty input sums to Zero.
func Sum(values ...Money) Money {
	var total Money
	for _, v := range values {
		total += v
	}
	return total
}

// String formats the amount with two decimals: "49.00", "-3.05".
func (m Money) String() string {
	v := uint64(m)
	sign := ""
	if m < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON encodes the amount as a decimal string so clients never see floats.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts either a decimal string or a JSON number.
func (m *Money) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*m = 0
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = s
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
