package profile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Money is an amount in cents. Balances and prices never go through floats
// once parsed.
type Money int64

// MoneyFromFloat rounds a decimal amount to the nearest cent.
func MoneyFromFloat(f float64) Money {
	return Money(math.Round(f * 100))
}

// ParseMoney parses "12", "12.3", "-0.05" exactly.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	neg := false
	if s[0] == '-' || s[0] == '+' {
		neg = s[0] == '-'
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if strings.ContainsAny(frac, "eE") || strings.ContainsAny(whole, "eE") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("parse amount %q: %w", s, err)
		}
		m := MoneyFromFloat(f)
		if neg {
			m = -m
		}
		return m, nil
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	var c int64
	switch {
	case len(frac) == 0:
	case len(frac) == 1:
		c, err = strconv.ParseInt(frac, 10, 64)
		c *= 10
	default:
		c, err = strconv.ParseInt(frac[:2], 10, 64)
		if err == nil && len(frac) > 2 && frac[2] >= '5' {
			c++
		}
	}
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	m := Money(w*100 + c)
	if neg {
		m = -m
	}
	return m, nil
}

// Float returns the amount in currency units.
func (m Money) Float() float64 { return float64(m) / 100 }

// String renders the amount with two decimals and a dot separator.
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON encodes as a JSON number with two decimals.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts numbers, numeric strings and null (zero).
func (m *Money) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*m = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			*m = 0
			return nil
		}
		v, err := ParseMoney(s)
		if err != nil {
			return err
		}
		*m = v
		return nil
	}
	v, err := ParseMoney(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
