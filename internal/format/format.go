// Package format renders numbers and money for display in the user's locale.
package format

import (
	"fmt"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"xpfinance.app/internal/profile"
)

// Symbols used in front of amounts; other currencies show their ISO code.
var symbols = map[string]string{
	"BRL": "R$",
	"USD": "US$",
	"EUR": "€",
	"GBP": "£",
}

// Formatter formats for one locale and currency.
type Formatter struct {
	printer *message.Printer
	unit    currency.Unit
	symbol  string
}

// New builds a Formatter from a BCP 47 locale and an ISO 4217 code.
func New(locale, code string) (*Formatter, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("parse locale %q: %w", locale, err)
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, fmt.Errorf("parse currency %q: %w", code, err)
	}
	sym, ok := symbols[unit.String()]
	if !ok {
		sym = unit.String()
	}
	return &Formatter{printer: message.NewPrinter(tag), unit: unit, symbol: sym}, nil
}

var std = mustNew("pt-BR", "BRL")

func mustNew(locale, code string) *Formatter {
	f, err := New(locale, code)
	if err != nil {
		panic(err)
	}
	return f
}

// Default is the pt-BR / BRL formatter.
func Default() *Formatter { return std }

// Currency is the ISO code the formatter renders.
func (f *Formatter) Currency() string { return f.unit.String() }

// Number formats an integer with locale grouping: 1234 -> "1.234".
func (f *Formatter) Number(n int64) string {
	return f.printer.Sprintf("%d", n)
}

// Money formats an amount with two decimals and the currency symbol:
// 123456 cents -> "R$ 1.234,56".
func (f *Formatter) Money(m profile.Money) string {
	sign := ""
	if m < 0 {
		sign = "-"
		m = -m
	}
	whole := int64(m) / 100
	cents := int64(m) % 100
	// Whole and fractional parts are printed separately so large balances
	// never go through float rounding.
	return sign + f.symbol + " " + f.printer.Sprintf("%d", whole) + f.decimalSep() + fmt.Sprintf("%02d", cents)
}

// Percent formats a [0,1] fraction as a whole percentage: 0.3 -> "30%".
func (f *Formatter) Percent(frac float64) string {
	return f.printer.Sprintf("%d%%", int64(frac*100+0.5))
}

func (f *Formatter) decimalSep() string {
	s := f.printer.Sprintf("%.1f", 0.5)
	if len(s) >= 2 {
		return s[1 : len(s)-1]
	}
	return "."
}

// Number formats n with the default formatter.
func Number(n int64) string { return std.Number(n) }

// Currency formats m with the default formatter.
func Currency(m profile.Money) string { return std.Money(m) }
