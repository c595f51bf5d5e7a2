package money

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/congo_custody/internal/apperr"
)

// AssetClass separates fiat bank-rail currencies from on-chain assets.
type AssetClass string

const (
	AssetFiat   AssetClass = "FIAT"
	AssetCrypto AssetClass = "CRYPTO"
)

// Currency describes a supported currency and its fixed decimal scale.
type Currency struct {
	Code  string
	Scale int32
	Class AssetClass
}

var catalog = map[string]Currency{
	"USD":  {Code: "USD", Scale: 2, Class: AssetFiat},
	"EUR":  {Code: "EUR", Scale: 2, Class: AssetFiat},
	"GBP":  {Code: "GBP", Scale: 2, Class: AssetFiat},
	"CHF":  {Code: "CHF", Scale: 2, Class: AssetFiat},
	"PLN":  {Code: "PLN", Scale: 2, Class: AssetFiat},
	"SEK":  {Code: "SEK", Scale: 2, Class: AssetFiat},
	"DKK":  {Code: "DKK", Scale: 2, Class: AssetFiat},
	"NOK":  {Code: "NOK", Scale: 2, Class: AssetFiat},
	"CZK":  {Code: "CZK", Scale: 2, Class: AssetFiat},
	"BTC":  {Code: "BTC", Scale: 8, Class: AssetCrypto},
	"ETH":  {Code: "ETH", Scale: 18, Class: AssetCrypto},
	"USDT": {Code: "USDT", Scale: 6, Class: AssetCrypto},
	"USDC": {Code: "USDC", Scale: 6, Class: AssetCrypto},
}

// Lookup returns the catalog entry for code (case-insensitive).
func Lookup(code string) (Currency, bool) {
	c, ok := catalog[strings.ToUpper(strings.TrimSpace(code))]
	return c, ok
}

// MustCurrency resolves code or returns a validation error naming it.
func MustCurrency(code string) (Currency, error) {
	c, ok := Lookup(code)
	if !ok {
		return Currency{}, apperr.Validation("unsupported currency %q", code)
	}
	return c, nil
}

// Normalize returns the canonical upper-case currency code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ParseAmount parses a decimal string amount for currency c. It never goes
// through binary floating point and rejects more fractional digits than the scale allows.
func ParseAmount(c Currency, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, apperr.Validation("amount is required")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, apperr.Validation("amount must be a number")
	}
	if err := CheckScale(c, d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// CheckScale rejects values with more fractional digits than c supports.
func CheckScale(c Currency, d decimal.Decimal) error {
	if !d.Equal(d.Truncate(c.Scale)) {
		return apperr.Validation("%s amounts support at most %d decimal places", c.Code, c.Scale)
	}
	return nil
}

// Round rounds half-up to the currency scale.
func Round(c Currency, d decimal.Decimal) decimal.Decimal {
	return d.Round(c.Scale)
}

// Format renders d with exactly the currency scale.
func Format(c Currency, d decimal.Decimal) string {
	return d.StringFixed(c.Scale)
}
