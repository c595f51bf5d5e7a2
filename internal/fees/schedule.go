package fees

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/congo-pay/congo_custody/internal/money"
)

// Schedule holds the fee rules and bounds for one currency.
type Schedule struct {
	Currency string
	// FixedFee is charged per withdrawal.
	FixedFee decimal.Decimal
	// PercentFee is a fraction of the amount, e.g. 0.001 for 0.1%.
	PercentFee decimal.Decimal
	// NetworkFees is keyed by network name; empty for bank rails.
	NetworkFees    map[string]decimal.Decimal
	DefaultNetwork string
	MinAmount      decimal.Decimal
	MaxAmount      decimal.Decimal
	DepositMin     decimal.Decimal
	DepositMax     decimal.Decimal
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func fiatSchedule(code string) Schedule {
	return Schedule{
		Currency:   code,
		FixedFee:   d("5.00"),
		PercentFee: decimal.Zero,
		MinAmount:  d("10"),
		MaxAmount:  d("50000"),
		DepositMin: d("10"),
		DepositMax: d("1000000"),
	}
}

// DefaultSchedules returns the built-in fallback schedules.
func DefaultSchedules() map[string]Schedule {
	out := map[string]Schedule{}
	for _, code := range []string{"USD", "EUR", "GBP", "CHF", "PLN", "SEK", "DKK", "NOK", "CZK"} {
		out[code] = fiatSchedule(code)
	}
	out["BTC"] = Schedule{
		Currency:       "BTC",
		PercentFee:     d("0.001"),
		NetworkFees:    map[string]decimal.Decimal{"bitcoin": d("0.0001")},
		DefaultNetwork: "bitcoin",
		MinAmount:      d("0.001"),
		MaxAmount:      d("5"),
	}
	out["ETH"] = Schedule{
		Currency:       "ETH",
		PercentFee:     d("0.001"),
		NetworkFees:    map[string]decimal.Decimal{"ethereum": d("0.002")},
		DefaultNetwork: "ethereum",
		MinAmount:      d("0.01"),
		MaxAmount:      d("100"),
	}
	out["USDT"] = Schedule{
		Currency:       "USDT",
		NetworkFees:    map[string]decimal.Decimal{"ethereum": d("5"), "tron": d("1")},
		DefaultNetwork: "ethereum",
		MinAmount:      d("10"),
		MaxAmount:      d("100000"),
	}
	out["USDC"] = Schedule{
		Currency:       "USDC",
		NetworkFees:    map[string]decimal.Decimal{"ethereum": d("5")},
		DefaultNetwork: "ethereum",
		MinAmount:      d("10"),
		MaxAmount:      d("100000"),
	}
	return out
}

type scheduleFile struct {
	Currencies map[string]scheduleEntry `yaml:"currencies"`
}

type scheduleEntry struct {
	FixedFee       string            `yaml:"fixed_fee"`
	PercentFee     string            `yaml:"percent_fee"`
	NetworkFees    map[string]string `yaml:"network_fees"`
	DefaultNetwork string            `yaml:"default_network"`
	MinAmount      string            `yaml:"min_amount"`
	MaxAmount      string            `yaml:"max_amount"`
	DepositMin     string            `yaml:"deposit_min"`
	DepositMax     string            `yaml:"deposit_max"`
}

// LoadSchedules reads a YAML schedule file and overlays it on the defaults.
// Fields left empty in the file keep their default value.
func LoadSchedules(path string) (map[string]Schedule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fee schedule: %w", err)
	}
	return ParseSchedules(raw)
}

// ParseSchedules overlays YAML content on the defaults.
func ParseSchedules(raw []byte) (map[string]Schedule, error) {
	var file scheduleFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode fee schedule: %w", err)
	}

	out := DefaultSchedules()
	for code, entry := range file.Currencies {
		c, ok := money.Lookup(code)
		if !ok {
			return nil, fmt.Errorf("fee schedule: unsupported currency %q", code)
		}
		s, ok := out[c.Code]
		if !ok {
			s = fiatSchedule(c.Code)
		}
		if err := overlay(&s, entry); err != nil {
			return nil, fmt.Errorf("fee schedule %s: %w", c.Code, err)
		}
		if s.MinAmount.GreaterThan(s.MaxAmount) {
			return nil, fmt.Errorf("fee schedule %s: min_amount exceeds max_amount", c.Code)
		}
		out[c.Code] = s
	}
	return out, nil
}

func overlay(s *Schedule, e scheduleEntry) error {
	fields := []struct {
		raw string
		dst *decimal.Decimal
	}{
		{e.FixedFee, &s.FixedFee},
		{e.PercentFee, &s.PercentFee},
		{e.MinAmount, &s.MinAmount},
		{e.MaxAmount, &s.MaxAmount},
		{e.DepositMin, &s.DepositMin},
		{e.DepositMax, &s.DepositMax},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return err
		}
		if v.IsNegative() {
			return fmt.Errorf("negative value %s", f.raw)
		}
		*f.dst = v
	}
	if len(e.NetworkFees) > 0 {
		s.NetworkFees = make(map[string]decimal.Decimal, len(e.NetworkFees))
		for network, raw := range e.NetworkFees {
			v, err := decimal.NewFromString(raw)
			if err != nil {
				return err
			}
			s.NetworkFees[network] = v
		}
	}
	if e.DefaultNetwork != "" {
		s.DefaultNetwork = e.DefaultNetwork
	}
	return nil
}
