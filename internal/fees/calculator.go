package fees

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/congo_custody/internal/apperr"
	"github.com/congo-pay/congo_custody/internal/money"
)

var (
	// ErrNonPositiveAmount is wrapped when the amount is zero or negative.
	ErrNonPositiveAmount = errors.New("amount must be positive")
	// ErrBelowMinimum is wrapped when the amount is under the schedule minimum.
	ErrBelowMinimum = errors.New("amount below minimum")
	// ErrAboveMaximum is wrapped when the amount is over the schedule maximum.
	ErrAboveMaximum = errors.New("amount above maximum")
)

// Quote is the fee and limit breakdown for one withdrawal amount.
type Quote struct {
	Currency    string
	Network     string
	Amount      decimal.Decimal
	NetworkFee  decimal.Decimal
	PlatformFee decimal.Decimal
	TotalFee    decimal.Decimal
	TotalAmount decimal.Decimal
	MinAmount   decimal.Decimal
	MaxAmount   decimal.Decimal
}

// Calculator computes fees and validates bounds; it holds no mutable state.
type Calculator struct {
	schedules map[string]Schedule
}

// NewCalculator uses schedules, falling back to DefaultSchedules when nil.
func NewCalculator(schedules map[string]Schedule) *Calculator {
	if schedules == nil {
		schedules = DefaultSchedules()
	}
	return &Calculator{schedules: schedules}
}

// Schedule returns the schedule for currency.
func (c *Calculator) Schedule(currency string) (Schedule, error) {
	s, ok := c.schedules[money.Normalize(currency)]
	if !ok {
		return Schedule{}, apperr.Validation("no fee schedule for %s", money.Normalize(currency))
	}
	return s, nil
}

// Quote validates amount against the schedule bounds, failing on the first
// violation in the order: positive, minimum, maximum.
func (c *Calculator) Quote(currency string, amount decimal.Decimal, network string) (Quote, error) {
	cur, err := money.MustCurrency(currency)
	if err != nil {
		return Quote{}, err
	}
	s, err := c.Schedule(cur.Code)
	if err != nil {
		return Quote{}, err
	}
	if err := CheckBounds(cur, amount, s.MinAmount, s.MaxAmount); err != nil {
		return Quote{}, err
	}

	networkFee := decimal.Zero
	if len(s.NetworkFees) > 0 {
		if network == "" {
			network = s.DefaultNetwork
		}
		fee, ok := s.NetworkFees[strings.ToLower(network)]
		if !ok {
			return Quote{}, apperr.Validation("network %s is not supported for %s", network, cur.Code)
		}
		networkFee = fee
	} else {
		network = ""
	}

	platformFee := money.Round(cur, s.FixedFee.Add(amount.Mul(s.PercentFee)))
	totalFee := networkFee.Add(platformFee)

	return Quote{
		Currency:    cur.Code,
		Network:     strings.ToLower(network),
		Amount:      amount,
		NetworkFee:  networkFee,
		PlatformFee: platformFee,
		TotalFee:    totalFee,
		TotalAmount: amount.Add(totalFee),
		MinAmount:   s.MinAmount,
		MaxAmount:   s.MaxAmount,
	}, nil
}

// CheckBounds applies the ordered positive/min/max checks shared by withdrawals and deposits.
func CheckBounds(cur money.Currency, amount, min, max decimal.Decimal) error {
	if !amount.IsPositive() {
		return &apperr.Error{Kind: apperr.KindValidation, Message: "amount must be a positive number", Err: ErrNonPositiveAmount}
	}
	if err := money.CheckScale(cur, amount); err != nil {
		return err
	}
	if amount.LessThan(min) {
		return &apperr.Error{
			Kind:    apperr.KindValidation,
			Message: fmt.Sprintf("minimum amount is %s %s", min.String(), cur.Code),
			Err:     ErrBelowMinimum,
		}
	}
	if !max.IsZero() && amount.GreaterThan(max) {
		return &apperr.Error{
			Kind:    apperr.KindValidation,
			Message: fmt.Sprintf("maximum amount is %s %s", max.String(), cur.Code),
			Err:     ErrAboveMaximum,
		}
	}
	return nil
}
