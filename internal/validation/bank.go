package validation

import (
	"regexp"
	"strings"

	"github.com/congo-pay/congo_custody/internal/apperr"
	"github.com/congo-pay/congo_custody/internal/money"
)

// AccountType selects which bank identifier rules apply to a currency.
type AccountType string

const (
	AccountTypeIBAN    AccountType = "IBAN"
	AccountTypeUS      AccountType = "US_ACCOUNT"
	AccountTypeUnknown AccountType = "UNKNOWN"
)

var ibanCurrencies = map[string]struct{}{
	"EUR": {}, "GBP": {}, "CHF": {}, "PLN": {}, "SEK": {}, "DKK": {}, "NOK": {}, "CZK": {},
}

// AccountTypeFor maps a currency to the payout identifier family it uses.
func AccountTypeFor(currency string) AccountType {
	code := money.Normalize(currency)
	if _, ok := ibanCurrencies[code]; ok {
		return AccountTypeIBAN
	}
	if code == "USD" {
		return AccountTypeUS
	}
	return AccountTypeUnknown
}

var (
	ibanPattern    = regexp.MustCompile(`^[A-Z]{2}[0-9]{2}[A-Z0-9]+$`)
	swiftPattern   = regexp.MustCompile(`^[A-Z]{4}[A-Z]{2}[A-Z0-9]{2}([A-Z0-9]{3})?$`)
	digitsPattern  = regexp.MustCompile(`^[0-9]+$`)
	errInvalidIBAN = apperr.Validation("invalid IBAN")
)

// IBAN is a normalized, checksum-verified IBAN.
type IBAN struct {
	Value   string
	Country string
}

// ValidateIBAN normalizes s and verifies its structure and ISO 7064 mod-97 checksum.
// Every failure returns the same generic error.
func ValidateIBAN(s string) (IBAN, error) {
	v := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	if len(v) < 15 || len(v) > 34 || !ibanPattern.MatchString(v) {
		return IBAN{}, errInvalidIBAN
	}
	if mod97(v[4:]+v[:4]) != 1 {
		return IBAN{}, errInvalidIBAN
	}
	return IBAN{Value: v, Country: v[:2]}, nil
}

func mod97(s string) int {
	rem := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			rem = (rem*10 + int(r-'0')) % 97
		case r >= 'A' && r <= 'Z':
			n := int(r-'A') + 10
			rem = (rem*100 + n) % 97
		}
	}
	return rem
}

// ValidateSWIFT normalizes and checks a BIC: 4 letters bank, 2 letters country,
// 2 alphanumeric location and an optional 3 alphanumeric branch.
func ValidateSWIFT(s string) (string, error) {
	v := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	if !swiftPattern.MatchString(v) {
		return "", apperr.Validation("invalid SWIFT/BIC code")
	}
	return v, nil
}

// ValidateUSAccount checks a 6-17 digit account number and an ABA routing number.
func ValidateUSAccount(accountNumber, routingNumber string) (USAccountDetails, error) {
	acct := strings.TrimSpace(accountNumber)
	routing := strings.TrimSpace(routingNumber)
	if len(acct) < 6 || len(acct) > 17 || !digitsPattern.MatchString(acct) {
		return USAccountDetails{}, apperr.Validation("account number must be 6-17 digits")
	}
	if !ValidRoutingNumber(routing) {
		return USAccountDetails{}, apperr.Validation("invalid routing number")
	}
	return USAccountDetails{AccountNumber: acct, RoutingNumber: routing}, nil
}

// ValidRoutingNumber applies the ABA checksum 3(d1+d4+d7) + 7(d2+d5+d8) + (d3+d6+d9) ≡ 0 mod 10.
func ValidRoutingNumber(routing string) bool {
	if len(routing) != 9 || !digitsPattern.MatchString(routing) {
		return false
	}
	d := make([]int, 9)
	for i, r := range routing {
		d[i] = int(r - '0')
	}
	sum := 3*(d[0]+d[3]+d[6]) + 7*(d[1]+d[4]+d[7]) + (d[2] + d[5] + d[8])
	return sum%10 == 0
}

// BankDetails is the closed set of payout identifier variants.
type BankDetails interface {
	Type() AccountType
	// Identifier is the full value used for duplicate detection.
	Identifier() string
	// Masked is the display form: country + last 4 for IBAN, last 4 for account numbers.
	Masked() string
	sealed()
}

// IBANDetails identifies an IBAN-class account; SWIFT is optional.
type IBANDetails struct {
	IBAN    string
	Country string
	SWIFT   string
}

func (IBANDetails) Type() AccountType    { return AccountTypeIBAN }
func (d IBANDetails) Identifier() string { return d.IBAN }
func (d IBANDetails) Masked() string     { return d.Country + "****" + lastN(d.IBAN, 4) }
func (IBANDetails) sealed()              {}

// USAccountDetails identifies a US domestic account.
type USAccountDetails struct {
	AccountNumber string
	RoutingNumber string
}

func (USAccountDetails) Type() AccountType    { return AccountTypeUS }
func (d USAccountDetails) Identifier() string { return d.AccountNumber }
func (d USAccountDetails) Masked() string     { return "****" + lastN(d.AccountNumber, 4) }
func (USAccountDetails) sealed()              {}

// BankInput carries raw, user-supplied bank identifiers.
type BankInput struct {
	IBAN          string
	SWIFT         string
	AccountNumber string
	RoutingNumber string
}

// ValidateBankDetails selects the rules for currency and returns the matching variant.
func ValidateBankDetails(currency string, in BankInput) (BankDetails, error) {
	switch t := AccountTypeFor(currency); t {
	case AccountTypeIBAN:
		if strings.TrimSpace(in.IBAN) == "" {
			return nil, apperr.Validation("IBAN is required for %s accounts", money.Normalize(currency))
		}
		iban, err := ValidateIBAN(in.IBAN)
		if err != nil {
			return nil, err
		}
		details := IBANDetails{IBAN: iban.Value, Country: iban.Country}
		if strings.TrimSpace(in.SWIFT) != "" {
			swift, err := ValidateSWIFT(in.SWIFT)
			if err != nil {
				return nil, err
			}
			details.SWIFT = swift
		}
		return details, nil
	case AccountTypeUS:
		if strings.TrimSpace(in.AccountNumber) == "" || strings.TrimSpace(in.RoutingNumber) == "" {
			return nil, apperr.Validation("account number and routing number are required for USD accounts")
		}
		return ValidateUSAccount(in.AccountNumber, in.RoutingNumber)
	case AccountTypeUnknown:
		return nil, apperr.Validation("bank accounts are not supported for %s", money.Normalize(currency))
	default:
		return nil, apperr.Validation("unhandled account type %s", t)
	}
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
