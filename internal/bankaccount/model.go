package bankaccount

import (
	"time"

	"github.com/congo-pay/congo_custody/internal/validation"
)

// MaxPerCurrency caps how many accounts a user may register for one currency.
const MaxPerCurrency = 3

// Account is a user's withdrawal destination or deposit source.
type Account struct {
	ID                string
	UserID            string
	Currency          string
	BankName          string
	AccountHolderName string
	Details           validation.BankDetails
	IsVerified        bool
	VerifiedAt        *time.Time
	VerifiedBy        string
	CreatedAt         time.Time
}

// MaskedIdentifier is the only form of the identifier shown outside storage.
func (a Account) MaskedIdentifier() string {
	if a.Details == nil {
		return ""
	}
	return a.Details.Masked()
}

// sameDestination reports whether two detail values point at the same bank
// account. US accounts match on account number alone, whatever the routing number.
func sameDestination(a, b validation.BankDetails) bool {
	switch x := a.(type) {
	case validation.IBANDetails:
		y, ok := b.(validation.IBANDetails)
		return ok && x.IBAN == y.IBAN
	case validation.USAccountDetails:
		y, ok := b.(validation.USAccountDetails)
		return ok && x.AccountNumber == y.AccountNumber
	}
	return false
}
