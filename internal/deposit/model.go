package deposit

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is a deposit lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCompleted Status = "COMPLETED"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusCompleted},
}

func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Open reports whether the deposit still expects funds to arrive.
func (s Status) Open() bool {
	return len(transitions[s]) > 0
}

func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPending, StatusApproved, StatusRejected, StatusCompleted:
		return st, true
	}
	return "", false
}

// Deposit is an announced inbound bank transfer. No funds move until it completes.
type Deposit struct {
	ID            string
	UserID        string
	Currency      string
	Amount        decimal.Decimal
	Status        Status
	ReferenceCode string
	BankAccountID string
	AdminNotes    string
	ReviewedBy    string
	ReviewedAt    *time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time
}

type ListFilter struct {
	UserID   string
	Currency string
	Status   Status
}

func (f ListFilter) matches(d Deposit) bool {
	return (f.UserID == "" || d.UserID == f.UserID) &&
		(f.Currency == "" || d.Currency == f.Currency) &&
		(f.Status == "" || d.Status == f.Status)
}
