package withdrawal

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the asset class a withdrawal leaves the platform through.
type Kind string

const (
	KindFiat   Kind = "FIAT"
	KindCrypto Kind = "CRYPTO"
)

// Status is a withdrawal lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusApproved   Status = "APPROVED"
	StatusRejected   Status = "REJECTED"
	StatusCancelled  Status = "CANCELLED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:   {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// CanTransition reports whether the state graph has an edge s -> to.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// ParseStatus accepts the upper-case status names.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelled,
		StatusProcessing, StatusCompleted, StatusFailed:
		return st, true
	}
	return "", false
}

func ParseKind(s string) (Kind, bool) {
	switch k := Kind(s); k {
	case KindFiat, KindCrypto:
		return k, true
	}
	return "", false
}

// Withdrawal is one request to move funds off the platform.
type Withdrawal struct {
	ID          string
	UserID      string
	Currency    string
	Kind        Kind
	Amount      decimal.Decimal
	Fee         decimal.Decimal
	NetworkFee  decimal.Decimal
	PlatformFee decimal.Decimal
	TotalAmount decimal.Decimal

	// fiat
	BankAccountID string

	// crypto
	DestinationAddress string
	Network            string
	TransactionHash    string
	Confirmations      int

	Status                Status
	RequiresAdminApproval bool
	TwoFAVerifiedAt       *time.Time
	AdminApprovedBy       string
	AdminApprovedAt       *time.Time
	AdminNotes            string
	RejectionReason       string
	ReferenceNumber       string
	ExecutorReference     string
	ErrorMessage          string
	CompletedAt           *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// NetAmount is what reaches the destination.
func (w Withdrawal) NetAmount() decimal.Decimal {
	return w.TotalAmount.Sub(w.Fee)
}

// ListFilter narrows withdrawal listings; zero fields match everything.
type ListFilter struct {
	UserID   string
	Currency string
	Status   Status
	Kind     Kind
}

func (f ListFilter) matches(w Withdrawal) bool {
	return (f.UserID == "" || w.UserID == f.UserID) &&
		(f.Currency == "" || w.Currency == f.Currency) &&
		(f.Status == "" || w.Status == f.Status) &&
		(f.Kind == "" || w.Kind == f.Kind)
}

// Usage is the rolling aggregate checked against daily limits.
type Usage struct {
	Amount decimal.Decimal
	Count  int
}
