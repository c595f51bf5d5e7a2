package executor

import (
	"time"

	"github.com/congo-pay/congo_custody/internal/withdrawal"
)

// Outcome values reported on the results topic.
const (
	OutcomeProcessing = "processing"
	OutcomeCompleted  = "completed"
	OutcomeFailed     = "failed"
)

// DispatchEvent is published for every APPROVED withdrawal. Executors must
// dedupe on WithdrawalID: the same withdrawal can be published more than once.
type DispatchEvent struct {
	WithdrawalID       string    `json:"withdrawal_id"`
	UserID             string    `json:"user_id"`
	Kind               string    `json:"kind"`
	Currency           string    `json:"currency"`
	NetAmount          string    `json:"net_amount"`
	Fee                string    `json:"fee"`
	TotalAmount        string    `json:"total_amount"`
	BankAccountID      string    `json:"bank_account_id,omitempty"`
	DestinationAddress string    `json:"destination_address,omitempty"`
	Network            string    `json:"network,omitempty"`
	ReferenceNumber    string    `json:"reference_number"`
	ApprovedAt         time.Time `json:"approved_at"`
}

func newDispatchEvent(w withdrawal.Withdrawal) DispatchEvent {
	approvedAt := w.UpdatedAt
	if w.AdminApprovedAt != nil {
		approvedAt = *w.AdminApprovedAt
	}
	return DispatchEvent{
		WithdrawalID:       w.ID,
		UserID:             w.UserID,
		Kind:               string(w.Kind),
		Currency:           w.Currency,
		NetAmount:          w.NetAmount().String(),
		Fee:                w.Fee.String(),
		TotalAmount:        w.TotalAmount.String(),
		BankAccountID:      w.BankAccountID,
		DestinationAddress: w.DestinationAddress,
		Network:            w.Network,
		ReferenceNumber:    w.ReferenceNumber,
		ApprovedAt:         approvedAt.UTC(),
	}
}

// ResultEvent is consumed from the results topic.
type ResultEvent struct {
	WithdrawalID  string `json:"withdrawal_id"`
	Outcome       string `json:"outcome"`
	TxHash        string `json:"tx_hash"`
	Confirmations int    `json:"confirmations"`
	Reference     string `json:"reference"`
	Error         string `json:"error"`
}
