package deposit

import "time"

// CreateRequest announces a bank transfer the user is about to send.
type CreateRequest struct {
	Currency      string `json:"currency"`
	Amount        string `json:"amount"`
	BankAccountID string `json:"bank_account_id"`
}

// ReviewRequest carries optional admin notes for approve and reject.
type ReviewRequest struct {
	Notes string `json:"notes"`
}

// Response is the API view of a deposit.
type Response struct {
	ID            string     `json:"id"`
	Currency      string     `json:"currency"`
	Amount        string     `json:"amount"`
	Status        Status     `json:"status"`
	ReferenceCode string     `json:"reference_code"`
	BankAccountID string     `json:"bank_account_id"`
	AdminNotes    string     `json:"admin_notes,omitempty"`
	ReviewedAt    *time.Time `json:"reviewed_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toResponse(d Deposit) Response {
	return Response{
		ID:            d.ID,
		Currency:      d.Currency,
		Amount:        d.Amount.String(),
		Status:        d.Status,
		ReferenceCode: d.ReferenceCode,
		BankAccountID: d.BankAccountID,
		AdminNotes:    d.AdminNotes,
		ReviewedAt:    d.ReviewedAt,
		CompletedAt:   d.CompletedAt,
		CreatedAt:     d.CreatedAt,
	}
}
