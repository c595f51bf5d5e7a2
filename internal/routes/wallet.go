package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/congo_custody/internal/bankaccount"
	"github.com/congo-pay/congo_custody/internal/deposit"
	"github.com/congo-pay/congo_custody/internal/wallet"
	"github.com/congo-pay/congo_custody/internal/withdrawal"
)

// RegisterWalletRoutes wires balance and ledger history endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Get("/balances", h.Balances)
	r.Get("/transactions", h.Transactions)
}

// RegisterWithdrawalRoutes wires the caller's withdrawal endpoints. guard runs
// in front of the two create endpoints only.
func RegisterWithdrawalRoutes(r fiber.Router, h *withdrawal.Handler, guard []fiber.Handler) {
	r.Post("/withdrawals/fiat", chain(guard, h.CreateFiat)...)
	r.Post("/withdrawals/crypto", chain(guard, h.CreateCrypto)...)
	r.Get("/withdrawals", h.List)
	r.Get("/withdrawals/:id", h.Get)
	r.Post("/withdrawals/:id/cancel", h.Cancel)
}

func chain(guard []fiber.Handler, h fiber.Handler) []fiber.Handler {
	out := make([]fiber.Handler, 0, len(guard)+1)
	return append(append(out, guard...), h)
}

// RegisterDepositRoutes wires the caller's deposit endpoints.
func RegisterDepositRoutes(r fiber.Router, h *deposit.Handler) {
	r.Post("/deposits", h.Create)
	r.Get("/deposits", h.List)
	r.Get("/deposits/:id", h.Get)
}

// RegisterBankAccountRoutes wires the caller's bank account registry.
func RegisterBankAccountRoutes(r fiber.Router, h *bankaccount.Handler) {
	r.Post("/bank-accounts", h.Add)
	r.Get("/bank-accounts", h.List)
	r.Delete("/bank-accounts/:id", h.Delete)
}

// AdminHandlers groups the handlers mounted under /admin.
type AdminHandlers struct {
	Withdrawals  *withdrawal.Handler
	Deposits     *deposit.Handler
	BankAccounts *bankaccount.Handler
	Wallet       *wallet.Handler
}

// RegisterAdminRoutes wires review queues and balance administration.
func RegisterAdminRoutes(r fiber.Router, h AdminHandlers) {
	r.Get("/withdrawals", h.Withdrawals.ListAdmin)
	r.Post("/withdrawals/:id/approve", h.Withdrawals.Approve)
	r.Post("/withdrawals/:id/reject", h.Withdrawals.Reject)

	r.Get("/deposits", h.Deposits.ListAdmin)
	r.Post("/deposits/:id/approve", h.Deposits.Approve)
	r.Post("/deposits/:id/reject", h.Deposits.Reject)
	r.Post("/deposits/:id/complete", h.Deposits.Complete)

	r.Post("/bank-accounts/:id/verify", h.BankAccounts.Verify)

	r.Post("/adjustments", h.Wallet.Adjust)
	r.Get("/reconciliation/:userId/:currency", h.Wallet.Reconcile)
}

// RegisterExecutorRoutes wires the payout executor's HTTP callbacks.
func RegisterExecutorRoutes(r fiber.Router, h *withdrawal.Handler) {
	r.Post("/withdrawals/:id/processing", h.Processing)
	r.Post("/withdrawals/:id/complete", h.Complete)
	r.Post("/withdrawals/:id/fail", h.Fail)
}
