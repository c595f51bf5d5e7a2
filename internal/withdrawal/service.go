package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/congo_custody/internal/apperr"
	"github.com/congo-pay/congo_custody/internal/bankaccount"
	"github.com/congo-pay/congo_custody/internal/fees"
	"github.com/congo-pay/congo_custody/internal/ledger"
	"github.com/congo-pay/congo_custody/internal/metrics"
	"github.com/congo-pay/congo_custody/internal/money"
	"github.com/congo-pay/congo_custody/internal/notification"
	"github.com/congo-pay/congo_custody/internal/pagination"
	"github.com/congo-pay/congo_custody/internal/reference"
	"github.com/congo-pay/congo_custody/internal/validation"
)

const referenceType = "withdrawal"

// TwoFactor verifies a user's second factor.
type TwoFactor interface {
	Verify(ctx context.Context, userID, code string) (time.Time, error)
}

// BankAccounts resolves verified payout destinations.
type BankAccounts interface {
	GetUsable(ctx context.Context, userID, accountID string) (bankaccount.Account, error)
	// WithUsable holds the account against deletion while fn runs.
	WithUsable(ctx context.Context, userID, accountID string, fn func(ctx context.Context, acct bankaccount.Account) error) error
}

// Dispatcher hands approved withdrawals to the payout executor.
type Dispatcher interface {
	Dispatch(ctx context.Context, w Withdrawal) error
}

// DailyLimit caps withdrawals in a rolling 24 hour window. A zero Count disables the count cap.
type DailyLimit struct {
	Amount decimal.Decimal
	Count  int
}

type Config struct {
	// ApprovalThreshold is compared 1:1 against the amount in any currency.
	ApprovalThreshold decimal.Decimal
	FiatDaily         DailyLimit
	CryptoDaily       DailyLimit
}

// DefaultConfig returns the built-in thresholds.
func DefaultConfig() Config {
	return Config{
		ApprovalThreshold: decimal.NewFromInt(10000),
		FiatDaily:         DailyLimit{Amount: decimal.NewFromInt(50000), Count: 10},
		CryptoDaily:       DailyLimit{Amount: decimal.NewFromInt(100000)},
	}
}

// Deps groups the collaborators of Service.
type Deps struct {
	Repo       Repository
	Book       ledger.Book
	Fees       *fees.Calculator
	TwoFactor  TwoFactor
	Banks      BankAccounts
	Dispatcher Dispatcher
	Notifier   notification.Notifier
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Service runs the withdrawal state machine.
type Service struct {
	repo       Repository
	book       ledger.Book
	fees       *fees.Calculator
	twoFactor  TwoFactor
	banks      BankAccounts
	dispatcher Dispatcher
	notifier   notification.Notifier
	metrics    *metrics.Metrics
	logger     *slog.Logger
	cfg        Config
	refs       *reference.Generator
	now        func() time.Time
}

// NewService builds a withdrawal service.
func NewService(d Deps, cfg Config) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Fees == nil {
		d.Fees = fees.NewCalculator(nil)
	}
	return &Service{
		repo:       d.Repo,
		book:       d.Book,
		fees:       d.Fees,
		twoFactor:  d.TwoFactor,
		banks:      d.Banks,
		dispatcher: d.Dispatcher,
		notifier:   d.Notifier,
		metrics:    d.Metrics,
		logger:     d.Logger,
		cfg:        cfg,
		refs:       reference.MustNew("WD", 8),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// FiatInput is a bank transfer request.
type FiatInput struct {
	UserID        string
	Currency      string
	Amount        decimal.Decimal
	BankAccountID string
	TwoFACode     string
}

// CryptoInput is an on-chain transfer request.
type CryptoInput struct {
	UserID             string
	Currency           string
	Amount             decimal.Decimal
	DestinationAddress string
	Network            string
	TwoFACode          string
}

// CreateFiat verifies 2FA and the destination, then holds funds and records the withdrawal.
func (s *Service) CreateFiat(ctx context.Context, in FiatInput) (Withdrawal, error) {
	cur, err := money.MustCurrency(in.Currency)
	if err != nil {
		return Withdrawal{}, err
	}
	if cur.Class != money.AssetFiat {
		return Withdrawal{}, apperr.Validation("%s is not a fiat currency", cur.Code)
	}

	verifiedAt, err := s.twoFactor.Verify(ctx, in.UserID, in.TwoFACode)
	if err != nil {
		return Withdrawal{}, err
	}

	acct, err := s.banks.GetUsable(ctx, in.UserID, in.BankAccountID)
	if err != nil {
		return Withdrawal{}, err
	}
	if acct.Currency != cur.Code {
		return Withdrawal{}, apperr.Validation("bank account currency %s does not match %s", acct.Currency, cur.Code)
	}

	quote, err := s.fees.Quote(cur.Code, in.Amount, "")
	if err != nil {
		return Withdrawal{}, err
	}

	w := s.draft(in.UserID, cur.Code, KindFiat, in.Amount, quote, verifiedAt)
	w.BankAccountID = acct.ID
	return s.create(ctx, w, s.cfg.FiatDaily, func(ctx context.Context, record func(ctx context.Context) error) error {
		return s.banks.WithUsable(ctx, in.UserID, acct.ID, func(ctx context.Context, _ bankaccount.Account) error {
			return record(ctx)
		})
	})
}

// CreateCrypto verifies 2FA and the address, then holds funds and records the withdrawal.
func (s *Service) CreateCrypto(ctx context.Context, in CryptoInput) (Withdrawal, error) {
	cur, err := money.MustCurrency(in.Currency)
	if err != nil {
		return Withdrawal{}, err
	}
	if cur.Class != money.AssetCrypto {
		return Withdrawal{}, apperr.Validation("%s is not a crypto currency", cur.Code)
	}

	verifiedAt, err := s.twoFactor.Verify(ctx, in.UserID, in.TwoFACode)
	if err != nil {
		return Withdrawal{}, err
	}

	network, err := validation.ResolveNetwork(cur.Code, in.Network)
	if err != nil {
		return Withdrawal{}, err
	}
	address, err := validation.ValidateCryptoAddress(network, in.DestinationAddress)
	if err != nil {
		return Withdrawal{}, err
	}

	quote, err := s.fees.Quote(cur.Code, in.Amount, string(network))
	if err != nil {
		return Withdrawal{}, err
	}

	w := s.draft(in.UserID, cur.Code, KindCrypto, in.Amount, quote, verifiedAt)
	w.DestinationAddress = address
	w.Network = string(network)
	return s.create(ctx, w, s.cfg.CryptoDaily, nil)
}

func (s *Service) draft(userID, currency string, kind Kind, amount decimal.Decimal, q fees.Quote, verifiedAt time.Time) Withdrawal {
	now := s.now()
	verified := verifiedAt.UTC()
	return Withdrawal{
		ID:              uuid.NewString(),
		UserID:          userID,
		Currency:        currency,
		Kind:            kind,
		Amount:          amount,
		Fee:             q.TotalFee,
		NetworkFee:      q.NetworkFee,
		PlatformFee:     q.PlatformFee,
		TotalAmount:     q.TotalAmount,
		TwoFAVerifiedAt: &verified,
		ReferenceNumber: s.refs.Next(now),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// create holds funds and stores w under the balance lock. A non-nil guard
// wraps that work, e.g. to keep the destination account from being deleted
// before the withdrawal referencing it is committed.
func (s *Service) create(ctx context.Context, w Withdrawal, limit DailyLimit, guard func(ctx context.Context, record func(ctx context.Context) error) error) (Withdrawal, error) {
	if w.Amount.GreaterThan(s.cfg.ApprovalThreshold) {
		w.Status = StatusPending
		w.RequiresAdminApproval = true
	} else {
		w.Status = StatusApproved
	}

	_, err := s.book.WithBalance(ctx, w.UserID, w.Currency, func(ctx context.Context, acct *ledger.Account) error {
		record := func(ctx context.Context) error {
			return s.hold(ctx, w, acct, limit)
		}
		if guard == nil {
			return record(ctx)
		}
		return guard(ctx, record)
	})
	if err != nil {
		s.logInternal("create withdrawal", w, err)
		return Withdrawal{}, err
	}

	s.logger.Info("withdrawal created",
		slog.String("withdrawal_id", w.ID),
		slog.String("user_id", w.UserID),
		slog.String("kind", string(w.Kind)),
		slog.String("currency", w.Currency),
		slog.String("total_amount", w.TotalAmount.String()),
		slog.String("status", string(w.Status)))
	amount, _ := w.Amount.Float64()
	s.metrics.WithdrawalCreated(string(w.Kind), w.Currency, string(w.Status), amount)
	s.notify(ctx, w)
	if w.Status == StatusApproved {
		s.dispatch(ctx, w)
	}
	return w, nil
}

func (s *Service) hold(ctx context.Context, w Withdrawal, acct *ledger.Account, limit DailyLimit) error {
	if acct.Balance().Available.LessThan(w.TotalAmount) {
		return ledger.ErrInsufficientFunds
	}

	// Same-currency requests are serialised by the balance lock held by the caller.
	usage, err := s.repo.DailyUsage(ctx, w.UserID, w.Currency, w.CreatedAt.Add(-24*time.Hour))
	if err != nil {
		return apperr.Internal(err)
	}
	if err := checkDailyLimit(w, usage, limit); err != nil {
		return err
	}

	if err := acct.Hold(w.TotalAmount, ledger.EntryWithdrawal, s.ref(w)); err != nil {
		return err
	}
	if err := s.repo.Create(ctx, w); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func checkDailyLimit(w Withdrawal, usage Usage, limit DailyLimit) error {
	if limit.Count > 0 && usage.Count >= limit.Count {
		return apperr.Validation("daily withdrawal count limit of %d reached for %s", limit.Count, w.Currency)
	}
	if limit.Amount.IsPositive() && usage.Amount.Add(w.Amount).GreaterThan(limit.Amount) {
		remaining := limit.Amount.Sub(usage.Amount)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		return apperr.Validation("daily withdrawal limit of %s %s exceeded, %s remaining",
			limit.Amount.String(), w.Currency, remaining.String())
	}
	return nil
}

// Get returns a withdrawal owned by userID; other users' ids read as missing.
func (s *Service) Get(ctx context.Context, userID, id string) (Withdrawal, error) {
	w, err := s.load(ctx, id)
	if err != nil {
		return Withdrawal{}, err
	}
	if w.UserID != userID {
		return Withdrawal{}, apperr.NotFound("withdrawal not found")
	}
	return w, nil
}

// GetAny returns a withdrawal regardless of owner, for admin and executor callers.
func (s *Service) GetAny(ctx context.Context, id string) (Withdrawal, error) {
	return s.load(ctx, id)
}

// List returns the user's withdrawals, newest first.
func (s *Service) List(ctx context.Context, userID string, filter ListFilter, page pagination.Page) ([]Withdrawal, int, error) {
	filter.UserID = userID
	return s.list(ctx, filter, page)
}

// ListAdmin returns withdrawals across users, e.g. the PENDING approval queue.
func (s *Service) ListAdmin(ctx context.Context, filter ListFilter, page pagination.Page) ([]Withdrawal, int, error) {
	return s.list(ctx, filter, page)
}

func (s *Service) list(ctx context.Context, filter ListFilter, page pagination.Page) ([]Withdrawal, int, error) {
	if filter.Currency != "" {
		filter.Currency = money.Normalize(filter.Currency)
	}
	items, total, err := s.repo.List(ctx, filter, page)
	if err != nil {
		s.logger.Error("list withdrawals failed", slog.Any("error", err))
		return nil, 0, apperr.Internal(err)
	}
	return items, total, nil
}

// Cancel releases the held funds of a PENDING or APPROVED withdrawal.
func (s *Service) Cancel(ctx context.Context, userID, id string) (Withdrawal, error) {
	w, err := s.Get(ctx, userID, id)
	if err != nil {
		return Withdrawal{}, err
	}
	return s.transition(ctx, w, StatusCancelled, "cancelled", func(w *Withdrawal, acct *ledger.Account) error {
		return acct.Release(w.TotalAmount, ledger.EntryRefund, s.ref(*w))
	})
}

// Approve moves a PENDING withdrawal to APPROVED. Balances are untouched.
func (s *Service) Approve(ctx context.Context, adminID, id, notes string) (Withdrawal, error) {
	w, err := s.load(ctx, id)
	if err != nil {
		return Withdrawal{}, err
	}
	if w.Status != StatusPending {
		return Withdrawal{}, conflict(w.Status, "approved")
	}

	from := w.Status
	now := s.now()
	w.Status = StatusApproved
	w.AdminApprovedBy = adminID
	w.AdminApprovedAt = &now
	w.AdminNotes = notes
	w.UpdatedAt = now
	if err := s.repo.Update(ctx, w, from); err != nil {
		return Withdrawal{}, s.updateError(ctx, w, "approved", err)
	}

	s.afterTransition(ctx, w)
	s.dispatch(ctx, w)
	return w, nil
}

// Reject refunds a PENDING withdrawal and records the reason.
func (s *Service) Reject(ctx context.Context, adminID, id, reason string) (Withdrawal, error) {
	if strings.TrimSpace(reason) == "" {
		return Withdrawal{}, apperr.Validation("rejection reason is required")
	}
	w, err := s.load(ctx, id)
	if err != nil {
		return Withdrawal{}, err
	}
	if w.Status != StatusPending {
		return Withdrawal{}, conflict(w.Status, "rejected")
	}
	return s.transition(ctx, w, StatusRejected, "rejected", func(w *Withdrawal, acct *ledger.Account) error {
		now := s.now()
		w.RejectionReason = reason
		w.AdminApprovedBy = adminID
		w.AdminApprovedAt = &now
		return acct.Release(w.TotalAmount, ledger.EntryWithdrawalRefund, s.ref(*w))
	})
}

// MarkProcessing records that the executor picked up an APPROVED withdrawal.
func (s *Service) MarkProcessing(ctx context.Context, id, executorRef string) (Withdrawal, error) {
	w, err := s.load(ctx, id)
	if err != nil {
		return Withdrawal{}, err
	}
	if w.Status == StatusProcessing && w.ExecutorReference == executorRef {
		return w, nil
	}
	if !w.Status.CanTransition(StatusProcessing) {
		return Withdrawal{}, conflict(w.Status, "processed")
	}
	from := w.Status
	w.Status = StatusProcessing
	w.ExecutorReference = executorRef
	w.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, w, from); err != nil {
		return Withdrawal{}, s.updateError(ctx, w, "processed", err)
	}
	s.afterTransition(ctx, w)
	return w, nil
}

// CompletionInput carries the executor's confirmation.
type CompletionInput struct {
	TransactionHash string
	Confirmations   int
}

// Complete settles the locked funds of a PROCESSING withdrawal. The outflow
// entry was written at creation, so no new entry is appended.
func (s *Service) Complete(ctx context.Context, id string, in CompletionInput) (Withdrawal, error) {
	w, err := s.load(ctx, id)
	if err != nil {
		return Withdrawal{}, err
	}
	if w.Kind == KindCrypto && strings.TrimSpace(in.TransactionHash) == "" {
		return Withdrawal{}, apperr.Validation("transaction hash is required for crypto withdrawals")
	}
	return s.transition(ctx, w, StatusCompleted, "completed", func(w *Withdrawal, acct *ledger.Account) error {
		now := s.now()
		w.TransactionHash = strings.TrimSpace(in.TransactionHash)
		w.Confirmations = in.Confirmations
		w.CompletedAt = &now
		return acct.Settle(w.TotalAmount)
	})
}

// Fail refunds a PROCESSING withdrawal the executor could not deliver.
func (s *Service) Fail(ctx context.Context, id, message string) (Withdrawal, error) {
	w, err := s.load(ctx, id)
	if err != nil {
		return Withdrawal{}, err
	}
	return s.transition(ctx, w, StatusFailed, "failed", func(w *Withdrawal, acct *ledger.Account) error {
		w.ErrorMessage = message
		return acct.Release(w.TotalAmount, ledger.EntryWithdrawalRefund, s.ref(*w))
	})
}

// DispatchApproved re-publishes every APPROVED withdrawal; returns how many were sent.
func (s *Service) DispatchApproved(ctx context.Context) (int, error) {
	if s.dispatcher == nil {
		return 0, nil
	}
	sent := 0
	for page := 1; ; page++ {
		items, total, err := s.repo.List(ctx, ListFilter{Status: StatusApproved}, pagination.New(page, pagination.MaxSize))
		if err != nil {
			return sent, apperr.Internal(err)
		}
		for _, w := range items {
			if err := s.dispatcher.Dispatch(ctx, w); err != nil {
				s.metrics.DispatchError()
				return sent, fmt.Errorf("dispatch %s: %w", w.ID, err)
			}
			sent++
		}
		if page*pagination.MaxSize >= total || len(items) == 0 {
			return sent, nil
		}
	}
}

// transition re-reads w under its balance lock, checks the edge to target,
// applies mutate and stores the result, all in one transaction.
func (s *Service) transition(ctx context.Context, w Withdrawal, to Status, verb string, mutate func(w *Withdrawal, acct *ledger.Account) error) (Withdrawal, error) {
	var out Withdrawal
	_, err := s.book.WithBalance(ctx, w.UserID, w.Currency, func(ctx context.Context, acct *ledger.Account) error {
		current, err := s.repo.Get(ctx, w.ID)
		if err != nil {
			return apperr.Internal(err)
		}
		if !current.Status.CanTransition(to) {
			return conflict(current.Status, verb)
		}
		from := current.Status
		current.Status = to
		current.UpdatedAt = s.now()
		if err := mutate(&current, acct); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, current, from); err != nil {
			if errors.Is(err, ErrStaleStatus) {
				return apperr.Conflict("withdrawal changed concurrently, retry")
			}
			return apperr.Internal(err)
		}
		out = current
		return nil
	})
	if err != nil {
		s.logInternal("withdrawal "+verb, w, err)
		return Withdrawal{}, err
	}
	s.afterTransition(ctx, out)
	return out, nil
}

func (s *Service) updateError(ctx context.Context, w Withdrawal, verb string, err error) error {
	if errors.Is(err, ErrStaleStatus) {
		if current, getErr := s.repo.Get(ctx, w.ID); getErr == nil {
			return conflict(current.Status, verb)
		}
		return apperr.Conflict("withdrawal changed concurrently, retry")
	}
	s.logInternal("withdrawal "+verb, w, err)
	return apperr.Internal(err)
}

func (s *Service) load(ctx context.Context, id string) (Withdrawal, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Withdrawal{}, apperr.NotFound("withdrawal not found")
	}
	w, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Withdrawal{}, apperr.NotFound("withdrawal not found")
	}
	if err != nil {
		s.logger.Error("load withdrawal failed", slog.String("withdrawal_id", id), slog.Any("error", err))
		return Withdrawal{}, apperr.Internal(err)
	}
	return w, nil
}

func (s *Service) afterTransition(ctx context.Context, w Withdrawal) {
	s.logger.Info("withdrawal status changed",
		slog.String("withdrawal_id", w.ID),
		slog.String("status", string(w.Status)))
	s.metrics.WithdrawalTransition(string(w.Kind), string(w.Status))
	s.notify(ctx, w)
}

func (s *Service) dispatch(ctx context.Context, w Withdrawal) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Dispatch(ctx, w); err != nil {
		s.metrics.DispatchError()
		s.logger.Error("dispatch to executor failed",
			slog.String("withdrawal_id", w.ID), slog.Any("error", err))
	}
}

func (s *Service) notify(ctx context.Context, w Withdrawal) {
	notification.Deliver(ctx, s.notifier, s.logger, notification.Message{
		Kind:        notification.KindWithdrawalStatus,
		Destination: w.UserID,
		Body:        fmt.Sprintf("Withdrawal %s is %s", w.ReferenceNumber, strings.ToLower(string(w.Status))),
		Data: map[string]string{
			"withdrawal_id": w.ID,
			"status":        string(w.Status),
			"amount":        w.Amount.String(),
			"currency":      w.Currency,
		},
	})
}

func (s *Service) ref(w Withdrawal) ledger.Reference {
	return ledger.Reference{
		ID:       w.ID,
		Type:     referenceType,
		Metadata: map[string]string{"reference_number": w.ReferenceNumber, "kind": string(w.Kind)},
	}
}

func (s *Service) logInternal(op string, w Withdrawal, err error) {
	if apperr.KindOf(err) != apperr.KindInternal {
		return
	}
	s.logger.Error(op+" failed",
		slog.String("withdrawal_id", w.ID),
		slog.String("user_id", w.UserID),
		slog.Any("error", err))
}

func conflict(current Status, verb string) error {
	return apperr.Conflict("withdrawal cannot be %s in status %s", verb, current)
}
