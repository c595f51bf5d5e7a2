package deposit

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
)

const maxReferenceAttempts = 3

// BankAccounts resolves the user's registered source accounts.
type BankAccounts interface {
	Get(ctx context.Context, userID, accountID string) (bankaccount.Account, error)
	// WithOwned holds the account against deletion while fn runs.
	WithOwned(ctx context.Context, userID, accountID string, fn func(ctx context.Context, acct bankaccount.Account) error) error
}

type Deps struct {
	Repo     Repository
	Book     ledger.Book
	Fees     *fees.Calculator
	Banks    BankAccounts
	Notifier notification.Notifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Service runs the deposit lifecycle. Only Complete touches balances.
type Service struct {
	repo     Repository
	book     ledger.Book
	fees     *fees.Calculator
	banks    BankAccounts
	notifier notification.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	refs     *reference.Generator
	now      func() time.Time
}

func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Fees == nil {
		d.Fees = fees.NewCalculator(nil)
	}
	return &Service{
		repo:     d.Repo,
		book:     d.Book,
		fees:     d.Fees,
		banks:    d.Banks,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		logger:   d.Logger,
		refs:     reference.MustNew("DEP", 6),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput announces an inbound transfer from a registered bank account.
type CreateInput struct {
	Currency      string
	Amount        decimal.Decimal
	BankAccountID string
}

// Create records a PENDING deposit with a fresh reference code.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (Deposit, error) {
	cur, err := money.MustCurrency(in.Currency)
	if err != nil {
		return Deposit{}, err
	}
	if cur.Class != money.AssetFiat {
		return Deposit{}, apperr.Validation("%s deposits are not accepted by bank transfer", cur.Code)
	}
	schedule, err := s.fees.Schedule(cur.Code)
	if err != nil {
		return Deposit{}, err
	}
	if err := fees.CheckBounds(cur, in.Amount, schedule.DepositMin, schedule.DepositMax); err != nil {
		return Deposit{}, err
	}

	acct, err := s.banks.Get(ctx, userID, in.BankAccountID)
	if err != nil {
		return Deposit{}, err
	}
	if acct.Currency != cur.Code {
		return Deposit{}, apperr.Validation("bank account currency %s does not match %s", acct.Currency, cur.Code)
	}

	now := s.now()
	d := Deposit{
		ID:            uuid.NewString(),
		UserID:        userID,
		Currency:      cur.Code,
		Amount:        in.Amount,
		Status:        StatusPending,
		BankAccountID: acct.ID,
		CreatedAt:     now,
	}
	err = s.banks.WithOwned(ctx, userID, acct.ID, func(ctx context.Context, _ bankaccount.Account) error {
		return s.insert(ctx, &d, now)
	})
	if apperr.KindOf(err) == apperr.KindNotFound {
		return Deposit{}, err
	}
	if err != nil {
		s.logger.Error("create deposit failed", slog.String("user_id", userID), slog.Any("error", err))
		return Deposit{}, apperr.Internal(err)
	}

	s.logger.Info("deposit created",
		slog.String("deposit_id", d.ID),
		slog.String("user_id", userID),
		slog.String("currency", d.Currency),
		slog.String("amount", d.Amount.String()),
		slog.String("reference_code", d.ReferenceCode))
	s.metrics.DepositTransition(string(d.Status))
	return d, nil
}

// insert stores d, drawing a new reference code on each collision.
func (s *Service) insert(ctx context.Context, d *Deposit, now time.Time) error {
	var err error
	for attempt := 1; ; attempt++ {
		d.ReferenceCode = s.refs.Next(now)
		err = s.repo.Create(ctx, *d)
		if !errors.Is(err, ErrDuplicateReference) || attempt == maxReferenceAttempts {
			return err
		}
		s.logger.Warn("deposit reference collision, regenerating", slog.String("reference_code", d.ReferenceCode))
	}
}

// Get returns a deposit owned by userID.
func (s *Service) Get(ctx context.Context, userID, id string) (Deposit, error) {
	d, err := s.load(ctx, id)
	if err != nil {
		return Deposit{}, err
	}
	if d.UserID != userID {
		return Deposit{}, apperr.NotFound("deposit not found")
	}
	return d, nil
}

func (s *Service) List(ctx context.Context, userID string, filter ListFilter, page pagination.Page) ([]Deposit, int, error) {
	filter.UserID = userID
	return s.ListAdmin(ctx, filter, page)
}

func (s *Service) ListAdmin(ctx context.Context, filter ListFilter, page pagination.Page) ([]Deposit, int, error) {
	if filter.Currency != "" {
		filter.Currency = money.Normalize(filter.Currency)
	}
	items, total, err := s.repo.List(ctx, filter, page)
	if err != nil {
		s.logger.Error("list deposits failed", slog.Any("error", err))
		return nil, 0, apperr.Internal(err)
	}
	return items, total, nil
}

// Approve confirms the transfer details look right; funds are credited on Complete.
func (s *Service) Approve(ctx context.Context, adminID, id, notes string) (Deposit, error) {
	return s.review(ctx, adminID, id, notes, StatusApproved, "approved")
}

func (s *Service) Reject(ctx context.Context, adminID, id, notes string) (Deposit, error) {
	return s.review(ctx, adminID, id, notes, StatusRejected, "rejected")
}

func (s *Service) review(ctx context.Context, adminID, id, notes string, to Status, verb string) (Deposit, error) {
	d, err := s.load(ctx, id)
	if err != nil {
		return Deposit{}, err
	}
	if !d.Status.CanTransition(to) {
		return Deposit{}, conflict(d.Status, verb)
	}
	from := d.Status
	now := s.now()
	d.Status = to
	d.ReviewedBy = adminID
	d.ReviewedAt = &now
	if strings.TrimSpace(notes) != "" {
		d.AdminNotes = notes
	}
	if err := s.repo.Update(ctx, d, from); err != nil {
		return Deposit{}, s.updateError(ctx, d, verb, err)
	}
	s.afterTransition(ctx, d)
	return d, nil
}

// Complete credits an APPROVED deposit once the funds have arrived.
func (s *Service) Complete(ctx context.Context, id string) (Deposit, error) {
	d, err := s.load(ctx, id)
	if err != nil {
		return Deposit{}, err
	}

	var out Deposit
	_, err = s.book.WithBalance(ctx, d.UserID, d.Currency, func(ctx context.Context, acct *ledger.Account) error {
		current, err := s.repo.Get(ctx, d.ID)
		if err != nil {
			return apperr.Internal(err)
		}
		if !current.Status.CanTransition(StatusCompleted) {
			return conflict(current.Status, "completed")
		}
		from := current.Status
		now := s.now()
		current.Status = StatusCompleted
		current.CompletedAt = &now

		ref := ledger.Reference{
			ID:       current.ID,
			Type:     "deposit",
			Metadata: map[string]string{"reference_code": current.ReferenceCode},
		}
		if err := acct.Credit(current.Amount, ledger.EntryDeposit, ref); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, current, from); err != nil {
			if errors.Is(err, ErrStaleStatus) {
				return apperr.Conflict("deposit changed concurrently, retry")
			}
			return apperr.Internal(err)
		}
		out = current
		return nil
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			s.logger.Error("complete deposit failed", slog.String("deposit_id", id), slog.Any("error", err))
		}
		return Deposit{}, err
	}
	s.afterTransition(ctx, out)
	return out, nil
}

// BankAccountInUse lets the bank account registry refuse deletes while a deposit is open.
func (s *Service) BankAccountInUse(ctx context.Context, bankAccountID string) (bool, error) {
	return s.repo.BankAccountInUse(ctx, bankAccountID)
}

func (s *Service) load(ctx context.Context, id string) (Deposit, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Deposit{}, apperr.NotFound("deposit not found")
	}
	d, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Deposit{}, apperr.NotFound("deposit not found")
	}
	if err != nil {
		s.logger.Error("load deposit failed", slog.String("deposit_id", id), slog.Any("error", err))
		return Deposit{}, apperr.Internal(err)
	}
	return d, nil
}

func (s *Service) updateError(ctx context.Context, d Deposit, verb string, err error) error {
	if errors.Is(err, ErrStaleStatus) {
		if current, getErr := s.repo.Get(ctx, d.ID); getErr == nil {
			return conflict(current.Status, verb)
		}
		return apperr.Conflict("deposit changed concurrently, retry")
	}
	s.logger.Error("update deposit failed", slog.String("deposit_id", d.ID), slog.Any("error", err))
	return apperr.Internal(err)
}

func (s *Service) afterTransition(ctx context.Context, d Deposit) {
	s.logger.Info("deposit status changed", slog.String("deposit_id", d.ID), slog.String("status", string(d.Status)))
	s.metrics.DepositTransition(string(d.Status))
	notification.Deliver(ctx, s.notifier, s.logger, notification.Message{
		Kind:        notification.KindDepositStatus,
		Destination: d.UserID,
		Body:        fmt.Sprintf("Deposit %s is %s", d.ReferenceCode, strings.ToLower(string(d.Status))),
		Data: map[string]string{
			"deposit_id": d.ID,
			"status":     string(d.Status),
			"amount":     d.Amount.String(),
			"currency":   d.Currency,
		},
	})
}

func conflict(current Status, verb string) error {
	return apperr.Conflict("deposit cannot be %s in status %s", verb, current)
}
