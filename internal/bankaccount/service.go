package bankaccount

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/congo_custody/internal/apperr"
	"github.com/congo-pay/congo_custody/internal/money"
	"github.com/congo-pay/congo_custody/internal/notification"
	"github.com/congo-pay/congo_custody/internal/validation"
)

// UsageChecker reports whether an open deposit or withdrawal still points at
// a bank account.
type UsageChecker interface {
	BankAccountInUse(ctx context.Context, accountID string) (bool, error)
}

// Service manages the bank account registry.
type Service struct {
	repo     Repository
	checkers []UsageChecker
	notifier notification.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds a registry service.
func NewService(repo Repository, logger *slog.Logger, checkers ...UsageChecker) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		checkers: checkers,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetNotifier enables verification notices to the account owner.
func (s *Service) SetNotifier(n notification.Notifier) {
	s.notifier = n
}

// AddInput captures a new bank account.
type AddInput struct {
	Currency          string
	BankName          string
	AccountHolderName string
	IBAN              string
	SWIFT             string
	AccountNumber     string
	RoutingNumber     string
}

// Add validates and stores an unverified account.
func (s *Service) Add(ctx context.Context, userID string, in AddInput) (Account, error) {
	cur, err := money.MustCurrency(in.Currency)
	if err != nil {
		return Account{}, err
	}
	if strings.TrimSpace(in.BankName) == "" {
		return Account{}, apperr.Validation("bank name is required")
	}
	if strings.TrimSpace(in.AccountHolderName) == "" {
		return Account{}, apperr.Validation("account holder name is required")
	}
	details, err := validation.ValidateBankDetails(cur.Code, validation.BankInput{
		IBAN:          in.IBAN,
		SWIFT:         in.SWIFT,
		AccountNumber: in.AccountNumber,
		RoutingNumber: in.RoutingNumber,
	})
	if err != nil {
		return Account{}, err
	}

	acct := Account{
		ID:                uuid.NewString(),
		UserID:            userID,
		Currency:          cur.Code,
		BankName:          strings.TrimSpace(in.BankName),
		AccountHolderName: strings.TrimSpace(in.AccountHolderName),
		Details:           details,
		CreatedAt:         s.now(),
	}

	err = s.repo.Lock(ctx, userID, cur.Code, func(ctx context.Context) error {
		existing, err := s.repo.ListByUser(ctx, userID, "")
		if err != nil {
			return apperr.Internal(err)
		}
		sameCurrency := 0
		for _, e := range existing {
			if sameDestination(e.Details, details) {
				return apperr.Conflict("bank account %s is already registered", details.Masked())
			}
			if e.Currency == cur.Code {
				sameCurrency++
			}
		}
		if sameCurrency >= MaxPerCurrency {
			return apperr.Conflict("limit of %d bank accounts per currency reached for %s", MaxPerCurrency, cur.Code)
		}
		if err := s.repo.Create(ctx, acct); err != nil {
			return apperr.Internal(err)
		}
		return nil
	})
	if err != nil {
		s.logInternal("add bank account", err)
		return Account{}, err
	}
	return acct, nil
}

// List returns the user's live accounts, optionally for one currency.
func (s *Service) List(ctx context.Context, userID, currency string) ([]Account, error) {
	if currency != "" {
		currency = money.Normalize(currency)
	}
	accounts, err := s.repo.ListByUser(ctx, userID, currency)
	if err != nil {
		s.logInternal("list bank accounts", err)
		return nil, apperr.Internal(err)
	}
	return accounts, nil
}

// Verify marks an account verified, un-verifying the user's other accounts in that currency.
func (s *Service) Verify(ctx context.Context, accountID, adminID string) (Account, error) {
	acct, err := s.get(ctx, accountID)
	if err != nil {
		return Account{}, err
	}
	err = s.repo.Lock(ctx, acct.UserID, acct.Currency, func(ctx context.Context) error {
		current, err := s.get(ctx, accountID)
		if err != nil {
			return err
		}
		if current.IsVerified {
			return apperr.Conflict("bank account is already verified")
		}
		if err := s.repo.MarkVerified(ctx, accountID, adminID, s.now()); err != nil {
			return apperr.Internal(err)
		}
		return nil
	})
	if err != nil {
		s.logInternal("verify bank account", err)
		return Account{}, err
	}
	s.logger.Info("bank account verified", slog.String("account_id", accountID), slog.String("admin_id", adminID))
	verified, err := s.get(ctx, accountID)
	if err != nil {
		return Account{}, err
	}
	notification.Deliver(ctx, s.notifier, s.logger, notification.Message{
		Kind:        notification.KindBankAccountVerified,
		Destination: verified.UserID,
		Body:        "bank account " + verified.MaskedIdentifier() + " verified",
		Data:        map[string]string{"bank_account_id": verified.ID, "currency": verified.Currency},
	})
	return verified, nil
}

// GetUsable returns an account the user may withdraw to.
func (s *Service) GetUsable(ctx context.Context, userID, accountID string) (Account, error) {
	acct, err := s.Get(ctx, userID, accountID)
	if err != nil {
		return Account{}, err
	}
	if !acct.IsVerified {
		return Account{}, apperr.Authorization("bank account is not verified")
	}
	return acct, nil
}

// WithUsable runs fn while the verified account is held against deletion.
// The account is re-read under the registry lock, so one deleted after an
// earlier lookup reads as missing here. On PostgreSQL the lock joins the
// caller's transaction and is held until it commits.
func (s *Service) WithUsable(ctx context.Context, userID, accountID string, fn func(ctx context.Context, acct Account) error) error {
	return s.withAccount(ctx, userID, accountID, true, fn)
}

// WithOwned is WithUsable without the verification requirement.
func (s *Service) WithOwned(ctx context.Context, userID, accountID string, fn func(ctx context.Context, acct Account) error) error {
	return s.withAccount(ctx, userID, accountID, false, fn)
}

func (s *Service) withAccount(ctx context.Context, userID, accountID string, verified bool, fn func(ctx context.Context, acct Account) error) error {
	acct, err := s.Get(ctx, userID, accountID)
	if err != nil {
		return err
	}
	return s.repo.Lock(ctx, userID, acct.Currency, func(ctx context.Context) error {
		current, err := s.Get(ctx, userID, accountID)
		if err != nil {
			return err
		}
		if verified && !current.IsVerified {
			return apperr.Authorization("bank account is not verified")
		}
		return fn(ctx, current)
	})
}

// Get returns an account owned by userID; other users' accounts read as missing.
func (s *Service) Get(ctx context.Context, userID, accountID string) (Account, error) {
	acct, err := s.get(ctx, accountID)
	if err != nil {
		return Account{}, err
	}
	if acct.UserID != userID {
		return Account{}, apperr.NotFound("bank account not found")
	}
	return acct, nil
}

// Delete removes an account that no open deposit or withdrawal references.
func (s *Service) Delete(ctx context.Context, userID, accountID string) error {
	acct, err := s.Get(ctx, userID, accountID)
	if err != nil {
		return err
	}
	err = s.repo.Lock(ctx, userID, acct.Currency, func(ctx context.Context) error {
		for _, c := range s.checkers {
			inUse, err := c.BankAccountInUse(ctx, accountID)
			if err != nil {
				return apperr.Internal(err)
			}
			if inUse {
				return apperr.Conflict("bank account is referenced by a pending deposit or withdrawal")
			}
		}
		if err := s.repo.SoftDelete(ctx, accountID, s.now()); err != nil {
			if errors.Is(err, ErrNotFound) {
				return apperr.NotFound("bank account not found")
			}
			return apperr.Internal(err)
		}
		return nil
	})
	if err != nil {
		s.logInternal("delete bank account", err)
	}
	return err
}

func (s *Service) get(ctx context.Context, id string) (Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Account{}, apperr.NotFound("bank account not found")
	}
	acct, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Account{}, apperr.NotFound("bank account not found")
	}
	if err != nil {
		s.logInternal("get bank account", err)
		return Account{}, apperr.Internal(err)
	}
	return acct, nil
}

func (s *Service) logInternal(op string, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		s.logger.Error(op+" failed", slog.Any("error", err))
	}
}
