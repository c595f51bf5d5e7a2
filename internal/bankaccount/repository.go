package bankaccount

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/congo_custody/internal/infra"
	"github.com/congo-pay/congo_custody/internal/validation"
)

// ErrNotFound is returned by repositories when no live account matches.
var ErrNotFound = errors.New("bank account not found")

// Repository persists bank accounts.
type Repository interface {
	// Lock serialises registry changes for one (user, currency) pair.
	Lock(ctx context.Context, userID, currency string, fn func(ctx context.Context) error) error
	Create(ctx context.Context, acct Account) error
	Get(ctx context.Context, id string) (Account, error)
	ListByUser(ctx context.Context, userID, currency string) ([]Account, error)
	// MarkVerified clears the verified flag on the user's other accounts of the
	// same currency and sets it on id.
	MarkVerified(ctx context.Context, id, verifiedBy string, at time.Time) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
}

// PostgresRepository stores bank accounts in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Lock(ctx context.Context, userID, currency string, fn func(ctx context.Context) error) error {
	return infra.WithTx(ctx, r.db, func(ctx context.Context) error {
		if _, err := infra.Conn(ctx, r.db).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`,
			"bank_accounts:"+userID+":"+currency); err != nil {
			return fmt.Errorf("lock bank accounts: %w", err)
		}
		return fn(ctx)
	})
}

func (r *PostgresRepository) Create(ctx context.Context, a Account) error {
	var iban, swift, number, routing *string
	switch d := a.Details.(type) {
	case validation.IBANDetails:
		iban = &d.IBAN
		if d.SWIFT != "" {
			swift = &d.SWIFT
		}
	case validation.USAccountDetails:
		number, routing = &d.AccountNumber, &d.RoutingNumber
	default:
		return fmt.Errorf("unsupported bank details %T", a.Details)
	}
	_, err := infra.Conn(ctx, r.db).Exec(ctx, `INSERT INTO bank_accounts
        (id, user_id, currency, bank_name, account_holder_name, account_type, iban, swift, account_number, routing_number, is_verified, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, FALSE, $11)`,
		a.ID, a.UserID, a.Currency, a.BankName, a.AccountHolderName, string(a.Details.Type()),
		iban, swift, number, routing, a.CreatedAt.UTC())
	return err
}

const selectColumns = `SELECT id::text, user_id, currency, bank_name, account_holder_name, account_type,
    iban, swift, account_number, routing_number, is_verified, verified_at, verified_by, created_at
    FROM bank_accounts`

func (r *PostgresRepository) Get(ctx context.Context, id string) (Account, error) {
	row := infra.Conn(ctx, r.db).QueryRow(ctx, selectColumns+` WHERE id = $1 AND deleted_at IS NULL`, id)
	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	return a, err
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID, currency string) ([]Account, error) {
	query := selectColumns + ` WHERE user_id = $1 AND deleted_at IS NULL`
	args := []any{userID}
	if currency != "" {
		query += ` AND currency = $2`
		args = append(args, currency)
	}
	rows, err := infra.Conn(ctx, r.db).Query(ctx, query+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) MarkVerified(ctx context.Context, id, verifiedBy string, at time.Time) error {
	return infra.WithTx(ctx, r.db, func(ctx context.Context) error {
		q := infra.Conn(ctx, r.db)
		if _, err := q.Exec(ctx, `UPDATE bank_accounts SET is_verified = FALSE, verified_at = NULL, verified_by = NULL
            WHERE (user_id, currency) = (SELECT user_id, currency FROM bank_accounts WHERE id = $1)
              AND id <> $1 AND is_verified`, id); err != nil {
			return fmt.Errorf("unverify siblings: %w", err)
		}
		tag, err := q.Exec(ctx, `UPDATE bank_accounts SET is_verified = TRUE, verified_at = $2, verified_by = $3
            WHERE id = $1 AND deleted_at IS NULL`, id, at.UTC(), verifiedBy)
		if err != nil {
			return fmt.Errorf("verify account: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *PostgresRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	tag, err := infra.Conn(ctx, r.db).Exec(ctx, `UPDATE bank_accounts SET deleted_at = $2, is_verified = FALSE
        WHERE id = $1 AND deleted_at IS NULL`, id, at.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	var accountType string
	var iban, swift, number, routing, verifiedBy *string
	if err := row.Scan(&a.ID, &a.UserID, &a.Currency, &a.BankName, &a.AccountHolderName, &accountType,
		&iban, &swift, &number, &routing, &a.IsVerified, &a.VerifiedAt, &verifiedBy, &a.CreatedAt); err != nil {
		return Account{}, err
	}
	switch validation.AccountType(accountType) {
	case validation.AccountTypeIBAN:
		d := validation.IBANDetails{IBAN: deref(iban), SWIFT: deref(swift)}
		if len(d.IBAN) >= 2 {
			d.Country = d.IBAN[:2]
		}
		a.Details = d
	case validation.AccountTypeUS:
		a.Details = validation.USAccountDetails{AccountNumber: deref(number), RoutingNumber: deref(routing)}
	default:
		return Account{}, fmt.Errorf("bank account %s has unknown type %q", a.ID, accountType)
	}
	a.VerifiedBy = deref(verifiedBy)
	return a, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
