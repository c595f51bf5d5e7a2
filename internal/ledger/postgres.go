package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/congo_custody/internal/infra"
	"github.com/congo-pay/congo_custody/internal/metrics"
	"github.com/congo-pay/congo_custody/internal/money"
	"github.com/congo-pay/congo_custody/internal/pagination"
)

// PostgresBook persists balances and ledger entries in PostgreSQL.
type PostgresBook struct {
	db      *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewPostgresBook constructs a Postgres-backed book.
func NewPostgresBook(db *pgxpool.Pool, m *metrics.Metrics) *PostgresBook {
	return &PostgresBook{db: db, metrics: m}
}

// WithBalance locks the balance row with SELECT ... FOR UPDATE, creating it at
// zero when missing, and runs fn inside the same transaction. A transaction
// already present in ctx is joined.
func (b *PostgresBook) WithBalance(ctx context.Context, userID, currency string, fn func(ctx context.Context, acct *Account) error) (Balance, error) {
	currency = money.Normalize(currency)
	var result Balance
	var written []Entry

	err := infra.WithTx(ctx, b.db, func(ctx context.Context) error {
		q := infra.Conn(ctx, b.db)

		if _, err := q.Exec(ctx, `INSERT INTO balances (user_id, currency, available, locked, updated_at)
            VALUES ($1, $2, 0, 0, now()) ON CONFLICT (user_id, currency) DO NOTHING`, userID, currency); err != nil {
			return fmt.Errorf("ensure balance: %w", err)
		}

		bal := Balance{UserID: userID, Currency: currency}
		row := q.QueryRow(ctx, `SELECT available, locked, updated_at FROM balances
            WHERE user_id = $1 AND currency = $2 FOR UPDATE`, userID, currency)
		if err := row.Scan(&bal.Available, &bal.Locked, &bal.UpdatedAt); err != nil {
			return fmt.Errorf("lock balance: %w", err)
		}

		acct := newAccount(bal, time.Now().UTC())
		if err := fn(ctx, acct); err != nil {
			return err
		}
		if !acct.dirty {
			result = acct.balance
			return nil
		}

		acct.balance.UpdatedAt = acct.now
		if _, err := q.Exec(ctx, `UPDATE balances SET available = $3, locked = $4, updated_at = $5
            WHERE user_id = $1 AND currency = $2`,
			userID, currency, acct.balance.Available, acct.balance.Locked, acct.balance.UpdatedAt); err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		for _, e := range acct.entries {
			meta, err := json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("encode entry metadata: %w", err)
			}
			if _, err := q.Exec(ctx, `INSERT INTO ledger_entries
                (id, user_id, currency, type, amount, balance_before, balance_after, reference_id, reference_type, metadata, created_at)
                VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				e.ID, e.UserID, e.Currency, string(e.Type), e.Amount, e.BalanceBefore, e.BalanceAfter,
				e.ReferenceID, e.ReferenceType, meta, e.CreatedAt); err != nil {
				return fmt.Errorf("append ledger entry: %w", err)
			}
		}
		written = acct.entries
		result = acct.balance
		return nil
	})
	if err != nil {
		return Balance{}, err
	}

	for _, e := range written {
		b.metrics.LedgerEntry(string(e.Type))
	}
	return result, nil
}

// Balance returns the balance without locking; a missing row reads as zero.
func (b *PostgresBook) Balance(ctx context.Context, userID, currency string) (Balance, error) {
	currency = money.Normalize(currency)
	bal := Balance{UserID: userID, Currency: currency}
	row := infra.Conn(ctx, b.db).QueryRow(ctx, `SELECT available, locked, updated_at FROM balances
        WHERE user_id = $1 AND currency = $2`, userID, currency)
	if err := row.Scan(&bal.Available, &bal.Locked, &bal.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return bal, nil
		}
		return Balance{}, err
	}
	return bal, nil
}

// Balances lists every currency the user holds, ordered by currency.
func (b *PostgresBook) Balances(ctx context.Context, userID string) ([]Balance, error) {
	rows, err := infra.Conn(ctx, b.db).Query(ctx, `SELECT currency, available, locked, updated_at FROM balances
        WHERE user_id = $1 ORDER BY currency`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Balance
	for rows.Next() {
		bal := Balance{UserID: userID}
		if err := rows.Scan(&bal.Currency, &bal.Available, &bal.Locked, &bal.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, bal)
	}
	return out, rows.Err()
}

// Entries lists entries newest first with the total match count.
func (b *PostgresBook) Entries(ctx context.Context, userID string, filter Filter, page pagination.Page) ([]Entry, int, error) {
	where := []string{"user_id = $1"}
	args := []any{userID}
	if filter.Currency != "" {
		args = append(args, money.Normalize(filter.Currency))
		where = append(where, fmt.Sprintf("currency = $%d", len(args)))
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		args = append(args, types)
		where = append(where, fmt.Sprintf("type = ANY($%d)", len(args)))
	}
	if filter.From != nil {
		args = append(args, filter.From.UTC())
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, filter.To.UTC())
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")
	q := infra.Conn(ctx, b.db)

	var total int
	if err := q.QueryRow(ctx, "SELECT COUNT(*) FROM ledger_entries WHERE "+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, page.Limit(), page.Offset())
	rows, err := q.Query(ctx, fmt.Sprintf(`SELECT id::text, user_id, currency, type, amount, balance_before, balance_after,
        reference_id, reference_type, metadata, created_at
        FROM ledger_entries WHERE %s ORDER BY created_at DESC, seq DESC LIMIT $%d OFFSET $%d`,
		clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var typ string
		var meta []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.Currency, &typ, &e.Amount, &e.BalanceBefore, &e.BalanceAfter,
			&e.ReferenceID, &e.ReferenceType, &meta, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.Type = EntryType(typ)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, 0, fmt.Errorf("decode entry metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// Sum adds every entry amount for the pair.
func (b *PostgresBook) Sum(ctx context.Context, userID, currency string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := infra.Conn(ctx, b.db).QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries
        WHERE user_id = $1 AND currency = $2`, userID, money.Normalize(currency)).Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}
