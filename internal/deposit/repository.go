package deposit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/congo_custody/internal/infra"
	"github.com/congo-pay/congo_custody/internal/pagination"
)

var (
	ErrNotFound = errors.New("deposit not found")
	// ErrDuplicateReference means the generated reference code is taken.
	ErrDuplicateReference = errors.New("deposit reference code already used")
	ErrStaleStatus        = errors.New("deposit status changed concurrently")
)

// Repository persists deposits.
type Repository interface {
	Create(ctx context.Context, d Deposit) error
	Get(ctx context.Context, id string) (Deposit, error)
	Update(ctx context.Context, d Deposit, from Status) error
	List(ctx context.Context, filter ListFilter, page pagination.Page) ([]Deposit, int, error)
	BankAccountInUse(ctx context.Context, bankAccountID string) (bool, error)
}

// PostgresRepository stores deposits in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const columns = `id::text, user_id, currency, amount, status, reference_code, bank_account_id::text,
    admin_notes, reviewed_by, reviewed_at, completed_at, created_at`

func (r *PostgresRepository) Create(ctx context.Context, d Deposit) error {
	// ON CONFLICT keeps a caller's transaction usable for the next reference attempt.
	tag, err := infra.Conn(ctx, r.db).Exec(ctx, `INSERT INTO deposits
        (id, user_id, currency, amount, status, reference_code, bank_account_id, admin_notes, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (reference_code) DO NOTHING`,
		d.ID, d.UserID, d.Currency, d.Amount, string(d.Status), d.ReferenceCode, d.BankAccountID, d.AdminNotes, d.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return ErrDuplicateReference
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateReference
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (Deposit, error) {
	d, err := scanDeposit(infra.Conn(ctx, r.db).QueryRow(ctx, `SELECT `+columns+` FROM deposits WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Deposit{}, ErrNotFound
	}
	return d, err
}

func (r *PostgresRepository) Update(ctx context.Context, d Deposit, from Status) error {
	var reviewedBy *string
	if d.ReviewedBy != "" {
		reviewedBy = &d.ReviewedBy
	}
	tag, err := infra.Conn(ctx, r.db).Exec(ctx, `UPDATE deposits SET status = $3, admin_notes = $4,
        reviewed_by = $5, reviewed_at = $6, completed_at = $7
        WHERE id = $1 AND status = $2`,
		d.ID, string(from), string(d.Status), d.AdminNotes, reviewedBy, d.ReviewedAt, d.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, filter ListFilter, page pagination.Page) ([]Deposit, int, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.Currency != "" {
		add("currency = $%d", filter.Currency)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	q := infra.Conn(ctx, r.db)

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM deposits`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, page.Limit(), page.Offset())
	rows, err := q.Query(ctx, fmt.Sprintf(`SELECT %s FROM deposits%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		columns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

func (r *PostgresRepository) BankAccountInUse(ctx context.Context, bankAccountID string) (bool, error) {
	var inUse bool
	err := infra.Conn(ctx, r.db).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM deposits
        WHERE bank_account_id = $1 AND status IN ('PENDING', 'APPROVED'))`, bankAccountID).Scan(&inUse)
	return inUse, err
}

func scanDeposit(row pgx.Row) (Deposit, error) {
	var d Deposit
	var status string
	var bankAccountID, reviewedBy *string
	var reviewedAt, completedAt *time.Time
	if err := row.Scan(&d.ID, &d.UserID, &d.Currency, &d.Amount, &status, &d.ReferenceCode, &bankAccountID,
		&d.AdminNotes, &reviewedBy, &reviewedAt, &completedAt, &d.CreatedAt); err != nil {
		return Deposit{}, err
	}
	d.Status = Status(status)
	if bankAccountID != nil {
		d.BankAccountID = *bankAccountID
	}
	if reviewedBy != nil {
		d.ReviewedBy = *reviewedBy
	}
	d.ReviewedAt = reviewedAt
	d.CompletedAt = completedAt
	return d, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505"
}
