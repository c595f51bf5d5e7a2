package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/congo_custody/internal/infra"
	"github.com/congo-pay/congo_custody/internal/pagination"
)

var (
	// ErrNotFound is returned when no withdrawal has the requested id.
	ErrNotFound = errors.New("withdrawal not found")
	// ErrStaleStatus is returned by Update when the stored status no longer matches the expected one.
	ErrStaleStatus = errors.New("withdrawal status changed concurrently")
)

// Repository persists withdrawals.
type Repository interface {
	Create(ctx context.Context, w Withdrawal) error
	Get(ctx context.Context, id string) (Withdrawal, error)
	// Update stores w only if the stored status still equals from.
	Update(ctx context.Context, w Withdrawal, from Status) error
	List(ctx context.Context, filter ListFilter, page pagination.Page) ([]Withdrawal, int, error)
	// DailyUsage sums withdrawals created at or after since, ignoring cancelled and rejected ones.
	DailyUsage(ctx context.Context, userID, currency string, since time.Time) (Usage, error)
	BankAccountInUse(ctx context.Context, bankAccountID string) (bool, error)
}

// PostgresRepository stores withdrawals in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const columns = `id::text, user_id, currency, kind, amount, fee, network_fee, platform_fee, total_amount,
    bank_account_id::text, destination_address, network, transaction_hash, confirmations, status,
    requires_admin_approval, two_fa_verified_at, admin_approved_by, admin_approved_at, admin_notes,
    rejection_reason, reference_number, executor_reference, error_message, completed_at, created_at, updated_at`

func (r *PostgresRepository) Create(ctx context.Context, w Withdrawal) error {
	_, err := infra.Conn(ctx, r.db).Exec(ctx, `INSERT INTO withdrawals
        (id, user_id, currency, kind, amount, fee, network_fee, platform_fee, total_amount,
         bank_account_id, destination_address, network, status, requires_admin_approval,
         two_fa_verified_at, admin_approved_by, admin_approved_at, reference_number, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		w.ID, w.UserID, w.Currency, string(w.Kind), w.Amount, w.Fee, w.NetworkFee, w.PlatformFee, w.TotalAmount,
		nullable(w.BankAccountID), nullable(w.DestinationAddress), nullable(w.Network), string(w.Status),
		w.RequiresAdminApproval, w.TwoFAVerifiedAt, nullable(w.AdminApprovedBy), w.AdminApprovedAt,
		w.ReferenceNumber, w.CreatedAt.UTC(), w.UpdatedAt.UTC())
	return err
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (Withdrawal, error) {
	row := infra.Conn(ctx, r.db).QueryRow(ctx, `SELECT `+columns+` FROM withdrawals WHERE id = $1`, id)
	w, err := scanWithdrawal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Withdrawal{}, ErrNotFound
	}
	return w, err
}

func (r *PostgresRepository) Update(ctx context.Context, w Withdrawal, from Status) error {
	tag, err := infra.Conn(ctx, r.db).Exec(ctx, `UPDATE withdrawals SET
        status = $3, transaction_hash = $4, confirmations = $5, admin_approved_by = $6, admin_approved_at = $7,
        admin_notes = $8, rejection_reason = $9, executor_reference = $10, error_message = $11,
        completed_at = $12, updated_at = $13
        WHERE id = $1 AND status = $2`,
		w.ID, string(from), string(w.Status), nullable(w.TransactionHash), w.Confirmations,
		nullable(w.AdminApprovedBy), w.AdminApprovedAt, w.AdminNotes, w.RejectionReason,
		w.ExecutorReference, w.ErrorMessage, w.CompletedAt, w.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, filter ListFilter, page pagination.Page) ([]Withdrawal, int, error) {
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
	if filter.Kind != "" {
		add("kind = $%d", string(filter.Kind))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	q := infra.Conn(ctx, r.db)

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM withdrawals`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, page.Limit(), page.Offset())
	rows, err := q.Query(ctx, fmt.Sprintf(`SELECT %s FROM withdrawals%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		columns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, w)
	}
	return out, total, rows.Err()
}

func (r *PostgresRepository) DailyUsage(ctx context.Context, userID, currency string, since time.Time) (Usage, error) {
	var u Usage
	err := infra.Conn(ctx, r.db).QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0), COUNT(*) FROM withdrawals
        WHERE user_id = $1 AND currency = $2 AND created_at >= $3 AND status NOT IN ('CANCELLED', 'REJECTED')`,
		userID, currency, since.UTC()).Scan(&u.Amount, &u.Count)
	return u, err
}

func (r *PostgresRepository) BankAccountInUse(ctx context.Context, bankAccountID string) (bool, error) {
	var inUse bool
	err := infra.Conn(ctx, r.db).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM withdrawals
        WHERE bank_account_id = $1 AND status IN ('PENDING', 'APPROVED', 'PROCESSING'))`, bankAccountID).Scan(&inUse)
	return inUse, err
}

func scanWithdrawal(row pgx.Row) (Withdrawal, error) {
	var w Withdrawal
	var kind, status string
	var bankAccountID, address, network, txHash, approvedBy *string
	if err := row.Scan(&w.ID, &w.UserID, &w.Currency, &kind, &w.Amount, &w.Fee, &w.NetworkFee, &w.PlatformFee,
		&w.TotalAmount, &bankAccountID, &address, &network, &txHash, &w.Confirmations, &status,
		&w.RequiresAdminApproval, &w.TwoFAVerifiedAt, &approvedBy, &w.AdminApprovedAt, &w.AdminNotes,
		&w.RejectionReason, &w.ReferenceNumber, &w.ExecutorReference, &w.ErrorMessage, &w.CompletedAt,
		&w.CreatedAt, &w.UpdatedAt); err != nil {
		return Withdrawal{}, err
	}
	w.Kind = Kind(kind)
	w.Status = Status(status)
	w.BankAccountID = deref(bankAccountID)
	w.DestinationAddress = deref(address)
	w.Network = deref(network)
	w.TransactionHash = deref(txHash)
	w.AdminApprovedBy = deref(approvedBy)
	return w, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

