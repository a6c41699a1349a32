package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hirelab/assessor/types"
)

const creditAccountColumns = `company_id, available, reserved, used, updated_at`

const ledgerColumns = `
	id, invite_id, company_id, kind, cycle, amount, status,
	reserved_amount, charged_amount, refunded_amount,
	assessment_type, difficulty, meta, created_at, updated_at`

func scanCreditAccount(row rowScanner) (types.CreditAccount, error) {
	var account types.CreditAccount
	err := row.Scan(
		&account.CompanyID,
		&account.Available,
		&account.Reserved,
		&account.Used,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.CreditAccount{}, ErrNotFound
		}
		return types.CreditAccount{}, err
	}
	return account, nil
}

func scanLedgerEntry(row rowScanner) (types.LedgerEntry, error) {
	var entry types.LedgerEntry
	var meta []byte
	err := row.Scan(
		&entry.ID,
		&entry.InviteID,
		&entry.CompanyID,
		&entry.Kind,
		&entry.Cycle,
		&entry.Amount,
		&entry.Status,
		&entry.ReservedAmount,
		&entry.ChargedAmount,
		&entry.RefundedAmount,
		&entry.AssessmentType,
		&entry.Difficulty,
		&meta,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.LedgerEntry{}, ErrNotFound
		}
		return types.LedgerEntry{}, err
	}
	entry.Meta = meta
	return entry, nil
}

func (q *Queries) GetCreditAccount(ctx context.Context, companyID uuid.UUID) (types.CreditAccount, error) {
	query := `SELECT ` + creditAccountColumns + ` FROM credit_accounts WHERE company_id = $1`
	return scanCreditAccount(q.db.QueryRowContext(ctx, query, companyID))
}

func (q *Queries) LockCreditAccount(ctx context.Context, companyID uuid.UUID) (types.CreditAccount, error) {
	query := `SELECT ` + creditAccountColumns + ` FROM credit_accounts WHERE company_id = $1 FOR UPDATE`
	return scanCreditAccount(q.db.QueryRowContext(ctx, query, companyID))
}

func (q *Queries) EnsureCreditAccount(ctx context.Context, companyID uuid.UUID) (types.CreditAccount, error) {
	const insert = `
		INSERT INTO credit_accounts (company_id, updated_at)
		VALUES ($1, NOW())
		ON CONFLICT (company_id) DO NOTHING`
	if _, err := q.db.ExecContext(ctx, insert, companyID); err != nil {
		return types.CreditAccount{}, err
	}
	return q.GetCreditAccount(ctx, companyID)
}

// AdjustCreditAccount applies delta in a single UPDATE so concurrent writers
// never lose each other's changes.
func (q *Queries) AdjustCreditAccount(ctx context.Context, companyID uuid.UUID, delta types.CreditDelta) (types.CreditAccount, error) {
	query := `
		UPDATE credit_accounts
		SET available = available + $1,
			reserved = reserved + $2,
			used = used + $3,
			updated_at = NOW()
		WHERE company_id = $4
		RETURNING ` + creditAccountColumns
	account, err := scanCreditAccount(q.db.QueryRowContext(ctx, query, delta.Available, delta.Reserved, delta.Used, companyID))
	if err != nil {
		return types.CreditAccount{}, mapWriteError(err)
	}
	return account, nil
}

func (q *Queries) InsertLedgerEntry(ctx context.Context, entry types.LedgerEntry) (types.LedgerEntry, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	now := time.Now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = entry.CreatedAt
	meta := []byte(entry.Meta)
	if len(meta) == 0 {
		meta = []byte(`{}`)
	}

	const query = `
		INSERT INTO credit_ledger_entries (
			id, invite_id, company_id, kind, cycle, amount, status,
			reserved_amount, charged_amount, refunded_amount,
			assessment_type, difficulty, meta, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := q.db.ExecContext(
		ctx,
		query,
		entry.ID,
		entry.InviteID,
		entry.CompanyID,
		entry.Kind,
		entry.Cycle,
		entry.Amount,
		entry.Status,
		entry.ReservedAmount,
		entry.ChargedAmount,
		entry.RefundedAmount,
		entry.AssessmentType,
		entry.Difficulty,
		meta,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return types.LedgerEntry{}, mapWriteError(err)
	}
	return entry, nil
}

func (q *Queries) LockOpenReservation(ctx context.Context, inviteID uuid.UUID) (types.LedgerEntry, error) {
	query := `
		SELECT ` + ledgerColumns + `
		FROM credit_ledger_entries
		WHERE invite_id = $1 AND status = 'RESERVED'
		FOR UPDATE`
	return scanLedgerEntry(q.db.QueryRowContext(ctx, query, inviteID))
}

// CloseLedgerEntry moves a RESERVED entry to its terminal status. It matches
// only rows that are still RESERVED, so a second close reports ErrNotFound.
func (q *Queries) CloseLedgerEntry(ctx context.Context, entry types.LedgerEntry) error {
	const query = `
		UPDATE credit_ledger_entries
		SET status = $1,
			charged_amount = $2,
			refunded_amount = $3,
			updated_at = $4
		WHERE id = $5 AND status = 'RESERVED'`
	result, err := q.db.ExecContext(
		ctx,
		query,
		entry.Status,
		entry.ChargedAmount,
		entry.RefundedAmount,
		time.Now(),
		entry.ID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *Queries) ListLedgerEntries(ctx context.Context, companyID uuid.UUID, limit int) ([]types.LedgerEntry, error) {
	if limit < 1 {
		limit = 50
	}
	query := `
		SELECT ` + ledgerColumns + `
		FROM credit_ledger_entries
		WHERE company_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	return q.queryLedgerEntries(ctx, query, companyID, limit)
}

// ListStaleReservations returns RESERVED entries created before the cutoff
// whose invite never reached EVALUATED.
func (q *Queries) ListStaleReservations(ctx context.Context, before time.Time, limit int) ([]types.LedgerEntry, error) {
	if limit < 1 {
		limit = 100
	}
	query := `
		SELECT ` + prefixed("l", ledgerColumns) + `
		FROM credit_ledger_entries l
		JOIN assessment_invites i ON i.id = l.invite_id
		WHERE l.status = 'RESERVED'
		  AND l.created_at < $1
		  AND i.status <> 'EVALUATED'
		ORDER BY l.created_at
		LIMIT $2`
	return q.queryLedgerEntries(ctx, query, before, limit)
}

func (q *Queries) queryLedgerEntries(ctx context.Context, query string, args ...any) ([]types.LedgerEntry, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []types.LedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
