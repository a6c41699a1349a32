package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hirelab/assessor/types"
)

// Querier is the data-access contract the assessment core consumes.
// Methods prefixed with Lock take a row lock that is held until the
// surrounding transaction ends; outside InTx they behave like reads.
type Querier interface {
	GetCreditAccount(ctx context.Context, companyID uuid.UUID) (types.CreditAccount, error)
	LockCreditAccount(ctx context.Context, companyID uuid.UUID) (types.CreditAccount, error)
	EnsureCreditAccount(ctx context.Context, companyID uuid.UUID) (types.CreditAccount, error)
	AdjustCreditAccount(ctx context.Context, companyID uuid.UUID, delta types.CreditDelta) (types.CreditAccount, error)
	InsertLedgerEntry(ctx context.Context, entry types.LedgerEntry) (types.LedgerEntry, error)
	LockOpenReservation(ctx context.Context, inviteID uuid.UUID) (types.LedgerEntry, error)
	CloseLedgerEntry(ctx context.Context, entry types.LedgerEntry) error
	ListLedgerEntries(ctx context.Context, companyID uuid.UUID, limit int) ([]types.LedgerEntry, error)
	ListStaleReservations(ctx context.Context, before time.Time, limit int) ([]types.LedgerEntry, error)

	GetTemplate(ctx context.Context, id uuid.UUID) (types.Template, error)
	GetQuestion(ctx context.Context, id uuid.UUID) (types.Question, error)
	ListQuestions(ctx context.Context, templateID uuid.UUID) ([]types.Question, error)
	ListTestCases(ctx context.Context, questionID uuid.UUID) ([]types.TestCase, error)
	GetApplication(ctx context.Context, id uuid.UUID) (types.Application, error)
	GetJobAssessment(ctx context.Context, jobID uuid.UUID) (types.JobAssessment, error)
	EnsureJobAssessment(ctx context.Context, jobID, templateID uuid.UUID) (types.JobAssessment, error)

	GetInvite(ctx context.Context, id uuid.UUID) (types.Invite, error)
	LockInvite(ctx context.Context, id uuid.UUID) (types.Invite, error)
	GetInviteByToken(ctx context.Context, token string) (types.Invite, error)
	GetInviteByApplication(ctx context.Context, applicationID, templateID uuid.UUID) (types.Invite, error)
	CreateInvite(ctx context.Context, invite types.Invite) (types.Invite, error)
	UpdateInvite(ctx context.Context, invite types.Invite) (types.Invite, error)

	GetAttempt(ctx context.Context, id uuid.UUID) (types.Attempt, error)
	LockAttempt(ctx context.Context, id uuid.UUID) (types.Attempt, error)
	GetActiveAttemptByInvite(ctx context.Context, inviteID uuid.UUID) (types.Attempt, error)
	GetLatestAttemptInCycle(ctx context.Context, inviteID uuid.UUID, cycle int) (types.Attempt, error)
	CreateAttempt(ctx context.Context, attempt types.Attempt) (types.Attempt, error)
	UpdateAttempt(ctx context.Context, attempt types.Attempt) (types.Attempt, error)
	DetachActiveAttempts(ctx context.Context, inviteID uuid.UUID) (int64, error)
	UpsertAnswer(ctx context.Context, answer types.AttemptAnswer) (types.AttemptAnswer, error)
	ListAnswers(ctx context.Context, attemptID uuid.UUID) ([]types.AttemptAnswer, error)

	InsertProctoringEvents(ctx context.Context, events []types.ProctoringEvent) ([]types.ProctoringEvent, error)
	IncrementProctoring(ctx context.Context, attemptID uuid.UUID, delta types.ProctoringDelta, clientSig string) (types.ProctoringCounters, error)
	SetProctoringSeverity(ctx context.Context, attemptID uuid.UUID, score int, severity types.Severity) error
}

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries implements Querier on top of a connection or a transaction.
type Queries struct {
	db DBTX
}

// Store owns the connection pool and hands out transactional Queries.
type Store struct {
	*Queries
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{Queries: &Queries{db: db}, db: db}
}

// InTx runs fn inside a single transaction. Any error returned by fn, or a
// panic, rolls back every write fn made.
func (s *Store) InTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Queries{db: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// prefixed qualifies every column in a comma separated list with alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}
