package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hirelab/assessor/internal/store"
	"github.com/hirelab/assessor/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	companyID := uuid.New()

	_, err := s.EnsureCreditAccount(ctx, companyID)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.InTx(ctx, func(q store.Querier) error {
		if _, err := q.AdjustCreditAccount(ctx, companyID, types.CreditDelta{Available: decimal.NewFromInt(5)}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	account, err := s.GetCreditAccount(ctx, companyID)
	require.NoError(t, err)
	assert.True(t, account.Available.IsZero())
}

func TestInTxRollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	s := New()
	companyID := uuid.New()

	assert.Panics(t, func() {
		_ = s.InTx(ctx, func(q store.Querier) error {
			_, _ = q.EnsureCreditAccount(ctx, companyID)
			panic("boom")
		})
	})

	_, err := s.GetCreditAccount(ctx, companyID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAdjustCreditAccountRejectsNegativeBalance(t *testing.T) {
	ctx := context.Background()
	s := New()
	companyID := uuid.New()
	_, err := s.EnsureCreditAccount(ctx, companyID)
	require.NoError(t, err)

	_, err = s.AdjustCreditAccount(ctx, companyID, types.CreditDelta{Reserved: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, store.ErrCheckViolation)
}

func TestOneOpenReservationPerInvite(t *testing.T) {
	ctx := context.Background()
	s := New()
	inviteID := uuid.NullUUID{UUID: uuid.New(), Valid: true}

	first, err := s.InsertLedgerEntry(ctx, types.LedgerEntry{InviteID: inviteID, Status: types.LedgerReserved})
	require.NoError(t, err)
	_, err = s.InsertLedgerEntry(ctx, types.LedgerEntry{InviteID: inviteID, Status: types.LedgerReserved})
	assert.ErrorIs(t, err, store.ErrConflict)

	first.Status = types.LedgerRefunded
	require.NoError(t, s.CloseLedgerEntry(ctx, first))
	assert.ErrorIs(t, s.CloseLedgerEntry(ctx, first), store.ErrNotFound, "closed entries stay closed")

	_, err = s.InsertLedgerEntry(ctx, types.LedgerEntry{InviteID: inviteID, Status: types.LedgerReserved})
	assert.NoError(t, err)
}

func TestOneActiveAttemptPerInvite(t *testing.T) {
	ctx := context.Background()
	s := New()
	inviteID := uuid.NullUUID{UUID: uuid.New(), Valid: true}

	first, err := s.CreateAttempt(ctx, types.Attempt{InviteID: inviteID, Status: types.AttemptInProgress})
	require.NoError(t, err)
	_, err = s.CreateAttempt(ctx, types.Attempt{InviteID: inviteID, Status: types.AttemptNotStarted})
	assert.ErrorIs(t, err, store.ErrConflict)

	detached, err := s.DetachActiveAttempts(ctx, inviteID.UUID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), detached)

	_, err = s.CreateAttempt(ctx, types.Attempt{InviteID: inviteID, Status: types.AttemptNotStarted})
	assert.NoError(t, err)

	old, err := s.GetAttempt(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, old.InviteID.Valid)
	assert.Equal(t, types.AttemptInProgress, old.Status)
}

func TestLatestAttemptInCycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	inviteID := uuid.NullUUID{UUID: uuid.New(), Valid: true}

	_, err := s.GetLatestAttemptInCycle(ctx, inviteID.UUID, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)

	first, err := s.CreateAttempt(ctx, types.Attempt{InviteID: inviteID, InviteCycle: 1, Status: types.AttemptInProgress})
	require.NoError(t, err)
	first.Status = types.AttemptExpired
	_, err = s.UpdateAttempt(ctx, first)
	require.NoError(t, err)

	latest, err := s.GetLatestAttemptInCycle(ctx, inviteID.UUID, 1)
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID)
	assert.Equal(t, types.AttemptExpired, latest.Status)

	_, err = s.GetLatestAttemptInCycle(ctx, inviteID.UUID, 2)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProctoringEventsDedupeByEventID(t *testing.T) {
	ctx := context.Background()
	s := New()
	attempt, err := s.CreateAttempt(ctx, types.Attempt{Status: types.AttemptInProgress})
	require.NoError(t, err)

	events := []types.ProctoringEvent{
		{AttemptID: attempt.ID, Type: types.EventCopy, EventID: "a"},
		{AttemptID: attempt.ID, Type: types.EventCopy, EventID: "a"},
		{AttemptID: attempt.ID, Type: types.EventCopy},
	}
	inserted, err := s.InsertProctoringEvents(ctx, events)
	require.NoError(t, err)
	assert.Len(t, inserted, 2)

	counters, err := s.IncrementProctoring(ctx, attempt.ID, types.ProctoringDelta{CopyAttempts: 2}, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, 2, counters.CopyAttempts)
	assert.False(t, counters.MultiSession)

	counters, err = s.IncrementProctoring(ctx, attempt.ID, types.ProctoringDelta{}, "sig-2")
	require.NoError(t, err)
	assert.True(t, counters.MultiSession)
	assert.Equal(t, "sig-1", counters.FirstClientSig)
	assert.Equal(t, "sig-2", counters.LastClientSig)
}
