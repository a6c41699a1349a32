package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hirelab/assessor/config"
	"github.com/hirelab/assessor/internal/pricing"
	"github.com/hirelab/assessor/internal/store"
	"github.com/hirelab/assessor/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	defaultRefundGrace = 7 * 24 * time.Hour
	defaultSweepBatch  = 100
	defaultLedgerPage  = 50
)

// Refund reasons recorded in logs and events.
const (
	RefundReasonCancelled = "cancelled"
	RefundReasonExpired   = "expired"
)

// LedgerService owns every change to a company's credit balance.
type LedgerService struct {
	repo        Repository
	events      *Events
	refundGrace time.Duration
	sweepBatch  int
	now         func() time.Time
}

func NewLedgerService(repo Repository, cfg config.LedgerConfig, events *Events) *LedgerService {
	grace := cfg.RefundGrace
	if grace <= 0 {
		grace = defaultRefundGrace
	}
	batch := cfg.SweepBatch
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &LedgerService{
		repo:        repo,
		events:      events,
		refundGrace: grace,
		sweepBatch:  batch,
		now:         time.Now,
	}
}

// HasAvailableCredits reports whether available minus reserved covers required.
func (s *LedgerService) HasAvailableCredits(ctx context.Context, companyID uuid.UUID, required decimal.Decimal) (bool, error) {
	account, err := s.repo.GetCreditAccount(ctx, companyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return account.Effective().GreaterThanOrEqual(required), nil
}

// ReserveCredits holds the reserve cost of an invite against its company.
func (s *LedgerService) ReserveCredits(ctx context.Context, invite types.Invite, kind types.AssessmentKind, difficulty types.Difficulty) (types.LedgerEntry, error) {
	var entry types.LedgerEntry
	err := s.repo.InTx(ctx, func(q store.Querier) error {
		var err error
		entry, err = reserveCredits(ctx, q, invite, kind, difficulty)
		return err
	})
	if err != nil {
		return types.LedgerEntry{}, err
	}
	return entry, nil
}

// reserveCredits must run inside a transaction. The account row stays locked
// from the availability check until the reservation is written.
func reserveCredits(ctx context.Context, q store.Querier, invite types.Invite, kind types.AssessmentKind, difficulty types.Difficulty) (types.LedgerEntry, error) {
	cost := pricing.For(kind, difficulty)

	account, err := q.LockCreditAccount(ctx, invite.CompanyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.LedgerEntry{}, ErrInsufficientCredits
		}
		return types.LedgerEntry{}, fmt.Errorf("lock credit account: %w", err)
	}
	if account.Effective().LessThan(cost.Reserve) {
		return types.LedgerEntry{}, ErrInsufficientCredits
	}

	if _, err := q.AdjustCreditAccount(ctx, invite.CompanyID, types.CreditDelta{Reserved: cost.Reserve}); err != nil {
		return types.LedgerEntry{}, fmt.Errorf("reserve credits: %w", err)
	}

	meta, _ := json.Marshal(map[string]any{
		"application_id": invite.ApplicationID,
		"template_id":    invite.TemplateID,
		"total":          cost.Total,
	})
	entry, err := q.InsertLedgerEntry(ctx, types.LedgerEntry{
		InviteID:       uuid.NullUUID{UUID: invite.ID, Valid: true},
		CompanyID:      invite.CompanyID,
		Kind:           types.LedgerKindAssessment,
		Cycle:          invite.Cycle,
		Amount:         cost.Reserve,
		Status:         types.LedgerReserved,
		ReservedAmount: cost.Reserve,
		ChargedAmount:  decimal.Zero,
		RefundedAmount: decimal.Zero,
		AssessmentType: kind,
		Difficulty:     difficulty,
		Meta:           meta,
	})
	if err != nil {
		return types.LedgerEntry{}, fmt.Errorf("insert ledger entry: %w", err)
	}
	return entry, nil
}

// ChargeCompletionCredits converts an invite's open reservation into a charge
// of the full price. A second call finds no open reservation and changes
// nothing.
func (s *LedgerService) ChargeCompletionCredits(ctx context.Context, inviteID uuid.UUID) (types.LedgerEntry, error) {
	var entry types.LedgerEntry
	err := s.repo.InTx(ctx, func(q store.Querier) error {
		var err error
		entry, err = q.LockOpenReservation(ctx, inviteID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNoOpenReservation
			}
			return fmt.Errorf("lock reservation: %w", err)
		}

		total := pricing.For(entry.AssessmentType, entry.Difficulty).Total
		account, err := q.LockCreditAccount(ctx, entry.CompanyID)
		if err != nil {
			return fmt.Errorf("lock credit account: %w", notFound(err))
		}
		if account.Available.LessThan(total) {
			return ErrInsufficientCredits
		}

		if _, err := q.AdjustCreditAccount(ctx, entry.CompanyID, types.CreditDelta{
			Available: total.Neg(),
			Reserved:  entry.ReservedAmount.Neg(),
			Used:      total,
		}); err != nil {
			return fmt.Errorf("charge credits: %w", err)
		}

		entry.Status = types.LedgerCharged
		entry.ChargedAmount = total
		if err := q.CloseLedgerEntry(ctx, entry); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNoOpenReservation
			}
			return fmt.Errorf("close ledger entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return types.LedgerEntry{}, err
	}

	log.Info().
		Str("invite_id", inviteID.String()).
		Str("company_id", entry.CompanyID.String()).
		Str("amount", entry.ChargedAmount.String()).
		Msg("credits charged")
	return entry, nil
}

// RefundReservedCredits releases an invite's open reservation.
func (s *LedgerService) RefundReservedCredits(ctx context.Context, inviteID uuid.UUID, reason string) (types.LedgerEntry, error) {
	var entry types.LedgerEntry
	err := s.repo.InTx(ctx, func(q store.Querier) error {
		var err error
		entry, err = refundCredits(ctx, q, inviteID)
		return err
	})
	if err != nil {
		return types.LedgerEntry{}, err
	}
	s.refunded(ctx, entry, reason)
	return entry, nil
}

func refundCredits(ctx context.Context, q store.Querier, inviteID uuid.UUID) (types.LedgerEntry, error) {
	entry, err := q.LockOpenReservation(ctx, inviteID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.LedgerEntry{}, ErrNoOpenReservation
		}
		return types.LedgerEntry{}, fmt.Errorf("lock reservation: %w", err)
	}

	if _, err := q.AdjustCreditAccount(ctx, entry.CompanyID, types.CreditDelta{
		Reserved: entry.ReservedAmount.Neg(),
	}); err != nil {
		return types.LedgerEntry{}, fmt.Errorf("release credits: %w", err)
	}

	entry.Status = types.LedgerRefunded
	entry.RefundedAmount = entry.ReservedAmount
	if err := q.CloseLedgerEntry(ctx, entry); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.LedgerEntry{}, ErrNoOpenReservation
		}
		return types.LedgerEntry{}, fmt.Errorf("close ledger entry: %w", err)
	}
	return entry, nil
}

func (s *LedgerService) refunded(ctx context.Context, entry types.LedgerEntry, reason string) {
	log.Info().
		Str("invite_id", entry.InviteID.UUID.String()).
		Str("company_id", entry.CompanyID.String()).
		Str("amount", entry.RefundedAmount.String()).
		Str("reason", reason).
		Msg("credits refunded")

	err := s.events.publish(ctx, ChannelCreditsRefunded, CreditsRefundedEvent{
		InviteID:  entry.InviteID.UUID,
		CompanyID: entry.CompanyID,
		Amount:    entry.RefundedAmount,
		Reason:    reason,
	})
	if err != nil && !errors.Is(err, errEventsDisabled) {
		log.Warn().Err(err).Str("invite_id", entry.InviteID.UUID.String()).Msg("failed to publish refund event")
	}
}

// CancelInviteAndRefund cancels an invite and releases its reservation in
// one transaction. Invites without an open reservation are still cancelled.
func (s *LedgerService) CancelInviteAndRefund(ctx context.Context, companyID, inviteID uuid.UUID) (types.Invite, error) {
	var invite types.Invite
	var entry types.LedgerEntry
	refunded := false

	err := s.repo.InTx(ctx, func(q store.Querier) error {
		var err error
		invite, err = q.LockInvite(ctx, inviteID)
		if err != nil {
			return notFound(err)
		}
		if invite.CompanyID != companyID {
			return ErrNotFound
		}
		if invite.Status == types.InviteEvaluated {
			return ErrInviteInvalid
		}

		entry, err = refundCredits(ctx, q, inviteID)
		switch {
		case err == nil:
			refunded = true
		case errors.Is(err, ErrNoOpenReservation):
		default:
			return err
		}

		if err := closeActiveAttempt(ctx, q, inviteID); err != nil {
			return err
		}
		if invite.Status == types.InviteCancelled {
			return nil
		}
		invite.Status = types.InviteCancelled
		invite, err = q.UpdateInvite(ctx, invite)
		if err != nil {
			return fmt.Errorf("cancel invite: %w", err)
		}
		return nil
	})
	if err != nil {
		return types.Invite{}, err
	}

	if refunded {
		s.refunded(ctx, entry, RefundReasonCancelled)
	}
	return invite, nil
}

// closeActiveAttempt expires the invite's NOT_STARTED or IN_PROGRESS attempt
// once its reservation has been released.
func closeActiveAttempt(ctx context.Context, q store.Querier, inviteID uuid.UUID) error {
	active, err := q.GetActiveAttemptByInvite(ctx, inviteID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find active attempt: %w", err)
	}
	attempt, err := q.LockAttempt(ctx, active.ID)
	if err != nil {
		return notFound(err)
	}
	if !attempt.Status.Active() {
		return nil
	}
	attempt.Status = types.AttemptExpired
	if _, err := q.UpdateAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("expire attempt: %w", err)
	}
	return nil
}

// GrantCredits adds purchased credit to a company, opening its account on
// first use.
func (s *LedgerService) GrantCredits(ctx context.Context, companyID uuid.UUID, amount decimal.Decimal) (types.CreditAccount, error) {
	if !amount.IsPositive() {
		return types.CreditAccount{}, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}

	var account types.CreditAccount
	err := s.repo.InTx(ctx, func(q store.Querier) error {
		if _, err := q.EnsureCreditAccount(ctx, companyID); err != nil {
			return fmt.Errorf("open credit account: %w", err)
		}
		var err error
		account, err = q.AdjustCreditAccount(ctx, companyID, types.CreditDelta{Available: amount})
		if err != nil {
			return fmt.Errorf("grant credits: %w", err)
		}
		return nil
	})
	if err != nil {
		return types.CreditAccount{}, err
	}

	log.Info().
		Str("company_id", companyID.String()).
		Str("amount", amount.String()).
		Str("available", account.Available.String()).
		Msg("credits granted")
	return account, nil
}

// CreditOverview is a company's balance with its most recent ledger entries.
type CreditOverview struct {
	Account   types.CreditAccount `json:"account"`
	Effective decimal.Decimal     `json:"effective"`
	Entries   []types.LedgerEntry `json:"entries"`
}

func (s *LedgerService) Overview(ctx context.Context, companyID uuid.UUID, limit int) (CreditOverview, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultLedgerPage
	}

	account, err := s.repo.GetCreditAccount(ctx, companyID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return CreditOverview{}, err
		}
		account = types.CreditAccount{CompanyID: companyID}
	}

	entries, err := s.repo.ListLedgerEntries(ctx, companyID, limit)
	if err != nil {
		return CreditOverview{}, err
	}
	if entries == nil {
		entries = []types.LedgerEntry{}
	}
	return CreditOverview{
		Account:   account,
		Effective: account.Effective(),
		Entries:   entries,
	}, nil
}

// SweepResult counts what one sweep pass changed.
type SweepResult struct {
	Refunded int `json:"refunded"`
	Expired  int `json:"expired"`
	Skipped  int `json:"skipped"`
}

// Sweep refunds reservations older than the grace period whose invite never
// reached EVALUATED, and expires the invites that were still open. Each
// reservation is handled in its own transaction so one failure does not
// block the rest.
func (s *LedgerService) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	stale, err := s.repo.ListStaleReservations(ctx, s.now().Add(-s.refundGrace), s.sweepBatch)
	if err != nil {
		return result, fmt.Errorf("list stale reservations: %w", err)
	}

	for _, candidate := range stale {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !candidate.InviteID.Valid {
			continue
		}
		inviteID := candidate.InviteID.UUID

		var entry types.LedgerEntry
		expired := false
		err := s.repo.InTx(ctx, func(q store.Querier) error {
			invite, err := q.LockInvite(ctx, inviteID)
			if err != nil {
				return notFound(err)
			}
			if invite.Status == types.InviteEvaluated {
				return ErrNoOpenReservation
			}

			entry, err = refundCredits(ctx, q, inviteID)
			if err != nil {
				return err
			}

			if invite.Status == types.InviteSent || invite.Status == types.InviteStarted {
				invite.Status = types.InviteExpired
				if _, err := q.UpdateInvite(ctx, invite); err != nil {
					return fmt.Errorf("expire invite: %w", err)
				}
				expired = true
			}
			return closeActiveAttempt(ctx, q, inviteID)
		})
		if err != nil {
			if errors.Is(err, ErrNoOpenReservation) {
				result.Skipped++
				continue
			}
			log.Error().Err(err).Str("invite_id", inviteID.String()).Msg("sweep failed to refund reservation")
			result.Skipped++
			continue
		}

		result.Refunded++
		if expired {
			result.Expired++
		}
		s.refunded(ctx, entry, RefundReasonExpired)
	}

	if result.Refunded > 0 || result.Skipped > 0 {
		log.Info().
			Int("refunded", result.Refunded).
			Int("expired", result.Expired).
			Int("skipped", result.Skipped).
			Msg("reservation sweep finished")
	}
	return result, nil
}

// RunSweeper runs Sweep every interval until ctx is done.
func (s *LedgerService) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("reservation sweep failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
