package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreditAccount holds a company's assessment credit balance.
// Effective spendable credit is Available minus Reserved.
type CreditAccount struct {
	// CompanyID identifies the company that owns the account.
	CompanyID uuid.UUID `json:"companyId" db:"company_id"`

	// Available is the credit the company has paid for and not yet spent.
	Available decimal.Decimal `json:"available" db:"available"`

	// Reserved is the portion of Available held against open invites.
	Reserved decimal.Decimal `json:"reserved" db:"reserved"`

	// Used is the total credit charged for completed assessments.
	Used decimal.Decimal `json:"used" db:"used"`

	// UpdatedAt is the timestamp of the most recent balance change.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Effective returns the credit that can still be reserved.
func (a CreditAccount) Effective() decimal.Decimal {
	return a.Available.Sub(a.Reserved)
}

// CreditDelta is a signed change applied to a CreditAccount in one statement.
type CreditDelta struct {
	Available decimal.Decimal
	Reserved  decimal.Decimal
	Used      decimal.Decimal
}

// LedgerStatus is the lifecycle state of a ledger entry.
type LedgerStatus string

const (
	LedgerReserved LedgerStatus = "RESERVED"
	LedgerCharged  LedgerStatus = "CHARGED"
	LedgerRefunded LedgerStatus = "REFUNDED"
)

// LedgerKind describes what a ledger entry paid for.
type LedgerKind string

const LedgerKindAssessment LedgerKind = "ASSESSMENT"

// LedgerEntry records one credit reservation and its single terminal outcome.
// Rows are only ever updated to close a RESERVED entry; they are never deleted.
type LedgerEntry struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	InviteID       uuid.NullUUID   `json:"inviteId" db:"invite_id"`
	CompanyID      uuid.UUID       `json:"companyId" db:"company_id"`
	Kind           LedgerKind      `json:"kind" db:"kind"`
	Cycle          int             `json:"cycle" db:"cycle"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Status         LedgerStatus    `json:"status" db:"status"`
	ReservedAmount decimal.Decimal `json:"reservedAmount" db:"reserved_amount"`
	ChargedAmount  decimal.Decimal `json:"chargedAmount" db:"charged_amount"`
	RefundedAmount decimal.Decimal `json:"refundedAmount" db:"refunded_amount"`
	AssessmentType AssessmentKind  `json:"assessmentType" db:"assessment_type"`
	Difficulty     Difficulty      `json:"difficulty" db:"difficulty"`
	Meta           json.RawMessage `json:"meta,omitempty" db:"meta"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time       `json:"updatedAt" db:"updated_at"`
}
