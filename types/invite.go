package types

import (
	"time"

	"github.com/google/uuid"
)

// InviteStatus is the lifecycle state of an assessment invitation.
type InviteStatus string

const (
	InviteSent      InviteStatus = "SENT"
	InviteStarted   InviteStatus = "STARTED"
	InviteEvaluated InviteStatus = "EVALUATED"
	InviteExpired   InviteStatus = "EXPIRED"
	InviteCancelled InviteStatus = "CANCELLED"
)

// Invite grants a candidate access to one template for one application.
// There is at most one invite per (ApplicationID, TemplateID).
type Invite struct {
	// ID is the unique identifier of the invite.
	ID uuid.UUID `json:"id" db:"id"`

	ApplicationID uuid.UUID `json:"applicationId" db:"application_id"`
	JobID         uuid.UUID `json:"jobId" db:"job_id"`
	CompanyID     uuid.UUID `json:"companyId" db:"company_id"`
	CandidateID   uuid.UUID `json:"candidateId" db:"candidate_id"`
	TemplateID    uuid.UUID `json:"templateId" db:"template_id"`

	// Token is the opaque secret embedded in the invite URL. Rotating an
	// invite replaces it and the old value stops resolving.
	Token string `json:"-" db:"token"`

	Status InviteStatus `json:"status" db:"status"`

	// Cycle counts rotations; it starts at 1.
	Cycle int `json:"cycle" db:"cycle"`

	// ExpiresAt is nil for invites that never expire.
	ExpiresAt *time.Time `json:"expiresAt" db:"expires_at"`
	SentAt    time.Time  `json:"sentAt" db:"sent_at"`
	UpdatedAt time.Time  `json:"updatedAt" db:"updated_at"`
}

// Reusable reports whether the invite can be handed out again unchanged.
func (i Invite) Reusable(now time.Time) bool {
	if i.Status != InviteSent && i.Status != InviteStarted {
		return false
	}
	return i.ExpiresAt == nil || i.ExpiresAt.After(now)
}
