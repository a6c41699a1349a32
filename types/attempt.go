package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AttemptStatus is the state of a candidate's timed attempt.
type AttemptStatus string

const (
	AttemptNotStarted AttemptStatus = "NOT_STARTED"
	AttemptInProgress AttemptStatus = "IN_PROGRESS"
	AttemptSubmitted  AttemptStatus = "SUBMITTED"
	AttemptEvaluated  AttemptStatus = "EVALUATED"
	AttemptExpired    AttemptStatus = "EXPIRED"
)

// Active reports whether the attempt still holds its invite slot.
func (s AttemptStatus) Active() bool {
	return s == AttemptNotStarted || s == AttemptInProgress
}

// Attempt is a candidate's run through one template.
type Attempt struct {
	// ID is the unique identifier of the attempt.
	ID uuid.UUID `json:"id" db:"id"`

	ApplicationID uuid.UUID `json:"applicationId" db:"application_id"`
	CandidateID   uuid.UUID `json:"candidateId" db:"candidate_id"`
	TemplateID    uuid.UUID `json:"templateId" db:"template_id"`

	// InviteID is cleared when the invite is rotated so a new cycle can
	// attach a fresh attempt.
	InviteID uuid.NullUUID `json:"inviteId" db:"invite_id"`

	// InviteCycle is the invite cycle the attempt was created in. An invite
	// cycle allows a single attempt.
	InviteCycle int `json:"inviteCycle" db:"invite_cycle"`

	Status      AttemptStatus `json:"status" db:"status"`
	StartedAt   *time.Time    `json:"startedAt" db:"started_at"`
	ExpiresAt   *time.Time    `json:"expiresAt" db:"expires_at"`
	SubmittedAt *time.Time    `json:"submittedAt" db:"submitted_at"`

	TotalScore    float64        `json:"totalScore" db:"total_score"`
	Passed        bool           `json:"passed" db:"passed"`
	SectionScores []SectionScore `json:"sectionScores" db:"section_scores"`

	Proctoring ProctoringCounters `json:"proctoring" db:"-"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// TimeExpired reports whether the attempt's clock has run out.
func (a Attempt) TimeExpired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

// SectionScore is the percentage earned in one template section.
type SectionScore struct {
	Section      string  `json:"section"`
	PointsEarned int     `json:"pointsEarned"`
	PointsTotal  int     `json:"pointsTotal"`
	Percentage   float64 `json:"percentage"`
}

// AttemptAnswer is the single answer row for one question in an attempt.
type AttemptAnswer struct {
	AttemptID       uuid.UUID       `json:"attemptId" db:"attempt_id"`
	QuestionID      uuid.UUID       `json:"questionId" db:"question_id"`
	SelectedOptions []int           `json:"selectedOptions,omitempty" db:"selected_options"`
	Submission      string          `json:"submission,omitempty" db:"submission"`
	Language        string          `json:"language,omitempty" db:"language"`
	PointsEarned    int             `json:"pointsEarned" db:"points_earned"`
	IsCorrect       bool            `json:"isCorrect" db:"is_correct"`
	ExecutionResult json.RawMessage `json:"executionResults,omitempty" db:"execution_results"`
	UpdatedAt       time.Time       `json:"updatedAt" db:"updated_at"`
}
