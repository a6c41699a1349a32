package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ProctoringEventType is one of the client integrity signals we accept.
type ProctoringEventType string

const (
	EventTabSwitch        ProctoringEventType = "tab_switch"
	EventVisibilityHidden ProctoringEventType = "visibility_hidden"
	EventCopy             ProctoringEventType = "copy"
	EventPaste            ProctoringEventType = "paste"
	EventRightClick       ProctoringEventType = "right_click"
	EventBlur             ProctoringEventType = "blur"
	EventPageHide         ProctoringEventType = "page_hide"
)

// Severity classifies an attempt's proctoring score.
type Severity string

const (
	SeverityNormal     Severity = "NORMAL"
	SeveritySuspicious Severity = "SUSPICIOUS"
	SeverityCritical   Severity = "CRITICAL"
)

// ProctoringCounters are the cumulative integrity counters kept on an attempt.
type ProctoringCounters struct {
	TabSwitches      int      `json:"tabSwitches" db:"tab_switches"`
	VisibilityHidden int      `json:"visibilityHidden" db:"visibility_hidden"`
	CopyAttempts     int      `json:"copyAttempts" db:"copy_attempts"`
	PasteAttempts    int      `json:"pasteAttempts" db:"paste_attempts"`
	RightClicks      int      `json:"rightClicks" db:"right_clicks"`
	FocusLoss        int      `json:"focusLoss" db:"focus_loss"`
	PageHides        int      `json:"pageHides" db:"page_hides"`
	MultiSession     bool     `json:"multiSession" db:"multi_session"`
	FirstClientSig   string   `json:"-" db:"first_client_sig"`
	LastClientSig    string   `json:"-" db:"last_client_sig"`
	SeverityScore    int      `json:"severityScore" db:"severity_score"`
	Severity         Severity `json:"severity" db:"severity"`
}

// ProctoringDelta is the per-batch increment applied to the counters.
type ProctoringDelta struct {
	TabSwitches      int
	VisibilityHidden int
	CopyAttempts     int
	PasteAttempts    int
	RightClicks      int
	FocusLoss        int
	PageHides        int
}

// Add records one event of the given type.
func (d *ProctoringDelta) Add(eventType ProctoringEventType) {
	switch eventType {
	case EventTabSwitch:
		d.TabSwitches++
	case EventVisibilityHidden:
		d.VisibilityHidden++
	case EventCopy:
		d.CopyAttempts++
	case EventPaste:
		d.PasteAttempts++
	case EventRightClick:
		d.RightClicks++
	case EventBlur:
		d.FocusLoss++
	case EventPageHide:
		d.PageHides++
	}
}

// IsZero reports whether the delta changes nothing.
func (d ProctoringDelta) IsZero() bool {
	return d == ProctoringDelta{}
}

// ProctoringEvent is an append-only integrity log row.
type ProctoringEvent struct {
	ID          uuid.UUID           `json:"id" db:"id"`
	AttemptID   uuid.UUID           `json:"attemptId" db:"attempt_id"`
	CandidateID uuid.UUID           `json:"candidateId" db:"candidate_id"`
	Type        ProctoringEventType `json:"type" db:"type"`
	Meta        json.RawMessage     `json:"meta,omitempty" db:"meta"`

	// EventID is the client-supplied idempotency key, empty when absent.
	EventID    string     `json:"eventId,omitempty" db:"event_id"`
	ClientSig  string     `json:"clientSig" db:"client_sig"`
	IPPrefix   string     `json:"ipPrefix" db:"ip_prefix"`
	UserAgent  string     `json:"userAgent" db:"user_agent"`
	ClientTime *time.Time `json:"clientTime,omitempty" db:"client_time"`
	CreatedAt  time.Time  `json:"createdAt" db:"created_at"`
}
