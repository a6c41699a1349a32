package services

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hirelab/assessor/internal/store"
	"github.com/hirelab/assessor/types"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"
)

// Severity weights applied to the cumulative counters.
const (
	WeightTabSwitch    = 2
	WeightCopy         = 3
	WeightPaste        = 3
	WeightRightClick   = 1
	WeightPageHide     = 2
	WeightFocusLoss    = 1
	WeightMultiSession = 8

	MaxSeverityScore    = 9999
	SuspiciousThreshold = 10
	CriticalThreshold   = 20
)

const maxEventsPerBatch = 200

var allowedEvents = map[types.ProctoringEventType]bool{
	types.EventTabSwitch:        true,
	types.EventVisibilityHidden: true,
	types.EventCopy:             true,
	types.EventPaste:            true,
	types.EventRightClick:       true,
	types.EventBlur:             true,
	types.EventPageHide:         true,
}

// SeverityScore is a pure function of the current totals.
func SeverityScore(c types.ProctoringCounters) int {
	score := c.TabSwitches*WeightTabSwitch +
		c.CopyAttempts*WeightCopy +
		c.PasteAttempts*WeightPaste +
		c.RightClicks*WeightRightClick +
		c.PageHides*WeightPageHide +
		c.FocusLoss*WeightFocusLoss
	if c.MultiSession {
		score += WeightMultiSession
	}
	return min(max(score, 0), MaxSeverityScore)
}

func ClassifySeverity(score int) types.Severity {
	switch {
	case score >= CriticalThreshold:
		return types.SeverityCritical
	case score >= SuspiciousThreshold:
		return types.SeveritySuspicious
	default:
		return types.SeverityNormal
	}
}

// ClientSignature hashes the user agent with the client's network prefix:
// /24 for IPv4 and /64 for IPv6. It returns the signature and the prefix.
func ClientSignature(userAgent, remoteAddr string) (string, string) {
	prefix := ipPrefix(remoteAddr)
	sum := blake2b.Sum256([]byte(strings.TrimSpace(userAgent) + "|" + prefix))
	return hex.EncodeToString(sum[:16]), prefix
}

func ipPrefix(remoteAddr string) string {
	host := strings.TrimSpace(remoteAddr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return "unknown"
	}
	addr = addr.WithZone("").Unmap()

	bits := 64
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "unknown"
	}
	return prefix.String()
}

// FlagEvent is one client reported integrity signal.
type FlagEvent struct {
	Event   string          `json:"event" validate:"required,max=64"`
	Meta    json.RawMessage `json:"meta,omitempty"`
	TS      *time.Time      `json:"ts,omitempty"`
	EventID string          `json:"eventId,omitempty" validate:"max=128"`
}

type RecordFlagsInput struct {
	CandidateID uuid.UUID
	AttemptID   uuid.UUID
	Events      []FlagEvent
	UserAgent   string
	RemoteAddr  string
}

type FlagCounts struct {
	TabSwitches      int `json:"tabSwitches"`
	VisibilityHidden int `json:"visibilityHidden"`
	CopyAttempts     int `json:"copyAttempts"`
	PasteAttempts    int `json:"pasteAttempts"`
	RightClicks      int `json:"rightClicks"`
	FocusLoss        int `json:"focusLoss"`
	PageHides        int `json:"pageHides"`
}

type FlagSummary struct {
	Counts        FlagCounts     `json:"counts"`
	Severity      types.Severity `json:"severity"`
	SeverityScore int            `json:"severityScore"`
	MultiSession  bool           `json:"multiSession"`
}

type RecordFlagsResult struct {
	Success bool        `json:"success"`
	Flags   FlagSummary `json:"flags"`
	// Received counts the valid events in the batch; Recorded excludes
	// events already seen under the same event id.
	Received int `json:"received"`
	Recorded int `json:"recorded"`
}

// ProctoringService aggregates integrity events into attempt counters.
type ProctoringService struct {
	repo Repository
	now  func() time.Time
}

func NewProctoringService(repo Repository) *ProctoringService {
	return &ProctoringService{repo: repo, now: time.Now}
}

// RecordFlags appends a batch of events and returns the updated counters.
// Unknown event types are dropped; the batch fails only if none remain.
func (s *ProctoringService) RecordFlags(ctx context.Context, input RecordFlagsInput) (RecordFlagsResult, error) {
	attempt, err := loadMutableAttempt(ctx, s.repo, s.now(), input.CandidateID, input.AttemptID)
	if err != nil {
		return RecordFlagsResult{}, err
	}

	sig, prefix := ClientSignature(input.UserAgent, input.RemoteAddr)
	userAgent := input.UserAgent
	if len(userAgent) > 512 {
		userAgent = userAgent[:512]
	}

	events := make([]types.ProctoringEvent, 0, len(input.Events))
	for _, raw := range input.Events {
		if len(events) == maxEventsPerBatch {
			break
		}
		eventType := types.ProctoringEventType(strings.ToLower(strings.TrimSpace(raw.Event)))
		if !allowedEvents[eventType] {
			continue
		}
		events = append(events, types.ProctoringEvent{
			AttemptID:   attempt.ID,
			CandidateID: attempt.CandidateID,
			Type:        eventType,
			Meta:        raw.Meta,
			EventID:     strings.TrimSpace(raw.EventID),
			ClientSig:   sig,
			IPPrefix:    prefix,
			UserAgent:   userAgent,
			ClientTime:  raw.TS,
		})
	}
	if len(events) == 0 {
		return RecordFlagsResult{}, ErrNoValidEvents
	}

	var counters types.ProctoringCounters
	var inserted []types.ProctoringEvent
	err = s.repo.InTx(ctx, func(q store.Querier) error {
		var err error
		inserted, err = q.InsertProctoringEvents(ctx, events)
		if err != nil {
			return fmt.Errorf("insert proctoring events: %w", err)
		}

		var delta types.ProctoringDelta
		for _, event := range inserted {
			delta.Add(event.Type)
		}

		counters, err = q.IncrementProctoring(ctx, attempt.ID, delta, sig)
		if err != nil {
			return fmt.Errorf("increment proctoring counters: %w", notFound(err))
		}

		counters.SeverityScore = SeverityScore(counters)
		counters.Severity = ClassifySeverity(counters.SeverityScore)
		return q.SetProctoringSeverity(ctx, attempt.ID, counters.SeverityScore, counters.Severity)
	})
	if err != nil {
		return RecordFlagsResult{}, err
	}

	if counters.MultiSession && !attempt.Proctoring.MultiSession {
		log.Warn().
			Str("attempt_id", attempt.ID.String()).
			Str("ip_prefix", prefix).
			Msg("attempt opened from a second client")
	}

	return RecordFlagsResult{
		Success: true,
		Flags: FlagSummary{
			Counts: FlagCounts{
				TabSwitches:      counters.TabSwitches,
				VisibilityHidden: counters.VisibilityHidden,
				CopyAttempts:     counters.CopyAttempts,
				PasteAttempts:    counters.PasteAttempts,
				RightClicks:      counters.RightClicks,
				FocusLoss:        counters.FocusLoss,
				PageHides:        counters.PageHides,
			},
			Severity:      counters.Severity,
			SeverityScore: counters.SeverityScore,
			MultiSession:  counters.MultiSession,
		},
		Received: len(events),
		Recorded: len(inserted),
	}, nil
}
