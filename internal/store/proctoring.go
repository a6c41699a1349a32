package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hirelab/assessor/types"
)

// InsertProctoringEvents appends events and returns only the rows that were
// actually written. Events whose client event id was already recorded for the
// attempt are skipped silently.
func (q *Queries) InsertProctoringEvents(ctx context.Context, events []types.ProctoringEvent) ([]types.ProctoringEvent, error) {
	if len(events) == 0 {
		return nil, nil
	}

	const columns = 11
	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO proctoring_events (
			id, attempt_id, candidate_id, type, meta, event_id,
			client_sig, ip_prefix, user_agent, client_time, created_at
		)
		VALUES `)
	args := make([]any, 0, len(events)*columns)
	byID := make(map[uuid.UUID]types.ProctoringEvent, len(events))
	now := time.Now()
	for i, event := range events {
		if event.ID == uuid.Nil {
			event.ID = uuid.New()
		}
		if event.CreatedAt.IsZero() {
			event.CreatedAt = now
		}
		byID[event.ID] = event

		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * columns
		sb.WriteString("(")
		for c := 1; c <= columns; c++ {
			if c > 1 {
				sb.WriteString(", ")
			}
			if c == 6 {
				fmt.Fprintf(&sb, "NULLIF($%d, '')", base+c)
				continue
			}
			fmt.Fprintf(&sb, "$%d", base+c)
		}
		sb.WriteString(")")

		var meta []byte
		if len(event.Meta) > 0 {
			meta = event.Meta
		}
		args = append(args,
			event.ID,
			event.AttemptID,
			event.CandidateID,
			event.Type,
			meta,
			event.EventID,
			event.ClientSig,
			event.IPPrefix,
			event.UserAgent,
			event.ClientTime,
			event.CreatedAt,
		)
	}
	sb.WriteString(`
		ON CONFLICT (attempt_id, event_id) WHERE event_id IS NOT NULL DO NOTHING
		RETURNING id`)

	rows, err := q.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	inserted := make([]types.ProctoringEvent, 0, len(events))
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		inserted = append(inserted, byID[id])
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return inserted, nil
}

// IncrementProctoring adds delta to the attempt's counters in one UPDATE and
// returns the resulting totals. The first signature seen is kept; any later
// different signature latches multi_session.
func (q *Queries) IncrementProctoring(ctx context.Context, attemptID uuid.UUID, delta types.ProctoringDelta, clientSig string) (types.ProctoringCounters, error) {
	const query = `
		UPDATE assessment_attempts
		SET tab_switches = tab_switches + $1,
			visibility_hidden = visibility_hidden + $2,
			copy_attempts = copy_attempts + $3,
			paste_attempts = paste_attempts + $4,
			right_clicks = right_clicks + $5,
			focus_loss = focus_loss + $6,
			page_hides = page_hides + $7,
			multi_session = multi_session OR (first_client_sig IS NOT NULL AND first_client_sig <> $8),
			first_client_sig = COALESCE(first_client_sig, $8),
			last_client_sig = $8,
			updated_at = NOW()
		WHERE id = $9
		RETURNING tab_switches, visibility_hidden, copy_attempts, paste_attempts,
		          right_clicks, focus_loss, page_hides, multi_session,
		          first_client_sig, last_client_sig, severity_score, severity`
	var c types.ProctoringCounters
	err := q.db.QueryRowContext(
		ctx,
		query,
		delta.TabSwitches,
		delta.VisibilityHidden,
		delta.CopyAttempts,
		delta.PasteAttempts,
		delta.RightClicks,
		delta.FocusLoss,
		delta.PageHides,
		clientSig,
		attemptID,
	).Scan(
		&c.TabSwitches,
		&c.VisibilityHidden,
		&c.CopyAttempts,
		&c.PasteAttempts,
		&c.RightClicks,
		&c.FocusLoss,
		&c.PageHides,
		&c.MultiSession,
		&c.FirstClientSig,
		&c.LastClientSig,
		&c.SeverityScore,
		&c.Severity,
	)
	if err != nil {
		return types.ProctoringCounters{}, mapNoRows(err)
	}
	return c, nil
}

func (q *Queries) SetProctoringSeverity(ctx context.Context, attemptID uuid.UUID, score int, severity types.Severity) error {
	const query = `
		UPDATE assessment_attempts
		SET severity_score = $1, severity = $2
		WHERE id = $3`
	result, err := q.db.ExecContext(ctx, query, score, severity, attemptID)
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
