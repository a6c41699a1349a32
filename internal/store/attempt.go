package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hirelab/assessor/types"
)

const attemptColumns = `
	id, application_id, candidate_id, template_id, invite_id, invite_cycle, status,
	started_at, expires_at, submitted_at, total_score, passed, section_scores,
	tab_switches, visibility_hidden, copy_attempts, paste_attempts, right_clicks,
	focus_loss, page_hides, multi_session, COALESCE(first_client_sig, ''),
	COALESCE(last_client_sig, ''), severity_score, severity, created_at, updated_at`

func scanAttempt(row rowScanner) (types.Attempt, error) {
	var attempt types.Attempt
	var sectionsJSON []byte
	p := &attempt.Proctoring
	err := row.Scan(
		&attempt.ID,
		&attempt.ApplicationID,
		&attempt.CandidateID,
		&attempt.TemplateID,
		&attempt.InviteID,
		&attempt.InviteCycle,
		&attempt.Status,
		&attempt.StartedAt,
		&attempt.ExpiresAt,
		&attempt.SubmittedAt,
		&attempt.TotalScore,
		&attempt.Passed,
		&sectionsJSON,
		&p.TabSwitches,
		&p.VisibilityHidden,
		&p.CopyAttempts,
		&p.PasteAttempts,
		&p.RightClicks,
		&p.FocusLoss,
		&p.PageHides,
		&p.MultiSession,
		&p.FirstClientSig,
		&p.LastClientSig,
		&p.SeverityScore,
		&p.Severity,
		&attempt.CreatedAt,
		&attempt.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Attempt{}, ErrNotFound
		}
		return types.Attempt{}, err
	}

	_ = json.Unmarshal(sectionsJSON, &attempt.SectionScores)
	return attempt, nil
}

func (q *Queries) GetAttempt(ctx context.Context, id uuid.UUID) (types.Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM assessment_attempts WHERE id = $1`
	return scanAttempt(q.db.QueryRowContext(ctx, query, id))
}

func (q *Queries) LockAttempt(ctx context.Context, id uuid.UUID) (types.Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM assessment_attempts WHERE id = $1 FOR UPDATE`
	return scanAttempt(q.db.QueryRowContext(ctx, query, id))
}

func (q *Queries) GetActiveAttemptByInvite(ctx context.Context, inviteID uuid.UUID) (types.Attempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM assessment_attempts
		WHERE invite_id = $1 AND status IN ('NOT_STARTED', 'IN_PROGRESS')`
	return scanAttempt(q.db.QueryRowContext(ctx, query, inviteID))
}

// GetLatestAttemptInCycle returns the most recent attempt created for the
// given cycle of an invite, whatever its status.
func (q *Queries) GetLatestAttemptInCycle(ctx context.Context, inviteID uuid.UUID, cycle int) (types.Attempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM assessment_attempts
		WHERE invite_id = $1 AND invite_cycle = $2
		ORDER BY created_at DESC
		LIMIT 1`
	return scanAttempt(q.db.QueryRowContext(ctx, query, inviteID, cycle))
}

// CreateAttempt inserts a new attempt. A second active attempt on the same
// invite violates the partial unique index and surfaces as ErrConflict.
func (q *Queries) CreateAttempt(ctx context.Context, attempt types.Attempt) (types.Attempt, error) {
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	now := time.Now()
	attempt.CreatedAt = now
	attempt.UpdatedAt = now
	if attempt.Proctoring.Severity == "" {
		attempt.Proctoring.Severity = types.SeverityNormal
	}

	sectionsJSON, err := json.Marshal(nonNilSections(attempt.SectionScores))
	if err != nil {
		return types.Attempt{}, err
	}

	const query = `
		INSERT INTO assessment_attempts (
			id, application_id, candidate_id, template_id, invite_id, invite_cycle, status,
			started_at, expires_at, submitted_at, total_score, passed, section_scores,
			severity, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err = q.db.ExecContext(
		ctx,
		query,
		attempt.ID,
		attempt.ApplicationID,
		attempt.CandidateID,
		attempt.TemplateID,
		attempt.InviteID,
		attempt.InviteCycle,
		attempt.Status,
		attempt.StartedAt,
		attempt.ExpiresAt,
		attempt.SubmittedAt,
		attempt.TotalScore,
		attempt.Passed,
		sectionsJSON,
		attempt.Proctoring.Severity,
		attempt.CreatedAt,
		attempt.UpdatedAt,
	)
	if err != nil {
		return types.Attempt{}, mapWriteError(err)
	}
	return attempt, nil
}

// UpdateAttempt writes lifecycle and scoring fields. Proctoring counters are
// owned by IncrementProctoring and are never written here.
func (q *Queries) UpdateAttempt(ctx context.Context, attempt types.Attempt) (types.Attempt, error) {
	attempt.UpdatedAt = time.Now()

	sectionsJSON, err := json.Marshal(nonNilSections(attempt.SectionScores))
	if err != nil {
		return types.Attempt{}, err
	}

	const query = `
		UPDATE assessment_attempts
		SET invite_id = $1,
			status = $2,
			started_at = $3,
			expires_at = $4,
			submitted_at = $5,
			total_score = $6,
			passed = $7,
			section_scores = $8,
			updated_at = $9
		WHERE id = $10`
	result, err := q.db.ExecContext(
		ctx,
		query,
		attempt.InviteID,
		attempt.Status,
		attempt.StartedAt,
		attempt.ExpiresAt,
		attempt.SubmittedAt,
		attempt.TotalScore,
		attempt.Passed,
		sectionsJSON,
		attempt.UpdatedAt,
		attempt.ID,
	)
	if err != nil {
		return types.Attempt{}, mapWriteError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Attempt{}, err
	}
	if affected == 0 {
		return types.Attempt{}, ErrNotFound
	}
	return attempt, nil
}

// DetachActiveAttempts clears the invite reference of every NOT_STARTED or
// IN_PROGRESS attempt on the invite, freeing the one-active-attempt slot.
func (q *Queries) DetachActiveAttempts(ctx context.Context, inviteID uuid.UUID) (int64, error) {
	const query = `
		UPDATE assessment_attempts
		SET invite_id = NULL, updated_at = NOW()
		WHERE invite_id = $1 AND status IN ('NOT_STARTED', 'IN_PROGRESS')`
	result, err := q.db.ExecContext(ctx, query, inviteID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (q *Queries) UpsertAnswer(ctx context.Context, answer types.AttemptAnswer) (types.AttemptAnswer, error) {
	answer.UpdatedAt = time.Now()

	selected := answer.SelectedOptions
	if selected == nil {
		selected = []int{}
	}
	selectedJSON, err := json.Marshal(selected)
	if err != nil {
		return types.AttemptAnswer{}, err
	}
	var results []byte
	if len(answer.ExecutionResult) > 0 {
		results = answer.ExecutionResult
	}

	const query = `
		INSERT INTO attempt_answers (
			attempt_id, question_id, selected_options, submission, language,
			points_earned, is_correct, execution_results, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (attempt_id, question_id) DO UPDATE SET
			selected_options = EXCLUDED.selected_options,
			submission = EXCLUDED.submission,
			language = EXCLUDED.language,
			points_earned = EXCLUDED.points_earned,
			is_correct = EXCLUDED.is_correct,
			execution_results = EXCLUDED.execution_results,
			updated_at = EXCLUDED.updated_at`
	_, err = q.db.ExecContext(
		ctx,
		query,
		answer.AttemptID,
		answer.QuestionID,
		selectedJSON,
		answer.Submission,
		answer.Language,
		answer.PointsEarned,
		answer.IsCorrect,
		results,
		answer.UpdatedAt,
	)
	if err != nil {
		return types.AttemptAnswer{}, err
	}
	return answer, nil
}

func (q *Queries) ListAnswers(ctx context.Context, attemptID uuid.UUID) ([]types.AttemptAnswer, error) {
	const query = `
		SELECT attempt_id, question_id, selected_options, submission, language,
		       points_earned, is_correct, execution_results, updated_at
		FROM attempt_answers
		WHERE attempt_id = $1`
	rows, err := q.db.QueryContext(ctx, query, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []types.AttemptAnswer
	for rows.Next() {
		var answer types.AttemptAnswer
		var selectedJSON, results []byte
		if err := rows.Scan(
			&answer.AttemptID,
			&answer.QuestionID,
			&selectedJSON,
			&answer.Submission,
			&answer.Language,
			&answer.PointsEarned,
			&answer.IsCorrect,
			&results,
			&answer.UpdatedAt,
		); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(selectedJSON, &answer.SelectedOptions)
		answer.ExecutionResult = results
		answers = append(answers, answer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return answers, nil
}

func nonNilSections(sections []types.SectionScore) []types.SectionScore {
	if sections == nil {
		return []types.SectionScore{}
	}
	return sections
}
