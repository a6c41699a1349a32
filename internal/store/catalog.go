package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hirelab/assessor/types"
	"github.com/lib/pq"
)

func (q *Queries) GetTemplate(ctx context.Context, id uuid.UUID) (types.Template, error) {
	const query = `
		SELECT id, company_id, title, kind, difficulty, time_limit_minutes,
		       passing_score, allowed_languages, created_at
		FROM assessment_templates
		WHERE id = $1`
	var template types.Template
	err := q.db.QueryRowContext(ctx, query, id).Scan(
		&template.ID,
		&template.CompanyID,
		&template.Title,
		&template.Kind,
		&template.Difficulty,
		&template.TimeLimitMinutes,
		&template.PassingScore,
		pq.Array(&template.AllowedLanguages),
		&template.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Template{}, ErrNotFound
		}
		return types.Template{}, err
	}
	return template, nil
}

const questionColumns = `
	id, template_id, section, kind, prompt, options, correct_options,
	points, allowed_languages, order_index`

func scanQuestion(row rowScanner) (types.Question, error) {
	var question types.Question
	var optionsJSON, correctJSON []byte
	err := row.Scan(
		&question.ID,
		&question.TemplateID,
		&question.Section,
		&question.Kind,
		&question.Prompt,
		&optionsJSON,
		&correctJSON,
		&question.Points,
		pq.Array(&question.AllowedLanguages),
		&question.OrderIndex,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Question{}, ErrNotFound
		}
		return types.Question{}, err
	}

	_ = json.Unmarshal(optionsJSON, &question.Options)
	_ = json.Unmarshal(correctJSON, &question.CorrectOptions)
	return question, nil
}

func (q *Queries) GetQuestion(ctx context.Context, id uuid.UUID) (types.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions WHERE id = $1`
	return scanQuestion(q.db.QueryRowContext(ctx, query, id))
}

func (q *Queries) ListQuestions(ctx context.Context, templateID uuid.UUID) ([]types.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions WHERE template_id = $1 ORDER BY order_index, id`
	rows, err := q.db.QueryContext(ctx, query, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []types.Question
	for rows.Next() {
		question, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, question)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return questions, nil
}

func (q *Queries) ListTestCases(ctx context.Context, questionID uuid.UUID) ([]types.TestCase, error) {
	const query = `
		SELECT id, question_id, input, expected_output, is_hidden, points,
		       timeout_ms, memory_limit_mb, order_index
		FROM test_cases
		WHERE question_id = $1
		ORDER BY order_index, id`
	rows, err := q.db.QueryContext(ctx, query, questionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []types.TestCase
	for rows.Next() {
		var tc types.TestCase
		if err := rows.Scan(
			&tc.ID,
			&tc.QuestionID,
			&tc.Input,
			&tc.ExpectedOutput,
			&tc.IsHidden,
			&tc.Points,
			&tc.TimeoutMs,
			&tc.MemoryLimitMb,
			&tc.OrderIndex,
		); err != nil {
			return nil, err
		}
		cases = append(cases, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cases, nil
}

func (q *Queries) GetApplication(ctx context.Context, id uuid.UUID) (types.Application, error) {
	const query = `
		SELECT id, job_id, company_id, candidate_id, email
		FROM applications
		WHERE id = $1`
	var app types.Application
	err := q.db.QueryRowContext(ctx, query, id).Scan(
		&app.ID,
		&app.JobID,
		&app.CompanyID,
		&app.CandidateID,
		&app.Email,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Application{}, ErrNotFound
		}
		return types.Application{}, err
	}
	return app, nil
}

// GetJobAssessment returns the most recently linked template for a job.
func (q *Queries) GetJobAssessment(ctx context.Context, jobID uuid.UUID) (types.JobAssessment, error) {
	const query = `
		SELECT id, job_id, template_id, created_at
		FROM job_assessments
		WHERE job_id = $1
		ORDER BY created_at DESC
		LIMIT 1`
	var ja types.JobAssessment
	err := q.db.QueryRowContext(ctx, query, jobID).Scan(&ja.ID, &ja.JobID, &ja.TemplateID, &ja.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.JobAssessment{}, ErrNotFound
		}
		return types.JobAssessment{}, err
	}
	return ja, nil
}

func (q *Queries) EnsureJobAssessment(ctx context.Context, jobID, templateID uuid.UUID) (types.JobAssessment, error) {
	const query = `
		INSERT INTO job_assessments (id, job_id, template_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id, template_id) DO UPDATE SET job_id = EXCLUDED.job_id
		RETURNING id, job_id, template_id, created_at`
	var ja types.JobAssessment
	err := q.db.QueryRowContext(ctx, query, uuid.New(), jobID, templateID, time.Now()).Scan(
		&ja.ID,
		&ja.JobID,
		&ja.TemplateID,
		&ja.CreatedAt,
	)
	if err != nil {
		return types.JobAssessment{}, mapWriteError(err)
	}
	return ja, nil
}
