package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hirelab/assessor/types"
)

const inviteColumns = `
	id, application_id, job_id, company_id, candidate_id, template_id,
	token, status, cycle, expires_at, sent_at, updated_at`

func scanInvite(row rowScanner) (types.Invite, error) {
	var invite types.Invite
	err := row.Scan(
		&invite.ID,
		&invite.ApplicationID,
		&invite.JobID,
		&invite.CompanyID,
		&invite.CandidateID,
		&invite.TemplateID,
		&invite.Token,
		&invite.Status,
		&invite.Cycle,
		&invite.ExpiresAt,
		&invite.SentAt,
		&invite.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Invite{}, ErrNotFound
		}
		return types.Invite{}, err
	}
	return invite, nil
}

func (q *Queries) GetInvite(ctx context.Context, id uuid.UUID) (types.Invite, error) {
	query := `SELECT ` + inviteColumns + ` FROM assessment_invites WHERE id = $1`
	return scanInvite(q.db.QueryRowContext(ctx, query, id))
}

func (q *Queries) LockInvite(ctx context.Context, id uuid.UUID) (types.Invite, error) {
	query := `SELECT ` + inviteColumns + ` FROM assessment_invites WHERE id = $1 FOR UPDATE`
	return scanInvite(q.db.QueryRowContext(ctx, query, id))
}

func (q *Queries) GetInviteByToken(ctx context.Context, token string) (types.Invite, error) {
	query := `SELECT ` + inviteColumns + ` FROM assessment_invites WHERE token = $1`
	return scanInvite(q.db.QueryRowContext(ctx, query, token))
}

func (q *Queries) GetInviteByApplication(ctx context.Context, applicationID, templateID uuid.UUID) (types.Invite, error) {
	query := `
		SELECT ` + inviteColumns + `
		FROM assessment_invites
		WHERE application_id = $1 AND template_id = $2`
	return scanInvite(q.db.QueryRowContext(ctx, query, applicationID, templateID))
}

// CreateInvite inserts a new invite. A concurrent insert for the same
// application and template surfaces as ErrConflict.
func (q *Queries) CreateInvite(ctx context.Context, invite types.Invite) (types.Invite, error) {
	if invite.ID == uuid.Nil {
		invite.ID = uuid.New()
	}
	if invite.Cycle == 0 {
		invite.Cycle = 1
	}
	invite.UpdatedAt = time.Now()

	const query = `
		INSERT INTO assessment_invites (
			id, application_id, job_id, company_id, candidate_id, template_id,
			token, status, cycle, expires_at, sent_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := q.db.ExecContext(
		ctx,
		query,
		invite.ID,
		invite.ApplicationID,
		invite.JobID,
		invite.CompanyID,
		invite.CandidateID,
		invite.TemplateID,
		invite.Token,
		invite.Status,
		invite.Cycle,
		invite.ExpiresAt,
		invite.SentAt,
		invite.UpdatedAt,
	)
	if err != nil {
		return types.Invite{}, mapWriteError(err)
	}
	return invite, nil
}

func (q *Queries) UpdateInvite(ctx context.Context, invite types.Invite) (types.Invite, error) {
	invite.UpdatedAt = time.Now()

	const query = `
		UPDATE assessment_invites
		SET token = $1,
			status = $2,
			cycle = $3,
			expires_at = $4,
			sent_at = $5,
			updated_at = $6
		WHERE id = $7`
	result, err := q.db.ExecContext(
		ctx,
		query,
		invite.Token,
		invite.Status,
		invite.Cycle,
		invite.ExpiresAt,
		invite.SentAt,
		invite.UpdatedAt,
		invite.ID,
	)
	if err != nil {
		return types.Invite{}, mapWriteError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Invite{}, err
	}
	if affected == 0 {
		return types.Invite{}, ErrNotFound
	}
	return invite, nil
}
