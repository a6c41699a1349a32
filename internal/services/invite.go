package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hirelab/assessor/config"
	"github.com/hirelab/assessor/internal/store"
	"github.com/hirelab/assessor/types"
	"github.com/rs/zerolog/log"
)

// Email delivery states reported to the recruiter.
const (
	EmailQueued   = "queued"
	EmailFailed   = "failed"
	EmailDisabled = "disabled"
)

const inviteTokenBytes = 32

type IssueInviteInput struct {
	CompanyID     uuid.UUID
	ApplicationID uuid.UUID
	// TemplateID defaults to the template linked to the application's job.
	TemplateID    *uuid.UUID
	ExpiresInDays *int
}

type IssueMeta struct {
	ReusedInvite  bool `json:"reusedInvite"`
	CreatedInvite bool `json:"createdInvite"`
	Rotated       bool `json:"rotated"`
}

type InviteIssue struct {
	Template      types.Template      `json:"template"`
	JobAssessment types.JobAssessment `json:"jobAssessment"`
	Attempt       *types.Attempt      `json:"attempt"`
	Invite        types.Invite        `json:"invite"`
	InviteURL     string              `json:"inviteUrl"`
	EmailStatus   string              `json:"emailStatus"`
	EmailError    *string             `json:"emailError"`
	Meta          IssueMeta           `json:"meta"`
}

// InviteService issues, reuses and rotates assessment invites.
type InviteService struct {
	repo    Repository
	events  *Events
	cfg     config.InviteConfig
	baseURL string
	now     func() time.Time
}

func NewInviteService(repo Repository, cfg config.InviteConfig, publicBaseURL string, events *Events) *InviteService {
	if cfg.DefaultExpiryDays <= 0 {
		cfg.DefaultExpiryDays = 7
	}
	if cfg.MaxExpiryDays < cfg.DefaultExpiryDays {
		cfg.MaxExpiryDays = max(30, cfg.DefaultExpiryDays)
	}
	return &InviteService{
		repo:    repo,
		events:  events,
		cfg:     cfg,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		now:     time.Now,
	}
}

// Issue sends an invite for an application. A live invite is reused as is;
// an expired or closed one is rotated onto a new token. Credits are reserved
// only when the invite has no open reservation.
func (s *InviteService) Issue(ctx context.Context, input IssueInviteInput) (InviteIssue, error) {
	app, err := s.repo.GetApplication(ctx, input.ApplicationID)
	if err != nil {
		return InviteIssue{}, notFound(err)
	}
	if app.CompanyID != input.CompanyID {
		return InviteIssue{}, ErrNotFound
	}

	var templateID uuid.UUID
	if input.TemplateID != nil {
		templateID = *input.TemplateID
	} else {
		linked, err := s.repo.GetJobAssessment(ctx, app.JobID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return InviteIssue{}, fmt.Errorf("%w: no assessment is linked to this job", ErrNotFound)
			}
			return InviteIssue{}, err
		}
		templateID = linked.TemplateID
	}

	template, err := s.repo.GetTemplate(ctx, templateID)
	if err != nil {
		return InviteIssue{}, notFound(err)
	}
	if template.CompanyID != input.CompanyID {
		return InviteIssue{}, ErrNotFound
	}

	jobAssessment, err := s.repo.EnsureJobAssessment(ctx, app.JobID, template.ID)
	if err != nil {
		return InviteIssue{}, fmt.Errorf("link job assessment: %w", err)
	}

	now := s.now()
	expiresAt := now.AddDate(0, 0, s.expiryDays(input.ExpiresInDays))

	var meta IssueMeta
	invite, err := s.repo.GetInviteByApplication(ctx, app.ID, template.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		invite, err = s.create(ctx, app, template, now, expiresAt)
		if errors.Is(err, store.ErrConflict) {
			invite, err = s.repo.GetInviteByApplication(ctx, app.ID, template.ID)
			if err != nil {
				return InviteIssue{}, err
			}
			invite, meta, err = s.reuseOrRotate(ctx, invite, template, input.ExpiresInDays != nil, now, expiresAt)
		} else {
			meta.CreatedInvite = true
		}
	case err == nil:
		invite, meta, err = s.reuseOrRotate(ctx, invite, template, input.ExpiresInDays != nil, now, expiresAt)
	}
	if err != nil {
		return InviteIssue{}, err
	}

	issue := InviteIssue{
		Template:      template,
		JobAssessment: jobAssessment,
		Invite:        invite,
		InviteURL:     s.inviteURL(invite.Token),
		Meta:          meta,
	}

	attempt, err := s.repo.GetActiveAttemptByInvite(ctx, invite.ID)
	switch {
	case err == nil:
		issue.Attempt = &attempt
	case !errors.Is(err, store.ErrNotFound):
		return InviteIssue{}, err
	}

	issue.EmailStatus, issue.EmailError = s.notify(ctx, app, template, invite, issue.InviteURL, meta.Rotated)

	log.Info().
		Str("invite_id", invite.ID.String()).
		Str("application_id", app.ID.String()).
		Bool("created", meta.CreatedInvite).
		Bool("reused", meta.ReusedInvite).
		Bool("rotated", meta.Rotated).
		Str("email_status", issue.EmailStatus).
		Msg("invite issued")
	return issue, nil
}

func (s *InviteService) expiryDays(requested *int) int {
	if requested == nil || *requested <= 0 {
		return s.cfg.DefaultExpiryDays
	}
	return min(*requested, s.cfg.MaxExpiryDays)
}

// create inserts the invite and its reservation together, so an invite never
// exists without credits held for it.
func (s *InviteService) create(ctx context.Context, app types.Application, template types.Template, now, expiresAt time.Time) (types.Invite, error) {
	token, err := newInviteToken()
	if err != nil {
		return types.Invite{}, err
	}

	var invite types.Invite
	err = s.repo.InTx(ctx, func(q store.Querier) error {
		var err error
		invite, err = q.CreateInvite(ctx, types.Invite{
			ApplicationID: app.ID,
			JobID:         app.JobID,
			CompanyID:     app.CompanyID,
			CandidateID:   app.CandidateID,
			TemplateID:    template.ID,
			Token:         token,
			Status:        types.InviteSent,
			Cycle:         1,
			ExpiresAt:     &expiresAt,
			SentAt:        now,
		})
		if err != nil {
			return err
		}
		_, err = reserveCredits(ctx, q, invite, template.Kind, template.Difficulty)
		return err
	})
	if err != nil {
		return types.Invite{}, err
	}
	return invite, nil
}

func (s *InviteService) reuseOrRotate(ctx context.Context, current types.Invite, template types.Template, extend bool, now, expiresAt time.Time) (types.Invite, IssueMeta, error) {
	var meta IssueMeta
	var invite types.Invite

	err := s.repo.InTx(ctx, func(q store.Querier) error {
		var err error
		invite, err = q.LockInvite(ctx, current.ID)
		if err != nil {
			return notFound(err)
		}

		if invite.Reusable(now) {
			meta.ReusedInvite = true
			if extend && invite.ExpiresAt != nil && expiresAt.After(*invite.ExpiresAt) {
				invite.ExpiresAt = &expiresAt
				if invite, err = q.UpdateInvite(ctx, invite); err != nil {
					return fmt.Errorf("extend invite: %w", err)
				}
			}
			return nil
		}

		token, err := newInviteToken()
		if err != nil {
			return err
		}
		invite.Token = token
		invite.Status = types.InviteSent
		invite.ExpiresAt = &expiresAt
		invite.SentAt = now
		invite.Cycle++
		if invite, err = q.UpdateInvite(ctx, invite); err != nil {
			return fmt.Errorf("rotate invite: %w", err)
		}

		detached, err := q.DetachActiveAttempts(ctx, invite.ID)
		if err != nil {
			return fmt.Errorf("detach attempts: %w", err)
		}
		if detached > 0 {
			log.Info().Str("invite_id", invite.ID.String()).Int64("detached", detached).Msg("detached stale attempts")
		}

		_, err = q.LockOpenReservation(ctx, invite.ID)
		switch {
		case err == nil:
		case errors.Is(err, store.ErrNotFound):
			if _, err := reserveCredits(ctx, q, invite, template.Kind, template.Difficulty); err != nil {
				return err
			}
		default:
			return fmt.Errorf("lock reservation: %w", err)
		}

		meta.Rotated = true
		return nil
	})
	if err != nil {
		return types.Invite{}, IssueMeta{}, err
	}
	return invite, meta, nil
}

func (s *InviteService) inviteURL(token string) string {
	return s.baseURL + "/assessments/start?token=" + url.QueryEscape(token)
}

func (s *InviteService) notify(ctx context.Context, app types.Application, template types.Template, invite types.Invite, inviteURL string, rotated bool) (string, *string) {
	err := s.events.publish(ctx, ChannelInviteIssued, InviteIssuedEvent{
		InviteID:      invite.ID,
		ApplicationID: app.ID,
		CompanyID:     app.CompanyID,
		CandidateID:   app.CandidateID,
		Email:         app.Email,
		TemplateTitle: template.Title,
		InviteURL:     inviteURL,
		Cycle:         invite.Cycle,
		Rotated:       rotated,
		ExpiresAt:     invite.ExpiresAt,
	})
	switch {
	case err == nil:
		return EmailQueued, nil
	case errors.Is(err, errEventsDisabled):
		return EmailDisabled, nil
	default:
		log.Warn().Err(err).Str("invite_id", invite.ID.String()).Msg("failed to queue invite email")
		msg := err.Error()
		return EmailFailed, &msg
	}
}

func newInviteToken() (string, error) {
	var buf [inviteTokenBytes]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate invite token: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}
