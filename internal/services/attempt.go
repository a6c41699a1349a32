package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hirelab/assessor/internal/store"
	"github.com/hirelab/assessor/types"
	"github.com/rs/zerolog/log"
)

// loadMutableAttempt returns the candidate's attempt if it may still be
// changed. An IN_PROGRESS attempt whose clock ran out is marked EXPIRED on
// the way. Attempts detached from their invite, or whose invite was
// cancelled or expired, are frozen: their reservation is gone.
func loadMutableAttempt(ctx context.Context, repo Repository, now time.Time, candidateID, attemptID uuid.UUID) (types.Attempt, error) {
	attempt, err := repo.GetAttempt(ctx, attemptID)
	if err != nil {
		return types.Attempt{}, notFound(err)
	}
	if attempt.CandidateID != candidateID {
		return types.Attempt{}, ErrForbidden
	}

	switch attempt.Status {
	case types.AttemptInProgress:
	case types.AttemptNotStarted:
		return types.Attempt{}, ErrAttemptNotStarted
	case types.AttemptExpired:
		return types.Attempt{}, ErrAttemptExpired
	default:
		return types.Attempt{}, ErrAttemptNotInProgress
	}

	if !attempt.InviteID.Valid {
		return types.Attempt{}, ErrInviteInvalid
	}
	invite, err := repo.GetInvite(ctx, attempt.InviteID.UUID)
	if err != nil {
		return types.Attempt{}, notFound(err)
	}
	switch invite.Status {
	case types.InviteCancelled:
		return types.Attempt{}, ErrInviteInvalid
	case types.InviteExpired:
		return types.Attempt{}, ErrInviteExpired
	}

	if attempt.TimeExpired(now) {
		expireAttempt(ctx, repo, attempt)
		return types.Attempt{}, ErrAttemptExpired
	}
	return attempt, nil
}

func expireAttempt(ctx context.Context, repo Repository, attempt types.Attempt) {
	err := repo.InTx(ctx, func(q store.Querier) error {
		current, err := q.LockAttempt(ctx, attempt.ID)
		if err != nil {
			return err
		}
		if current.Status != types.AttemptInProgress {
			return nil
		}
		current.Status = types.AttemptExpired
		_, err = q.UpdateAttempt(ctx, current)
		return err
	})
	if err != nil {
		log.Warn().Err(err).Str("attempt_id", attempt.ID.String()).Msg("failed to mark attempt expired")
	}
}

// AttemptService drives an attempt from start to evaluation.
type AttemptService struct {
	repo   Repository
	ledger *LedgerService
	events *Events
	now    func() time.Time
}

func NewAttemptService(repo Repository, ledger *LedgerService, events *Events) *AttemptService {
	return &AttemptService{repo: repo, ledger: ledger, events: events, now: time.Now}
}

// Start validates an invite token and starts or resumes its attempt.
func (s *AttemptService) Start(ctx context.Context, candidateID uuid.UUID, token string) (CandidateAttemptView, error) {
	invite, err := s.repo.GetInviteByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return CandidateAttemptView{}, ErrInviteInvalid
		}
		return CandidateAttemptView{}, err
	}
	if invite.CandidateID != candidateID {
		return CandidateAttemptView{}, ErrInviteInvalid
	}

	template, err := s.repo.GetTemplate(ctx, invite.TemplateID)
	if err != nil {
		return CandidateAttemptView{}, notFound(err)
	}

	now := s.now()
	var attempt types.Attempt
	expired := false
	err = s.repo.InTx(ctx, func(q store.Querier) error {
		invite, err := q.LockInvite(ctx, invite.ID)
		if err != nil {
			return notFound(err)
		}
		if invite.Token != token {
			return ErrInviteInvalid
		}
		switch invite.Status {
		case types.InviteSent, types.InviteStarted:
		case types.InviteExpired:
			return ErrInviteExpired
		default:
			return ErrInviteInvalid
		}
		if invite.ExpiresAt != nil && !invite.ExpiresAt.After(now) {
			return ErrInviteExpired
		}

		attempt, err = q.GetActiveAttemptByInvite(ctx, invite.ID)
		switch {
		case err == nil:
		case errors.Is(err, store.ErrNotFound):
			// One attempt per invite cycle. Only rotating the invite opens
			// another one.
			previous, err := q.GetLatestAttemptInCycle(ctx, invite.ID, invite.Cycle)
			switch {
			case err == nil:
				if previous.Status == types.AttemptExpired {
					return ErrAttemptExpired
				}
				return ErrAttemptNotInProgress
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
			attempt, err = q.CreateAttempt(ctx, types.Attempt{
				ApplicationID: invite.ApplicationID,
				CandidateID:   invite.CandidateID,
				TemplateID:    invite.TemplateID,
				InviteID:      uuid.NullUUID{UUID: invite.ID, Valid: true},
				InviteCycle:   invite.Cycle,
				Status:        types.AttemptNotStarted,
			})
			if err != nil {
				return fmt.Errorf("create attempt: %w", err)
			}
		default:
			return err
		}

		switch attempt.Status {
		case types.AttemptNotStarted:
			startedAt := now
			expiresAt := now.Add(template.TimeLimit())
			attempt.Status = types.AttemptInProgress
			attempt.StartedAt = &startedAt
			attempt.ExpiresAt = &expiresAt
			if attempt, err = q.UpdateAttempt(ctx, attempt); err != nil {
				return fmt.Errorf("start attempt: %w", err)
			}
		case types.AttemptInProgress:
			if attempt.TimeExpired(now) {
				attempt.Status = types.AttemptExpired
				if _, err := q.UpdateAttempt(ctx, attempt); err != nil {
					return fmt.Errorf("expire attempt: %w", err)
				}
				expired = true
				return nil
			}
		}

		if invite.Status == types.InviteSent {
			invite.Status = types.InviteStarted
			if _, err := q.UpdateInvite(ctx, invite); err != nil {
				return fmt.Errorf("mark invite started: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return CandidateAttemptView{}, err
	}
	if expired {
		return CandidateAttemptView{}, ErrAttemptExpired
	}

	log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("invite_id", invite.ID.String()).
		Msg("attempt started")
	return s.candidateView(ctx, attempt, template)
}

// CandidateView returns the candidate-facing state of an attempt.
func (s *AttemptService) CandidateView(ctx context.Context, candidateID, attemptID uuid.UUID) (CandidateAttemptView, error) {
	attempt, err := s.repo.GetAttempt(ctx, attemptID)
	if err != nil {
		return CandidateAttemptView{}, notFound(err)
	}
	if attempt.CandidateID != candidateID {
		return CandidateAttemptView{}, ErrNotFound
	}
	template, err := s.repo.GetTemplate(ctx, attempt.TemplateID)
	if err != nil {
		return CandidateAttemptView{}, notFound(err)
	}
	return s.candidateView(ctx, attempt, template)
}

// MCQAnswer is a candidate's selection for one multiple choice question.
type MCQAnswer struct {
	QuestionID      uuid.UUID `json:"questionId" validate:"required"`
	SelectedOptions []int     `json:"selectedOptions" validate:"max=32,dive,min=0"`
}

// SaveAnswers upserts MCQ selections on an in-progress attempt.
func (s *AttemptService) SaveAnswers(ctx context.Context, candidateID, attemptID uuid.UUID, answers []MCQAnswer) error {
	attempt, err := loadMutableAttempt(ctx, s.repo, s.now(), candidateID, attemptID)
	if err != nil {
		return err
	}
	return s.saveAnswers(ctx, attempt, answers)
}

func (s *AttemptService) saveAnswers(ctx context.Context, attempt types.Attempt, answers []MCQAnswer) error {
	if len(answers) == 0 {
		return nil
	}
	return s.repo.InTx(ctx, func(q store.Querier) error {
		for _, answer := range answers {
			question, err := q.GetQuestion(ctx, answer.QuestionID)
			if err != nil {
				return notFound(err)
			}
			if question.TemplateID != attempt.TemplateID {
				return ErrNotFound
			}
			if question.Kind != types.QuestionMCQ {
				return fmt.Errorf("%w: question %s is not multiple choice", ErrInvalidInput, question.ID)
			}
			for _, option := range answer.SelectedOptions {
				if option < 0 || option >= len(question.Options) {
					return fmt.Errorf("%w: option %d out of range", ErrInvalidInput, option)
				}
			}
			if _, err := q.UpsertAnswer(ctx, types.AttemptAnswer{
				AttemptID:       attempt.ID,
				QuestionID:      question.ID,
				SelectedOptions: uniqueSorted(answer.SelectedOptions),
			}); err != nil {
				return fmt.Errorf("save answer: %w", err)
			}
		}
		return nil
	})
}

// Submit freezes an in-progress attempt, grades it and charges the invite.
func (s *AttemptService) Submit(ctx context.Context, candidateID, attemptID uuid.UUID, final []MCQAnswer) (CandidateAttemptView, error) {
	attempt, err := loadMutableAttempt(ctx, s.repo, s.now(), candidateID, attemptID)
	if err != nil {
		return CandidateAttemptView{}, err
	}
	if err := s.saveAnswers(ctx, attempt, final); err != nil {
		return CandidateAttemptView{}, err
	}

	err = s.repo.InTx(ctx, func(q store.Querier) error {
		current, err := q.LockAttempt(ctx, attempt.ID)
		if err != nil {
			return notFound(err)
		}
		if current.Status != types.AttemptInProgress {
			return ErrAttemptNotInProgress
		}
		submittedAt := s.now()
		current.Status = types.AttemptSubmitted
		current.SubmittedAt = &submittedAt
		attempt, err = q.UpdateAttempt(ctx, current)
		return err
	})
	if err != nil {
		return CandidateAttemptView{}, err
	}

	evaluated, err := s.evaluate(ctx, attempt)
	if err != nil {
		log.Error().Err(err).Str("attempt_id", attempt.ID.String()).Msg("evaluation after submit failed")
		evaluated = attempt
	}

	template, err := s.repo.GetTemplate(ctx, evaluated.TemplateID)
	if err != nil {
		return CandidateAttemptView{}, notFound(err)
	}
	return s.candidateView(ctx, evaluated, template)
}

// Evaluate grades a SUBMITTED attempt on behalf of the owning company.
func (s *AttemptService) Evaluate(ctx context.Context, companyID, attemptID uuid.UUID) (AttemptReport, error) {
	attempt, err := s.ownedAttempt(ctx, companyID, attemptID)
	if err != nil {
		return AttemptReport{}, err
	}
	if attempt.Status != types.AttemptSubmitted {
		return AttemptReport{}, ErrAttemptNotSubmitted
	}
	if _, err := s.evaluate(ctx, attempt); err != nil {
		return AttemptReport{}, err
	}
	return s.Report(ctx, companyID, attemptID)
}

func (s *AttemptService) evaluate(ctx context.Context, attempt types.Attempt) (types.Attempt, error) {
	template, err := s.repo.GetTemplate(ctx, attempt.TemplateID)
	if err != nil {
		return types.Attempt{}, notFound(err)
	}
	questions, err := s.repo.ListQuestions(ctx, attempt.TemplateID)
	if err != nil {
		return types.Attempt{}, err
	}
	cases := make(map[uuid.UUID][]types.TestCase)
	mcq := make(map[uuid.UUID]bool)
	for _, question := range questions {
		if question.Kind != types.QuestionCoding {
			mcq[question.ID] = true
			continue
		}
		if cases[question.ID], err = s.repo.ListTestCases(ctx, question.ID); err != nil {
			return types.Attempt{}, err
		}
	}
	answers, err := s.repo.ListAnswers(ctx, attempt.ID)
	if err != nil {
		return types.Attempt{}, err
	}

	score := ScoreAttempt(template, questions, cases, answers)

	charge := false
	var inviteStatus types.InviteStatus
	err = s.repo.InTx(ctx, func(q store.Querier) error {
		current, err := q.LockAttempt(ctx, attempt.ID)
		if err != nil {
			return notFound(err)
		}
		if current.Status != types.AttemptSubmitted {
			return ErrAttemptNotSubmitted
		}

		for _, answer := range answers {
			graded, ok := score.Answers[answer.QuestionID]
			if !ok || !mcq[answer.QuestionID] {
				continue
			}
			answer.PointsEarned = graded.PointsEarned
			answer.IsCorrect = graded.Correct
			if _, err := q.UpsertAnswer(ctx, answer); err != nil {
				return fmt.Errorf("grade answer: %w", err)
			}
		}

		current.Status = types.AttemptEvaluated
		current.TotalScore = score.TotalScore
		current.Passed = score.Passed
		current.SectionScores = score.Sections
		if attempt, err = q.UpdateAttempt(ctx, current); err != nil {
			return fmt.Errorf("store score: %w", err)
		}

		if !current.InviteID.Valid {
			return nil
		}
		invite, err := q.LockInvite(ctx, current.InviteID.UUID)
		if err != nil {
			return notFound(err)
		}
		inviteStatus = invite.Status
		if invite.Status != types.InviteSent && invite.Status != types.InviteStarted {
			return nil
		}
		invite.Status = types.InviteEvaluated
		if _, err := q.UpdateInvite(ctx, invite); err != nil {
			return fmt.Errorf("mark invite evaluated: %w", err)
		}
		charge = true
		return nil
	})
	if err != nil {
		return types.Attempt{}, err
	}

	switch {
	case charge:
		if _, err := s.ledger.ChargeCompletionCredits(ctx, attempt.InviteID.UUID); err != nil {
			log.Error().
				Err(err).
				Str("attempt_id", attempt.ID.String()).
				Str("invite_id", attempt.InviteID.UUID.String()).
				Msg("completion charge failed")
		}
	case attempt.InviteID.Valid:
		log.Warn().
			Str("attempt_id", attempt.ID.String()).
			Str("invite_id", attempt.InviteID.UUID.String()).
			Str("invite_status", string(inviteStatus)).
			Msg("invite already closed, evaluation not charged")
	default:
		log.Warn().Str("attempt_id", attempt.ID.String()).Msg("evaluated attempt has no invite, nothing charged")
	}

	err = s.events.publish(ctx, ChannelAttemptEvaluated, AttemptEvaluatedEvent{
		AttemptID:     attempt.ID,
		ApplicationID: attempt.ApplicationID,
		InviteID:      attempt.InviteID,
		TotalScore:    attempt.TotalScore,
		Passed:        attempt.Passed,
		Severity:      attempt.Proctoring.Severity,
	})
	if err != nil && !errors.Is(err, errEventsDisabled) {
		log.Warn().Err(err).Str("attempt_id", attempt.ID.String()).Msg("failed to publish evaluation event")
	}

	log.Info().
		Str("attempt_id", attempt.ID.String()).
		Float64("total_score", attempt.TotalScore).
		Bool("passed", attempt.Passed).
		Msg("attempt evaluated")
	return attempt, nil
}

func (s *AttemptService) ownedAttempt(ctx context.Context, companyID, attemptID uuid.UUID) (types.Attempt, error) {
	attempt, err := s.repo.GetAttempt(ctx, attemptID)
	if err != nil {
		return types.Attempt{}, notFound(err)
	}
	app, err := s.repo.GetApplication(ctx, attempt.ApplicationID)
	if err != nil {
		return types.Attempt{}, notFound(err)
	}
	if app.CompanyID != companyID {
		return types.Attempt{}, ErrNotFound
	}
	return attempt, nil
}

// Report returns the recruiter view of an attempt.
func (s *AttemptService) Report(ctx context.Context, companyID, attemptID uuid.UUID) (AttemptReport, error) {
	attempt, err := s.ownedAttempt(ctx, companyID, attemptID)
	if err != nil {
		return AttemptReport{}, err
	}
	template, err := s.repo.GetTemplate(ctx, attempt.TemplateID)
	if err != nil {
		return AttemptReport{}, notFound(err)
	}
	answers, err := s.repo.ListAnswers(ctx, attempt.ID)
	if err != nil {
		return AttemptReport{}, err
	}
	if answers == nil {
		answers = []types.AttemptAnswer{}
	}
	return AttemptReport{Attempt: attempt, Template: template, Answers: answers}, nil
}
