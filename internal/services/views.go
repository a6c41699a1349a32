package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hirelab/assessor/types"
)

// CandidateAttemptView is what a candidate may see of an attempt. Correct
// options, hidden test cases and proctoring counters are never included.
type CandidateAttemptView struct {
	Attempt   CandidateAttempt    `json:"attempt"`
	Template  CandidateTemplate   `json:"template"`
	Questions []CandidateQuestion `json:"questions"`
	Answers   []CandidateAnswer   `json:"answers"`
}

type CandidateAttempt struct {
	ID                   uuid.UUID           `json:"id"`
	Status               types.AttemptStatus `json:"status"`
	StartedAt            *time.Time          `json:"startedAt"`
	ExpiresAt            *time.Time          `json:"expiresAt"`
	SubmittedAt          *time.Time          `json:"submittedAt"`
	TimeRemainingSeconds int64               `json:"timeRemainingSeconds"`
	TotalScore           *float64            `json:"totalScore,omitempty"`
	Passed               *bool               `json:"passed,omitempty"`
}

type CandidateTemplate struct {
	ID               uuid.UUID `json:"id"`
	Title            string    `json:"title"`
	TimeLimitMinutes int       `json:"timeLimitMinutes"`
}

type CandidateQuestion struct {
	ID               uuid.UUID          `json:"id"`
	Section          string             `json:"section"`
	Kind             types.QuestionKind `json:"kind"`
	Prompt           string             `json:"prompt"`
	Options          []string           `json:"options,omitempty"`
	Points           int                `json:"points"`
	AllowedLanguages []string           `json:"allowedLanguages,omitempty"`
	Examples         []SampleCase       `json:"examples,omitempty"`
}

// SampleCase is a visible test case shown with a coding question.
type SampleCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput"`
}

type CandidateAnswer struct {
	QuestionID      uuid.UUID `json:"questionId"`
	SelectedOptions []int     `json:"selectedOptions,omitempty"`
	Language        string    `json:"language,omitempty"`
	Submission      string    `json:"submission,omitempty"`
	PointsEarned    *int      `json:"pointsEarned,omitempty"`
}

// AttemptReport is the recruiter view of an attempt, proctoring included.
type AttemptReport struct {
	Attempt  types.Attempt         `json:"attempt"`
	Template types.Template        `json:"template"`
	Answers  []types.AttemptAnswer `json:"answers"`
}

func (s *AttemptService) candidateView(ctx context.Context, attempt types.Attempt, template types.Template) (CandidateAttemptView, error) {
	view := CandidateAttemptView{
		Attempt: CandidateAttempt{
			ID:          attempt.ID,
			Status:      attempt.Status,
			StartedAt:   attempt.StartedAt,
			ExpiresAt:   attempt.ExpiresAt,
			SubmittedAt: attempt.SubmittedAt,
		},
		Template: CandidateTemplate{
			ID:               template.ID,
			Title:            template.Title,
			TimeLimitMinutes: template.TimeLimitMinutes,
		},
		Questions: []CandidateQuestion{},
		Answers:   []CandidateAnswer{},
	}
	if attempt.Status == types.AttemptInProgress && attempt.ExpiresAt != nil {
		if remaining := attempt.ExpiresAt.Sub(s.now()); remaining > 0 {
			view.Attempt.TimeRemainingSeconds = int64(remaining / time.Second)
		}
	}
	evaluated := attempt.Status == types.AttemptEvaluated
	if evaluated {
		score, passed := attempt.TotalScore, attempt.Passed
		view.Attempt.TotalScore = &score
		view.Attempt.Passed = &passed
	}

	questions, err := s.repo.ListQuestions(ctx, template.ID)
	if err != nil {
		return CandidateAttemptView{}, err
	}
	for _, question := range questions {
		cq := CandidateQuestion{
			ID:      question.ID,
			Section: question.Section,
			Kind:    question.Kind,
			Prompt:  question.Prompt,
			Options: question.Options,
			Points:  question.Points,
		}
		if question.Kind == types.QuestionCoding {
			cq.AllowedLanguages = allowedLanguages(question, template)
			cases, err := s.repo.ListTestCases(ctx, question.ID)
			if err != nil {
				return CandidateAttemptView{}, err
			}
			for _, tc := range cases {
				if tc.IsHidden {
					continue
				}
				cq.Examples = append(cq.Examples, SampleCase{Input: tc.Input, ExpectedOutput: tc.ExpectedOutput})
			}
		}
		view.Questions = append(view.Questions, cq)
	}

	answers, err := s.repo.ListAnswers(ctx, attempt.ID)
	if err != nil {
		return CandidateAttemptView{}, err
	}
	for _, answer := range answers {
		ca := CandidateAnswer{
			QuestionID:      answer.QuestionID,
			SelectedOptions: answer.SelectedOptions,
			Language:        answer.Language,
			Submission:      answer.Submission,
		}
		if evaluated {
			points := answer.PointsEarned
			ca.PointsEarned = &points
		}
		view.Answers = append(view.Answers, ca)
	}
	return view, nil
}

func allowedLanguages(question types.Question, template types.Template) []string {
	if len(question.AllowedLanguages) > 0 {
		return question.AllowedLanguages
	}
	return template.AllowedLanguages
}
