package types

import (
	"time"

	"github.com/google/uuid"
)

// AssessmentKind is the broad shape of a template, used for pricing.
type AssessmentKind string

const (
	KindMCQ    AssessmentKind = "MCQ"
	KindCoding AssessmentKind = "CODING"
	KindMixed  AssessmentKind = "MIXED"
)

// Difficulty is the seniority level a template targets.
type Difficulty string

const (
	DifficultyJunior Difficulty = "JUNIOR"
	DifficultyMid    Difficulty = "MID"
	DifficultySenior Difficulty = "SENIOR"
)

// QuestionKind distinguishes multiple choice from coding questions.
type QuestionKind string

const (
	QuestionMCQ    QuestionKind = "MCQ"
	QuestionCoding QuestionKind = "CODING"
)

// Template is a reusable assessment owned by a company.
type Template struct {
	// ID is the unique identifier of the template.
	ID uuid.UUID `json:"id" db:"id"`

	// CompanyID identifies the company that authored the template.
	CompanyID uuid.UUID `json:"companyId" db:"company_id"`

	// Title is the human-readable name of the template.
	Title string `json:"title" db:"title"`

	// Kind and Difficulty select the pricing row for invites.
	Kind       AssessmentKind `json:"kind" db:"kind"`
	Difficulty Difficulty     `json:"difficulty" db:"difficulty"`

	// TimeLimitMinutes bounds an attempt from the moment it starts.
	TimeLimitMinutes int `json:"timeLimitMinutes" db:"time_limit_minutes"`

	// PassingScore is the overall percentage required to pass.
	PassingScore float64 `json:"passingScore" db:"passing_score"`

	// AllowedLanguages restricts coding questions to a subset of the
	// supported languages. Empty means every supported language.
	AllowedLanguages []string `json:"allowedLanguages" db:"allowed_languages"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// TimeLimit returns the attempt duration for this template.
func (t Template) TimeLimit() time.Duration {
	return time.Duration(t.TimeLimitMinutes) * time.Minute
}

// Question belongs to a template section.
type Question struct {
	ID               uuid.UUID    `json:"id" db:"id"`
	TemplateID       uuid.UUID    `json:"templateId" db:"template_id"`
	Section          string       `json:"section" db:"section"`
	Kind             QuestionKind `json:"kind" db:"kind"`
	Prompt           string       `json:"prompt" db:"prompt"`
	Options          []string     `json:"options,omitempty" db:"options"`
	CorrectOptions   []int        `json:"-" db:"correct_options"`
	Points           int          `json:"points" db:"points"`
	AllowedLanguages []string     `json:"allowedLanguages,omitempty" db:"allowed_languages"`
	OrderIndex       int          `json:"orderIndex" db:"order_index"`
}

// TestCase is an input/expected-output pair attached to a coding question.
// Test cases are immutable once their question is published.
type TestCase struct {
	ID             uuid.UUID `json:"id" db:"id"`
	QuestionID     uuid.UUID `json:"questionId" db:"question_id"`
	Input          string    `json:"input" db:"input"`
	ExpectedOutput string    `json:"expectedOutput" db:"expected_output"`

	// IsHidden withholds the case contents from every candidate-facing response.
	IsHidden      bool `json:"isHidden" db:"is_hidden"`
	Points        int  `json:"points" db:"points"`
	TimeoutMs     int  `json:"timeoutMs" db:"timeout_ms"`
	MemoryLimitMb int  `json:"memoryLimitMb" db:"memory_limit_mb"`
	OrderIndex    int  `json:"orderIndex" db:"order_index"`
}

// Application is the read-only view of a candidate's job application.
type Application struct {
	ID          uuid.UUID `json:"id" db:"id"`
	JobID       uuid.UUID `json:"jobId" db:"job_id"`
	CompanyID   uuid.UUID `json:"companyId" db:"company_id"`
	CandidateID uuid.UUID `json:"candidateId" db:"candidate_id"`
	Email       string    `json:"email" db:"email"`
}

// JobAssessment links a job to the template its applicants are invited to.
type JobAssessment struct {
	ID         uuid.UUID `json:"id" db:"id"`
	JobID      uuid.UUID `json:"jobId" db:"job_id"`
	TemplateID uuid.UUID `json:"templateId" db:"template_id"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}
