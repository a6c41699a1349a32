package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hirelab/assessor/internal/ratelimit"
	"github.com/hirelab/assessor/internal/sandbox"
	"github.com/hirelab/assessor/types"
	"github.com/rs/zerolog/log"
)

const (
	maxErrorLength       = 500
	defaultCaseTimeoutMs = 2000
	defaultCaseMemoryMb  = 128
)

// CodeRunner runs one program against one input. *sandbox.Client
// implements it.
type CodeRunner interface {
	Run(ctx context.Context, req sandbox.Request) (sandbox.Result, error)
}

type ExecuteInput struct {
	CandidateID  uuid.UUID
	AttemptID    uuid.UUID
	QuestionID   uuid.UUID
	Code         string
	Language     string
	IsSubmission bool
}

type ExecuteOutput struct {
	Success     bool                  `json:"success"`
	ExecutionID uuid.UUID             `json:"executionId"`
	Result      types.ExecutionResult `json:"result"`
}

// ExecutionService runs candidate code against a question's test cases.
type ExecutionService struct {
	repo    Repository
	runner  CodeRunner
	limiter *ratelimit.Limiter
	archive *ReportArchive
	now     func() time.Time
}

func NewExecutionService(repo Repository, runner CodeRunner, limiter *ratelimit.Limiter, archive *ReportArchive) *ExecutionService {
	return &ExecutionService{
		repo:    repo,
		runner:  runner,
		limiter: limiter,
		archive: archive,
		now:     time.Now,
	}
}

// Execute runs code for a coding question. Dry runs return full diagnostics
// for visible cases; submissions return pass or fail only and record the
// points earned on the attempt.
func (s *ExecutionService) Execute(ctx context.Context, input ExecuteInput) (ExecuteOutput, error) {
	attempt, err := loadMutableAttempt(ctx, s.repo, s.now(), input.CandidateID, input.AttemptID)
	if err != nil {
		return ExecuteOutput{}, err
	}

	question, err := s.repo.GetQuestion(ctx, input.QuestionID)
	if err != nil {
		return ExecuteOutput{}, notFound(err)
	}
	if question.TemplateID != attempt.TemplateID {
		return ExecuteOutput{}, ErrNotFound
	}
	if question.Kind != types.QuestionCoding {
		return ExecuteOutput{}, ErrNotCodingQuestion
	}

	lang, ok := sandbox.LookupLanguage(input.Language)
	if !ok {
		return ExecuteOutput{}, fmt.Errorf("%w %q, supported: %s",
			ErrUnsupportedLanguage, input.Language, strings.Join(sandbox.LanguageNames(), ", "))
	}
	template, err := s.repo.GetTemplate(ctx, attempt.TemplateID)
	if err != nil {
		return ExecuteOutput{}, notFound(err)
	}
	if allowed := allowedLanguages(question, template); len(allowed) > 0 && !containsLanguage(allowed, lang.Name) {
		return ExecuteOutput{}, fmt.Errorf("%w, allowed: %s", ErrLanguageNotAllowed, strings.Join(allowed, ", "))
	}

	cases, err := s.repo.ListTestCases(ctx, question.ID)
	if err != nil {
		return ExecuteOutput{}, err
	}
	if len(cases) == 0 {
		return ExecuteOutput{}, ErrNoTestCases
	}

	if err := s.limiter.Allow(ctx, ratelimit.ExecutionKey(attempt.ID, question.ID)); err != nil {
		return ExecuteOutput{}, err
	}

	executionID := uuid.New()
	results := s.runCases(ctx, input.Code, lang, cases)
	result := aggregate(cases, results, input.IsSubmission)
	redact(&result, input.IsSubmission)

	if input.IsSubmission {
		if err := s.recordSubmission(ctx, attempt, question, input, lang, result); err != nil {
			return ExecuteOutput{}, err
		}
	}

	err = s.archive.Save(ctx, ExecutionReport{
		ExecutionID:  executionID,
		AttemptID:    attempt.ID,
		QuestionID:   question.ID,
		CandidateID:  attempt.CandidateID,
		Language:     lang.Name,
		IsSubmission: input.IsSubmission,
		Result:       result,
		CreatedAt:    s.now(),
	})
	if err != nil {
		log.Warn().Err(err).Str("execution_id", executionID.String()).Msg("failed to archive execution report")
	}

	log.Info().
		Str("execution_id", executionID.String()).
		Str("attempt_id", attempt.ID.String()).
		Str("question_id", question.ID.String()).
		Str("language", lang.Name).
		Bool("submission", input.IsSubmission).
		Int("passed", result.PassedTests).
		Int("total", result.TotalTests).
		Msg("code executed")

	return ExecuteOutput{Success: true, ExecutionID: executionID, Result: result}, nil
}

// runCases runs every case in order. A sandbox failure is recorded on its
// case and does not stop the rest.
func (s *ExecutionService) runCases(ctx context.Context, code string, lang types.Language, cases []types.TestCase) []types.TestResult {
	results := make([]types.TestResult, 0, len(cases))
	for _, tc := range cases {
		timeoutMs := tc.TimeoutMs
		if timeoutMs <= 0 {
			timeoutMs = defaultCaseTimeoutMs
		}
		memoryMb := tc.MemoryLimitMb
		if memoryMb <= 0 {
			memoryMb = defaultCaseMemoryMb
		}

		tr := types.TestResult{
			TestCaseID:     tc.ID,
			IsHidden:       tc.IsHidden,
			Input:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
		}

		res, err := s.runner.Run(ctx, sandbox.Request{
			SourceCode:     code,
			LanguageID:     lang.SandboxID,
			Stdin:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
			CPUTimeLimit:   float64(timeoutMs) / 1000,
			MemoryLimitKB:  memoryMb * 1024,
		})
		if err != nil {
			tr.Verdict = types.VerdictInternalError
			tr.Error = truncate(err.Error())
			log.Warn().Err(err).Str("test_case_id", tc.ID.String()).Msg("sandbox run failed")
			results = append(results, tr)
			continue
		}

		tr.Passed = res.Accepted()
		tr.Verdict = res.Verdict()
		tr.ActualOutput = res.Stdout
		tr.Error = truncate(res.ErrorText())
		tr.ExecutionTimeMs = int64(math.Round(res.TimeSeconds * 1000))
		tr.MemoryUsedMb = math.Round(float64(res.MemoryKB)/1024*100) / 100
		results = append(results, tr)
	}
	return results
}

func aggregate(cases []types.TestCase, results []types.TestResult, isSubmission bool) types.ExecutionResult {
	result := types.ExecutionResult{
		Success:     len(results) > 0,
		Status:      types.VerdictAccepted,
		TestResults: results,
		TotalTests:  len(results),
	}

	points := 0
	outputSet := false
	for i, tr := range results {
		if tr.Passed {
			result.PassedTests++
			points += cases[i].Points
		} else {
			if result.Success {
				result.Status = tr.Verdict
			}
			result.Success = false
		}
		if result.Error == "" && tr.Error != "" {
			result.Error = tr.Error
		}
		if !outputSet && !tr.IsHidden && !isSubmission {
			result.Output = tr.ActualOutput
			outputSet = true
		}
		result.ExecutionTimeMs += tr.ExecutionTimeMs
		result.MemoryUsedMb = max(result.MemoryUsedMb, tr.MemoryUsedMb)
	}

	if isSubmission {
		result.PointsEarned = &points
	}
	return result
}

// redact strips case contents the candidate must not see. Hidden cases keep
// only pass/fail, error and time; every case of a submission loses its
// input and outputs.
func redact(result *types.ExecutionResult, isSubmission bool) {
	for i := range result.TestResults {
		tr := &result.TestResults[i]
		if tr.IsHidden || isSubmission {
			tr.Input = ""
			tr.ExpectedOutput = ""
			tr.ActualOutput = ""
		}
		if tr.IsHidden {
			tr.Verdict = types.VerdictPending
			tr.MemoryUsedMb = 0
		}
	}
}

func (s *ExecutionService) recordSubmission(ctx context.Context, attempt types.Attempt, question types.Question, input ExecuteInput, lang types.Language, result types.ExecutionResult) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return err
	}
	points := 0
	if result.PointsEarned != nil {
		points = *result.PointsEarned
	}
	_, err = s.repo.UpsertAnswer(ctx, types.AttemptAnswer{
		AttemptID:       attempt.ID,
		QuestionID:      question.ID,
		Submission:      input.Code,
		Language:        lang.Name,
		PointsEarned:    points,
		IsCorrect:       result.Success,
		ExecutionResult: encoded,
	})
	if err != nil {
		return fmt.Errorf("record submission: %w", err)
	}
	return nil
}

func containsLanguage(allowed []string, name string) bool {
	return slices.ContainsFunc(allowed, func(candidate string) bool {
		return sandbox.CanonicalLanguage(candidate) == name
	})
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrorLength {
		return s
	}
	cut := maxErrorLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
