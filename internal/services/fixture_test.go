package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hirelab/assessor/config"
	"github.com/hirelab/assessor/internal/ratelimit"
	"github.com/hirelab/assessor/internal/sandbox"
	"github.com/hirelab/assessor/internal/store/memory"
	"github.com/hirelab/assessor/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const correctSolution = "print(sum(map(int, input().split())))"

// fakeRunner accepts correctSolution and answers everything else with a
// wrong answer. Cases can be made to fail by input.
type fakeRunner struct {
	mu       sync.Mutex
	calls    []sandbox.Request
	failures map[string]error
}

func (r *fakeRunner) Run(ctx context.Context, req sandbox.Request) (sandbox.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, req)
	err := r.failures[req.Stdin]
	r.mu.Unlock()

	if err != nil {
		return sandbox.Result{}, err
	}
	if req.SourceCode == correctSolution {
		return sandbox.Result{StatusID: sandbox.StatusAccepted, StatusDescription: "Accepted", Stdout: req.ExpectedOutput, TimeSeconds: 0.012, MemoryKB: 2048}, nil
	}
	return sandbox.Result{StatusID: sandbox.StatusWrongAnswer, StatusDescription: "Wrong Answer", Stdout: "wrong", TimeSeconds: 0.01, MemoryKB: 1024}, nil
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
	err      error
}

func (p *recordingPublisher) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	if p.messages == nil {
		p.messages = make(map[string][][]byte)
	}
	p.messages[channel] = append(p.messages[channel], data)
	return uuid.NewString(), nil
}

func (p *recordingPublisher) count(channel string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages[channel])
}

type fixture struct {
	ctx context.Context

	repo       *memory.Store
	publisher  *recordingPublisher
	runner     *fakeRunner
	ledger     *LedgerService
	invites    *InviteService
	attempts   *AttemptService
	proctoring *ProctoringService
	execution  *ExecutionService

	companyID   uuid.UUID
	candidateID uuid.UUID
	app         types.Application
	template    types.Template
	mcq         types.Question
	coding      types.Question
	visibleCase types.TestCase
	hiddenCase  types.TestCase
}

// newFixture seeds one company with 10 credits, a MID coding template with
// one MCQ and one coding question, and an application for one candidate.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		ctx:         context.Background(),
		repo:        memory.New(),
		publisher:   &recordingPublisher{},
		runner:      &fakeRunner{failures: map[string]error{}},
		companyID:   uuid.New(),
		candidateID: uuid.New(),
	}

	events := NewEvents(f.publisher)
	f.ledger = NewLedgerService(f.repo, config.LedgerConfig{RefundGrace: 7 * 24 * time.Hour, SweepBatch: 10}, events)
	f.invites = NewInviteService(f.repo, config.InviteConfig{DefaultExpiryDays: 7, MaxExpiryDays: 30}, "https://hire.example.com/", events)
	f.attempts = NewAttemptService(f.repo, f.ledger, events)
	f.proctoring = NewProctoringService(f.repo)
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), 3, time.Minute)
	f.execution = NewExecutionService(f.repo, f.runner, limiter, nil)

	f.template = types.Template{
		ID:               uuid.New(),
		CompanyID:        f.companyID,
		Title:            "Backend engineer",
		Kind:             types.KindCoding,
		Difficulty:       types.DifficultyMid,
		TimeLimitMinutes: 60,
		PassingScore:     50,
	}
	f.repo.PutTemplate(f.template)

	f.mcq = types.Question{
		ID:             uuid.New(),
		TemplateID:     f.template.ID,
		Section:        "fundamentals",
		Kind:           types.QuestionMCQ,
		Prompt:         "Which keyword starts a goroutine?",
		Options:        []string{"defer", "go", "chan"},
		CorrectOptions: []int{1},
		Points:         2,
		OrderIndex:     0,
	}
	f.repo.PutQuestion(f.mcq)

	f.coding = types.Question{
		ID:         uuid.New(),
		TemplateID: f.template.ID,
		Section:    "coding",
		Kind:       types.QuestionCoding,
		Prompt:     "Add two integers.",
		Points:     5,
		OrderIndex: 1,
	}
	f.visibleCase = types.TestCase{ID: uuid.New(), Input: "1 2", ExpectedOutput: "3", Points: 2, OrderIndex: 0}
	f.hiddenCase = types.TestCase{ID: uuid.New(), Input: "40 2", ExpectedOutput: "42", Points: 3, IsHidden: true, OrderIndex: 1}
	f.repo.PutQuestion(f.coding, f.visibleCase, f.hiddenCase)
	f.visibleCase.QuestionID = f.coding.ID
	f.hiddenCase.QuestionID = f.coding.ID

	f.app = types.Application{
		ID:          uuid.New(),
		JobID:       uuid.New(),
		CompanyID:   f.companyID,
		CandidateID: f.candidateID,
		Email:       "candidate@example.com",
	}
	f.repo.PutApplication(f.app)

	_, err := f.ledger.GrantCredits(f.ctx, f.companyID, decimal.NewFromInt(10))
	require.NoError(t, err)
	return f
}

func (f *fixture) issue(t *testing.T) InviteIssue {
	t.Helper()
	issue, err := f.invites.Issue(f.ctx, IssueInviteInput{
		CompanyID:     f.companyID,
		ApplicationID: f.app.ID,
		TemplateID:    &f.template.ID,
	})
	require.NoError(t, err)
	return issue
}

func (f *fixture) start(t *testing.T) (InviteIssue, CandidateAttemptView) {
	t.Helper()
	issue := f.issue(t)
	view, err := f.attempts.Start(f.ctx, f.candidateID, issue.Invite.Token)
	require.NoError(t, err)
	return issue, view
}

func (f *fixture) account(t *testing.T) types.CreditAccount {
	t.Helper()
	account, err := f.repo.GetCreditAccount(f.ctx, f.companyID)
	require.NoError(t, err)
	return account
}

// expireAttemptClock moves an attempt's deadline into the past.
func (f *fixture) expireAttemptClock(t *testing.T, attemptID uuid.UUID) {
	t.Helper()
	attempt, err := f.repo.GetAttempt(f.ctx, attemptID)
	require.NoError(t, err)
	past := time.Now().Add(-time.Minute)
	attempt.ExpiresAt = &past
	_, err = f.repo.UpdateAttempt(f.ctx, attempt)
	require.NoError(t, err)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
