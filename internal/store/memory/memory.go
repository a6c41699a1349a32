// Package memory is an in-process implementation of store.Querier.
//
// Transactions are serialized behind one mutex and roll back by restoring a
// snapshot, which gives the same isolation guarantees the postgres store gets
// from row locks. Unique constraints mirror the SQL schema.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hirelab/assessor/internal/store"
	"github.com/hirelab/assessor/types"
)

type answerKey struct {
	attemptID  uuid.UUID
	questionID uuid.UUID
}

type eventKey struct {
	attemptID uuid.UUID
	eventID   string
}

type data struct {
	accounts       map[uuid.UUID]types.CreditAccount
	ledger         map[uuid.UUID]types.LedgerEntry
	templates      map[uuid.UUID]types.Template
	questions      map[uuid.UUID]types.Question
	testCases      map[uuid.UUID][]types.TestCase
	applications   map[uuid.UUID]types.Application
	jobAssessments map[uuid.UUID]types.JobAssessment
	invites        map[uuid.UUID]types.Invite
	attempts       map[uuid.UUID]types.Attempt
	answers        map[answerKey]types.AttemptAnswer
	events         []types.ProctoringEvent
	eventKeys      map[eventKey]struct{}
}

func newData() *data {
	return &data{
		accounts:       make(map[uuid.UUID]types.CreditAccount),
		ledger:         make(map[uuid.UUID]types.LedgerEntry),
		templates:      make(map[uuid.UUID]types.Template),
		questions:      make(map[uuid.UUID]types.Question),
		testCases:      make(map[uuid.UUID][]types.TestCase),
		applications:   make(map[uuid.UUID]types.Application),
		jobAssessments: make(map[uuid.UUID]types.JobAssessment),
		invites:        make(map[uuid.UUID]types.Invite),
		attempts:       make(map[uuid.UUID]types.Attempt),
		answers:        make(map[answerKey]types.AttemptAnswer),
		eventKeys:      make(map[eventKey]struct{}),
	}
}

// clone copies every table. Records are values and their slices are only
// ever replaced, never written through, so a shallow record copy is enough.
func (d *data) clone() *data {
	c := newData()
	for k, v := range d.accounts {
		c.accounts[k] = v
	}
	for k, v := range d.ledger {
		c.ledger[k] = v
	}
	for k, v := range d.templates {
		c.templates[k] = v
	}
	for k, v := range d.questions {
		c.questions[k] = v
	}
	for k, v := range d.testCases {
		c.testCases[k] = v
	}
	for k, v := range d.applications {
		c.applications[k] = v
	}
	for k, v := range d.jobAssessments {
		c.jobAssessments[k] = v
	}
	for k, v := range d.invites {
		c.invites[k] = v
	}
	for k, v := range d.attempts {
		c.attempts[k] = v
	}
	for k, v := range d.answers {
		c.answers[k] = v
	}
	c.events = append([]types.ProctoringEvent(nil), d.events...)
	for k := range d.eventKeys {
		c.eventKeys[k] = struct{}{}
	}
	return c
}

// Store implements store.Querier in memory.
type Store struct {
	// mu is nil on the view handed to a transaction; the owning Store
	// already holds the lock for the transaction's duration.
	mu *sync.Mutex
	d  *data
}

var _ store.Querier = (*Store)(nil)

func New() *Store {
	return &Store{mu: &sync.Mutex{}, d: newData()}
}

func (s *Store) lock() func() {
	if s.mu == nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// InTx runs fn with exclusive access to the store and restores the previous
// state if fn fails or panics.
func (s *Store) InTx(ctx context.Context, fn func(q store.Querier) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.lock()
	defer unlock()

	snapshot := s.d.clone()
	defer func() {
		if p := recover(); p != nil {
			*s.d = *snapshot
			panic(p)
		}
	}()

	if err := fn(&Store{d: s.d}); err != nil {
		*s.d = *snapshot
		return err
	}
	return nil
}

// PutTemplate seeds a template.
func (s *Store) PutTemplate(t types.Template) {
	defer s.lock()()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	s.d.templates[t.ID] = t
}

// PutQuestion seeds a question and its test cases.
func (s *Store) PutQuestion(q types.Question, cases ...types.TestCase) {
	defer s.lock()()
	s.d.questions[q.ID] = q
	for i := range cases {
		cases[i].QuestionID = q.ID
	}
	s.d.testCases[q.ID] = cases
}

// PutApplication seeds an application.
func (s *Store) PutApplication(app types.Application) {
	defer s.lock()()
	s.d.applications[app.ID] = app
}

// Events returns the proctoring log of an attempt in insertion order.
func (s *Store) Events(attemptID uuid.UUID) []types.ProctoringEvent {
	defer s.lock()()
	var out []types.ProctoringEvent
	for _, e := range s.d.events {
		if e.AttemptID == attemptID {
			out = append(out, e)
		}
	}
	return out
}

// LedgerEntries returns every ledger entry for an invite.
func (s *Store) LedgerEntries(inviteID uuid.UUID) []types.LedgerEntry {
	defer s.lock()()
	var out []types.LedgerEntry
	for _, e := range s.d.ledger {
		if e.InviteID.Valid && e.InviteID.UUID == inviteID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Credits

func (s *Store) GetCreditAccount(ctx context.Context, companyID uuid.UUID) (types.CreditAccount, error) {
	defer s.lock()()
	account, ok := s.d.accounts[companyID]
	if !ok {
		return types.CreditAccount{}, store.ErrNotFound
	}
	return account, nil
}

func (s *Store) LockCreditAccount(ctx context.Context, companyID uuid.UUID) (types.CreditAccount, error) {
	return s.GetCreditAccount(ctx, companyID)
}

func (s *Store) EnsureCreditAccount(ctx context.Context, companyID uuid.UUID) (types.CreditAccount, error) {
	defer s.lock()()
	account, ok := s.d.accounts[companyID]
	if !ok {
		account = types.CreditAccount{CompanyID: companyID, UpdatedAt: time.Now()}
		s.d.accounts[companyID] = account
	}
	return account, nil
}

func (s *Store) AdjustCreditAccount(ctx context.Context, companyID uuid.UUID, delta types.CreditDelta) (types.CreditAccount, error) {
	defer s.lock()()
	account, ok := s.d.accounts[companyID]
	if !ok {
		return types.CreditAccount{}, store.ErrNotFound
	}
	account.Available = account.Available.Add(delta.Available)
	account.Reserved = account.Reserved.Add(delta.Reserved)
	account.Used = account.Used.Add(delta.Used)
	if account.Available.IsNegative() || account.Reserved.IsNegative() || account.Used.IsNegative() {
		return types.CreditAccount{}, store.ErrCheckViolation
	}
	account.UpdatedAt = time.Now()
	s.d.accounts[companyID] = account
	return account, nil
}

func (s *Store) InsertLedgerEntry(ctx context.Context, entry types.LedgerEntry) (types.LedgerEntry, error) {
	defer s.lock()()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Status == types.LedgerReserved && entry.InviteID.Valid {
		for _, existing := range s.d.ledger {
			if existing.Status == types.LedgerReserved && existing.InviteID == entry.InviteID {
				return types.LedgerEntry{}, store.ErrConflict
			}
		}
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.UpdatedAt = entry.CreatedAt
	s.d.ledger[entry.ID] = entry
	return entry, nil
}

func (s *Store) LockOpenReservation(ctx context.Context, inviteID uuid.UUID) (types.LedgerEntry, error) {
	defer s.lock()()
	for _, entry := range s.d.ledger {
		if entry.Status == types.LedgerReserved && entry.InviteID.Valid && entry.InviteID.UUID == inviteID {
			return entry, nil
		}
	}
	return types.LedgerEntry{}, store.ErrNotFound
}

func (s *Store) CloseLedgerEntry(ctx context.Context, entry types.LedgerEntry) error {
	defer s.lock()()
	existing, ok := s.d.ledger[entry.ID]
	if !ok || existing.Status != types.LedgerReserved {
		return store.ErrNotFound
	}
	existing.Status = entry.Status
	existing.ChargedAmount = entry.ChargedAmount
	existing.RefundedAmount = entry.RefundedAmount
	existing.UpdatedAt = time.Now()
	s.d.ledger[entry.ID] = existing
	return nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, companyID uuid.UUID, limit int) ([]types.LedgerEntry, error) {
	defer s.lock()()
	if limit < 1 {
		limit = 50
	}
	var out []types.LedgerEntry
	for _, entry := range s.d.ledger {
		if entry.CompanyID == companyID {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListStaleReservations(ctx context.Context, before time.Time, limit int) ([]types.LedgerEntry, error) {
	defer s.lock()()
	if limit < 1 {
		limit = 100
	}
	var out []types.LedgerEntry
	for _, entry := range s.d.ledger {
		if entry.Status != types.LedgerReserved || !entry.CreatedAt.Before(before) || !entry.InviteID.Valid {
			continue
		}
		invite, ok := s.d.invites[entry.InviteID.UUID]
		if !ok || invite.Status == types.InviteEvaluated {
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Catalog

func (s *Store) GetTemplate(ctx context.Context, id uuid.UUID) (types.Template, error) {
	defer s.lock()()
	t, ok := s.d.templates[id]
	if !ok {
		return types.Template{}, store.ErrNotFound
	}
	return t, nil
}

func (s *Store) GetQuestion(ctx context.Context, id uuid.UUID) (types.Question, error) {
	defer s.lock()()
	q, ok := s.d.questions[id]
	if !ok {
		return types.Question{}, store.ErrNotFound
	}
	return q, nil
}

func (s *Store) ListQuestions(ctx context.Context, templateID uuid.UUID) ([]types.Question, error) {
	defer s.lock()()
	var out []types.Question
	for _, q := range s.d.questions {
		if q.TemplateID == templateID {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

func (s *Store) ListTestCases(ctx context.Context, questionID uuid.UUID) ([]types.TestCase, error) {
	defer s.lock()()
	cases := append([]types.TestCase(nil), s.d.testCases[questionID]...)
	sort.SliceStable(cases, func(i, j int) bool { return cases[i].OrderIndex < cases[j].OrderIndex })
	return cases, nil
}

func (s *Store) GetApplication(ctx context.Context, id uuid.UUID) (types.Application, error) {
	defer s.lock()()
	app, ok := s.d.applications[id]
	if !ok {
		return types.Application{}, store.ErrNotFound
	}
	return app, nil
}

func (s *Store) GetJobAssessment(ctx context.Context, jobID uuid.UUID) (types.JobAssessment, error) {
	defer s.lock()()
	var latest types.JobAssessment
	found := false
	for _, ja := range s.d.jobAssessments {
		if ja.JobID == jobID && (!found || ja.CreatedAt.After(latest.CreatedAt)) {
			latest = ja
			found = true
		}
	}
	if !found {
		return types.JobAssessment{}, store.ErrNotFound
	}
	return latest, nil
}

func (s *Store) EnsureJobAssessment(ctx context.Context, jobID, templateID uuid.UUID) (types.JobAssessment, error) {
	defer s.lock()()
	for _, ja := range s.d.jobAssessments {
		if ja.JobID == jobID && ja.TemplateID == templateID {
			return ja, nil
		}
	}
	ja := types.JobAssessment{ID: uuid.New(), JobID: jobID, TemplateID: templateID, CreatedAt: time.Now()}
	s.d.jobAssessments[ja.ID] = ja
	return ja, nil
}

// Invites

func (s *Store) GetInvite(ctx context.Context, id uuid.UUID) (types.Invite, error) {
	defer s.lock()()
	invite, ok := s.d.invites[id]
	if !ok {
		return types.Invite{}, store.ErrNotFound
	}
	return invite, nil
}

func (s *Store) LockInvite(ctx context.Context, id uuid.UUID) (types.Invite, error) {
	return s.GetInvite(ctx, id)
}

func (s *Store) GetInviteByToken(ctx context.Context, token string) (types.Invite, error) {
	defer s.lock()()
	for _, invite := range s.d.invites {
		if invite.Token == token {
			return invite, nil
		}
	}
	return types.Invite{}, store.ErrNotFound
}

func (s *Store) GetInviteByApplication(ctx context.Context, applicationID, templateID uuid.UUID) (types.Invite, error) {
	defer s.lock()()
	for _, invite := range s.d.invites {
		if invite.ApplicationID == applicationID && invite.TemplateID == templateID {
			return invite, nil
		}
	}
	return types.Invite{}, store.ErrNotFound
}

func (s *Store) CreateInvite(ctx context.Context, invite types.Invite) (types.Invite, error) {
	defer s.lock()()
	for _, existing := range s.d.invites {
		if existing.Token == invite.Token ||
			(existing.ApplicationID == invite.ApplicationID && existing.TemplateID == invite.TemplateID) {
			return types.Invite{}, store.ErrConflict
		}
	}
	if invite.ID == uuid.Nil {
		invite.ID = uuid.New()
	}
	if invite.Cycle == 0 {
		invite.Cycle = 1
	}
	invite.UpdatedAt = time.Now()
	s.d.invites[invite.ID] = invite
	return invite, nil
}

func (s *Store) UpdateInvite(ctx context.Context, invite types.Invite) (types.Invite, error) {
	defer s.lock()()
	if _, ok := s.d.invites[invite.ID]; !ok {
		return types.Invite{}, store.ErrNotFound
	}
	for id, existing := range s.d.invites {
		if id != invite.ID && existing.Token == invite.Token {
			return types.Invite{}, store.ErrConflict
		}
	}
	invite.UpdatedAt = time.Now()
	s.d.invites[invite.ID] = invite
	return invite, nil
}

// Attempts

func (s *Store) GetAttempt(ctx context.Context, id uuid.UUID) (types.Attempt, error) {
	defer s.lock()()
	attempt, ok := s.d.attempts[id]
	if !ok {
		return types.Attempt{}, store.ErrNotFound
	}
	return attempt, nil
}

func (s *Store) LockAttempt(ctx context.Context, id uuid.UUID) (types.Attempt, error) {
	return s.GetAttempt(ctx, id)
}

func (s *Store) GetActiveAttemptByInvite(ctx context.Context, inviteID uuid.UUID) (types.Attempt, error) {
	defer s.lock()()
	if attempt, ok := s.activeOnInvite(inviteID, uuid.Nil); ok {
		return attempt, nil
	}
	return types.Attempt{}, store.ErrNotFound
}

func (s *Store) GetLatestAttemptInCycle(ctx context.Context, inviteID uuid.UUID, cycle int) (types.Attempt, error) {
	defer s.lock()()
	var latest types.Attempt
	found := false
	for _, attempt := range s.d.attempts {
		if !attempt.InviteID.Valid || attempt.InviteID.UUID != inviteID || attempt.InviteCycle != cycle {
			continue
		}
		if !found || attempt.CreatedAt.After(latest.CreatedAt) {
			latest = attempt
			found = true
		}
	}
	if !found {
		return types.Attempt{}, store.ErrNotFound
	}
	return latest, nil
}

func (s *Store) activeOnInvite(inviteID, except uuid.UUID) (types.Attempt, bool) {
	for id, attempt := range s.d.attempts {
		if id == except {
			continue
		}
		if attempt.InviteID.Valid && attempt.InviteID.UUID == inviteID && attempt.Status.Active() {
			return attempt, true
		}
	}
	return types.Attempt{}, false
}

func (s *Store) CreateAttempt(ctx context.Context, attempt types.Attempt) (types.Attempt, error) {
	defer s.lock()()
	if attempt.InviteID.Valid && attempt.Status.Active() {
		if _, taken := s.activeOnInvite(attempt.InviteID.UUID, uuid.Nil); taken {
			return types.Attempt{}, store.ErrConflict
		}
	}
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	now := time.Now()
	attempt.CreatedAt = now
	attempt.UpdatedAt = now
	if attempt.Proctoring.Severity == "" {
		attempt.Proctoring.Severity = types.SeverityNormal
	}
	s.d.attempts[attempt.ID] = attempt
	return attempt, nil
}

func (s *Store) UpdateAttempt(ctx context.Context, attempt types.Attempt) (types.Attempt, error) {
	defer s.lock()()
	existing, ok := s.d.attempts[attempt.ID]
	if !ok {
		return types.Attempt{}, store.ErrNotFound
	}
	if attempt.InviteID.Valid && attempt.Status.Active() {
		if _, taken := s.activeOnInvite(attempt.InviteID.UUID, attempt.ID); taken {
			return types.Attempt{}, store.ErrConflict
		}
	}
	attempt.Proctoring = existing.Proctoring
	attempt.CreatedAt = existing.CreatedAt
	attempt.UpdatedAt = time.Now()
	s.d.attempts[attempt.ID] = attempt
	return attempt, nil
}

func (s *Store) DetachActiveAttempts(ctx context.Context, inviteID uuid.UUID) (int64, error) {
	defer s.lock()()
	var n int64
	for id, attempt := range s.d.attempts {
		if attempt.InviteID.Valid && attempt.InviteID.UUID == inviteID && attempt.Status.Active() {
			attempt.InviteID = uuid.NullUUID{}
			attempt.UpdatedAt = time.Now()
			s.d.attempts[id] = attempt
			n++
		}
	}
	return n, nil
}

func (s *Store) UpsertAnswer(ctx context.Context, answer types.AttemptAnswer) (types.AttemptAnswer, error) {
	defer s.lock()()
	if _, ok := s.d.attempts[answer.AttemptID]; !ok {
		return types.AttemptAnswer{}, store.ErrNotFound
	}
	answer.UpdatedAt = time.Now()
	s.d.answers[answerKey{answer.AttemptID, answer.QuestionID}] = answer
	return answer, nil
}

func (s *Store) ListAnswers(ctx context.Context, attemptID uuid.UUID) ([]types.AttemptAnswer, error) {
	defer s.lock()()
	var out []types.AttemptAnswer
	for key, answer := range s.d.answers {
		if key.attemptID == attemptID {
			out = append(out, answer)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID.String() < out[j].QuestionID.String() })
	return out, nil
}

// Proctoring

func (s *Store) InsertProctoringEvents(ctx context.Context, events []types.ProctoringEvent) ([]types.ProctoringEvent, error) {
	defer s.lock()()
	inserted := make([]types.ProctoringEvent, 0, len(events))
	now := time.Now()
	for _, event := range events {
		if event.EventID != "" {
			key := eventKey{event.AttemptID, event.EventID}
			if _, dup := s.d.eventKeys[key]; dup {
				continue
			}
			s.d.eventKeys[key] = struct{}{}
		}
		if event.ID == uuid.Nil {
			event.ID = uuid.New()
		}
		if event.CreatedAt.IsZero() {
			event.CreatedAt = now
		}
		s.d.events = append(s.d.events, event)
		inserted = append(inserted, event)
	}
	return inserted, nil
}

func (s *Store) IncrementProctoring(ctx context.Context, attemptID uuid.UUID, delta types.ProctoringDelta, clientSig string) (types.ProctoringCounters, error) {
	defer s.lock()()
	attempt, ok := s.d.attempts[attemptID]
	if !ok {
		return types.ProctoringCounters{}, store.ErrNotFound
	}
	c := &attempt.Proctoring
	c.TabSwitches += delta.TabSwitches
	c.VisibilityHidden += delta.VisibilityHidden
	c.CopyAttempts += delta.CopyAttempts
	c.PasteAttempts += delta.PasteAttempts
	c.RightClicks += delta.RightClicks
	c.FocusLoss += delta.FocusLoss
	c.PageHides += delta.PageHides
	if c.FirstClientSig == "" {
		c.FirstClientSig = clientSig
	} else if c.FirstClientSig != clientSig {
		c.MultiSession = true
	}
	c.LastClientSig = clientSig
	attempt.UpdatedAt = time.Now()
	s.d.attempts[attemptID] = attempt
	return *c, nil
}

func (s *Store) SetProctoringSeverity(ctx context.Context, attemptID uuid.UUID, score int, severity types.Severity) error {
	defer s.lock()()
	attempt, ok := s.d.attempts[attemptID]
	if !ok {
		return store.ErrNotFound
	}
	attempt.Proctoring.SeverityScore = score
	attempt.Proctoring.Severity = severity
	s.d.attempts[attemptID] = attempt
	return nil
}
