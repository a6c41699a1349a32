package services

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hirelab/assessor/internal/store"
	"github.com/hirelab/assessor/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueCreatesInvite(t *testing.T) {
	f := newFixture(t)

	issue := f.issue(t)
	assert.True(t, issue.Meta.CreatedInvite)
	assert.False(t, issue.Meta.ReusedInvite)
	assert.False(t, issue.Meta.Rotated)
	assert.Equal(t, types.InviteSent, issue.Invite.Status)
	assert.Len(t, issue.Invite.Token, 64)
	assert.Equal(t, "https://hire.example.com/assessments/start?token="+issue.Invite.Token, issue.InviteURL)
	assert.Nil(t, issue.Attempt)
	assert.Equal(t, EmailQueued, issue.EmailStatus)
	assert.Nil(t, issue.EmailError)
	assert.Equal(t, f.template.ID, issue.JobAssessment.TemplateID)
	require.NotNil(t, issue.Invite.ExpiresAt)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 7), *issue.Invite.ExpiresAt, time.Minute)

	entries := f.repo.LedgerEntries(issue.Invite.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, types.LedgerReserved, entries[0].Status)
	assert.Equal(t, 1, f.publisher.count(ChannelInviteIssued))
}

func TestIssueTwiceReusesInvite(t *testing.T) {
	f := newFixture(t)

	first := f.issue(t)
	second := f.issue(t)

	assert.True(t, second.Meta.ReusedInvite)
	assert.False(t, second.Meta.CreatedInvite)
	assert.False(t, second.Meta.Rotated)
	assert.Equal(t, first.Invite.ID, second.Invite.ID)
	assert.Equal(t, first.Invite.Token, second.Invite.Token)
	assert.Len(t, f.repo.LedgerEntries(first.Invite.ID), 1)
	assert.True(t, f.account(t).Reserved.Equal(dec("0.5")))
}

func TestIssueExtendsReusableInviteOnlyForward(t *testing.T) {
	f := newFixture(t)
	first := f.issue(t)

	days := 14
	extended, err := f.invites.Issue(f.ctx, IssueInviteInput{
		CompanyID:     f.companyID,
		ApplicationID: f.app.ID,
		TemplateID:    &f.template.ID,
		ExpiresInDays: &days,
	})
	require.NoError(t, err)
	assert.True(t, extended.Invite.ExpiresAt.After(*first.Invite.ExpiresAt))

	days = 1
	shortened, err := f.invites.Issue(f.ctx, IssueInviteInput{
		CompanyID:     f.companyID,
		ApplicationID: f.app.ID,
		TemplateID:    &f.template.ID,
		ExpiresInDays: &days,
	})
	require.NoError(t, err)
	assert.Equal(t, *extended.Invite.ExpiresAt, *shortened.Invite.ExpiresAt)
}

func TestIssueClampsExpiry(t *testing.T) {
	f := newFixture(t)
	days := 365

	issue, err := f.invites.Issue(f.ctx, IssueInviteInput{
		CompanyID:     f.companyID,
		ApplicationID: f.app.ID,
		TemplateID:    &f.template.ID,
		ExpiresInDays: &days,
	})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 30), *issue.Invite.ExpiresAt, time.Minute)
}

func TestIssueRotatesExpiredInviteAndDetachesAttempt(t *testing.T) {
	f := newFixture(t)
	first, view := f.start(t)

	// Let the invite lapse while its attempt is still in progress.
	invite, err := f.repo.GetInvite(f.ctx, first.Invite.ID)
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour)
	invite.ExpiresAt = &past
	_, err = f.repo.UpdateInvite(f.ctx, invite)
	require.NoError(t, err)

	rotated := f.issue(t)
	assert.True(t, rotated.Meta.Rotated)
	assert.False(t, rotated.Meta.ReusedInvite)
	assert.Equal(t, first.Invite.ID, rotated.Invite.ID)
	assert.NotEqual(t, first.Invite.Token, rotated.Invite.Token)
	assert.Equal(t, types.InviteSent, rotated.Invite.Status)
	assert.Equal(t, 2, rotated.Invite.Cycle)
	assert.Nil(t, rotated.Attempt, "the new cycle starts without an attempt")

	old, err := f.repo.GetAttempt(f.ctx, view.Attempt.ID)
	require.NoError(t, err)
	assert.False(t, old.InviteID.Valid)

	// The original reservation was still open, so nothing new is held.
	assert.Len(t, f.repo.LedgerEntries(first.Invite.ID), 1)
	assert.True(t, f.account(t).Reserved.Equal(dec("0.5")))

	_, err = f.attempts.Start(f.ctx, f.candidateID, first.Invite.Token)
	assert.ErrorIs(t, err, ErrInviteInvalid, "the old token no longer resolves")

	restarted, err := f.attempts.Start(f.ctx, f.candidateID, rotated.Invite.Token)
	require.NoError(t, err)
	assert.NotEqual(t, view.Attempt.ID, restarted.Attempt.ID)
}

func TestIssueRotationReservesAgainAfterRefund(t *testing.T) {
	f := newFixture(t)
	first := f.issue(t)

	_, err := f.ledger.CancelInviteAndRefund(f.ctx, f.companyID, first.Invite.ID)
	require.NoError(t, err)

	rotated := f.issue(t)
	assert.True(t, rotated.Meta.Rotated)

	entries := f.repo.LedgerEntries(first.Invite.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, types.LedgerRefunded, entries[0].Status)
	assert.Equal(t, types.LedgerReserved, entries[1].Status)
	assert.Equal(t, 2, entries[1].Cycle)
	assert.True(t, f.account(t).Reserved.Equal(dec("0.5")))
}

func TestIssueUsesJobAssessmentWhenTemplateOmitted(t *testing.T) {
	f := newFixture(t)
	f.issue(t)

	again, err := f.invites.Issue(f.ctx, IssueInviteInput{CompanyID: f.companyID, ApplicationID: f.app.ID})
	require.NoError(t, err)
	assert.Equal(t, f.template.ID, again.Template.ID)
	assert.True(t, again.Meta.ReusedInvite)
}

func TestIssueRejectsOtherCompany(t *testing.T) {
	f := newFixture(t)

	_, err := f.invites.Issue(f.ctx, IssueInviteInput{
		CompanyID:     f.candidateID,
		ApplicationID: f.app.ID,
		TemplateID:    &f.template.ID,
	})
	assert.ErrorIs(t, err, ErrNotFound)

	foreign := f.template
	foreign.ID = f.candidateID
	foreign.CompanyID = f.candidateID
	f.repo.PutTemplate(foreign)
	_, err = f.invites.Issue(f.ctx, IssueInviteInput{
		CompanyID:     f.companyID,
		ApplicationID: f.app.ID,
		TemplateID:    &foreign.ID,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIssueReportsEmailFailure(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker unavailable")

	issue := f.issue(t)
	assert.Equal(t, EmailFailed, issue.EmailStatus)
	require.NotNil(t, issue.EmailError)
	assert.True(t, strings.Contains(*issue.EmailError, "broker unavailable"))
	assert.Len(t, f.repo.LedgerEntries(issue.Invite.ID), 1, "the invite stands even if the email does not go out")
}

func TestIssueWithoutPublisherDisablesEmail(t *testing.T) {
	f := newFixture(t)
	f.invites.events = nil

	issue := f.issue(t)
	assert.Equal(t, EmailDisabled, issue.EmailStatus)
	assert.Nil(t, issue.EmailError)
}

func TestCreateInviteConflictRereadsExisting(t *testing.T) {
	f := newFixture(t)
	first := f.issue(t)

	_, err := f.repo.CreateInvite(f.ctx, types.Invite{
		ApplicationID: f.app.ID,
		TemplateID:    f.template.ID,
		Token:         "another-token",
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	invite, err := f.invites.create(f.ctx, f.app, f.template, time.Now(), time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.Empty(t, invite.ID)
	assert.Len(t, f.repo.LedgerEntries(first.Invite.ID), 1)
	assert.True(t, f.account(t).Reserved.Equal(dec("0.5")))
}
