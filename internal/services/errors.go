package services

import (
	"context"
	"errors"

	"github.com/hirelab/assessor/internal/ratelimit"
	"github.com/hirelab/assessor/internal/store"
)

// Domain errors returned by the services. Handlers map them to status codes.
var (
	ErrForbidden            = errors.New("forbidden")
	ErrNotFound             = errors.New("not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrAttemptNotStarted    = errors.New("attempt has not started")
	ErrAttemptNotInProgress = errors.New("attempt is not in progress")
	ErrAttemptNotSubmitted  = errors.New("attempt is not awaiting evaluation")
	ErrAttemptExpired       = errors.New("time expired")
	ErrInviteInvalid        = errors.New("invite is not valid")
	ErrInviteExpired        = errors.New("invite has expired")
	ErrInsufficientCredits  = errors.New("insufficient credits")
	ErrNoOpenReservation    = errors.New("no open credit reservation")
	ErrUnsupportedLanguage  = errors.New("unsupported language")
	ErrLanguageNotAllowed   = errors.New("language not allowed for this question")
	ErrNoTestCases          = errors.New("no test cases configured")
	ErrNoValidEvents        = errors.New("no valid events")
	ErrNotCodingQuestion    = errors.New("question is not a coding question")
)

// RateLimitedError carries the wait before the next execution is allowed.
type RateLimitedError = ratelimit.LimitedError

// Repository is the transactional data access the services need.
type Repository interface {
	store.Querier
	InTx(ctx context.Context, fn func(q store.Querier) error) error
}

func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
