package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hirelab/assessor/internal/mq"
	"github.com/hirelab/assessor/types"
	"github.com/shopspring/decimal"
)

// Channels the core publishes to.
const (
	ChannelInviteIssued     = "assessment.invite.issued"
	ChannelAttemptEvaluated = "assessment.attempt.evaluated"
	ChannelCreditsRefunded  = "assessment.credits.refunded"
)

var errEventsDisabled = errors.New("event publishing is disabled")

// Publisher is satisfied by *mq.MQ.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// Events publishes domain events. A nil *Events or one without a publisher
// drops every event.
type Events struct {
	publisher Publisher
}

func NewEvents(publisher Publisher) *Events {
	return &Events{publisher: publisher}
}

func (e *Events) enabled() bool {
	return e != nil && e.publisher != nil
}

func (e *Events) publish(ctx context.Context, channel string, payload any) error {
	if !e.enabled() {
		return errEventsDisabled
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	attrs := map[string]string{
		mq.TypeAttribute: channel,
		"occurred_at":    time.Now().UTC().Format(time.RFC3339),
	}
	if keyed, ok := payload.(interface{ orderingKey() string }); ok {
		attrs[mq.OrderingKeyAttribute] = keyed.orderingKey()
	}
	_, err = e.publisher.Publish(ctx, channel, data, attrs)
	return err
}

// InviteIssuedEvent asks the notification service to email an invite.
type InviteIssuedEvent struct {
	InviteID      uuid.UUID  `json:"inviteId"`
	ApplicationID uuid.UUID  `json:"applicationId"`
	CompanyID     uuid.UUID  `json:"companyId"`
	CandidateID   uuid.UUID  `json:"candidateId"`
	Email         string     `json:"email"`
	TemplateTitle string     `json:"templateTitle"`
	InviteURL     string     `json:"inviteUrl"`
	Cycle         int        `json:"cycle"`
	Rotated       bool       `json:"rotated"`
	ExpiresAt     *time.Time `json:"expiresAt"`
}

func (e InviteIssuedEvent) orderingKey() string { return e.ApplicationID.String() }

type AttemptEvaluatedEvent struct {
	AttemptID     uuid.UUID      `json:"attemptId"`
	ApplicationID uuid.UUID      `json:"applicationId"`
	InviteID      uuid.NullUUID  `json:"inviteId"`
	TotalScore    float64        `json:"totalScore"`
	Passed        bool           `json:"passed"`
	Severity      types.Severity `json:"severity"`
}

func (e AttemptEvaluatedEvent) orderingKey() string { return e.ApplicationID.String() }

type CreditsRefundedEvent struct {
	InviteID  uuid.UUID       `json:"inviteId"`
	CompanyID uuid.UUID       `json:"companyId"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
}

func (e CreditsRefundedEvent) orderingKey() string { return e.CompanyID.String() }
