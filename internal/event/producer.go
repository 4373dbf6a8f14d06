package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/authcore/internal/domain"
	pkgkafka "github.com/utafrali/authcore/pkg/kafka"
	"github.com/utafrali/authcore/pkg/logger"
)

// Kafka topics for auth domain events.
var (
	TopicUserRegistered      = pkgkafka.Topic("user", "registered")
	TopicUserPasswordChanged = pkgkafka.Topic("user", "password_changed")
	TopicUserSessionsRevoked = pkgkafka.Topic("user", "sessions_revoked")
	TopicUserEmailVerified   = pkgkafka.Topic("user", "email_verified")
	TopicUserDeleted         = pkgkafka.Topic("user", "deleted")
)

// SourceAuthService identifies events originating from this service.
const SourceAuthService = "auth-service"

// Password change reasons.
const (
	ReasonChanged = "changed"
	ReasonReset   = "reset"
	ReasonSet     = "set"
)

// UserRegisteredData is the payload for user.registered. Emails stay in
// the credential store; consumers look them up by id.
type UserRegisteredData struct {
	UserID   string `json:"userId"`
	Provider string `json:"provider"`
}

// PasswordChangedData is the payload for user.password_changed.
type PasswordChangedData struct {
	UserID string `json:"userId"`
	Reason string `json:"reason"`
}

// SessionsRevokedData is the payload for user.sessions_revoked.
type SessionsRevokedData struct {
	UserID        string `json:"userId"`
	Revoked       int64  `json:"revoked"`
	KeptSessionID string `json:"keptSessionId,omitempty"`
}

// UserRefData is the payload for events that only carry the user id.
type UserRefData struct {
	UserID string `json:"userId"`
}

// Publisher is the part of pkg/kafka.Producer the event producer needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes auth domain events. A nil Publisher turns every
// method into a no-op, which is how KAFKA_ENABLED=false is served.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the auth service.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishUserRegistered publishes a user.registered event.
func (p *Producer) PublishUserRegistered(ctx context.Context, user *domain.User) error {
	return p.publish(ctx, TopicUserRegistered, user.ID, UserRegisteredData{UserID: user.ID, Provider: user.Provider})
}

// PublishPasswordChanged publishes a user.password_changed event.
func (p *Producer) PublishPasswordChanged(ctx context.Context, userID, reason string) error {
	return p.publish(ctx, TopicUserPasswordChanged, userID, PasswordChangedData{UserID: userID, Reason: reason})
}

// PublishSessionsRevoked publishes a user.sessions_revoked event.
func (p *Producer) PublishSessionsRevoked(ctx context.Context, userID string, revoked int64, keptSessionID string) error {
	return p.publish(ctx, TopicUserSessionsRevoked, userID, SessionsRevokedData{
		UserID:        userID,
		Revoked:       revoked,
		KeptSessionID: keptSessionID,
	})
}

// PublishEmailVerified publishes a user.email_verified event.
func (p *Producer) PublishEmailVerified(ctx context.Context, userID string) error {
	return p.publish(ctx, TopicUserEmailVerified, userID, UserRefData{UserID: userID})
}

// PublishUserDeleted publishes a user.deleted event.
func (p *Producer) PublishUserDeleted(ctx context.Context, userID string) error {
	return p.publish(ctx, TopicUserDeleted, userID, UserRefData{UserID: userID})
}

func (p *Producer) publish(ctx context.Context, topic, userID string, data any) error {
	if p.kafka == nil {
		return nil
	}

	event, err := pkgkafka.NewEvent(SourceAuthService, topic, userID, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	event.CorrelationID = logger.CorrelationIDFromContext(ctx)

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("user_id", userID),
	)
	return nil
}
