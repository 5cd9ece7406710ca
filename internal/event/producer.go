package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tejasdc/starter-stack/internal/domain"
	pkgkafka "github.com/tejasdc/starter-stack/pkg/kafka"
	"github.com/tejasdc/starter-stack/pkg/logger"
)

// Event types. Topics are derived with pkgkafka.Topic.
const (
	TypeUserRegistered = "user.registered"
	TypeAPIKeyIssued   = "apikey.issued"
	TypeAPIKeyRevoked  = "apikey.revoked"
)

// Aggregate type constants.
const (
	AggregateTypeUser   = "user"
	AggregateTypeAPIKey = "api_key"
)

// Source identifies events originating from this service.
const Source = "starter-api"

var (
	TopicUserRegistered = pkgkafka.Topic("user", "registered")
	TopicAPIKeyIssued   = pkgkafka.Topic("apikey", "issued")
	TopicAPIKeyRevoked  = pkgkafka.Topic("apikey", "revoked")
)

// UserRegisteredData is the payload for a user.registered event.
type UserRegisteredData struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// APIKeyData is the payload for apikey.issued and apikey.revoked events. It
// carries the display prefix only, never the secret or its hash.
type APIKeyData struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Label     string `json:"label"`
	Prefix    string `json:"prefix"`
	RevokedAt string `json:"revoked_at,omitempty"`
}

// Publisher publishes credential lifecycle events.
type Publisher interface {
	PublishUserRegistered(ctx context.Context, user *domain.User) error
	PublishAPIKeyIssued(ctx context.Context, key *domain.APIKey) error
	PublishAPIKeyRevoked(ctx context.Context, key *domain.APIKey) error
}

type kafkaPublisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes domain events to Kafka.
type Producer struct {
	kafka  kafkaPublisher
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(kafka kafkaPublisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishUserRegistered publishes a user.registered event.
func (p *Producer) PublishUserRegistered(ctx context.Context, user *domain.User) error {
	data := UserRegisteredData{
		ID:    user.ID,
		Name:  user.Name,
		Email: user.Email,
	}
	return p.publish(ctx, TopicUserRegistered, TypeUserRegistered, user.ID, AggregateTypeUser, data)
}

// PublishAPIKeyIssued publishes an apikey.issued event.
func (p *Producer) PublishAPIKeyIssued(ctx context.Context, key *domain.APIKey) error {
	return p.publish(ctx, TopicAPIKeyIssued, TypeAPIKeyIssued, key.ID, AggregateTypeAPIKey, keyData(key))
}

// PublishAPIKeyRevoked publishes an apikey.revoked event.
func (p *Producer) PublishAPIKeyRevoked(ctx context.Context, key *domain.APIKey) error {
	return p.publish(ctx, TopicAPIKeyRevoked, TypeAPIKeyRevoked, key.ID, AggregateTypeAPIKey, keyData(key))
}

func (p *Producer) publish(ctx context.Context, topic, eventType, aggregateID, aggregateType string, data any) error {
	event, err := pkgkafka.NewEvent(eventType, aggregateID, aggregateType, Source, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", eventType, err)
	}
	event.WithRequestID(logger.RequestIDFromContext(ctx))

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("event_type", eventType),
		slog.String("aggregate_id", aggregateID),
	)
	return nil
}

func keyData(k *domain.APIKey) APIKeyData {
	d := APIKeyData{
		ID:     k.ID,
		UserID: k.UserID,
		Label:  k.Label,
		Prefix: k.KeyPrefix,
	}
	if k.RevokedAt != nil {
		d.RevokedAt = k.RevokedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	return d
}

// Noop discards events. It is used when no Kafka brokers are configured.
type Noop struct{}

func (Noop) PublishUserRegistered(context.Context, *domain.User) error { return nil }
func (Noop) PublishAPIKeyIssued(context.Context, *domain.APIKey) error { return nil }
func (Noop) PublishAPIKeyRevoked(context.Context, *domain.APIKey) error { return nil }

var (
	_ Publisher = (*Producer)(nil)
	_ Publisher = Noop{}
)
