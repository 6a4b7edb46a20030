// Package events publishes session-lifecycle events onto a RabbitMQ
// topic exchange. Adapted from workspace-service/internal/rabbitmq/
// producer.go (same amqp091-go Dial -> Channel -> ExchangeDeclare ->
// publish shape) to complete the WorkspaceService.publishEvent stub the
// teacher left as a "// TODO: Publish to a separate audit queue if
// needed" no-op (see SPEC_FULL.md, supplement 2). Best-effort: publish
// failures are logged, never fatal, matching spec.md §4.6/§4.7's
// best-effort semantics for sweep/stale-delete/conflict-recovery.
package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeName = "runtime.sessions"
	ExchangeType = "topic"
)

// EventType is the routing key for a session-lifecycle event.
type EventType string

const (
	SessionCreated   EventType = "session.created"
	SessionReused    EventType = "session.reused"
	SessionHeartbeat EventType = "session.heartbeat"
	SessionDeleted   EventType = "session.deleted"
	SessionSwept     EventType = "session.swept"
)

// Payload is the audit body attached to every event.
type Payload struct {
	ActorID   string `json:"actorId"`
	ChatID    string `json:"chatId"`
	ComposeID string `json:"composeId,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Publisher wraps a single AMQP connection/channel. A nil *Publisher is
// valid and turns every Publish call into a no-op, so the orchestrator
// can be built without RabbitMQ configured (matching the nil-safe
// `if h.redis != nil` idiom the teacher uses for optional dependencies
// in gateway/internal/handler/auth.go).
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// New dials amqpURL and declares the topic exchange. Pass an empty
// amqpURL to opt out of publishing entirely (returns nil, nil).
func New(amqpURL string) (*Publisher, error) {
	if amqpURL == "" {
		return nil, nil
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(ExchangeName, ExchangeType, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, channel: ch}, nil
}

func (p *Publisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

// Publish emits body under routing key eventType. Failures are logged
// and swallowed: the caller's operation must never fail because the
// audit bus is unavailable.
func (p *Publisher) Publish(ctx context.Context, eventType EventType, body Payload) {
	if p == nil || p.channel == nil {
		return
	}

	envelope := map[string]any{
		"type":      string(eventType),
		"timestamp": time.Now().UTC(),
		"payload":   body,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		log.Printf("events: marshal %s failed: %v", eventType, err)
		return
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.channel.PublishWithContext(publishCtx, ExchangeName, string(eventType), false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        data,
	})
	if err != nil {
		log.Printf("events: publish %s failed: %v", eventType, err)
	}
}
