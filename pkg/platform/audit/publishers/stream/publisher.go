// Package stream forwards audit events to a Kafka topic.
//
// The sink is secondary to the ledger store. A run of broker failures opens a
// circuit breaker and events are skipped until its cooldown ends.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"kcc-issuer/internal/platform/kafka/producer"
	audit "kcc-issuer/pkg/platform/audit"
	"kcc-issuer/pkg/platform/circuit"
)

// ErrCircuitOpen is returned while the breaker is skipping deliveries.
var ErrCircuitOpen = errors.New("audit stream circuit open")

// Producer is the subset of the Kafka producer the sink needs.
type Producer interface {
	Produce(ctx context.Context, msg *producer.Message) error
}

// Publisher writes audit events as JSON records keyed by subject DID.
type Publisher struct {
	producer Producer
	topic    string
	breaker  *circuit.Breaker
	logger   *slog.Logger
	timeout  time.Duration
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for circuit transitions.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithBreaker replaces the default breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(p *Publisher) {
		if b != nil {
			p.breaker = b
		}
	}
}

// WithTimeout bounds each delivery.
func WithTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func New(prod Producer, topic string, opts ...Option) *Publisher {
	p := &Publisher{
		producer: prod,
		topic:    topic,
		breaker:  circuit.New("audit-stream"),
		timeout:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// record is the wire shape on the topic.
type record struct {
	ID           string `json:"id"`
	Timestamp    string `json:"timestamp"`
	Action       string `json:"action"`
	Outcome      string `json:"outcome"`
	IssuerDID    string `json:"issuer_did,omitempty"`
	SubjectDID   string `json:"subject_did,omitempty"`
	RecordID     string `json:"record_id,omitempty"`
	Stage        string `json:"stage,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	Reason       string `json:"reason,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
	ClientDevice string `json:"client_device,omitempty"`
}

func encode(event audit.Event) ([]byte, error) {
	return json.Marshal(record{
		ID:           event.ID.String(),
		Timestamp:    event.Timestamp.UTC().Format(time.RFC3339Nano),
		Action:       string(event.Action),
		Outcome:      string(event.Outcome),
		IssuerDID:    event.IssuerDID,
		SubjectDID:   event.SubjectDID,
		RecordID:     event.RecordID,
		Stage:        event.Stage,
		ErrorCode:    event.ErrorCode,
		Reason:       event.Reason,
		RequestID:    event.RequestID,
		ClientDevice: event.ClientDevice,
	})
}

// Publish implements audit.Sink.
func (p *Publisher) Publish(ctx context.Context, event audit.Event) error {
	if !p.breaker.Allow() {
		return ErrCircuitOpen
	}

	value, err := encode(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = p.producer.Produce(ctx, &producer.Message{
		Topic: p.topic,
		Key:   []byte(event.SubjectDID),
		Value: value,
		Headers: map[string]string{
			"action":     string(event.Action),
			"request_id": event.RequestID,
		},
	})
	if err != nil {
		if p.breaker.RecordFailure().Opened && p.logger != nil {
			p.logger.Warn("audit stream circuit opened", "topic", p.topic, "error", err)
		}
		return err
	}

	if p.breaker.RecordSuccess().Closed && p.logger != nil {
		p.logger.Info("audit stream circuit closed", "topic", p.topic)
	}
	return nil
}
