//go:build integration

package producer_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"kcc-issuer/internal/platform/kafka"
	"kcc-issuer/internal/platform/kafka/producer"
	audit "kcc-issuer/pkg/platform/audit"
	"kcc-issuer/pkg/platform/audit/publishers/stream"
	"kcc-issuer/pkg/testutil/containers"
)

type ProducerIntegrationSuite struct {
	suite.Suite
	kafka    *containers.KafkaContainer
	producer *producer.Producer
}

func TestProducerIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(ProducerIntegrationSuite))
}

func (s *ProducerIntegrationSuite) SetupSuite() {
	s.kafka = containers.GetManager().GetKafka(s.T())

	cfg := kafka.DefaultProducerConfig(s.kafka.Brokers)
	cfg.DeliveryTimeout = 10 * time.Second
	prod, err := producer.New(cfg, nil)
	s.Require().NoError(err)
	s.producer = prod
}

func (s *ProducerIntegrationSuite) TearDownSuite() {
	if s.producer != nil {
		s.Require().NoError(s.producer.Close())
	}
}

func (s *ProducerIntegrationSuite) TestProduceDeliversWithHeaders() {
	ctx := context.Background()
	topic := "test-produce-sync"
	s.Require().NoError(s.kafka.CreateTopic(ctx, topic, 1, 1))

	err := s.producer.Produce(ctx, &producer.Message{
		Topic:   topic,
		Key:     []byte("did:example:alice"),
		Value:   []byte("payload"),
		Headers: map[string]string{"action": "credential_issued"},
	})
	s.Require().NoError(err)

	consumer, err := s.kafka.NewConsumer(ctx, "test-produce-group", topic)
	s.Require().NoError(err)
	defer consumer.Close()

	record := s.kafka.WaitForMessage(ctx, consumer, 5*time.Second, func(r *kgo.Record) bool {
		return string(r.Key) == "did:example:alice"
	})
	s.Require().NotNil(record, "message should be consumable")
	s.Equal("payload", string(record.Value))
	s.Require().Len(record.Headers, 1)
	s.Equal("action", record.Headers[0].Key)
	s.Equal("credential_issued", string(record.Headers[0].Value))
}

func (s *ProducerIntegrationSuite) TestAuditStreamPublishesIssuedEvent() {
	ctx := context.Background()
	topic := "kcc.audit.events.test"
	s.Require().NoError(s.kafka.CreateTopic(ctx, topic, 1, 1))

	sink := stream.New(s.producer, topic)
	event := audit.Event{
		ID:         uuid.New(),
		Timestamp:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Action:     audit.ActionCredentialIssued,
		Outcome:    audit.OutcomeSuccess,
		IssuerDID:  "did:jwk:issuer",
		SubjectDID: "did:example:bob",
		RecordID:   "record-1",
		RequestID:  "req-1",
	}
	s.Require().NoError(sink.Publish(ctx, event))

	consumer, err := s.kafka.NewConsumer(ctx, "test-audit-stream-group", topic)
	s.Require().NoError(err)
	defer consumer.Close()

	record := s.kafka.WaitForMessage(ctx, consumer, 5*time.Second, func(r *kgo.Record) bool {
		return string(r.Key) == "did:example:bob"
	})
	s.Require().NotNil(record)

	var body map[string]any
	s.Require().NoError(json.Unmarshal(record.Value, &body))
	s.Equal("credential_issued", body["action"])
	s.Equal("record-1", body["record_id"])
	s.Equal("2026-01-02T03:04:05Z", body["timestamp"])
}

func (s *ProducerIntegrationSuite) TestProduceToNewTopicAutoCreates() {
	ctx := context.Background()
	topic := "test-auto-create-" + uuid.NewString()

	s.Require().NoError(s.producer.Produce(ctx, &producer.Message{
		Topic: topic,
		Key:   []byte("auto-create-key"),
		Value: []byte("auto-create-value"),
	}))

	consumer, err := s.kafka.NewConsumer(ctx, "test-auto-create-consumer", topic)
	s.Require().NoError(err)
	defer consumer.Close()

	record := s.kafka.WaitForMessage(ctx, consumer, 5*time.Second, func(r *kgo.Record) bool {
		return string(r.Key) == "auto-create-key"
	})
	s.NotNil(record, "message should be consumable from auto-created topic")
}

func (s *ProducerIntegrationSuite) TestPing() {
	s.NoError(s.producer.Ping(context.Background()))
}

func (s *ProducerIntegrationSuite) TestProduceAfterCloseFails() {
	prod, err := producer.New(kafka.DefaultProducerConfig(s.kafka.Brokers), nil)
	s.Require().NoError(err)
	s.Require().NoError(prod.Close())
	s.Require().NoError(prod.Close())

	err = prod.Produce(context.Background(), &producer.Message{Topic: "x"})
	s.ErrorIs(err, producer.ErrClosed)
}
