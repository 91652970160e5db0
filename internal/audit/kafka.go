package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/cadastre-match/internal/audit")

// KafkaConfig holds the audit producer configuration
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// KafkaSink publishes decisions as JSON messages keyed by collection record,
// so every decision on one record lands on the same partition in order
type KafkaSink struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaSink creates a producer for the audit topic
func NewKafkaSink(cfg KafkaConfig, logger *zap.Logger) *KafkaSink {
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequireAll,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: true,
	}
	return newKafkaSink(writer, cfg.Topic, logger)
}

func newKafkaSink(w messageWriter, topic string, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSink{writer: w, topic: topic, logger: logger}
}

func (s *KafkaSink) Record(ctx context.Context, d Decision) error {
	ctx, span := tracer.Start(ctx, "audit.KafkaSink.Record")
	defer span.End()

	msg, err := decisionMessage(s.topic, d)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Error("Failed to publish audit decision", zap.String("proposal_id", d.ProposalID), zap.Error(err))
		return errors.Wrap(err, "publish audit decision")
	}

	s.logger.Debug("Published audit decision",
		zap.String("proposal_id", d.ProposalID),
		zap.String("decision", string(d.Type)))
	return nil
}

// Close flushes and closes the producer
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

func decisionMessage(topic string, d Decision) (kafka.Message, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return kafka.Message{}, errors.Wrap(err, "encode audit decision")
	}
	return kafka.Message{
		Topic: topic,
		Key:   []byte(d.SourceRecordID),
		Value: data,
		Time:  d.DecidedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("match." + string(d.Type))},
			{Key: "proposal_id", Value: []byte(d.ProposalID)},
			{Key: "schema_version", Value: []byte("1.0")},
		},
	}, nil
}
