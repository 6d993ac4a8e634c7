package client

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"registration-service/internal/config"
)

// KafkaProducer publishes messages to the configured brokers.
type KafkaProducer struct {
	Writer  *kafka.Writer
	brokers []string
	logger  *zap.Logger
}

func NewKafkaProducer(cfg *config.Config, logger *zap.Logger) (*KafkaProducer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Kafka.Brokers...),
		Balancer:               &kafka.Hash{},
		MaxAttempts:            3,
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: !cfg.IsProduction(),
	}

	p := &KafkaProducer{
		Writer:  writer,
		brokers: cfg.Kafka.Brokers,
		logger:  logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.HealthCheck(ctx); err != nil {
		_ = writer.Close()
		return nil, err
	}

	logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	return p, nil
}

// ProduceMessage writes one message synchronously. Messages with the same
// key land on the same partition.
func (p *KafkaProducer) ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	if err := p.Writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	p.logger.Debug("Produced kafka message",
		zap.String("topic", topic),
		zap.Int("value_size", len(value)))
	return nil
}

// HealthCheck dials the first broker and lists partitions.
func (p *KafkaProducer) HealthCheck(ctx context.Context) error {
	dialer := &kafka.Dialer{Timeout: 5 * time.Second, DualStack: true}

	conn, err := dialer.DialContext(ctx, "tcp", p.brokers[0])
	if err != nil {
		return fmt.Errorf("failed to connect to kafka broker: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ReadPartitions(); err != nil {
		return fmt.Errorf("failed to read kafka partitions: %w", err)
	}
	return nil
}

func (p *KafkaProducer) Close() error {
	if p.Writer != nil {
		if err := p.Writer.Close(); err != nil {
			p.logger.Error("failed to close Kafka producer", zap.Error(err))
			return err
		}
		p.logger.Info("Kafka producer closed")
	}
	return nil
}
