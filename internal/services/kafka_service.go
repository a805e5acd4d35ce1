package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jonmaxmore/Botanical-Audit-Framework-sub003/internal/models"
)

// KafkaService consumes activity commands from the certification workflow
// and publishes record-chain domain events. Implements RecordEventPublisher,
// ChainEventPublisher and KeyEventPublisher.
type KafkaService struct {
	reader           *kafka.Reader
	writer           *kafka.Writer
	bootstrapServers string
	consumerGroup    string
	topic            string
	producerTopic    string
}

// NewKafkaService creates a new KafkaService instance.
func NewKafkaService(bootstrapServers, consumerGroup, topic, producerTopic string) *KafkaService {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{bootstrapServers},
		Topic:       topic,
		GroupID:     consumerGroup,
		MinBytes:    10e3, // 10KB
		MaxBytes:    10e6, // 10MB
		MaxWait:     1 * time.Second,
		StartOffset: kafka.LastOffset,
	})

	writer := &kafka.Writer{
		Addr:         kafka.TCP(bootstrapServers),
		Topic:        producerTopic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 100 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}

	return &KafkaService{
		reader:           reader,
		writer:           writer,
		bootstrapServers: bootstrapServers,
		consumerGroup:    consumerGroup,
		topic:            topic,
		producerTopic:    producerTopic,
	}
}

// ConsumeActivityEvents consumes cultivation activity commands and hands
// each one to handler. A failing message is logged and skipped; dead-letter
// routing belongs to the platform, not this service.
func (ks *KafkaService) ConsumeActivityEvents(ctx context.Context, handler func(event *models.ActivityRecordedEvent) error) error {
	log.Printf("🎧 Consuming activity events from topic: %s", ks.topic)

	for {
		select {
		case <-ctx.Done():
			log.Println("🛑 Stopping activity event consumption")
			return ctx.Err()
		default:
			msg, err := ks.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Printf("❌ Error reading Kafka message: %v", err)
				continue
			}

			log.Printf("📨 Message received: partition=%d offset=%d key=%s",
				msg.Partition, msg.Offset, string(msg.Key))

			var event models.ActivityRecordedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				log.Printf("❌ Error parsing activity event: %v", err)
				continue
			}

			if err := handler(&event); err != nil {
				log.Printf("❌ Error handling activity event for owner %s: %v", event.OwnerID, err)
				continue
			}

			log.Printf("✅ Activity event handled: owner=%s type=%s", event.OwnerID, event.ActivityType)
		}
	}
}

// PublishRecordSigned publishes a record signed event.
func (ks *KafkaService) PublishRecordSigned(ctx context.Context, event *models.RecordSignedEvent) error {
	return ks.publishEvent(ctx, "event.record.signed", event)
}

// PublishChainVerified publishes a successful chain verification event.
func (ks *KafkaService) PublishChainVerified(ctx context.Context, event *models.ChainVerifiedEvent) error {
	return ks.publishEvent(ctx, "event.chain.verified", event)
}

// PublishChainInconsistency publishes a chain verification failure event.
func (ks *KafkaService) PublishChainInconsistency(ctx context.Context, event *models.ChainInconsistencyEvent) error {
	return ks.publishEvent(ctx, "event.chain.inconsistency", event)
}

// PublishKeyRotated publishes a key rotation event.
func (ks *KafkaService) PublishKeyRotated(ctx context.Context, event *models.KeyRotatedEvent) error {
	return ks.publishEvent(ctx, "event.key.rotated", event)
}

// PublishKeyRevoked publishes a key revocation event.
func (ks *KafkaService) PublishKeyRevoked(ctx context.Context, event *models.KeyRevokedEvent) error {
	return ks.publishEvent(ctx, "event.key.revoked", event)
}

// publishEvent publishes one domain event with the platform envelope headers.
func (ks *KafkaService) publishEvent(ctx context.Context, eventType string, event interface{}) error {
	message, err := newEventMessage(eventType, event)
	if err != nil {
		return err
	}

	if err := ks.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}

	log.Printf("📤 Event published: type=%s topic=%s", eventType, ks.producerTopic)
	return nil
}

// newEventMessage builds the event envelope. The topic is configured on the
// writer and must stay off the message: kafka-go rejects a write when both
// carry one.
func newEventMessage(eventType string, event interface{}) (kafka.Message, error) {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshalling event: %w", err)
	}

	return kafka.Message{
		Key:   []byte(eventType),
		Value: eventBytes,
		Headers: []kafka.Header{
			{
				Key:   "event-type",
				Value: []byte(eventType),
			},
			{
				Key:   "timestamp",
				Value: []byte(time.Now().Format(time.RFC3339)),
			},
		},
	}, nil
}

// Close closes the Kafka connections.
func (ks *KafkaService) Close() error {
	var errs []error

	if ks.reader != nil {
		if err := ks.reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing reader: %w", err))
		}
	}

	if ks.writer != nil {
		if err := ks.writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing writer: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("closing Kafka: %v", errs)
	}

	return nil
}

// VerifyConnection checks connectivity and the consumer topic.
func (ks *KafkaService) VerifyConnection(ctx context.Context) error {
	conn, err := kafka.DialContext(ctx, "tcp", ks.bootstrapServers)
	if err != nil {
		return fmt.Errorf("connecting to Kafka: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions(ks.topic)
	if err != nil {
		return fmt.Errorf("reading partitions for topic %s: %w", ks.topic, err)
	}

	log.Printf("✅ Kafka connection verified - Topic: %s, Partitions: %d", ks.topic, len(partitions))
	return nil
}
