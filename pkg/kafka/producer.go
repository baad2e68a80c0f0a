package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var ErrNoTopic = errors.New("kafka: topic is empty")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Producer writes domain events to Kafka. It satisfies the same Publish
// contract as the SNS client so either transport can back the publisher.
type Producer struct {
	writer messageWriter
	logger *zap.Logger
}

// NewProducer builds a writer that routes each message by its own topic and
// hashes on the key, so events for one donation or withdrawal stay ordered.
func NewProducer(brokers []string, logger *zap.Logger) *Producer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
	logger.Info("Kafka producer initialized", zap.Strings("brokers", brokers))
	return newProducer(w, logger)
}

func newProducer(w messageWriter, logger *zap.Logger) *Producer {
	return &Producer{writer: w, logger: logger}
}

// Publish writes message to topic. The entity id and event type found in
// the payload become the message key and an "event_type" header.
func (p *Producer) Publish(ctx context.Context, topic string, message []byte) error {
	if topic == "" {
		return ErrNoTopic
	}

	key, eventType := envelope(message)
	msg := kafkago.Message{Topic: topic, Key: key, Value: message}
	if eventType != "" {
		msg.Headers = []kafkago.Header{{Key: "event_type", Value: []byte(eventType)}}
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write to %s: %w", topic, err)
	}
	p.logger.Debug("Kafka event written", zap.String("topic", topic), zap.ByteString("key", key))
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func envelope(message []byte) (key []byte, eventType string) {
	var head struct {
		EventType    string `json:"event_type"`
		DonationID   string `json:"donation_id"`
		WithdrawalID string `json:"withdrawal_id"`
	}
	if json.Unmarshal(message, &head) != nil {
		return nil, ""
	}
	switch {
	case head.DonationID != "":
		key = []byte(head.DonationID)
	case head.WithdrawalID != "":
		key = []byte(head.WithdrawalID)
	}
	return key, head.EventType
}
