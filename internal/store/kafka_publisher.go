package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/lowaak/smart-trainer/ftp-test/internal/ftp"
)

// FTPMessageKey keys FTP updates on the results topic
const FTPMessageKey = "ftp"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ftpUpdate is the payload of an FTP message
type ftpUpdate struct {
	FTP       int       `json:"ftp"`
	UpdatedAt time.Time `json:"updated_at"`
}

// KafkaPublisher publishes results as JSON keyed by result ID, so a compacted
// topic keeps the latest copy of each. FTP updates share the topic under
// FTPMessageKey.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *log.Logger
	now    func() time.Time
}

var _ ResultStore = (*KafkaPublisher)(nil)

func NewKafkaPublisher(brokers []string, topic string, logger *log.Logger) *KafkaPublisher {
	if logger == nil {
		panic("KafkaPublisher: logger cannot be nil")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return newKafkaPublisher(w, topic, logger)
}

func newKafkaPublisher(w messageWriter, topic string, logger *log.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic, logger: logger, now: time.Now}
}

func (p *KafkaPublisher) SaveResult(ctx context.Context, result ftp.TestResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result %s: %w", result.ID, err)
	}
	return p.write(ctx, kafka.Message{
		Key:   []byte(result.ID),
		Value: payload,
		Time:  result.CompletedAt,
		Headers: []kafka.Header{
			{Key: "protocol", Value: []byte(result.Protocol)},
			{Key: "partial", Value: []byte(strconv.FormatBool(result.Partial))},
		},
	})
}

func (p *KafkaPublisher) SaveFTP(ctx context.Context, ftpWatts int) error {
	now := p.now()
	payload, err := json.Marshal(ftpUpdate{FTP: ftpWatts, UpdatedAt: now})
	if err != nil {
		return fmt.Errorf("encoding ftp update: %w", err)
	}
	return p.write(ctx, kafka.Message{Key: []byte(FTPMessageKey), Value: payload, Time: now})
}

func (p *KafkaPublisher) write(ctx context.Context, msg kafka.Message) error {
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing %s to %s: %w", msg.Key, p.topic, err)
	}
	p.logger.Printf("KafkaPublisher: published %s to %s", msg.Key, p.topic)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
