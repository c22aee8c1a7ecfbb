// Package kafka streams audit events to a Kafka topic, keyed by subject so one
// principal's events stay ordered within a partition.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "ticketd/pkg/platform/audit"
)

// Store produces audit events to Kafka.
type Store struct {
	client *kgo.Client
	topic  string
}

// payload is the wire shape consumers decode.
type payload struct {
	ID           string `json:"id"`
	Category     string `json:"category"`
	Timestamp    string `json:"timestamp"`
	Subject      string `json:"subject,omitempty"`
	Action       string `json:"action"`
	ClientID     string `json:"client_id,omitempty"`
	Service      string `json:"service,omitempty"`
	GrantType    string `json:"grant_type,omitempty"`
	ResponseType string `json:"response_type,omitempty"`
	Decision     string `json:"decision,omitempty"`
	Reason       string `json:"reason,omitempty"`
	TicketID     string `json:"ticket_id,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
	ClientIP     string `json:"client_ip,omitempty"`
}

// New connects a producer for the given brokers and topic.
func New(brokers []string, topic string) (*Store, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka audit sink requires at least one broker")
	}
	if topic == "" {
		return nil, errors.New("kafka audit sink requires a topic")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Store{client: client, topic: topic}, nil
}

// EnsureTopic creates the audit topic if it does not exist yet.
func (s *Store) EnsureTopic(ctx context.Context, partitions int32, replication int16) error {
	adm := kadm.NewClient(s.client)
	resp, err := adm.CreateTopics(ctx, partitions, replication, nil, s.topic)
	if err != nil {
		return fmt.Errorf("create audit topic: %w", err)
	}
	if r, ok := resp[s.topic]; ok && r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create audit topic %s: %w", s.topic, r.Err)
	}
	return nil
}

// Append produces one record and waits for the broker acknowledgement.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	value, err := json.Marshal(payload{
		ID:           event.ID,
		Category:     string(event.Category),
		Timestamp:    event.Timestamp.UTC().Format(time.RFC3339Nano),
		Subject:      event.Subject,
		Action:       event.Action,
		ClientID:     event.ClientID,
		Service:      event.Service,
		GrantType:    event.GrantType,
		ResponseType: event.ResponseType,
		Decision:     event.Decision,
		Reason:       event.Reason,
		TicketID:     event.TicketID,
		RequestID:    event.RequestID,
		ClientIP:     event.ClientIP,
	})
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	record := &kgo.Record{
		Key:   []byte(event.Subject),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "category", Value: []byte(event.Category)},
		},
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

// Close flushes buffered records and closes the client.
func (s *Store) Close(ctx context.Context) error {
	err := s.client.Flush(ctx)
	s.client.Close()
	return err
}
