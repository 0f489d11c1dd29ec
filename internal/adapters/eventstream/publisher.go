// Package eventstream publishes punishment lifecycle events to Kafka, keyed by account id.
package eventstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Inpuzah/stafftools/internal/db"
)

const (
	EventIssued  = "punishment.issued"
	EventRemoved = "punishment.removed"
)

type Event struct {
	Event      string     `json:"event"`
	At         time.Time  `json:"at"`
	ID         int64      `json:"id"`
	AccountID  string     `json:"account_id"`
	Account    string     `json:"account"`
	Type       string     `json:"type"`
	Reason     string     `json:"reason"`
	Staff      string     `json:"staff"`
	Duration   int64      `json:"duration_minutes"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	RemovedBy  string     `json:"removed_by,omitempty"`
	Removal    string     `json:"removal_reason,omitempty"`
	ServerName string     `json:"server"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher struct {
	writer messageWriter
	now    func() time.Time
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
			RequiredAcks:           kafka.RequireOne,
		},
		now: time.Now,
	}
}

func (p *Publisher) Name() string {
	return "kafka"
}

func (p *Publisher) NotifyIssued(ctx context.Context, punishment *db.Punishment) error {
	return p.publish(ctx, EventIssued, punishment)
}

func (p *Publisher) NotifyRemoved(ctx context.Context, punishment *db.Punishment) error {
	return p.publish(ctx, EventRemoved, punishment)
}

func (p *Publisher) Start(context.Context) error {
	return nil
}

func (p *Publisher) Stop(context.Context) error {
	return p.writer.Close()
}

func (p *Publisher) publish(ctx context.Context, kind string, punishment *db.Punishment) error {
	event := Event{
		Event:      kind,
		At:         p.now().UTC(),
		ID:         punishment.ID,
		AccountID:  punishment.AccountID.String(),
		Account:    punishment.AccountName,
		Type:       string(punishment.Type),
		Reason:     punishment.Reason,
		Staff:      punishment.StaffName,
		Duration:   punishment.Duration,
		ServerName: punishment.ServerName,
	}
	if !punishment.IsPermanent() {
		expires := punishment.ExpiresTime().UTC()
		event.ExpiresAt = &expires
	}
	if punishment.RemovedByName != nil {
		event.RemovedBy = *punishment.RemovedByName
	}
	if punishment.RemovedReason != nil {
		event.Removal = *punishment.RemovedReason
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", kind, err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.AccountID),
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("write %s event: %w", kind, err)
	}
	return nil
}
