package repository

import (
	"context"
	"errors"
	"strconv"

	"ClarityPull/internal/domain/models"
	domrepo "ClarityPull/internal/domain/repository"
	pkgkafka "ClarityPull/pkg/kafka"
)

// AlertEvent is the payload published for each new momentum alert.
type AlertEvent struct {
	Type   string               `json:"type"`
	Symbol string               `json:"symbol"`
	Label  string               `json:"label"`
	Market string               `json:"market"`
	Alert  models.MomentumAlert `json:"alert"`
}

// StatusEvent is the payload published on every polling status change.
type StatusEvent struct {
	Type   string               `json:"type"`
	Status models.PollingStatus `json:"status"`
	State  string               `json:"consumer_state"`
	Stale  bool                 `json:"stale"`
}

func NewAlertEvents(sym models.Symbol, alerts []models.MomentumAlert) []AlertEvent {
	out := make([]AlertEvent, len(alerts))
	for i, a := range alerts {
		out[i] = AlertEvent{Type: "momentum_alert", Symbol: sym.Name, Label: sym.Label, Market: sym.Market, Alert: a}
	}
	return out
}

func NewStatusEvent(s models.PollingStatus) StatusEvent {
	state, stale := s.ConsumerState()
	return StatusEvent{Type: "polling_status", Status: s, State: state, Stale: stale}
}

// KafkaPublisher writes alert and status events keyed by symbol id.
type KafkaPublisher struct {
	producer    *pkgkafka.Producer
	alertsTopic string
	statusTopic string
}

func NewKafkaPublisher(producer *pkgkafka.Producer, alertsTopic, statusTopic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, alertsTopic: alertsTopic, statusTopic: statusTopic}
}

func (p *KafkaPublisher) PublishAlerts(ctx context.Context, sym models.Symbol, alerts []models.MomentumAlert) error {
	if len(alerts) == 0 {
		return nil
	}
	key := []byte(strconv.FormatInt(sym.ID, 10))
	events := NewAlertEvents(sym, alerts)
	msgs := make([]pkgkafka.Message, len(events))
	for i, e := range events {
		msgs[i] = pkgkafka.Message{Key: key, Value: e}
	}
	return p.producer.PublishBatch(ctx, p.alertsTopic, msgs)
}

func (p *KafkaPublisher) PublishStatus(ctx context.Context, s models.PollingStatus) error {
	key := []byte(strconv.FormatInt(s.SymbolID, 10))
	return p.producer.Publish(ctx, p.statusTopic, key, NewStatusEvent(s))
}

// MultiPublisher fans events out to every publisher and joins their errors.
type MultiPublisher []domrepo.EventPublisher

func (m MultiPublisher) PublishAlerts(ctx context.Context, sym models.Symbol, alerts []models.MomentumAlert) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishAlerts(ctx, sym, alerts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiPublisher) PublishStatus(ctx context.Context, s models.PollingStatus) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishStatus(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) PublishAlerts(context.Context, models.Symbol, []models.MomentumAlert) error {
	return nil
}

func (NopPublisher) PublishStatus(context.Context, models.PollingStatus) error { return nil }
