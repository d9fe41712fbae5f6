package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ClarityPull/internal/domain/models"
	domrepo "ClarityPull/internal/domain/repository"
	applogger "ClarityPull/pkg/logger"
	pkgkafka "ClarityPull/pkg/kafka"
)

// KafkaPollHandler consumes poll requests and runs them synchronously, so the
// offset is committed only after the run finished.
type KafkaPollHandler struct {
	topic   string
	polls   *PollService
	metrics domrepo.Metrics
	l       *applogger.Logger
}

func NewKafkaPollHandler(topic string, polls *PollService, metrics domrepo.Metrics, l *applogger.Logger) *KafkaPollHandler {
	if l == nil {
		l = applogger.Nop()
	}
	return &KafkaPollHandler{topic: topic, polls: polls, metrics: metrics, l: l.With(applogger.String("topic", topic))}
}

func (h *KafkaPollHandler) Topic() string { return h.topic }

// incoming message schema: {symbols, groups, mode, from_date}
func (h *KafkaPollHandler) Handle(ctx context.Context, b []byte) error {
	var req models.PollRequest
	if err := json.Unmarshal(b, &req); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return pkgkafka.NonRetryable(fmt.Errorf("decode poll request: %w", err))
	}

	start := time.Now()
	summary, err := h.polls.Execute(ctx, req)
	h.metrics.RecordLatency("consumer_poll", time.Since(start).Seconds())

	var verr *domrepo.ValidationError
	switch {
	case errors.As(err, &verr):
		h.metrics.RecordError("consumer_invalid")
		return pkgkafka.NonRetryable(err)
	case errors.Is(err, domrepo.ErrAuth):
		// A bad credential will not fix itself on redelivery.
		h.metrics.RecordError("consumer_auth")
		return pkgkafka.NonRetryable(err)
	case err != nil:
		h.metrics.RecordError("consumer_poll")
		return err
	}

	h.l.Info("poll request handled",
		applogger.String("mode", req.Mode),
		applogger.Int("succeeded", len(summary.Succeeded)),
		applogger.Int("failed", len(summary.Failed)),
		applogger.Int("skipped", len(summary.Skipped)),
	)
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaPollHandler)(nil)
