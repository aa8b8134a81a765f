package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/kyungseok/federated-broker-go/common/messaging"
	"github.com/kyungseok/federated-broker-go/common/retry"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/metrics"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/repository"
)

const (
	outboxBatchSize = 100
	// 전송 완료 이벤트 보존 기간
	outboxRetention = 24 * time.Hour
)

// OutboxWorker Outbox 패턴 워커
//
// 원격 요청자에게 보낼 상태 변경 이벤트를 Kafka 로 발행한다.
type OutboxWorker struct {
	outboxRepo repository.OutboxRepository
	publisher  messaging.Publisher
	logger     *zap.Logger
	interval   time.Duration
	retention  time.Duration
	retry      retry.Config
}

// NewOutboxWorker Outbox 워커 생성
func NewOutboxWorker(
	outboxRepo repository.OutboxRepository,
	publisher messaging.Publisher,
	logger *zap.Logger,
	interval time.Duration,
) *OutboxWorker {
	return &OutboxWorker{
		outboxRepo: outboxRepo,
		publisher:  publisher,
		logger:     logger,
		interval:   interval,
		retention:  outboxRetention,
		retry: retry.Config{
			MaxAttempts:        3,
			InitialInterval:    100 * time.Millisecond,
			MaxInterval:        time.Second,
			BackoffCoefficient: 2.0,
		},
	}
}

// Start 워커 시작
func (w *OutboxWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	purgeTicker := time.NewTicker(w.retention / 24)
	defer purgeTicker.Stop()

	w.logger.Info("outbox worker started", zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("outbox worker stopped")
			return
		case <-ticker.C:
			if _, err := w.ProcessOnce(ctx); err != nil {
				w.logger.Error("failed to process outbox events", zap.Error(err))
			}
		case <-purgeTicker.C:
			if _, err := w.Purge(ctx); err != nil {
				w.logger.Error("failed to purge outbox events", zap.Error(err))
			}
		}
	}
}

// ProcessOnce 대기 중인 이벤트를 한 번 발행하고 발행 성공 수 반환
func (w *OutboxWorker) ProcessOnce(ctx context.Context) (int, error) {
	events, err := w.outboxRepo.FindPending(ctx, outboxBatchSize)
	if err != nil {
		return 0, err
	}

	if len(events) == 0 {
		return 0, nil
	}

	w.logger.Debug("processing outbox events", zap.Int("count", len(events)))

	sent := 0
	for _, event := range events {
		err := retry.Do(ctx, w.retry, w.logger, func() error {
			return w.publishEvent(ctx, event)
		})
		if err != nil {
			metrics.OutboxFailedCounter.Inc()
			w.markFailed(ctx, event, err)
			continue
		}
		metrics.OutboxPublishedCounter.Inc()

		if err := w.outboxRepo.MarkSent(ctx, event.ID); err != nil {
			w.logger.Error("failed to mark event as sent",
				zap.Int64("eventId", event.ID),
				zap.Error(err))
			continue
		}
		sent++
	}

	return sent, nil
}

// Purge 보존 기간이 지난 전송 완료 이벤트 삭제
func (w *OutboxWorker) Purge(ctx context.Context) (int64, error) {
	n, err := w.outboxRepo.PurgeSent(ctx, time.Now().Add(-w.retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.logger.Info("purged sent outbox events", zap.Int64("count", n))
	}
	return n, nil
}

func (w *OutboxWorker) markFailed(ctx context.Context, event *repository.OutboxEvent, cause error) {
	status, err := w.outboxRepo.MarkFailed(ctx, event.ID, cause.Error())
	if err != nil {
		w.logger.Error("failed to record publish failure",
			zap.Int64("eventId", event.ID),
			zap.Error(err))
		return
	}

	if status == repository.OutboxStatusDead {
		w.logger.Error("outbox event dead-lettered",
			zap.Int64("eventId", event.ID),
			zap.String("orderId", event.AggregateID),
			zap.Int("attempts", event.Attempts+1),
			zap.Error(cause))
		return
	}
	w.logger.Warn("failed to publish event",
		zap.Int64("eventId", event.ID),
		zap.String("eventType", event.EventType),
		zap.String("orderId", event.AggregateID),
		zap.Error(cause))
}

func (w *OutboxWorker) publishEvent(ctx context.Context, event *repository.OutboxEvent) error {
	// 주문 ID 를 키로 사용해 같은 주문의 이벤트 순서를 보장한다.
	return w.publisher.Publish(ctx, event.EventType, event.AggregateID, json.RawMessage(event.Payload))
}
