package handler

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/kyungseok/federated-broker-go/common/errors"
	"github.com/kyungseok/federated-broker-go/common/events"
	"github.com/kyungseok/federated-broker-go/common/idempotency"
	"github.com/kyungseok/federated-broker-go/common/messaging"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/domain"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/metrics"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/service"
)

const eventDedupTTL = 24 * time.Hour

// 처리 결과 (메트릭 라벨)
const (
	resultApplied   = "applied"
	resultDuplicate = "duplicate"
	resultIgnored   = "ignored"
	resultFailed    = "failed"
)

// EventHandler 원격 제공자의 주문 상태 변경 이벤트 처리
type EventHandler struct {
	controller  service.OrderController
	idemStore   idempotency.Store
	localMember string
	logger      *zap.Logger
}

// NewEventHandler 이벤트 핸들러 생성
func NewEventHandler(
	controller service.OrderController,
	idemStore idempotency.Store,
	localMember string,
	logger *zap.Logger,
) *EventHandler {
	return &EventHandler{
		controller:  controller,
		idemStore:   idemStore,
		localMember: localMember,
		logger:      logger,
	}
}

// Topics 구독 토픽
func (h *EventHandler) Topics() []string {
	return []string{string(events.EventOrderStateChanged)}
}

// HandleMessage 메시지 처리
func (h *EventHandler) HandleMessage(ctx context.Context, msg *messaging.Message) error {
	switch events.EventType(msg.Topic) {
	case events.EventOrderStateChanged:
		result, err := h.handleOrderStateChanged(ctx, msg)
		metrics.RemoteEventsCounter.WithLabelValues(result).Inc()
		return err
	default:
		h.logger.Warn("unknown event type", zap.String("topic", msg.Topic))
		return nil
	}
}

func (h *EventHandler) handleOrderStateChanged(ctx context.Context, msg *messaging.Message) (string, error) {
	var evt events.OrderStateChangedEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		return resultFailed, errors.Wrap(errors.ErrCodeSerializationError, "failed to decode order event", err)
	}

	// 다른 멤버에게 보낸 이벤트
	if evt.Requester != h.localMember {
		return resultIgnored, nil
	}

	state, err := domain.ParseOrderState(evt.State)
	if err != nil {
		h.logger.Warn("order event with unknown state",
			zap.String("eventId", evt.EventID),
			zap.String("state", evt.State))
		return resultIgnored, nil
	}

	// 멱등성 체크. 저장소 장애 시에는 그대로 처리한다 (상태 반영은 멱등).
	reserved, err := h.idemStore.Reserve(ctx, evt.EventID, eventDedupTTL)
	if err != nil {
		h.logger.Warn("idempotency store unavailable", zap.String("eventId", evt.EventID), zap.Error(err))
		reserved = true
	}
	if !reserved {
		h.logger.Info("event already processed", zap.String("eventId", evt.EventID))
		return resultDuplicate, nil
	}

	update := service.RemoteOrderUpdate{
		OrderID:    evt.OrderID,
		Provider:   evt.Provider,
		State:      state,
		InstanceID: evt.InstanceID,
	}
	if a := evt.Allocation; a != nil {
		update.Allocation = &domain.Allocation{
			Instances: a.Instances,
			VCPU:      a.VCPU,
			RAM:       a.RAM,
			Disk:      a.Disk,
			Storage:   a.Storage,
		}
	}

	err = h.controller.UpdateRemoteOrder(ctx, update)
	switch {
	case err == nil:
		return resultApplied, nil
	case errors.IsBusinessError(err):
		// 이미 비활성화된 주문이거나 권한 없는 제공자
		h.logger.Warn("remote order event rejected",
			zap.String("eventId", evt.EventID),
			zap.String("orderId", evt.OrderID),
			zap.String("provider", evt.Provider),
			zap.Error(err))
		return resultIgnored, nil
	default:
		// 다시 받을 수 있도록 예약을 푼다.
		_ = h.idemStore.Release(ctx, evt.EventID)
		return resultFailed, err
	}
}
