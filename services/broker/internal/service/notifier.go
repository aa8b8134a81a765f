package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/kyungseok/federated-broker-go/common/errors"
	"github.com/kyungseok/federated-broker-go/common/events"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/domain"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/repository"
)

// StateChangeNotifier 원격 요청자에게 상태 변경 통지
type StateChangeNotifier interface {
	NotifyStateChange(ctx context.Context, order *domain.Order) error
}

type outboxNotifier struct {
	outboxRepo repository.OutboxRepository
}

// NewOutboxNotifier Outbox 에 상태 변경 이벤트를 기록하는 통지자 생성
func NewOutboxNotifier(outboxRepo repository.OutboxRepository) StateChangeNotifier {
	return &outboxNotifier{outboxRepo: outboxRepo}
}

// NotifyStateChange 상태 변경 이벤트를 Outbox 에 저장 (전송은 OutboxWorker 담당)
func (n *outboxNotifier) NotifyStateChange(ctx context.Context, order *domain.Order) error {
	evt := NewStateChangedEvent(order)

	payload, err := json.Marshal(evt)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal event", err)
	}

	outboxEvent := &repository.OutboxEvent{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     string(events.EventOrderStateChanged),
		Payload:       payload,
		Status:        repository.OutboxStatusPending,
		CreatedAt:     evt.OccurredAt,
	}
	if err := n.outboxRepo.Insert(ctx, outboxEvent); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to insert outbox event", err)
	}
	return nil
}

// NewStateChangedEvent 주문의 현재 상태로 이벤트 생성
func NewStateChangedEvent(order *domain.Order) events.OrderStateChangedEvent {
	rec := order.Record()
	evt := events.OrderStateChangedEvent{
		BaseEvent: events.BaseEvent{
			EventID:       uuid.NewString(),
			EventType:     events.EventOrderStateChanged,
			SchemaVersion: 1,
			OccurredAt:    time.Now().UTC(),
			CorrelationID: rec.ID,
		},
		OrderID:    rec.ID,
		Requester:  rec.Requester,
		Provider:   rec.Provider,
		State:      rec.State.String(),
		InstanceID: rec.InstanceID,
	}
	if a := rec.ActualAllocation; a != nil {
		evt.Allocation = &events.Allocation{
			Instances: a.Instances,
			VCPU:      a.VCPU,
			RAM:       a.RAM,
			Disk:      a.Disk,
			Storage:   a.Storage,
		}
	}
	return evt
}
