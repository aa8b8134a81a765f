package events

import "time"

// EventType 이벤트 타입 정의
type EventType string

const (
	// Order Events
	EventOrderStateChanged EventType = "order.state_changed.v1"
)

// BaseEvent 모든 이벤트의 기본 구조
type BaseEvent struct {
	EventID       string    `json:"eventId"`
	EventType     EventType `json:"eventType"`
	SchemaVersion int       `json:"schemaVersion"`
	OccurredAt    time.Time `json:"occurredAt"`
	CorrelationID string    `json:"correlationId"` // 주문 ID로 사용
}

// Allocation 이벤트에 실리는 자원 사용량
type Allocation struct {
	Instances int `json:"instances"`
	VCPU      int `json:"vCPU"`
	RAM       int `json:"ram"`
	Disk      int `json:"disk"`
	Storage   int `json:"storage"`
}

// OrderStateChangedEvent 원격 제공자 측 주문 상태 변경 이벤트
//
// 제공자 멤버가 발행하고, Requester 에 해당하는 멤버가 소비한다.
type OrderStateChangedEvent struct {
	BaseEvent
	OrderID    string      `json:"orderId"`
	Requester  string      `json:"requester"`
	Provider   string      `json:"provider"`
	State      string      `json:"state"`
	InstanceID string      `json:"instanceId,omitempty"`
	Allocation *Allocation `json:"allocation,omitempty"`
}
