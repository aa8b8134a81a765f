package domain

import "fmt"

// OrderState 주문 상태
//
// 0 은 아직 활성화되지 않은 주문을 의미한다.
type OrderState int

const (
	OrderStateUnset OrderState = iota
	OrderStateOpen
	OrderStateSelected
	OrderStatePending
	OrderStateSpawning
	OrderStateFulfilled
	OrderStateFailedOnRequest
	OrderStateFailedAfterSuccessfulRequest
	OrderStateUnableToCheckStatus
	OrderStateCheckingDeletion
	OrderStateAssignedForDeletion
	OrderStateClosed
	OrderStateDeactivated

	// NumOrderStates 버킷 배열 크기
	NumOrderStates
)

var orderStateNames = [NumOrderStates]string{
	OrderStateUnset:                        "",
	OrderStateOpen:                         "OPEN",
	OrderStateSelected:                     "SELECTED",
	OrderStatePending:                      "PENDING",
	OrderStateSpawning:                     "SPAWNING",
	OrderStateFulfilled:                    "FULFILLED",
	OrderStateFailedOnRequest:              "FAILED_ON_REQUEST",
	OrderStateFailedAfterSuccessfulRequest: "FAILED_AFTER_SUCCESSFUL_REQUEST",
	OrderStateUnableToCheckStatus:          "UNABLE_TO_CHECK_STATUS",
	OrderStateCheckingDeletion:             "CHECKING_DELETION",
	OrderStateAssignedForDeletion:          "ASSIGNED_FOR_DELETION",
	OrderStateClosed:                       "CLOSED",
	OrderStateDeactivated:                  "DEACTIVATED",
}

// ActiveStates 버킷을 가지는 상태 목록 (Unset 제외)
func ActiveStates() []OrderState {
	states := make([]OrderState, 0, NumOrderStates-1)
	for s := OrderStateOpen; s < NumOrderStates; s++ {
		states = append(states, s)
	}
	return states
}

// Valid 정의된 상태인지 확인 (Unset 제외)
func (s OrderState) Valid() bool {
	return s > OrderStateUnset && s < NumOrderStates
}

func (s OrderState) String() string {
	if s < 0 || s >= NumOrderStates {
		return fmt.Sprintf("OrderState(%d)", int(s))
	}
	if s == OrderStateUnset {
		return "UNSET"
	}
	return orderStateNames[s]
}

// ParseOrderState 이름으로 상태 조회
func ParseOrderState(name string) (OrderState, error) {
	for s := OrderStateOpen; s < NumOrderStates; s++ {
		if orderStateNames[s] == name {
			return s, nil
		}
	}
	return OrderStateUnset, fmt.Errorf("unknown order state %q", name)
}

// MarshalText 미설정 상태는 빈 문자열로 표현
func (s OrderState) MarshalText() ([]byte, error) {
	if s == OrderStateUnset {
		return []byte{}, nil
	}
	if !s.Valid() {
		return nil, fmt.Errorf("cannot marshal order state %d", int(s))
	}
	return []byte(orderStateNames[s]), nil
}

func (s *OrderState) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*s = OrderStateUnset
		return nil
	}
	parsed, err := ParseOrderState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsDispatching 아직 클라우드에 요청 중인 상태
func (s OrderState) IsDispatching() bool {
	return s == OrderStateOpen || s == OrderStateSelected || s == OrderStatePending
}

// IsDeleting 비동기 삭제 확인 중인 상태
func (s OrderState) IsDeleting() bool {
	return s == OrderStateCheckingDeletion || s == OrderStateAssignedForDeletion
}

// IsInactive 더 이상 삭제 대상이 아닌 상태
func (s OrderState) IsInactive() bool {
	return s == OrderStateClosed || s == OrderStateDeactivated
}

// InstanceState 클라우드 독립적인 인스턴스 상태
type InstanceState string

const (
	InstanceStateDispatched InstanceState = "DISPATCHED"
	InstanceStateCreating   InstanceState = "CREATING"
	InstanceStateReady      InstanceState = "READY"
	InstanceStateFailed     InstanceState = "FAILED"
	InstanceStateError      InstanceState = "ERROR"
	InstanceStateUnknown    InstanceState = "UNKNOWN"
	InstanceStateDeleting   InstanceState = "DELETING"
	InstanceStateDeleted    InstanceState = "DELETED"
)

// InstanceStateFor 주문 상태를 인스턴스 상태로 매핑
func InstanceStateFor(s OrderState) InstanceState {
	switch s {
	case OrderStateOpen, OrderStateSelected, OrderStatePending:
		return InstanceStateDispatched
	case OrderStateSpawning:
		return InstanceStateCreating
	case OrderStateFulfilled:
		return InstanceStateReady
	case OrderStateFailedAfterSuccessfulRequest:
		return InstanceStateFailed
	case OrderStateFailedOnRequest:
		return InstanceStateError
	case OrderStateCheckingDeletion, OrderStateAssignedForDeletion:
		return InstanceStateDeleting
	case OrderStateClosed, OrderStateDeactivated:
		return InstanceStateDeleted
	default:
		return InstanceStateUnknown
	}
}

// IsFailed 실패로 간주되는 인스턴스 상태
func (s InstanceState) IsFailed() bool {
	return s == InstanceStateFailed || s == InstanceStateError
}
