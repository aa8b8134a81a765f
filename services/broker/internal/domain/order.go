package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Order 자원 요청 주문
//
// 식별 정보는 생성 후 변경되지 않는다. 상태와 인스턴스 정보는 접근자를 통해서만
// 읽고 쓰며, 상태 변경은 OrderRepository 를 거친다.
type Order struct {
	ID               string
	Type             ResourceType
	Requester        string
	Provider         string
	CloudName        string
	Owner            User
	EmbeddedOrderIDs []string
	Requested        Allocation
	CreatedAt        time.Time

	// 주문 단위 작업 직렬화 (삭제와 워커 처리)
	opMu sync.Mutex

	mu                  sync.RWMutex
	state               OrderState
	instanceID          string
	actualAllocation    *Allocation
	cachedInstanceState InstanceState
	updatedAt           time.Time
}

// NewOrder 새 주문 생성 (상태 미설정)
func NewOrder(t ResourceType, requester, provider, cloudName string, owner User, requested Allocation, embedded ...string) *Order {
	now := time.Now().UTC()
	return &Order{
		ID:               uuid.NewString(),
		Type:             t,
		Requester:        requester,
		Provider:         provider,
		CloudName:        cloudName,
		Owner:            owner,
		EmbeddedOrderIDs: append([]string(nil), embedded...),
		Requested:        requested,
		CreatedAt:        now,
		updatedAt:        now,
	}
}

// Lock 주문 작업 잠금
func (o *Order) Lock() { o.opMu.Lock() }

// Unlock 주문 작업 잠금 해제
func (o *Order) Unlock() { o.opMu.Unlock() }

func (o *Order) State() OrderState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// SetState 상태 변경. OrderRepository 만 호출한다.
func (o *Order) SetState(s OrderState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = s
	o.updatedAt = time.Now().UTC()
}

func (o *Order) InstanceID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.instanceID
}

func (o *Order) SetInstanceID(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.instanceID = id
	o.updatedAt = time.Now().UTC()
}

// ActualAllocation 실제 할당량 복사본. 미할당이면 nil.
func (o *Order) ActualAllocation() *Allocation {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.actualAllocation == nil {
		return nil
	}
	a := *o.actualAllocation
	return &a
}

func (o *Order) SetActualAllocation(a *Allocation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if a == nil {
		o.actualAllocation = nil
	} else {
		copied := *a
		o.actualAllocation = &copied
	}
	o.updatedAt = time.Now().UTC()
}

func (o *Order) CachedInstanceState() InstanceState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cachedInstanceState
}

func (o *Order) SetCachedInstanceState(s InstanceState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cachedInstanceState = s
}

func (o *Order) UpdatedAt() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.updatedAt
}

// IsProviderLocal 로컬 멤버가 제공하는 주문인지 확인
func (o *Order) IsProviderLocal(localMember string) bool {
	return o.Provider == localMember
}

// IsRequesterRemote 원격 멤버가 요청한 주문인지 확인
func (o *Order) IsRequesterRemote(localMember string) bool {
	return o.Requester != localMember
}

// OrderRecord 영속화 및 페더레이션 전송용 평면 표현
type OrderRecord struct {
	ID               string        `json:"id"`
	Type             ResourceType  `json:"type"`
	State            OrderState    `json:"state"`
	Requester        string        `json:"requester"`
	Provider         string        `json:"provider"`
	CloudName        string        `json:"cloudName"`
	Owner            User          `json:"owner"`
	InstanceID       string        `json:"instanceId,omitempty"`
	EmbeddedOrderIDs []string      `json:"embeddedOrderIds"`
	Requested        Allocation    `json:"requested"`
	ActualAllocation *Allocation   `json:"actualAllocation,omitempty"`
	InstanceState    InstanceState `json:"instanceState,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// Record 현재 상태의 스냅샷
func (o *Order) Record() OrderRecord {
	o.mu.RLock()
	defer o.mu.RUnlock()

	rec := OrderRecord{
		ID:               o.ID,
		Type:             o.Type,
		State:            o.state,
		Requester:        o.Requester,
		Provider:         o.Provider,
		CloudName:        o.CloudName,
		Owner:            o.Owner,
		InstanceID:       o.instanceID,
		EmbeddedOrderIDs: append([]string{}, o.EmbeddedOrderIDs...),
		Requested:        o.Requested,
		InstanceState:    o.cachedInstanceState,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.updatedAt,
	}
	if o.actualAllocation != nil {
		a := *o.actualAllocation
		rec.ActualAllocation = &a
	}
	return rec
}

// NewOrderFromRecord 레코드로부터 주문 복원
func NewOrderFromRecord(rec OrderRecord) *Order {
	o := &Order{
		ID:                  rec.ID,
		Type:                rec.Type,
		Requester:           rec.Requester,
		Provider:            rec.Provider,
		CloudName:           rec.CloudName,
		Owner:               rec.Owner,
		EmbeddedOrderIDs:    append([]string(nil), rec.EmbeddedOrderIDs...),
		Requested:           rec.Requested,
		CreatedAt:           rec.CreatedAt,
		state:               rec.State,
		instanceID:          rec.InstanceID,
		cachedInstanceState: rec.InstanceState,
		updatedAt:           rec.UpdatedAt,
	}
	if rec.ActualAllocation != nil {
		a := *rec.ActualAllocation
		o.actualAllocation = &a
	}
	return o
}
