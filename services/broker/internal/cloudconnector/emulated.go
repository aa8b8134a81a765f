package cloudconnector

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/kyungseok/federated-broker-go/common/errors"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/domain"
)

// EmulatedQuota 에뮬레이션 클라우드의 사용자별 총 쿼터
var EmulatedQuota = domain.Allocation{
	Instances: 100,
	VCPU:      400,
	RAM:       1024 * 1024,
	Disk:      10000,
	Storage:   10000,
}

type emulatedInstance struct {
	owner      domain.User
	typ        domain.ResourceType
	allocation domain.Allocation
	state      domain.InstanceState
	// 비동기 삭제 대기 중이면 다음 조회에서 사라진다.
	deleting bool
}

// EmulatedCloud 메모리 기반 클라우드 플러그인
//
// 요청된 자원은 즉시 READY 가 되며, 요청 할당량을 그대로 실제 할당량으로 보고한다.
type EmulatedCloud struct {
	mu        sync.Mutex
	instances map[string]*emulatedInstance

	asyncDeletion bool
}

// EmulatedOption 에뮬레이션 옵션
type EmulatedOption func(*EmulatedCloud)

// WithAsyncDeletion 삭제를 즉시 확인하지 않고 ErrDeletionPending 을 반환
func WithAsyncDeletion() EmulatedOption {
	return func(c *EmulatedCloud) { c.asyncDeletion = true }
}

// NewEmulatedCloud 에뮬레이션 클라우드 생성
func NewEmulatedCloud(opts ...EmulatedOption) *EmulatedCloud {
	c := &EmulatedCloud{instances: make(map[string]*emulatedInstance)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *EmulatedCloud) RequestInstance(_ context.Context, order *domain.Order) (string, error) {
	alloc := order.Requested
	switch order.Type {
	case domain.ResourceTypeCompute, domain.ResourceTypeVolume, domain.ResourceTypeNetwork, domain.ResourceTypePublicIP:
		if alloc.Instances == 0 {
			alloc.Instances = 1
		}
	case domain.ResourceTypeAttachment:
	default:
		return "", errors.Newf(errors.ErrCodeInvalidParameter, errors.MsgResourceTypeNotImplemented, order.Type)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	used := c.usedLocked(order.Owner, order.Type)
	if exceeds(used.Add(alloc), EmulatedQuota) {
		return "", errors.Newf(errors.ErrCodeCloudError, "quota exceeded for user %s", order.Owner.ID)
	}

	id := uuid.NewString()
	c.instances[id] = &emulatedInstance{
		owner:      order.Owner,
		typ:        order.Type,
		allocation: alloc,
		state:      domain.InstanceStateReady,
	}
	return id, nil
}

func (c *EmulatedCloud) GetInstance(_ context.Context, instanceID string, _ domain.ResourceType) (*domain.Instance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inst, ok := c.instances[instanceID]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeInstanceNotFound, "instance %s not found", instanceID)
	}
	if inst.deleting {
		delete(c.instances, instanceID)
		return nil, errors.Newf(errors.ErrCodeInstanceNotFound, "instance %s not found", instanceID)
	}

	alloc := inst.allocation
	return &domain.Instance{
		ID:         instanceID,
		State:      inst.state,
		Allocation: &alloc,
	}, nil
}

func (c *EmulatedCloud) DeleteInstance(_ context.Context, instanceID string, _ domain.ResourceType) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	inst, ok := c.instances[instanceID]
	if !ok {
		return errors.Newf(errors.ErrCodeInstanceNotFound, "instance %s not found", instanceID)
	}
	if c.asyncDeletion {
		inst.deleting = true
		inst.state = domain.InstanceStateDeleting
		return ErrDeletionPending
	}
	delete(c.instances, instanceID)
	return nil
}

func (c *EmulatedCloud) GetUserQuota(_ context.Context, owner domain.User, resourceType domain.ResourceType) (*domain.Quota, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	used := c.usedLocked(owner, resourceType)
	return &domain.Quota{
		Total:     EmulatedQuota,
		Available: EmulatedQuota.Sub(used),
	}, nil
}

// SetInstanceState 인스턴스 상태 강제 변경 (장애 시뮬레이션)
func (c *EmulatedCloud) SetInstanceState(instanceID string, state domain.InstanceState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	inst, ok := c.instances[instanceID]
	if !ok {
		return false
	}
	inst.state = state
	return true
}

// Len 보유 인스턴스 수
func (c *EmulatedCloud) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.instances)
}

func (c *EmulatedCloud) usedLocked(owner domain.User, resourceType domain.ResourceType) domain.Allocation {
	var used domain.Allocation
	for _, inst := range c.instances {
		if inst.typ == resourceType && inst.owner.SameAs(owner) {
			used = used.Add(inst.allocation)
		}
	}
	return used
}

func exceeds(a, limit domain.Allocation) bool {
	return a.Instances > limit.Instances || a.VCPU > limit.VCPU || a.RAM > limit.RAM ||
		a.Disk > limit.Disk || a.Storage > limit.Storage
}
