package service

import (
	"sync"

	"go.uber.org/zap"

	"github.com/kyungseok/federated-broker-go/common/errors"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/domain"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/repository"
)

// DependencyTracker 내장 주문 참조 카운트 관리
//
// 활성화 검증과 삭제 예약이 같은 잠금 아래에서 이루어지므로,
// 삭제 중인 주문을 새로 내장하는 활성화는 거부된다.
type DependencyTracker struct {
	mu       sync.Mutex
	repo     *repository.OrderRepository
	counts   map[string]int
	removing map[string]struct{}
	logger   *zap.Logger
}

// NewDependencyTracker 의존성 추적기 생성
func NewDependencyTracker(repo *repository.OrderRepository, logger *zap.Logger) *DependencyTracker {
	return &DependencyTracker{
		repo:     repo,
		counts:   make(map[string]int),
		removing: make(map[string]struct{}),
		logger:   logger,
	}
}

// Rebuild 복구된 주문들로부터 참조 카운트 재구성
func (t *DependencyTracker) Rebuild(orders []*domain.Order) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counts = make(map[string]int)
	edges := 0
	for _, o := range orders {
		s := o.State()
		if s.IsInactive() || s.IsDeleting() {
			continue
		}
		for _, id := range o.EmbeddedOrderIDs {
			t.counts[id]++
			edges++
		}
	}
	t.logger.Info("dependency graph rebuilt", zap.Int("edges", edges))
}

// Validate 내장 주문 일관성 검사
func (t *DependencyTracker) Validate(order *domain.Order) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.validateLocked(order)
}

// Admit 검증 후 OPEN 상태로 저장소에 삽입하고 참조를 등록
func (t *DependencyTracker) Admit(order *domain.Order) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.repo.Lookup(order.ID); exists {
		return errors.Newf(errors.ErrCodeAlreadyActivated, errors.MsgAlreadyActivated, order.ID)
	}
	if err := t.validateLocked(order); err != nil {
		return err
	}

	order.SetState(domain.OrderStateOpen)
	if err := t.repo.Insert(order); err != nil {
		order.SetState(domain.OrderStateUnset)
		return err
	}

	for _, id := range order.EmbeddedOrderIDs {
		t.counts[id]++
	}
	return nil
}

func (t *DependencyTracker) validateLocked(order *domain.Order) error {
	for _, id := range order.EmbeddedOrderIDs {
		embedded, ok := t.repo.Lookup(id)
		if !ok {
			return errors.Newf(errors.ErrCodeDependencyViolation, errors.MsgInvalidResource, id)
		}
		if _, removing := t.removing[id]; removing {
			return errors.Newf(errors.ErrCodeDependencyViolation, errors.MsgInvalidResource, id)
		}
		if s := embedded.State(); s.IsInactive() || s.IsDeleting() {
			return errors.Newf(errors.ErrCodeDependencyViolation, errors.MsgInvalidResource, id)
		}
		if !order.Type.CanEmbed(embedded.Type) {
			return errors.Newf(errors.ErrCodeDependencyViolation, errors.MsgInvalidResource, id)
		}
		if !embedded.Owner.SameAs(order.Owner) {
			return errors.Newf(errors.ErrCodeUnauthorized, errors.MsgResourcesFromAnotherUser, id)
		}
		if embedded.Provider != order.Provider {
			return errors.Newf(errors.ErrCodeDependencyViolation, errors.MsgProvidersDontMatch, id)
		}
		if embedded.CloudName != order.CloudName {
			return errors.Newf(errors.ErrCodeDependencyViolation, errors.MsgCloudNamesDontMatch, id)
		}
		if embedded.InstanceID() == "" {
			return errors.Newf(errors.ErrCodeDependencyViolation, errors.MsgEmbeddedNotInstantiated, id)
		}
	}
	return nil
}

// Release 주문이 내장한 참조 해제
func (t *DependencyTracker) Release(order *domain.Order) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range order.EmbeddedOrderIDs {
		n, ok := t.counts[id]
		if !ok {
			t.logger.Warn("missing dependency edge",
				zap.String("orderId", order.ID),
				zap.String("embeddedOrderId", id))
			continue
		}
		if n <= 1 {
			delete(t.counts, id)
		} else {
			t.counts[id] = n - 1
		}
	}
}

// Count 주문을 내장하고 있는 활성 주문 수
func (t *DependencyTracker) Count(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[id]
}

// BeginRemoval 참조가 없으면 삭제 예약
func (t *DependencyTracker) BeginRemoval(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := t.counts[id]; n > 0 {
		return errors.Newf(errors.ErrCodeDependencyViolation, errors.MsgDependencyDetected, id, n)
	}
	if _, removing := t.removing[id]; removing {
		return errors.Newf(errors.ErrCodeInvalidState, errors.MsgDeleteAlreadyOngoing, id)
	}
	t.removing[id] = struct{}{}
	return nil
}

// EndRemoval 삭제 예약 해제
func (t *DependencyTracker) EndRemoval(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.removing, id)
}
