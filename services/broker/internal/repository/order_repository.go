package repository

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kyungseok/federated-broker-go/common/cursorlist"
	"github.com/kyungseok/federated-broker-go/common/errors"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/domain"
)

// Bucket 상태별 주문 목록
type Bucket = cursorlist.List[*domain.Order]

// OrderRepository 활성 주문 보관소
//
// 상태마다 하나의 버킷과, DEACTIVATED 가 아닌 모든 주문의 조회 테이블을 가진다.
// 삽입, 이동, 비활성화는 쓰기 잠금 아래에서 버킷과 조회 테이블을 함께 바꾸므로
// 읽기 잠금으로 보는 쪽은 주문이 두 버킷에 있거나 어디에도 없는 상태를 보지 않는다.
type OrderRepository struct {
	mu      sync.RWMutex
	buckets [domain.NumOrderStates]*Bucket
	active  map[string]*domain.Order
	logger  *zap.Logger
}

// NewOrderRepository 저장소에서 활성 주문을 읽어 초기화
func NewOrderRepository(ctx context.Context, reader ActiveOrderReader, logger *zap.Logger) (*OrderRepository, error) {
	r := newEmptyRepository(logger)

	for _, state := range domain.ActiveStates() {
		if state == domain.OrderStateDeactivated {
			continue
		}

		orders, err := reader.ReadActiveOrders(ctx, state)
		if err != nil {
			return nil, fmt.Errorf("failed to recover %s orders: %w", state, err)
		}

		for _, order := range orders {
			if order.State() != state {
				order.SetState(state)
			}
			if err := r.Insert(order); err != nil {
				return nil, fmt.Errorf("failed to recover order %s: %w", order.ID, err)
			}
		}

		if len(orders) > 0 {
			logger.Info("recovered active orders",
				zap.Stringer("state", state),
				zap.Int("count", len(orders)))
		}
	}

	logger.Info("order repository initialized", zap.Int("activeOrders", r.Len()))
	return r, nil
}

func newEmptyRepository(logger *zap.Logger) *OrderRepository {
	r := &OrderRepository{
		active: make(map[string]*domain.Order),
		logger: logger,
	}
	for _, state := range domain.ActiveStates() {
		r.buckets[state] = cursorlist.New[*domain.Order]()
	}
	return r
}

// Insert 조회 테이블과 주문 상태에 맞는 버킷에 추가
func (r *OrderRepository) Insert(order *domain.Order) error {
	if order == nil {
		return errors.New(errors.ErrCodeInvalidParameter, errors.MsgNullOrder)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.active[order.ID]; exists {
		return errors.Newf(errors.ErrCodeAlreadyActivated, errors.MsgAlreadyActivated, order.ID)
	}

	bucket, err := r.bucketLocked(order.State())
	if err != nil {
		return err
	}
	if err := bucket.AddItem(order); err != nil {
		return errors.Wrap(errors.ErrCodeInternalConsistency, "failed to add order to bucket", err)
	}
	r.active[order.ID] = order
	return nil
}

// Lookup ID로 활성 주문 조회
func (r *OrderRepository) Lookup(id string) (*domain.Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.active[id]
	return order, ok
}

// BucketFor 상태별 버킷
func (r *OrderRepository) BucketFor(state domain.OrderState) (*Bucket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bucketLocked(state)
}

func (r *OrderRepository) bucketLocked(state domain.OrderState) (*Bucket, error) {
	if !state.Valid() || r.buckets[state] == nil {
		return nil, errors.Newf(errors.ErrCodeInternalConsistency, errors.MsgListNotFound, state)
	}
	return r.buckets[state], nil
}

// Remove 조회 테이블에서만 제거 (버킷은 호출자가 정리)
func (r *OrderRepository) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, id)
}

// Move 주문을 현재 버킷에서 target 버킷으로 원자적으로 이동
func (r *OrderRepository) Move(order *domain.Order, target domain.OrderState) (domain.OrderState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	origin := order.State()
	if target == domain.OrderStateDeactivated {
		return origin, errors.Newf(errors.ErrCodeInvalidState, "order %s can only be deactivated, not moved to %s", order.ID, target)
	}
	from, err := r.bucketLocked(origin)
	if err != nil {
		return origin, err
	}
	to, err := r.bucketLocked(target)
	if err != nil {
		return origin, err
	}
	if origin == target {
		return origin, errors.Newf(errors.ErrCodeInvalidState, "order %s is already %s", order.ID, target)
	}
	if r.active[order.ID] != order {
		return origin, errors.Newf(errors.ErrCodeInvalidState, "order %s is not active", order.ID)
	}
	if !from.RemoveItem(order) {
		return origin, errors.Newf(errors.ErrCodeInvalidState, "order %s is not in the %s bucket", order.ID, origin)
	}

	order.SetState(target)
	if err := to.AddItem(order); err != nil {
		return origin, errors.Wrap(errors.ErrCodeInternalConsistency, "failed to add order to bucket", err)
	}
	return origin, nil
}

// Deactivate 버킷과 조회 테이블에서 제거하고 DEACTIVATED 로 표시
func (r *OrderRepository) Deactivate(order *domain.Order) error {
	if order == nil {
		return errors.New(errors.ErrCodeInvalidParameter, errors.MsgNullOrder)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active[order.ID] != order {
		return errors.Newf(errors.ErrCodeAlreadyInactive, "order %s is not active", order.ID)
	}

	bucket, err := r.bucketLocked(order.State())
	if err != nil {
		return err
	}
	if !bucket.RemoveItem(order) {
		return errors.Newf(errors.ErrCodeInternalConsistency, "order %s is not in the %s bucket", order.ID, order.State())
	}

	delete(r.active, order.ID)
	order.SetState(domain.OrderStateDeactivated)
	return nil
}

// Counts 상태별 주문 수
func (r *OrderRepository) Counts() map[domain.OrderState]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[domain.OrderState]int, domain.NumOrderStates)
	for _, state := range domain.ActiveStates() {
		counts[state] = r.buckets[state].Len()
	}
	return counts
}

// Len 활성 주문 수
func (r *OrderRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

// Orders 활성 주문 스냅샷
func (r *OrderRepository) Orders() []*domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	orders := make([]*domain.Order, 0, len(r.active))
	for _, o := range r.active {
		orders = append(orders, o)
	}
	return orders
}
