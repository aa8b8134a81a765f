package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kyungseok/federated-broker-go/common/errors"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/domain"
)

// MemoryOrderStore 메모리 기반 주문 저장소 (DB_DSN 미설정 실행 및 테스트용)
//
// 레코드 사본을 보관하므로 저장 이후의 메모리 변경은 Update 전까지 반영되지 않는다.
type MemoryOrderStore struct {
	mu      sync.Mutex
	records map[string]domain.OrderRecord
	// FailUpdates 가 설정되면 Update 가 이 에러를 반환한다.
	FailUpdates error
}

// NewMemoryOrderStore 메모리 주문 저장소 생성
func NewMemoryOrderStore(seed ...*domain.Order) *MemoryOrderStore {
	s := &MemoryOrderStore{records: make(map[string]domain.OrderRecord)}
	for _, o := range seed {
		s.records[o.ID] = o.Record()
	}
	return s
}

func (s *MemoryOrderStore) ReadActiveOrders(_ context.Context, state domain.OrderState) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recs []domain.OrderRecord
	for _, rec := range s.records {
		if rec.State == state {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})

	orders := make([]*domain.Order, 0, len(recs))
	for _, rec := range recs {
		orders = append(orders, domain.NewOrderFromRecord(rec))
	}
	return orders, nil
}

func (s *MemoryOrderStore) Add(_ context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[order.ID]; exists {
		return errors.Newf(errors.ErrCodeAlreadyActivated, errors.MsgAlreadyActivated, order.ID)
	}
	s.records[order.ID] = order.Record()
	return nil
}

func (s *MemoryOrderStore) Update(_ context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailUpdates != nil {
		return s.FailUpdates
	}
	if _, exists := s.records[order.ID]; !exists {
		return errors.Newf(errors.ErrCodeOrderNotFound, errors.MsgOrderNotFound, order.ID)
	}
	s.records[order.ID] = order.Record()
	return nil
}

// Get 저장된 레코드 조회
func (s *MemoryOrderStore) Get(id string) (domain.OrderRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

// MemoryOutboxRepository 메모리 기반 Outbox
type MemoryOutboxRepository struct {
	mu     sync.Mutex
	nextID int64
	events []*OutboxEvent
}

// NewMemoryOutboxRepository 메모리 Outbox 생성
func NewMemoryOutboxRepository() *MemoryOutboxRepository {
	return &MemoryOutboxRepository{}
}

func (r *MemoryOutboxRepository) Insert(_ context.Context, event *OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	event.ID = r.nextID
	if event.Status == "" {
		event.Status = OutboxStatusPending
	}
	copied := *event
	r.events = append(r.events, &copied)
	return nil
}

func (r *MemoryOutboxRepository) FindPending(_ context.Context, limit int) ([]*OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []*OutboxEvent
	for _, e := range r.events {
		if e.Status != OutboxStatusPending {
			continue
		}
		copied := *e
		pending = append(pending, &copied)
		if len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (r *MemoryOutboxRepository) MarkSent(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.events {
		if e.ID == id {
			now := time.Now().UTC()
			e.Status = OutboxStatusSent
			e.SentAt = &now
			return nil
		}
	}
	return fmt.Errorf("outbox event %d not found", id)
}

func (r *MemoryOutboxRepository) MarkFailed(_ context.Context, id int64, reason string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.events {
		if e.ID == id {
			e.Attempts++
			e.LastError = reason
			if e.Attempts >= OutboxMaxAttempts {
				e.Status = OutboxStatusDead
			}
			return e.Status, nil
		}
	}
	return "", fmt.Errorf("outbox event %d not found", id)
}

func (r *MemoryOutboxRepository) PurgeSent(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.events[:0]
	var purged int64
	for _, e := range r.events {
		if e.Status == OutboxStatusSent && e.SentAt != nil && e.SentAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	r.events = kept
	return purged, nil
}

// All 저장된 모든 이벤트 사본
func (r *MemoryOutboxRepository) All() []OutboxEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]OutboxEvent, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, *e)
	}
	return out
}
