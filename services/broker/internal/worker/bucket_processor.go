package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kyungseok/federated-broker-go/services/broker/internal/domain"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/repository"
)

// ProcessFunc 주문 하나 처리. 호출 시점에 주문 잠금이 잡혀 있고 상태가 확인된 상태다.
type ProcessFunc func(ctx context.Context, order *domain.Order) error

// BucketProcessor 상태 버킷을 공유 커서로 순회하는 워커
//
// 같은 버킷에 여러 개를 띄우면 GetNext 가 서로 다른 주문을 나눠준다.
type BucketProcessor struct {
	state   domain.OrderState
	repo    *repository.OrderRepository
	process ProcessFunc
	sleep   time.Duration
	logger  *zap.Logger
}

// NewBucketProcessor 버킷 워커 생성
func NewBucketProcessor(
	state domain.OrderState,
	repo *repository.OrderRepository,
	process ProcessFunc,
	sleep time.Duration,
	logger *zap.Logger,
) *BucketProcessor {
	return &BucketProcessor{
		state:   state,
		repo:    repo,
		process: process,
		sleep:   sleep,
		logger:  logger.With(zap.Stringer("bucket", state)),
	}
}

// State 담당 상태
func (p *BucketProcessor) State() domain.OrderState {
	return p.state
}

// Start 워커 시작 (ctx 취소 시 종료)
func (p *BucketProcessor) Start(ctx context.Context) {
	bucket, err := p.repo.BucketFor(p.state)
	if err != nil {
		p.logger.Error("bucket processor cannot start", zap.Error(err))
		return
	}

	p.logger.Info("bucket processor started", zap.Duration("sleep", p.sleep))

	for {
		if ctx.Err() != nil {
			p.logger.Info("bucket processor stopped")
			return
		}

		order, ok := bucket.GetNext()
		if !ok {
			bucket.ResetPointer()
			select {
			case <-ctx.Done():
				p.logger.Info("bucket processor stopped")
				return
			case <-time.After(p.sleep):
			}
			continue
		}

		p.handle(ctx, order)
	}
}

// RunPass 버킷을 처음부터 끝까지 한 번 처리하고 처리한 주문 수 반환
func (p *BucketProcessor) RunPass(ctx context.Context) (int, error) {
	bucket, err := p.repo.BucketFor(p.state)
	if err != nil {
		return 0, err
	}

	bucket.ResetPointer()
	processed := 0
	for ctx.Err() == nil {
		order, ok := bucket.GetNext()
		if !ok {
			break
		}
		p.handle(ctx, order)
		processed++
	}
	return processed, ctx.Err()
}

func (p *BucketProcessor) handle(ctx context.Context, order *domain.Order) {
	order.Lock()
	defer order.Unlock()

	// 다른 경로(삭제 등)가 먼저 옮긴 주문은 건너뛴다.
	if order.State() != p.state {
		return
	}

	if err := p.process(ctx, order); err != nil {
		p.logger.Warn("failed to process order",
			zap.String("orderId", order.ID),
			zap.Error(err))
	}
}
