package service

import (
	"context"
	stderrors "errors"

	"go.uber.org/zap"

	"github.com/kyungseok/federated-broker-go/common/errors"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/cloudconnector"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/domain"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/metrics"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/repository"
)

// ConnectorResolver (provider, cloud) 별 클라우드 커넥터 조회
type ConnectorResolver interface {
	Connector(provider, cloudName string) (cloudconnector.CloudConnector, error)
}

// RemoteOrderUpdate 원격 제공자가 보낸 주문 상태 변경
type RemoteOrderUpdate struct {
	OrderID    string
	Provider   string
	State      domain.OrderState
	InstanceID string
	Allocation *domain.Allocation
}

// OrderController 주문 라이프사이클 연산
type OrderController interface {
	ActivateOrder(ctx context.Context, order *domain.Order) error
	DeactivateOrder(ctx context.Context, order *domain.Order) error
	GetOrder(id string) (*domain.Order, error)
	DeleteOrder(ctx context.Context, order *domain.Order) error
	ScheduleDeletion(ctx context.Context, order *domain.Order) error
	GetResourceInstance(ctx context.Context, order *domain.Order) (*domain.Instance, error)
	GetUserAllocation(provider string, owner domain.User, resourceType domain.ResourceType) (domain.Allocation, error)
	GetInstancesStatus(owner domain.User, resourceType domain.ResourceType) []domain.InstanceStatus
	GetUserQuota(ctx context.Context, provider, cloudName string, owner domain.User, resourceType domain.ResourceType) (*domain.Quota, error)
	UpdateRemoteOrder(ctx context.Context, update RemoteOrderUpdate) error
}

type orderController struct {
	repo         *repository.OrderRepository
	store        repository.OrderStore
	transitioner StateTransitioner
	tracker      *DependencyTracker
	connectors   ConnectorResolver
	localMember  string
	logger       *zap.Logger
}

// NewOrderController 주문 컨트롤러 생성
func NewOrderController(
	repo *repository.OrderRepository,
	store repository.OrderStore,
	transitioner StateTransitioner,
	tracker *DependencyTracker,
	connectors ConnectorResolver,
	localMember string,
	logger *zap.Logger,
) OrderController {
	return &orderController{
		repo:         repo,
		store:        store,
		transitioner: transitioner,
		tracker:      tracker,
		connectors:   connectors,
		localMember:  localMember,
		logger:       logger,
	}
}

// ActivateOrder 주문 활성화 (OPEN 버킷에 삽입 후 저장)
func (c *orderController) ActivateOrder(ctx context.Context, order *domain.Order) error {
	if order == nil || order.ID == "" {
		return errors.New(errors.ErrCodeInvalidParameter, errors.MsgNullOrder)
	}
	if order.State() != domain.OrderStateUnset {
		return errors.Newf(errors.ErrCodeAlreadyActivated, errors.MsgAlreadyActivated, order.ID)
	}

	if err := c.tracker.Admit(order); err != nil {
		return err
	}

	if err := c.store.Add(ctx, order); err != nil {
		metrics.PersistFailedCounter.Inc()
		c.logger.Error("failed to persist activated order",
			zap.String("orderId", order.ID),
			zap.Error(err))
	}

	c.logger.Info("order activated",
		zap.String("orderId", order.ID),
		zap.String("type", string(order.Type)),
		zap.String("requester", order.Requester),
		zap.String("provider", order.Provider),
		zap.String("cloud", order.CloudName))
	return nil
}

// DeactivateOrder 버킷과 조회 테이블에서 제거
//
// 호출자가 주문 잠금을 가지고 있어야 한다.
func (c *orderController) DeactivateOrder(ctx context.Context, order *domain.Order) error {
	if order == nil {
		return errors.New(errors.ErrCodeInvalidParameter, errors.MsgNullOrder)
	}

	prior := order.State()
	if err := c.repo.Deactivate(order); err != nil {
		return err
	}
	if prior != domain.OrderStateClosed && !prior.IsDeleting() {
		c.tracker.Release(order)
	}

	if err := c.store.Update(ctx, order); err != nil {
		metrics.PersistFailedCounter.Inc()
		c.logger.Error("failed to persist deactivated order",
			zap.String("orderId", order.ID),
			zap.Error(err))
	}

	c.logger.Info("order deactivated", zap.String("orderId", order.ID), zap.Stringer("priorState", prior))
	return nil
}

// GetOrder 활성 주문 조회
func (c *orderController) GetOrder(id string) (*domain.Order, error) {
	order, ok := c.repo.Lookup(id)
	if !ok {
		return nil, errors.Newf(errors.ErrCodeOrderNotFound, errors.MsgOrderNotFound, id)
	}
	return order, nil
}

// DeleteOrder 자원 해제 후 CLOSED 로 전이
//
// 클라우드가 삭제를 즉시 확인하지 못하면 CHECKING_DELETION 으로 전이하고
// 워커가 나중에 닫는다. 클라우드 오류는 주문을 닫지 않고 그대로 반환한다.
func (c *orderController) DeleteOrder(ctx context.Context, order *domain.Order) error {
	if order == nil {
		return errors.New(errors.ErrCodeInvalidParameter, errors.MsgNullOrder)
	}

	order.Lock()
	defer order.Unlock()

	if err := c.checkDeletable(order); err != nil {
		return err
	}
	if err := c.tracker.BeginRemoval(order.ID); err != nil {
		return err
	}
	defer c.tracker.EndRemoval(order.ID)

	err := c.releaseInstance(ctx, order)
	switch {
	case err == nil:
	case stderrors.Is(err, cloudconnector.ErrDeletionPending):
		if err := c.transitioner.Transition(ctx, order, domain.OrderStateCheckingDeletion); err != nil {
			return err
		}
		c.tracker.Release(order)
		c.logger.Info("order deletion pending", zap.String("orderId", order.ID))
		return nil
	case errors.Is(err, errors.ErrCodeInstanceNotFound):
		c.logger.Warn("instance already gone, closing order",
			zap.String("orderId", order.ID),
			zap.String("instanceId", order.InstanceID()))
	default:
		c.logger.Error("failed to delete instance",
			zap.String("orderId", order.ID),
			zap.Error(err))
		return err
	}

	if err := c.transitioner.Transition(ctx, order, domain.OrderStateClosed); err != nil {
		return err
	}
	c.tracker.Release(order)

	c.logger.Info("order closed", zap.String("orderId", order.ID))
	return nil
}

// ScheduleDeletion 비동기 삭제 예약 (ASSIGNED_FOR_DELETION)
func (c *orderController) ScheduleDeletion(ctx context.Context, order *domain.Order) error {
	if order == nil {
		return errors.New(errors.ErrCodeInvalidParameter, errors.MsgNullOrder)
	}

	order.Lock()
	defer order.Unlock()

	if err := c.checkDeletable(order); err != nil {
		return err
	}
	if err := c.tracker.BeginRemoval(order.ID); err != nil {
		return err
	}
	defer c.tracker.EndRemoval(order.ID)

	if err := c.transitioner.Transition(ctx, order, domain.OrderStateAssignedForDeletion); err != nil {
		return err
	}
	c.tracker.Release(order)

	c.logger.Info("order assigned for deletion", zap.String("orderId", order.ID))
	return nil
}

func (c *orderController) checkDeletable(order *domain.Order) error {
	active, ok := c.repo.Lookup(order.ID)
	state := order.State()
	if !ok || active != order || state.IsInactive() {
		return errors.Newf(errors.ErrCodeAlreadyInactive, errors.MsgUnableToRemoveInactive, order.ID)
	}
	if state.IsDeleting() {
		return errors.Newf(errors.ErrCodeInvalidState, errors.MsgDeleteAlreadyOngoing, order.ID)
	}
	return nil
}

func (c *orderController) releaseInstance(ctx context.Context, order *domain.Order) error {
	if order.InstanceID() == "" && order.IsProviderLocal(c.localMember) {
		return nil
	}
	connector, err := c.connectors.Connector(order.Provider, order.CloudName)
	if err != nil {
		return err
	}
	return connector.DeleteInstance(ctx, order)
}

// GetResourceInstance 클라우드 측 인스턴스 조회
func (c *orderController) GetResourceInstance(ctx context.Context, order *domain.Order) (*domain.Instance, error) {
	if order == nil {
		return nil, errors.New(errors.ErrCodeInvalidParameter, errors.MsgNullOrder)
	}
	if order.State().IsDispatching() {
		return nil, errors.Newf(errors.ErrCodeInvalidState, errors.MsgStillBeingDispatched, order.ID)
	}

	connector, err := c.connectors.Connector(order.Provider, order.CloudName)
	if err != nil {
		return nil, err
	}
	instance, err := connector.GetInstance(ctx, order)
	if err != nil {
		return nil, err
	}

	instance.ID = order.ID
	instance.Provider = order.Provider
	instance.CloudName = order.CloudName
	order.SetCachedInstanceState(instance.State)
	return instance, nil
}

// GetUserAllocation FULFILLED 주문의 할당량 합계
//
// 워커와 공유하는 커서를 움직이지 않도록 버킷 스냅샷을 순회한다.
func (c *orderController) GetUserAllocation(provider string, owner domain.User, resourceType domain.ResourceType) (domain.Allocation, error) {
	var total domain.Allocation

	switch resourceType {
	case domain.ResourceTypeCompute, domain.ResourceTypeVolume, domain.ResourceTypeNetwork, domain.ResourceTypePublicIP:
	default:
		return total, errors.Newf(errors.ErrCodeInvalidParameter, errors.MsgResourceTypeNotImplemented, resourceType)
	}

	bucket, err := c.repo.BucketFor(domain.OrderStateFulfilled)
	if err != nil {
		return total, err
	}

	for _, o := range bucket.Snapshot() {
		if o.Type != resourceType || o.Provider != provider || !o.Owner.SameAs(owner) {
			continue
		}
		switch resourceType {
		case domain.ResourceTypeCompute:
			if a := o.ActualAllocation(); a != nil {
				total = total.Add(domain.Allocation{
					Instances: a.Instances,
					VCPU:      a.VCPU,
					RAM:       a.RAM,
					Disk:      a.Disk,
				})
			}
		case domain.ResourceTypeVolume:
			total.Instances++
			if a := o.ActualAllocation(); a != nil {
				total.Storage += a.Storage
			}
		default:
			total.Instances++
		}
	}
	return total, nil
}

// GetInstancesStatus DEACTIVATED 를 제외한 모든 버킷에서 소유자의 주문 상태 수집
func (c *orderController) GetInstancesStatus(owner domain.User, resourceType domain.ResourceType) []domain.InstanceStatus {
	var statuses []domain.InstanceStatus

	for _, state := range domain.ActiveStates() {
		if state == domain.OrderStateDeactivated {
			continue
		}
		bucket, err := c.repo.BucketFor(state)
		if err != nil {
			c.logger.Error("bucket lookup failed", zap.Stringer("state", state), zap.Error(err))
			continue
		}
		for _, o := range bucket.Snapshot() {
			if o.Type != resourceType || !o.Owner.SameAs(owner) {
				continue
			}
			statuses = append(statuses, domain.InstanceStatus{
				ID:        o.ID,
				Provider:  o.Provider,
				CloudName: o.CloudName,
				State:     domain.InstanceStateFor(o.State()),
			})
		}
	}
	return statuses
}

// GetUserQuota 클라우드 쿼터 조회
func (c *orderController) GetUserQuota(ctx context.Context, provider, cloudName string, owner domain.User, resourceType domain.ResourceType) (*domain.Quota, error) {
	connector, err := c.connectors.Connector(provider, cloudName)
	if err != nil {
		return nil, err
	}
	return connector.GetUserQuota(ctx, owner, resourceType)
}

// UpdateRemoteOrder 원격 제공자의 상태 변경을 로컬 사본에 반영
func (c *orderController) UpdateRemoteOrder(ctx context.Context, update RemoteOrderUpdate) error {
	order, err := c.GetOrder(update.OrderID)
	if err != nil {
		return err
	}
	if order.Provider != update.Provider || order.IsProviderLocal(c.localMember) {
		return errors.Newf(errors.ErrCodeUnauthorized, "member %s does not provide order %s", update.Provider, order.ID)
	}
	// 제공자는 요청자에게 알리는 상태만 발행한다
	if !notifiesRequester(update.State) {
		return errors.Newf(errors.ErrCodeInvalidState, "remote provider cannot move order %s to %s", order.ID, update.State)
	}

	order.Lock()
	defer order.Unlock()

	current := order.State()
	if current == update.State || current.IsInactive() || current.IsDeleting() {
		c.logger.Debug("ignoring remote order update",
			zap.String("orderId", order.ID),
			zap.Stringer("current", current),
			zap.Stringer("remote", update.State))
		return nil
	}

	prevInstanceID, prevAllocation := order.InstanceID(), order.ActualAllocation()
	if update.InstanceID != "" {
		order.SetInstanceID(update.InstanceID)
	}
	if update.Allocation != nil {
		order.SetActualAllocation(update.Allocation)
	}

	if err := c.transitioner.Transition(ctx, order, update.State); err != nil {
		order.SetInstanceID(prevInstanceID)
		order.SetActualAllocation(prevAllocation)
		return err
	}
	if update.State == domain.OrderStateClosed {
		c.tracker.Release(order)
	}

	c.logger.Info("remote order updated",
		zap.String("orderId", order.ID),
		zap.Stringer("from", current),
		zap.Stringer("to", update.State))
	return nil
}
