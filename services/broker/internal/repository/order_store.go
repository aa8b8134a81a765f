package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/kyungseok/federated-broker-go/common/errors"
	"github.com/kyungseok/federated-broker-go/services/broker/internal/domain"
)

// ActiveOrderReader 부트스트랩용 주문 조회
type ActiveOrderReader interface {
	ReadActiveOrders(ctx context.Context, state domain.OrderState) ([]*domain.Order, error)
}

// OrderStore 주문 영속화 인터페이스
type OrderStore interface {
	ActiveOrderReader
	Add(ctx context.Context, order *domain.Order) error
	Update(ctx context.Context, order *domain.Order) error
}

type postgresOrderStore struct {
	db *sql.DB
}

// NewPostgresOrderStore PostgreSQL 주문 저장소 생성
func NewPostgresOrderStore(db *sql.DB) OrderStore {
	return &postgresOrderStore{db: db}
}

const orderColumns = `id, type, state, requester, provider, cloud_name, owner, instance_id,
		embedded_order_ids, requested, actual_allocation, created_at, updated_at`

// ReadActiveOrders 상태별 주문 조회 (생성 순)
func (s *postgresOrderStore) ReadActiveOrders(ctx context.Context, state domain.OrderState) ([]*domain.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE state = $1
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, state.String())
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to read active orders", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to iterate orders", err)
	}

	return orders, nil
}

// Add 주문 저장
func (s *postgresOrderStore) Add(ctx context.Context, order *domain.Order) error {
	rec := order.Record()
	owner, requested, actual, err := encodeJSONColumns(rec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = s.db.ExecContext(
		ctx,
		query,
		rec.ID,
		string(rec.Type),
		rec.State.String(),
		rec.Requester,
		rec.Provider,
		rec.CloudName,
		owner,
		nullString(rec.InstanceID),
		pq.Array(rec.EmbeddedOrderIDs),
		requested,
		actual,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			// Unique constraint violation
			return errors.Wrap(errors.ErrCodeAlreadyActivated, fmt.Sprintf(errors.MsgAlreadyActivated, rec.ID), err)
		}
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to add order", err)
	}

	return nil
}

// Update 주문 상태 및 인스턴스 정보 갱신
func (s *postgresOrderStore) Update(ctx context.Context, order *domain.Order) error {
	rec := order.Record()
	_, _, actual, err := encodeJSONColumns(rec)
	if err != nil {
		return err
	}

	query := `
		UPDATE orders
		SET state = $1, instance_id = $2, actual_allocation = $3, updated_at = $4
		WHERE id = $5
	`

	result, err := s.db.ExecContext(ctx, query, rec.State.String(), nullString(rec.InstanceID), actual, rec.UpdatedAt, rec.ID)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to update order", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return errors.Newf(errors.ErrCodeOrderNotFound, errors.MsgOrderNotFound, rec.ID)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		rec        domain.OrderRecord
		typ, state string
		owner      []byte
		instanceID sql.NullString
		embedded   pq.StringArray
		requested  []byte
		actual     []byte
	)

	err := row.Scan(
		&rec.ID,
		&typ,
		&state,
		&rec.Requester,
		&rec.Provider,
		&rec.CloudName,
		&owner,
		&instanceID,
		&embedded,
		&requested,
		&actual,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to scan order", err)
	}

	rec.Type = domain.ResourceType(typ)
	if rec.State, err = domain.ParseOrderState(state); err != nil {
		return nil, errors.Wrap(errors.ErrCodeSerializationError, "invalid order state", err)
	}
	rec.InstanceID = instanceID.String
	rec.EmbeddedOrderIDs = []string(embedded)

	if err := json.Unmarshal(owner, &rec.Owner); err != nil {
		return nil, errors.Wrap(errors.ErrCodeSerializationError, "invalid owner column", err)
	}
	if err := json.Unmarshal(requested, &rec.Requested); err != nil {
		return nil, errors.Wrap(errors.ErrCodeSerializationError, "invalid requested column", err)
	}
	if len(actual) > 0 {
		rec.ActualAllocation = &domain.Allocation{}
		if err := json.Unmarshal(actual, rec.ActualAllocation); err != nil {
			return nil, errors.Wrap(errors.ErrCodeSerializationError, "invalid actual_allocation column", err)
		}
	}

	return domain.NewOrderFromRecord(rec), nil
}

func encodeJSONColumns(rec domain.OrderRecord) (owner, requested []byte, actual interface{}, err error) {
	if owner, err = json.Marshal(rec.Owner); err != nil {
		return nil, nil, nil, errors.Wrap(errors.ErrCodeSerializationError, "failed to encode owner", err)
	}
	if requested, err = json.Marshal(rec.Requested); err != nil {
		return nil, nil, nil, errors.Wrap(errors.ErrCodeSerializationError, "failed to encode requested allocation", err)
	}
	if rec.ActualAllocation != nil {
		b, err := json.Marshal(rec.ActualAllocation)
		if err != nil {
			return nil, nil, nil, errors.Wrap(errors.ErrCodeSerializationError, "failed to encode actual allocation", err)
		}
		actual = b
	}
	return owner, requested, actual, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
