package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/kyungseok/federated-broker-go/common/errors"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	// 발행 시도가 OutboxMaxAttempts 에 도달한 이벤트
	OutboxStatusDead = "DEAD"

	OutboxMaxAttempts = 10
)

// OutboxEvent 원격 요청자에게 보낼 이벤트
type OutboxEvent struct {
	ID            int64
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       json.RawMessage
	Status        string
	Attempts      int
	LastError     string
	CreatedAt     time.Time
	SentAt        *time.Time
}

// OutboxRepository Outbox 레포지토리 인터페이스
type OutboxRepository interface {
	Insert(ctx context.Context, event *OutboxEvent) error
	// FindPending 오래된 순으로 PENDING 이벤트 조회
	FindPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkSent(ctx context.Context, id int64) error
	// MarkFailed 시도 횟수를 올리고, 한도에 도달하면 DEAD 로 바꾼다. 바뀐 상태를 반환.
	MarkFailed(ctx context.Context, id int64, reason string) (string, error)
	// PurgeSent before 이전에 전송된 이벤트 삭제
	PurgeSent(ctx context.Context, before time.Time) (int64, error)
}

type outboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository PostgreSQL Outbox 레포지토리 생성
func NewOutboxRepository(db *sql.DB) OutboxRepository {
	return &outboxRepository{db: db}
}

func (r *outboxRepository) Insert(ctx context.Context, event *OutboxEvent) error {
	if event.Status == "" {
		event.Status = OutboxStatusPending
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		event.AggregateType,
		event.AggregateID,
		event.EventType,
		[]byte(event.Payload),
		event.Status,
		event.CreatedAt,
	).Scan(&event.ID)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to insert outbox event", err)
	}
	return nil
}

func (r *outboxRepository) FindPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, status, attempts, COALESCE(last_error, ''), created_at
		FROM outbox_events
		WHERE status = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2`,
		OutboxStatusPending, limit)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to find pending events", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		event := &OutboxEvent{}
		var payload []byte
		if err := rows.Scan(
			&event.ID,
			&event.AggregateType,
			&event.AggregateID,
			&event.EventType,
			&payload,
			&event.Status,
			&event.Attempts,
			&event.LastError,
			&event.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to scan outbox event", err)
		}
		event.Payload = payload
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to iterate outbox events", err)
	}
	return events, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox_events SET status = $1, sent_at = NOW() WHERE id = $2`,
		OutboxStatusSent, id)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to mark event as sent", err)
	}
	return expectOneRow(res, id)
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id int64, reason string) (string, error) {
	var status string
	err := r.db.QueryRowContext(ctx, `
		UPDATE outbox_events
		SET attempts = attempts + 1,
		    last_error = $1,
		    status = CASE WHEN attempts + 1 >= $2 THEN $3 ELSE status END
		WHERE id = $4
		RETURNING status`,
		reason, OutboxMaxAttempts, OutboxStatusDead, id,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return "", errors.Newf(errors.ErrCodeDatabaseError, "outbox event %d not found", id)
	}
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeDatabaseError, "failed to mark event as failed", err)
	}
	return status, nil
}

func (r *outboxRepository) PurgeSent(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM outbox_events WHERE status = $1 AND sent_at < $2`,
		OutboxStatusSent, before)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeDatabaseError, "failed to purge sent events", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeDatabaseError, "failed to purge sent events", err)
	}
	return n, nil
}

func expectOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to read affected rows", err)
	}
	if n == 0 {
		return errors.Newf(errors.ErrCodeDatabaseError, "outbox event %d not found", id)
	}
	return nil
}
