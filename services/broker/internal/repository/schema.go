package repository

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id                 TEXT PRIMARY KEY,
	type               TEXT NOT NULL,
	state              TEXT NOT NULL,
	requester          TEXT NOT NULL,
	provider           TEXT NOT NULL,
	cloud_name         TEXT NOT NULL,
	owner              JSONB NOT NULL,
	instance_id        TEXT,
	embedded_order_ids TEXT[] NOT NULL DEFAULT '{}',
	requested          JSONB NOT NULL,
	actual_allocation  JSONB,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS orders_state_idx ON orders (state, created_at);

CREATE TABLE IF NOT EXISTS outbox_events (
	id             BIGSERIAL PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id   TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	payload        JSONB NOT NULL,
	status         TEXT NOT NULL DEFAULT 'PENDING',
	attempts       INT NOT NULL DEFAULT 0,
	last_error     TEXT,
	created_at     TIMESTAMPTZ NOT NULL,
	sent_at        TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS outbox_events_pending_idx ON outbox_events (status, created_at);
`

// Migrate 테이블 생성
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
