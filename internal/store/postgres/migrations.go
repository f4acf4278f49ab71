package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"gymledger/pkg/eventstore"
)

// schema is applied in order by Migrate. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS members (
		id          UUID PRIMARY KEY,
		name        TEXT NOT NULL,
		email       TEXT NOT NULL DEFAULT '',
		phone       TEXT NOT NULL DEFAULT '',
		facility_id UUID,
		balance     BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		version     INTEGER NOT NULL DEFAULT 0,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS plans (
		id            UUID PRIMARY KEY,
		name          TEXT NOT NULL,
		description   TEXT NOT NULL DEFAULT '',
		price         BIGINT NOT NULL CHECK (price > 0),
		duration_days INTEGER NOT NULL CHECK (duration_days > 0),
		facility_id   UUID,
		status        TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'retired')),
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS memberships (
		id             UUID PRIMARY KEY,
		member_id      UUID NOT NULL REFERENCES members(id),
		plan_id        UUID NOT NULL,
		plan_name      TEXT NOT NULL,
		duration_days  INTEGER NOT NULL,
		start_date     TIMESTAMPTZ NOT NULL,
		end_date       TIMESTAMPTZ NOT NULL,
		status         TEXT NOT NULL CHECK (status IN ('pending', 'active', 'expired')),
		is_disabled    BOOLEAN NOT NULL DEFAULT FALSE,
		price          BIGINT NOT NULL,
		discount       BIGINT NOT NULL DEFAULT 0,
		payment_amount BIGINT NOT NULL DEFAULT 0,
		request_id     TEXT UNIQUE,
		request_hash   TEXT,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (discount >= 0 AND discount <= price)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memberships_member ON memberships (member_id, start_date)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id             UUID PRIMARY KEY,
		member_id      UUID NOT NULL REFERENCES members(id),
		membership_id  UUID REFERENCES memberships(id),
		amount         BIGINT NOT NULL CHECK (amount > 0),
		type           TEXT NOT NULL CHECK (type IN ('payment', 'refund')),
		payment_method TEXT NOT NULL,
		status         TEXT NOT NULL CHECK (status IN ('pending', 'completed', 'failed')),
		request_id     TEXT UNIQUE,
		request_hash   TEXT,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	// seq orders transactions booked within the same instant
	`ALTER TABLE transactions ADD COLUMN IF NOT EXISTS seq BIGSERIAL`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_member ON transactions (member_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_membership ON transactions (membership_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS check_ins (
		id             UUID PRIMARY KEY,
		member_id      UUID NOT NULL REFERENCES members(id),
		membership_id  UUID NOT NULL REFERENCES memberships(id),
		facility_id    UUID,
		checked_in_at  TIMESTAMPTZ NOT NULL,
		checked_out_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_check_ins_member ON check_ins (member_id, checked_in_at DESC)`,
	eventstore.Schema,
}

// Migrate creates the tables the service needs, including the event journal.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", i, err)
		}
	}
	return nil
}
