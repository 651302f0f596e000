package repository

import (
	"context"
	"database/sql"
)

// InitSchema creates the tables the callback service owns and the gateway
// columns it needs on orders. The orders table itself belongs to the storefront.
func InitSchema(ctx context.Context, db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id BIGSERIAL PRIMARY KEY,
			order_number VARCHAR(64) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			total_amount BIGINT NOT NULL,
			items JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`ALTER TABLE orders ADD COLUMN IF NOT EXISTS payme_order_id BIGINT`,
		`ALTER TABLE orders ADD COLUMN IF NOT EXISTS payme_transaction_id VARCHAR(64)`,
		`ALTER TABLE orders ADD COLUMN IF NOT EXISTS payme_state INT`,
		`ALTER TABLE orders ADD COLUMN IF NOT EXISTS payme_create_time TIMESTAMP`,
		`ALTER TABLE orders ADD COLUMN IF NOT EXISTS payme_perform_time TIMESTAMP`,
		`ALTER TABLE orders ADD COLUMN IF NOT EXISTS payme_cancel_time TIMESTAMP`,
		`ALTER TABLE orders ADD COLUMN IF NOT EXISTS click_order_id BIGINT`,
		`ALTER TABLE orders ADD COLUMN IF NOT EXISTS click_trans_id BIGINT`,
		`ALTER TABLE orders ADD COLUMN IF NOT EXISTS click_paydoc_id BIGINT`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_payme_order_id ON orders(payme_order_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_click_order_id ON orders(click_order_id)`,
		`CREATE TABLE IF NOT EXISTS payme_transactions (
			ledger_id BIGSERIAL PRIMARY KEY,
			id VARCHAR(64) NOT NULL UNIQUE,
			order_id BIGINT NOT NULL REFERENCES orders(id),
			amount BIGINT NOT NULL,
			state INT NOT NULL,
			reason INT,
			payme_time BIGINT NOT NULL,
			create_time BIGINT NOT NULL,
			perform_time BIGINT NOT NULL DEFAULT 0,
			cancel_time BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payme_transactions_order_state ON payme_transactions(order_id, state)`,
		`CREATE INDEX IF NOT EXISTS idx_payme_transactions_create_time ON payme_transactions(create_time)`,
		`CREATE TABLE IF NOT EXISTS click_transactions (
			id BIGSERIAL PRIMARY KEY,
			click_trans_id BIGINT NOT NULL UNIQUE,
			order_id BIGINT NOT NULL REFERENCES orders(id),
			amount BIGINT NOT NULL,
			status VARCHAR(20) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return err
		}
	}

	return nil
}
