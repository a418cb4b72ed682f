package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema creates the ledger tables when they do not exist yet.  Seats
// carry event_id so room snapshots and reconcile scans need no join.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		email VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		role ENUM('CUSTOMER','ORGANIZER') NOT NULL DEFAULT 'CUSTOMER',
		is_active TINYINT(1) NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS events (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		starts_at DATETIME NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS ticket_categories (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		event_id BIGINT UNSIGNED NOT NULL,
		name VARCHAR(100) NOT NULL,
		price_cents INT UNSIGNED NOT NULL,
		capacity INT UNSIGNED NOT NULL,
		sold INT UNSIGNED NOT NULL DEFAULT 0,
		KEY idx_categories_event (event_id),
		CONSTRAINT fk_categories_event FOREIGN KEY (event_id) REFERENCES events(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS orders (
		id CHAR(36) PRIMARY KEY,
		user_id BIGINT UNSIGNED NOT NULL,
		event_id BIGINT UNSIGNED NOT NULL,
		status ENUM('PENDING','PAID','CANCELLED','EXPIRED','FAILED') NOT NULL,
		total_amount_cents BIGINT UNSIGNED NOT NULL,
		payment_ref VARCHAR(255) NULL,
		expires_at DATETIME(3) NOT NULL,
		paid_at DATETIME(3) NULL,
		created_at DATETIME(3) NOT NULL,
		updated_at DATETIME(3) NOT NULL,
		KEY idx_orders_pending (status, expires_at),
		CONSTRAINT fk_orders_user FOREIGN KEY (user_id) REFERENCES users(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS seats (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		category_id BIGINT UNSIGNED NOT NULL,
		event_id BIGINT UNSIGNED NOT NULL,
		label VARCHAR(32) NOT NULL,
		status ENUM('AVAILABLE','RESERVED','BOOKED') NOT NULL DEFAULT 'AVAILABLE',
		order_id CHAR(36) NULL,
		updated_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		KEY idx_seats_event_status (event_id, status),
		KEY idx_seats_status_order (status, order_id),
		CONSTRAINT fk_seats_category FOREIGN KEY (category_id) REFERENCES ticket_categories(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id CHAR(36) PRIMARY KEY,
		order_id CHAR(36) NOT NULL,
		seat_id BIGINT UNSIGNED NOT NULL,
		category_id BIGINT UNSIGNED NOT NULL,
		price_cents INT UNSIGNED NOT NULL,
		status ENUM('PENDING','ACTIVE','CANCELLED') NOT NULL,
		KEY idx_tickets_order (order_id),
		CONSTRAINT fk_tickets_order FOREIGN KEY (order_id) REFERENCES orders(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// EnsureSchema applies the DDL in order.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
