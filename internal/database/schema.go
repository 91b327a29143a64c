package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema creates the tables the booking core reads and writes.  Catalog
// tables are included so that a fresh database is usable; their admin
// screens live elsewhere.
//
// tickets carries UNIQUE(showtime_id, seat_id): lapsed holds are deleted
// before new rows are written, so the index covers exactly the active rows.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS membership_ranks (
		id                BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		name              VARCHAR(64)  NOT NULL UNIQUE,
		min_points        BIGINT       NOT NULL DEFAULT 0,
		points_per_ticket BIGINT       NOT NULL DEFAULT 0,
		points_per_combo  BIGINT       NOT NULL DEFAULT 0
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		email         VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		role          VARCHAR(32)  NOT NULL DEFAULT 'CUSTOMER',
		rank_id       BIGINT UNSIGNED NOT NULL DEFAULT 1,
		points        BIGINT       NOT NULL DEFAULT 0,
		is_active     TINYINT(1)   NOT NULL DEFAULT 1,
		created_at    DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at    DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		CONSTRAINT fk_users_rank FOREIGN KEY (rank_id) REFERENCES membership_ranks(id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS seat_types (
		id    BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		name  VARCHAR(64) NOT NULL UNIQUE,
		price BIGINT      NOT NULL
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS seats (
		id           BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		room_id      BIGINT UNSIGNED NOT NULL,
		row_label    VARCHAR(8)      NOT NULL,
		seat_number  INT UNSIGNED    NOT NULL,
		seat_type_id BIGINT UNSIGNED NOT NULL,
		UNIQUE KEY uq_seats_room_pos (room_id, row_label, seat_number),
		CONSTRAINT fk_seats_type FOREIGN KEY (seat_type_id) REFERENCES seat_types(id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS showtimes (
		id                       BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		movie_title              VARCHAR(255)    NOT NULL,
		room_id                  BIGINT UNSIGNED NOT NULL,
		starts_at                DATETIME        NOT NULL,
		ends_at                  DATETIME        NOT NULL,
		price_adjustment_percent DECIMAL(6,2)    NOT NULL DEFAULT 0,
		KEY idx_showtimes_room (room_id, starts_at)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS snacks (
		id    BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		name  VARCHAR(128) NOT NULL,
		price BIGINT       NOT NULL
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS promotions (
		id        BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		code      VARCHAR(64)   NOT NULL UNIQUE,
		discount  DECIMAL(12,2) NULL,
		starts_at DATETIME      NULL,
		ends_at   DATETIME      NULL,
		is_active TINYINT(1)    NOT NULL DEFAULT 1
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS invoices (
		id             VARCHAR(32)     PRIMARY KEY,
		user_id        BIGINT UNSIGNED NOT NULL,
		total          BIGINT          NOT NULL,
		original_total BIGINT          NOT NULL,
		status         TINYINT         NOT NULL DEFAULT 0,
		promotion_id   BIGINT UNSIGNED NULL,
		created_at     DATETIME        NOT NULL,
		updated_at     DATETIME        NOT NULL,
		KEY idx_invoices_user (user_id, created_at),
		CONSTRAINT fk_invoices_user FOREIGN KEY (user_id) REFERENCES users(id),
		CONSTRAINT fk_invoices_promotion FOREIGN KEY (promotion_id) REFERENCES promotions(id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id          VARCHAR(16)     PRIMARY KEY,
		invoice_id  VARCHAR(32)     NOT NULL,
		showtime_id BIGINT UNSIGNED NOT NULL,
		seat_id     BIGINT UNSIGNED NOT NULL,
		status      TINYINT         NOT NULL,
		price       BIGINT          NOT NULL,
		created_at  DATETIME        NOT NULL,
		expires_at  DATETIME        NULL,
		UNIQUE KEY uq_tickets_showtime_seat (showtime_id, seat_id),
		KEY idx_tickets_invoice (invoice_id),
		CONSTRAINT fk_tickets_invoice FOREIGN KEY (invoice_id) REFERENCES invoices(id),
		CONSTRAINT fk_tickets_showtime FOREIGN KEY (showtime_id) REFERENCES showtimes(id),
		CONSTRAINT fk_tickets_seat FOREIGN KEY (seat_id) REFERENCES seats(id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS booking_snacks (
		id         VARCHAR(16)     PRIMARY KEY,
		invoice_id VARCHAR(32)     NOT NULL,
		snack_id   BIGINT UNSIGNED NOT NULL,
		quantity   INT             NOT NULL,
		total      BIGINT          NOT NULL,
		KEY idx_booking_snacks_invoice (invoice_id),
		CONSTRAINT fk_booking_snacks_invoice FOREIGN KEY (invoice_id) REFERENCES invoices(id),
		CONSTRAINT fk_booking_snacks_snack FOREIGN KEY (snack_id) REFERENCES snacks(id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS points_history (
		id         BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		user_id    BIGINT UNSIGNED NOT NULL,
		invoice_id VARCHAR(32)     NOT NULL,
		points     BIGINT          NOT NULL,
		created_at DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uq_points_invoice_user (invoice_id, user_id),
		CONSTRAINT fk_points_user FOREIGN KEY (user_id) REFERENCES users(id),
		CONSTRAINT fk_points_invoice FOREIGN KEY (invoice_id) REFERENCES invoices(id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS payment_transactions (
		id                 VARCHAR(16)     PRIMARY KEY,
		invoice_id         VARCHAR(32)     NOT NULL,
		amount             BIGINT          NOT NULL,
		bank_code          VARCHAR(32)     NOT NULL DEFAULT '',
		gateway_txn_no     VARCHAR(64)     NOT NULL DEFAULT '',
		response_code      VARCHAR(8)      NOT NULL DEFAULT '',
		transaction_status VARCHAR(8)      NOT NULL DEFAULT '',
		signature_valid    TINYINT(1)      NOT NULL DEFAULT 0,
		paid_at            DATETIME        NULL,
		created_at         DATETIME        NOT NULL,
		UNIQUE KEY uq_payment_callback (invoice_id, gateway_txn_no, response_code),
		CONSTRAINT fk_payment_invoice FOREIGN KEY (invoice_id) REFERENCES invoices(id)
	) ENGINE=InnoDB`,
	`INSERT IGNORE INTO membership_ranks (id, name, min_points, points_per_ticket, points_per_combo) VALUES
		(1, 'Member', 0, 5, 2),
		(2, 'Silver', 500, 8, 3),
		(3, 'Gold', 2000, 10, 5)`,
}

// Migrate creates missing tables and the default membership ranks.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i+1, err)
		}
	}
	return nil
}
