package model

import "time"

// User represents an application user record as stored in the `users`
// table.  Customers additionally carry a membership rank and a running
// loyalty point balance.
//
// Fields:
//
//	ID           – primary key identifier of the user.
//	Email        – unique email address.
//	PasswordHash – bcrypt hashed password.
//	Role         – name of the role (CUSTOMER or ADMIN).
//	RankID       – membership rank (membership_ranks.id).
//	Points       – current loyalty point balance.
//	IsActive     – whether the account is active.
//	CreatedAt    – timestamp of creation.
//	UpdatedAt    – timestamp of last update.
type User struct {
	ID           uint64    `db:"id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	Role         string    `db:"role"`
	RankID       uint64    `db:"rank_id"`
	Points       int64     `db:"points"`
	IsActive     bool      `db:"is_active"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Rank is a membership tier.  It decides how many points a ticket and a
// snack item earn and the balance needed to reach the tier.
type Rank struct {
	ID              uint64 `db:"id" json:"id"`
	Name            string `db:"name" json:"name"`
	MinPoints       int64  `db:"min_points" json:"min_points"`
	PointsPerTicket int64  `db:"points_per_ticket" json:"points_per_ticket"`
	PointsPerCombo  int64  `db:"points_per_combo" json:"points_per_combo"`
}

// PointsEntry is one row of the loyalty ledger.  There is at most one entry
// per (invoice, user).
type PointsEntry struct {
	ID        uint64    `db:"id" json:"id"`
	UserID    uint64    `db:"user_id" json:"user_id"`
	InvoiceID string    `db:"invoice_id" json:"invoice_id"`
	Points    int64     `db:"points" json:"points"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
