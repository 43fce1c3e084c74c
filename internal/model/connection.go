package model

import "time"

// Connection is a transport session handle. The store owns the
// authoritative authentication state; in-memory session state is never
// assumed to survive a restart, so the engine re-checks the transport
// before trusting a connection.
type Connection struct {
	ID            string    `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"user_id"`
	Label         string    `db:"label" json:"label"`
	Authenticated bool      `db:"authenticated" json:"authenticated"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
