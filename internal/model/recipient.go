package model

import "time"

// Recipient statuses. The engine drives pending -> processing -> sent|failed;
// the worker promotes sent -> delivered once the transport confirms; skip and
// reset are user actions outside the engine.
const (
	RecipientPending    = "pending"
	RecipientProcessing = "processing"
	RecipientSent       = "sent"
	RecipientDelivered  = "delivered"
	RecipientFailed     = "failed"
	RecipientSkipped    = "skipped"
)

type Recipient struct {
	ID            string     `db:"id" json:"id"`
	CampaignID    string     `db:"campaign_id" json:"campaign_id"`
	Name          string     `db:"name" json:"name"`
	Address       string     `db:"address" json:"address"` // raw; the transport normalizes at send time
	Message       *string    `db:"message" json:"message,omitempty"` // fixed after first generation
	Status        string     `db:"status" json:"status"`
	SentAt        *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt   *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	FailureReason *string    `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// ValidRecipientStatus reports whether s is a legal recipient status.
func ValidRecipientStatus(s string) bool {
	switch s {
	case RecipientPending, RecipientProcessing, RecipientSent,
		RecipientDelivered, RecipientFailed, RecipientSkipped:
		return true
	}
	return false
}

// Settled reports whether the recipient already left the engine
// successfully or was skipped, i.e. the loop must not send to it again.
func (r *Recipient) Settled() bool {
	switch r.Status {
	case RecipientSent, RecipientDelivered, RecipientSkipped:
		return true
	}
	return false
}
