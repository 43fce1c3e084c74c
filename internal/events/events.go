package events

import "time"

// Event types published to the campaign_events queue.
const (
	TypeCampaignStatus = "campaign_status"
	TypeMessageOutcome = "message_outcome"
)

// Event is the wire record for campaign lifecycle changes and
// per-recipient send outcomes.
type Event struct {
	Type        string    `json:"type"`
	CampaignID  string    `json:"campaign_id"`
	RecipientID string    `json:"recipient_id,omitempty"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`
}

// Publisher emits engine events. Publishing is best-effort; the loop
// logs and continues when the broker is unavailable.
type Publisher interface {
	Publish(e Event) error
	Close() error
}

// Nop discards all events. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(Event) error { return nil }
func (Nop) Close() error        { return nil }

var _ Publisher = Nop{}
