package model

import "time"

// Campaign statuses. Transitions are driven by the execution engine and
// by the explicit user actions only; any other string is rejected.
const (
	CampaignDraft      = "draft"
	CampaignScheduled  = "scheduled"
	CampaignInProgress = "in_progress"
	CampaignPaused     = "paused"
	CampaignCompleted  = "completed"
	CampaignFailed     = "failed"
)

type Campaign struct {
	ID                     string     `db:"id" json:"id"`
	UserID                 string     `db:"user_id" json:"user_id"`
	Name                   string     `db:"name" json:"name"`
	MessageTemplate        string     `db:"message_template" json:"message_template"`
	PersonalizationPrompt  *string    `db:"personalization_prompt" json:"personalization_prompt,omitempty"`
	PersonalizationEnabled bool       `db:"personalization_enabled" json:"personalization_enabled"`
	MinDelaySeconds        int        `db:"min_delay_seconds" json:"min_delay_seconds"`
	MaxDelaySeconds        int        `db:"max_delay_seconds" json:"max_delay_seconds"`
	DailyLimit             int        `db:"daily_limit" json:"daily_limit"` // 0 = unlimited
	WindowStart            *string    `db:"window_start" json:"window_start,omitempty"` // "HH:MM" local time, both-or-neither with WindowEnd
	WindowEnd              *string    `db:"window_end" json:"window_end,omitempty"`
	Status                 string     `db:"status" json:"status"`
	ConnectionID           *string    `db:"connection_id" json:"connection_id,omitempty"`
	ScheduledAt            *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	CreatedAt              time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt              *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// ValidCampaignStatus reports whether s is one of the six legal campaign statuses.
func ValidCampaignStatus(s string) bool {
	switch s {
	case CampaignDraft, CampaignScheduled, CampaignInProgress,
		CampaignPaused, CampaignCompleted, CampaignFailed:
		return true
	}
	return false
}

// HasWindow reports whether a sending window is configured.
func (c *Campaign) HasWindow() bool {
	return c.WindowStart != nil && c.WindowEnd != nil
}
