package model

import "time"

// Campaign statuses. A campaign only moves forward through the dispatch
// lifecycle: draft -> scheduled -> sending -> queued/partial/completed/failed.
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusScheduled = "scheduled"
	CampaignStatusSending   = "sending"
	CampaignStatusQueued    = "queued"
	CampaignStatusPartial   = "partial"
	CampaignStatusCompleted = "completed"
	CampaignStatusFailed    = "failed"
)

// Channels supported by the dispatch engine.
const (
	ChannelWhatsApp = "whatsapp"
	ChannelLinkedIn = "linkedin"
)

type Campaign struct {
	ID          int        `db:"id" json:"id"`
	WorkspaceID int        `db:"workspace_id" json:"workspace_id"`
	AccountID   string     `db:"account_id" json:"account_id"`
	Name        string     `db:"name" json:"name"`
	Channel     string     `db:"channel" json:"channel"`
	Status      string     `db:"status" json:"status"`
	Template    string     `db:"template" json:"template"`
	MaxRetries  int        `db:"max_retries" json:"max_retries"`
	ScheduledAt *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	NextRunAt   *time.Time `db:"next_run_at" json:"next_run_at,omitempty"`

	// Aggregate counters, monotonic non-decreasing.
	SentCount      int `db:"sent_count" json:"sent_count"`
	FailedCount    int `db:"failed_count" json:"failed_count"`
	DeliveredCount int `db:"delivered_count" json:"delivered_count"`
	SeenCount      int `db:"seen_count" json:"seen_count"`
	RepliedCount   int `db:"replied_count" json:"replied_count"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}
