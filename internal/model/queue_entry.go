package model

import "time"

// CampaignQueueEntry statuses.
const (
	QueueEntryStatusQueued     = "queued"
	QueueEntryStatusProcessing = "processing"
	QueueEntryStatusCompleted  = "completed"
)

// CampaignQueueEntry holds a future-day allocation of a campaign batch that
// did not fit under today's quota. At most one entry exists per
// (campaign_id, scheduled_date); the planner upserts, never duplicates.
type CampaignQueueEntry struct {
	ID            int       `db:"id" json:"id"`
	CampaignID    int       `db:"campaign_id" json:"campaign_id"`
	ScheduledDate time.Time `db:"scheduled_date" json:"scheduled_date"`
	LeadsToSend   int       `db:"leads_to_send" json:"leads_to_send"`
	LeadsSent     int       `db:"leads_sent" json:"leads_sent"`
	Status        string    `db:"status" json:"status"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}
