package model

import "time"

// CampaignLead statuses. Priorities form a total order used by status
// reconciliation: a stored status is only ever upgraded, never regressed.
const (
	LeadStatusPending   = "pending"
	LeadStatusFailed    = "failed"
	LeadStatusSent      = "sent"
	LeadStatusDeferred  = "deferred"
	LeadStatusDelivered = "delivered"
	LeadStatusSeen      = "seen"
	LeadStatusReplied   = "replied"
)

// Reason codes recorded when a lead is moved to deferred.
const (
	DeferReasonRateLimited = "rate_limited"
	DeferReasonFailed      = "failed"
)

// leadStatusPriority orders the delivery lifecycle. Deferred is not part of
// the order: a deferred lead re-enters the run as pending.
var leadStatusPriority = map[string]int{
	LeadStatusPending:   0,
	LeadStatusFailed:    1,
	LeadStatusSent:      2,
	LeadStatusDelivered: 3,
	LeadStatusSeen:      4,
	LeadStatusReplied:   5,
}

// LeadStatusPriority returns the position of a status in the delivery
// lifecycle, or -1 for statuses outside it (deferred, unknown).
func LeadStatusPriority(status string) int {
	p, ok := leadStatusPriority[status]
	if !ok {
		return -1
	}
	return p
}

// CampaignLead is one outreach target within a campaign. The dispatch loop is
// the only writer during a run; status reconciliation is the only writer
// outside a run.
type CampaignLead struct {
	ID         int    `db:"id" json:"id"`
	CampaignID int    `db:"campaign_id" json:"campaign_id"`
	Status     string `db:"status" json:"status"`

	// Contact fields used for channel addressing and personalization.
	FirstName string `db:"first_name" json:"first_name"`
	LastName  string `db:"last_name" json:"last_name"`
	Company   string `db:"company" json:"company"`
	Position  string `db:"position" json:"position"`
	Phone     string `db:"phone" json:"phone"`
	ProfileID string `db:"profile_id" json:"profile_id"`
	Custom1   string `db:"custom1" json:"custom1"`
	Custom2   string `db:"custom2" json:"custom2"`

	RetryCount        int    `db:"retry_count" json:"retry_count"`
	LastError         string `db:"last_error" json:"last_error,omitempty"`
	DeferReason       string `db:"defer_reason" json:"defer_reason,omitempty"`
	ProviderMessageID string `db:"provider_message_id" json:"provider_message_id,omitempty"`

	SentAt      *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	SeenAt      *time.Time `db:"seen_at" json:"seen_at,omitempty"`
	RepliedAt   *time.Time `db:"replied_at" json:"replied_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}
