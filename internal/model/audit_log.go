package model

import "time"

// AuditLog records one processed inbound provider event against a lead.
type AuditLog struct {
	ID         int       `db:"id" json:"id"`
	CampaignID int       `db:"campaign_id" json:"campaign_id"`
	LeadID     int       `db:"lead_id" json:"lead_id"`
	EventType  string    `db:"event_type" json:"event_type"`
	Detail     string    `db:"detail" json:"detail"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
