package model

import "time"

// Provider event types after webhook normalization.
const (
	EventSentAck   = "sent_ack"
	EventDelivered = "delivered"
	EventSeen      = "seen"
	EventReplied   = "replied"
)

// ProviderEvent is the single internal representation all inbound webhook
// payload shapes normalize into.
type ProviderEvent struct {
	Type              string    `json:"type"`
	ProviderMessageID string    `json:"provider_message_id"`
	AccountID         string    `json:"account_id"`
	Phone             string    `json:"phone"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// LeadStatus maps the event to the lead status it promotes to, or "" for
// unknown event types.
func (e *ProviderEvent) LeadStatus() string {
	switch e.Type {
	case EventSentAck:
		return LeadStatusSent
	case EventDelivered:
		return LeadStatusDelivered
	case EventSeen:
		return LeadStatusSeen
	case EventReplied:
		return LeadStatusReplied
	}
	return ""
}
