// Package webhook ingests inbound provider events: signature verification,
// tolerant payload normalization, and the HTTP handler.
package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/outreachhq/outreach-backend/internal/model"
)

// payload is the superset of fields across the known provider payload
// shapes. Normalization happens here once; nothing else in the codebase
// touches raw webhook JSON.
type payload struct {
	Event     string    `json:"event"`
	Type      string    `json:"type"`
	MessageID string    `json:"message_id"`
	ChatID    string    `json:"chat_id"`
	AccountID string    `json:"account_id"`
	Timestamp string    `json:"timestamp"`
	Sender    *attendee `json:"sender"`
	From      *attendee `json:"from"`
}

type attendee struct {
	AttendeeProviderID string `json:"attendee_provider_id"`
	Phone              string `json:"phone"`
}

// eventNames maps every provider spelling onto the internal event type.
var eventNames = map[string]string{
	"message_sent":      model.EventSentAck,
	"message.sent":      model.EventSentAck,
	"message_delivered": model.EventDelivered,
	"message.delivered": model.EventDelivered,
	"message_read":      model.EventSeen,
	"message.read":      model.EventSeen,
	"message_seen":      model.EventSeen,
	"message_received":  model.EventReplied,
	"message.received":  model.EventReplied,
	"message_reply":     model.EventReplied,
}

// Normalize decodes a raw webhook body into the single internal event
// representation. Payloads outside the known union are rejected.
func Normalize(body []byte) (*model.ProviderEvent, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("malformed webhook payload: %w", err)
	}

	name := p.Event
	if name == "" {
		name = p.Type
	}
	eventType, ok := eventNames[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown webhook event: %q", name)
	}

	event := &model.ProviderEvent{
		Type:              eventType,
		ProviderMessageID: p.MessageID,
		AccountID:         p.AccountID,
		Phone:             senderPhone(&p),
	}
	if p.Timestamp != "" {
		if at, err := time.Parse(time.RFC3339, p.Timestamp); err == nil {
			event.OccurredAt = at
		}
	}
	if event.ProviderMessageID == "" && event.Phone == "" {
		return nil, fmt.Errorf("webhook event %q carries no lead identifier", name)
	}
	return event, nil
}

func senderPhone(p *payload) string {
	for _, a := range []*attendee{p.Sender, p.From} {
		if a == nil {
			continue
		}
		if a.Phone != "" {
			return a.Phone
		}
		if a.AttendeeProviderID != "" {
			// WhatsApp attendee ids look like 31612345678@s.whatsapp.net.
			return strings.SplitN(a.AttendeeProviderID, "@", 2)[0]
		}
	}
	return ""
}
