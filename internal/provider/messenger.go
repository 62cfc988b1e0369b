package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	appErrors "github.com/outreachhq/outreach-backend/internal/errors"
	"github.com/outreachhq/outreach-backend/internal/model"
)

// MessengerInterface is the channel-level surface the dispatch loop uses.
type MessengerInterface interface {
	StartChat(ctx context.Context, accountID, channel, recipient, text string) (*SendResult, error)
	AccountStatus(ctx context.Context, accountID string) (*AccountStatus, error)
}

// SendResult carries the provider identifiers of a dispatched message.
type SendResult struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
}

// AccountStatus is the provider's view of a connected messaging account.
type AccountStatus struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Connected bool   `json:"-"`
}

// Messenger issues channel-specific calls through the transport client.
// WhatsApp addresses recipients by phone, LinkedIn by profile identifier;
// both use the same chat-start call shape.
type Messenger struct {
	client *Client
}

func NewMessenger(client *Client) *Messenger {
	return &Messenger{client: client}
}

type startChatRequest struct {
	AccountID   string   `json:"account_id"`
	AttendeeIDs []string `json:"attendees_ids"`
	Text        string   `json:"text"`
}

// StartChat opens a chat with the recipient and sends the first message.
// Unsupported channels fail before any provider call, so they consume neither
// quota nor retry budget.
func (m *Messenger) StartChat(ctx context.Context, accountID, channel, recipient, text string) (*SendResult, error) {
	var attendee string
	switch channel {
	case model.ChannelWhatsApp:
		attendee = normalizePhone(recipient) + "@s.whatsapp.net"
	case model.ChannelLinkedIn:
		attendee = recipient
	default:
		return nil, &appErrors.ErrUnsupportedChannel{Channel: channel}
	}
	if attendee == "" {
		return nil, fmt.Errorf("empty recipient identifier for channel %s", channel)
	}

	resp, err := m.client.Do(ctx, "/api/v1/chats", RequestOptions{
		Method: http.MethodPost,
		Body: startChatRequest{
			AccountID:   accountID,
			AttendeeIDs: []string{attendee},
			Text:        text,
		},
	})
	if err != nil {
		return nil, err
	}

	var result SendResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode chat-start response: %w", err)
	}
	return &result, nil
}

// AccountStatus looks up the connection state of a provider account.
func (m *Messenger) AccountStatus(ctx context.Context, accountID string) (*AccountStatus, error) {
	resp, err := m.client.Do(ctx, "/api/v1/accounts/"+accountID, RequestOptions{Method: http.MethodGet})
	if err != nil {
		return nil, err
	}

	var status AccountStatus
	if err := json.Unmarshal(resp.Data, &status); err != nil {
		return nil, fmt.Errorf("failed to decode account status: %w", err)
	}
	status.Connected = strings.EqualFold(status.Status, "ok") || strings.EqualFold(status.Status, "connected")
	return &status, nil
}

// normalizePhone strips everything but digits from a phone number.
func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var _ MessengerInterface = (*Messenger)(nil)
