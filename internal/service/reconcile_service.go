package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/outreachhq/outreach-backend/internal/metrics"
	"github.com/outreachhq/outreach-backend/internal/model"
	"github.com/outreachhq/outreach-backend/internal/repository"
)

// ReconcileService applies asynchronous delivery/read/reply events as
// monotonic status upgrades on campaign leads. It is the only writer of lead
// state outside a dispatch run.
type ReconcileService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	LeadRepo     repository.LeadRepositoryInterface
	AuditRepo    repository.AuditRepositoryInterface
	Logger       zerolog.Logger

	// LookbackDays bounds the heuristic match window for inbound replies
	// without a known message id.
	LookbackDays int

	Now func() time.Time
}

func (s *ReconcileService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Apply processes one normalized provider event. Unknown event types and
// unmatched leads are dropped with a log line; a stale event (priority not
// above the stored status) is a no-op. The campaign aggregate counter moves
// exactly once per applied event, gated by the guarded status update.
func (s *ReconcileService) Apply(ctx context.Context, event *model.ProviderEvent) error {
	target := event.LeadStatus()
	if target == "" {
		metrics.WebhookEvents.WithLabelValues(event.Type, "error").Inc()
		return fmt.Errorf("unknown provider event type: %s", event.Type)
	}

	lead, err := s.resolveLead(ctx, event)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(event.Type, "error").Inc()
		return err
	}
	if lead == nil {
		metrics.WebhookEvents.WithLabelValues(event.Type, "unmatched").Inc()
		s.Logger.Debug().
			Str("event_type", event.Type).
			Str("provider_message_id", event.ProviderMessageID).
			Msg("provider event matched no lead")
		return nil
	}

	// Strict upgrade only: a late delivered event can never pull a replied
	// lead backwards.
	if model.LeadStatusPriority(target) <= model.LeadStatusPriority(lead.Status) {
		metrics.WebhookEvents.WithLabelValues(event.Type, "stale").Inc()
		return nil
	}

	at := event.OccurredAt
	if at.IsZero() {
		at = s.now()
	}
	advanced, err := s.LeadRepo.AdvanceStatus(ctx, lead.ID, lead.Status, target, at)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(event.Type, "error").Inc()
		return err
	}
	if !advanced {
		// Lost a race against another event; the winner incremented.
		metrics.WebhookEvents.WithLabelValues(event.Type, "stale").Inc()
		return nil
	}

	if err := s.CampaignRepo.IncrementCounter(ctx, lead.CampaignID, target); err != nil {
		return err
	}
	if err := s.AuditRepo.Append(ctx, &model.AuditLog{
		CampaignID: lead.CampaignID,
		LeadID:     lead.ID,
		EventType:  event.Type,
		Detail:     fmt.Sprintf("status %s -> %s (message %s)", lead.Status, target, event.ProviderMessageID),
	}); err != nil {
		s.Logger.Error().Err(err).Int("lead_id", lead.ID).Msg("failed to append audit log")
	}
	metrics.WebhookEvents.WithLabelValues(event.Type, "applied").Inc()
	return nil
}

// resolveLead finds the lead an event belongs to: exact provider message id
// first, then the bounded-lookback phone heuristic for pure inbound replies.
// The heuristic is best effort and not guaranteed unique.
func (s *ReconcileService) resolveLead(ctx context.Context, event *model.ProviderEvent) (*model.CampaignLead, error) {
	lead, err := s.LeadRepo.GetByProviderMessageID(ctx, event.ProviderMessageID)
	if err != nil || lead != nil {
		return lead, err
	}

	if event.AccountID == "" || event.Phone == "" {
		return nil, nil
	}
	lookback := s.LookbackDays
	if lookback <= 0 {
		lookback = 7
	}
	since := s.now().AddDate(0, 0, -lookback)
	return s.LeadRepo.FindRecentByPhoneFragment(ctx, event.AccountID, digitsOf(event.Phone), since)
}

func digitsOf(phone string) string {
	out := make([]rune, 0, len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			out = append(out, r)
		}
	}
	return string(out)
}
