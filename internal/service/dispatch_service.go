package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/outreachhq/outreach-backend/internal/config"
	appErrors "github.com/outreachhq/outreach-backend/internal/errors"
	"github.com/outreachhq/outreach-backend/internal/metrics"
	"github.com/outreachhq/outreach-backend/internal/model"
	"github.com/outreachhq/outreach-backend/internal/provider"
	"github.com/outreachhq/outreach-backend/internal/repository"
)

// RunResult summarizes one dispatch invocation.
type RunResult struct {
	CampaignID  int    `json:"campaign_id"`
	Attempted   int    `json:"attempted"`
	Sent        int    `json:"sent"`
	Failed      int    `json:"failed"`
	Deferred    int    `json:"deferred"`
	Queued      int    `json:"queued"`
	FinalStatus string `json:"final_status"`
}

// DispatchService runs one campaign's paced, quota-bounded send batch. A run
// is a single sequential task: pacing with jitter only holds when sends are
// serialized, so there is no internal parallelism. Per-lead state and usage
// counters persist incrementally, which makes a crashed run resumable from
// storage alone.
type DispatchService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	LeadRepo     repository.LeadRepositoryInterface
	QueueRepo    repository.QueueRepositoryInterface
	Quota        *QuotaService
	Credits      *CreditService
	Messenger    provider.MessengerInterface
	Config       config.DispatchConfig
	Logger       zerolog.Logger

	// Injection points for tests.
	Sleep func(time.Duration)
	Now   func() time.Time
	Rand  func() float64
}

func (s *DispatchService) sleep(d time.Duration) {
	if s.Sleep != nil {
		s.Sleep(d)
		return
	}
	time.Sleep(d)
}

func (s *DispatchService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *DispatchService) randFloat() float64 {
	if s.Rand != nil {
		return s.Rand()
	}
	return rand.Float64()
}

// PacingDelay returns the randomized gap between two consecutive sends:
// interval scaled by a jitter factor uniform in [0.8, 1.2], with the
// interval floored first so jitter cannot undercut the anti-automation
// minimum by much more than the configured spread.
func (s *DispatchService) PacingDelay() time.Duration {
	interval := s.Config.PacingInterval
	floor := s.Config.MinInterval
	if floor < 10*time.Second {
		floor = 10 * time.Second
	}
	if interval < floor {
		interval = floor
	}
	factor := 0.8 + s.randFloat()*0.4
	return time.Duration(float64(interval) * factor)
}

// Run executes one dispatch invocation for a campaign. It plans today's
// allocation against remaining quota, paces through it, and persists
// overflow as future-day queue entries. The run never self-reschedules; an
// external trigger invokes it again.
func (s *DispatchService) Run(ctx context.Context, campaignID int) (*RunResult, error) {
	started := s.now()
	result := &RunResult{CampaignID: campaignID}
	log := s.Logger.With().Int("campaign_id", campaignID).Logger()

	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	switch campaign.Status {
	case model.CampaignStatusDraft, model.CampaignStatusScheduled, model.CampaignStatusSending, model.CampaignStatusQueued:
	default:
		return nil, &appErrors.ErrInvalidCampaignState{CampaignID: campaignID, Status: campaign.Status}
	}
	if campaign.Channel != model.ChannelWhatsApp && campaign.Channel != model.ChannelLinkedIn {
		// Unsupported channels fail before any quota or retry budget moves.
		if err := s.CampaignRepo.UpdateStatus(ctx, campaignID, model.CampaignStatusFailed); err != nil {
			return nil, err
		}
		result.FinalStatus = model.CampaignStatusFailed
		return result, &appErrors.ErrUnsupportedChannel{Channel: campaign.Channel}
	}

	// This run owns the campaign's due queue entries from here on; finalize
	// closes them out so the scheduler never re-triggers a spent day.
	claimed, err := s.QueueRepo.ClaimDue(ctx, campaignID, started)
	if err != nil {
		return nil, err
	}

	totalPending, err := s.LeadRepo.CountDispatchable(ctx, campaignID, campaign.MaxRetries)
	if err != nil {
		return nil, err
	}
	if totalPending == 0 {
		return s.finalize(ctx, campaign, result, claimed, started)
	}

	limits, err := s.Quota.ResolveLimits(ctx, campaign.WorkspaceID, model.ActionSendMessage)
	if err != nil {
		return nil, err
	}
	currentUsage, err := s.Quota.CurrentUsage(ctx, campaign.WorkspaceID, campaign.AccountID, model.ActionSendMessage, started)
	if err != nil {
		return nil, err
	}

	plan := PlanBatch(totalPending, limits.Daily, currentUsage, s.maxBatch(), started)
	for _, alloc := range plan.Future {
		if err := s.QueueRepo.Upsert(ctx, campaignID, alloc.Date, alloc.Leads); err != nil {
			return nil, err
		}
	}
	result.Queued = plan.TotalQueued()

	if plan.SendNow == 0 {
		// Rate limited for the day: the whole batch defers, no provider
		// call is made, and the campaign resumes on the next calendar day.
		// The claimed entries' leads were just re-spread over future days,
		// so they close out with nothing sent.
		if err := s.completeClaimed(ctx, claimed, 0); err != nil {
			return nil, err
		}
		deferred, err := s.LeadRepo.DeferDispatchable(ctx, campaignID, campaign.MaxRetries, model.DeferReasonRateLimited)
		if err != nil {
			return nil, err
		}
		result.Deferred = deferred
		if err := s.CampaignRepo.SetNextRunAt(ctx, campaignID, NextRunTime(started, s.Config.DeferHour, s.Config.Location())); err != nil {
			return nil, err
		}
		if err := s.CampaignRepo.UpdateStatus(ctx, campaignID, model.CampaignStatusQueued); err != nil {
			return nil, err
		}
		result.FinalStatus = model.CampaignStatusQueued
		log.Info().Int("deferred", deferred).Int("usage", currentUsage).Int("limit", limits.Daily).
			Msg("daily quota exhausted before run; batch deferred")
		metrics.DispatchRunDuration.WithLabelValues(result.FinalStatus).Observe(s.now().Sub(started).Seconds())
		return result, nil
	}

	if err := s.checkAccountSession(ctx, campaign); err != nil {
		return nil, err
	}

	leads, err := s.LeadRepo.ListDispatchable(ctx, campaignID, campaign.MaxRetries, plan.SendNow)
	if err != nil {
		return nil, err
	}
	if campaign.Status != model.CampaignStatusSending {
		if err := s.CampaignRepo.UpdateStatus(ctx, campaignID, model.CampaignStatusSending); err != nil {
			return nil, err
		}
	}

	var runErr error
	for i, lead := range leads {
		if ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}

		sent, err := s.sendOne(ctx, campaign, lead, limits)
		if sent {
			result.Attempted++
			result.Sent++
		}
		if err != nil {
			var sessionErr *provider.APIError
			if errors.As(err, &sessionErr) && sessionErr.RequiresReconnect {
				// Session failures hit the whole account; burning the
				// remaining leads' retry budget on them helps nobody.
				log.Warn().Err(err).Msg("account session error; aborting run, leads stay eligible")
				runErr = err
				break
			}
			var insufficient *appErrors.ErrInsufficientCredits
			if errors.As(err, &insufficient) {
				log.Warn().Err(err).Msg("prepaid credits exhausted; aborting run")
				runErr = err
				break
			}
			var unavailable *appErrors.ErrQuotaUnavailable
			var exceeded *appErrors.ErrQuotaExceeded
			if errors.As(err, &unavailable) || errors.As(err, &exceeded) {
				runErr = err
				break
			}
			if !sent {
				result.Attempted++
				result.Failed++
			}
		}

		if i < len(leads)-1 {
			s.sleep(s.PacingDelay())
		}
	}

	finalized, ferr := s.finalize(ctx, campaign, result, claimed, started)
	if runErr != nil {
		return finalized, runErr
	}
	return finalized, ferr
}

// sendOne renders, meters and dispatches a single lead. The returned bool
// reports whether a provider send actually happened.
func (s *DispatchService) sendOne(ctx context.Context, campaign *model.Campaign, lead *model.CampaignLead, limits *Limits) (bool, error) {
	text := RenderTemplate(campaign.Template, lead)
	recipient := lead.Phone
	if campaign.Channel == model.ChannelLinkedIn {
		recipient = lead.ProfileID
	}

	var sendResult *provider.SendResult
	description := fmt.Sprintf("campaign %d lead %d %s send", campaign.ID, lead.ID, campaign.Channel)
	err := s.Credits.WithDebit(ctx, campaign.WorkspaceID, model.CreditResourceMessages, limits.CreditCost, description, func() error {
		var callErr error
		sendResult, callErr = s.Messenger.StartChat(ctx, campaign.AccountID, campaign.Channel, recipient, text)
		return callErr
	})
	if err != nil {
		var insufficient *appErrors.ErrInsufficientCredits
		var sessionErr *provider.APIError
		if errors.As(err, &insufficient) || (errors.As(err, &sessionErr) && sessionErr.RequiresReconnect) {
			// Not this lead's fault; surface without touching its state.
			return false, err
		}

		metrics.SendAttempts.WithLabelValues(campaign.Channel, "failed").Inc()
		terminal := lead.RetryCount+1 >= campaign.MaxRetries
		if markErr := s.LeadRepo.MarkFailed(ctx, lead.ID, err.Error(), terminal); markErr != nil {
			return false, markErr
		}
		if terminal {
			s.Logger.Info().Int("lead_id", lead.ID).Int("retries", lead.RetryCount+1).
				Msg("lead exhausted retry budget")
		}
		return false, err
	}

	if err := s.LeadRepo.MarkSent(ctx, lead.ID, sendResult.MessageID); err != nil {
		return true, err
	}
	metrics.SendAttempts.WithLabelValues(campaign.Channel, "sent").Inc()

	decision, err := s.Quota.Consume(ctx, campaign.WorkspaceID, campaign.AccountID, model.ActionSendMessage, s.now())
	if err != nil {
		// The send happened; the fail-closed error stops further sends but
		// must not unmark this lead.
		return true, err
	}
	if !decision.Allowed {
		// A concurrent invocation on the same account won the last unit.
		// Stop here; the planner re-checks usage on the next trigger.
		return true, &appErrors.ErrQuotaExceeded{
			Action:  model.ActionSendMessage,
			Current: decision.Current,
			Limit:   decision.Limit,
		}
	}
	return true, nil
}

// checkAccountSession verifies the provider account is still connected
// before the first send of a run.
func (s *DispatchService) checkAccountSession(ctx context.Context, campaign *model.Campaign) error {
	status, err := s.Messenger.AccountStatus(ctx, campaign.AccountID)
	if err != nil {
		var apiErr *provider.APIError
		if errors.As(err, &apiErr) && apiErr.RequiresReconnect {
			return fmt.Errorf("account %s requires reconnection: %w", campaign.AccountID, err)
		}
		return err
	}
	if !status.Connected {
		return fmt.Errorf("account %s is not connected (status %s)", campaign.AccountID, status.Status)
	}
	return nil
}

// finalize closes out the claimed queue entries, recomputes aggregates and
// settles the campaign's status: failed when every attempted lead failed,
// completed when nothing is left to send or retry, queued while future-day
// entries remain, else partial.
func (s *DispatchService) finalize(ctx context.Context, campaign *model.Campaign, result *RunResult, claimed []int, started time.Time) (*RunResult, error) {
	if err := s.completeClaimed(ctx, claimed, result.Sent); err != nil {
		return result, err
	}
	if err := s.CampaignRepo.SyncCounters(ctx, campaign.ID); err != nil {
		return result, err
	}

	counts, err := s.LeadRepo.CountByStatus(ctx, campaign.ID)
	if err != nil {
		return result, err
	}
	openQueue, err := s.QueueRepo.CountOpen(ctx, campaign.ID)
	if err != nil {
		return result, err
	}

	unsent := counts[model.LeadStatusPending] + counts[model.LeadStatusDeferred]
	switch {
	case result.Attempted > 0 && result.Sent == 0:
		result.FinalStatus = model.CampaignStatusFailed
	case unsent == 0 && counts[model.LeadStatusFailed] == 0:
		result.FinalStatus = model.CampaignStatusCompleted
	case openQueue > 0:
		result.FinalStatus = model.CampaignStatusQueued
	default:
		result.FinalStatus = model.CampaignStatusPartial
	}

	if err := s.CampaignRepo.UpdateStatus(ctx, campaign.ID, result.FinalStatus); err != nil {
		return result, err
	}
	metrics.DispatchRunDuration.WithLabelValues(result.FinalStatus).Observe(s.now().Sub(started).Seconds())
	s.Logger.Info().
		Int("campaign_id", campaign.ID).
		Int("attempted", result.Attempted).
		Int("sent", result.Sent).
		Int("failed", result.Failed).
		Int("queued", result.Queued).
		Str("final_status", result.FinalStatus).
		Msg("dispatch run finished")
	return result, nil
}

// completeClaimed marks the run's claimed queue entries completed. The run's
// sent count lands on the first entry; extra entries (missed days caught up
// in one run) close with zero.
func (s *DispatchService) completeClaimed(ctx context.Context, claimed []int, sent int) error {
	for i, id := range claimed {
		leadsSent := 0
		if i == 0 {
			leadsSent = sent
		}
		if err := s.QueueRepo.Complete(ctx, id, leadsSent); err != nil {
			return err
		}
	}
	return nil
}

func (s *DispatchService) maxBatch() int {
	interval := s.Config.PacingInterval
	if interval < s.Config.MinInterval {
		interval = s.Config.MinInterval
	}
	if interval <= 0 || s.Config.ExecutionWindow <= 0 {
		return 0
	}
	return int(s.Config.ExecutionWindow / interval)
}
