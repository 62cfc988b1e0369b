package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/outreachhq/outreach-backend/internal/errors"
	"github.com/outreachhq/outreach-backend/internal/model"
	"github.com/outreachhq/outreach-backend/internal/queue"
	"github.com/outreachhq/outreach-backend/internal/repository"
)

// CampaignService covers the campaign management surface: creation, listing,
// lead import, previews and handing dispatch jobs to the worker queue.
type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	LeadRepo     repository.LeadRepositoryInterface
	QueueRepo    repository.QueueRepositoryInterface
	Queue        queue.Publisher
	Logger       zerolog.Logger
}

type CampaignDetails struct {
	*model.Campaign
	Stats        map[string]int              `json:"stats"`
	QueueEntries []*model.CampaignQueueEntry `json:"queue_entries"`
}

type CreateCampaignInput struct {
	WorkspaceID int     `json:"workspace_id"`
	AccountID   string  `json:"account_id"`
	Name        string  `json:"name"`
	Channel     string  `json:"channel"`
	Template    string  `json:"template"`
	MaxRetries  int     `json:"max_retries"`
	ScheduledAt *string `json:"scheduled_at"`
}

func (s *CampaignService) CreateCampaign(ctx context.Context, in CreateCampaignInput) (*model.Campaign, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("campaign name cannot be empty")
	}
	if strings.TrimSpace(in.Template) == "" {
		return nil, fmt.Errorf("campaign template cannot be empty")
	}
	if in.Channel != model.ChannelWhatsApp && in.Channel != model.ChannelLinkedIn {
		return nil, fmt.Errorf("unknown channel: %s", in.Channel)
	}

	c := &model.Campaign{
		WorkspaceID: in.WorkspaceID,
		AccountID:   in.AccountID,
		Name:        in.Name,
		Channel:     in.Channel,
		Template:    in.Template,
		MaxRetries:  in.MaxRetries,
		Status:      model.CampaignStatusDraft,
	}
	if in.ScheduledAt != nil && *in.ScheduledAt != "" {
		t, err := time.Parse(time.RFC3339, *in.ScheduledAt)
		if err != nil {
			return nil, fmt.Errorf("invalid scheduled_at: %w", err)
		}
		c.ScheduledAt = &t
		c.Status = model.CampaignStatusScheduled
	}

	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// AddLeads imports outreach targets into a campaign.
func (s *CampaignService) AddLeads(ctx context.Context, campaignID int, leads []*model.CampaignLead) (int, error) {
	if _, err := s.CampaignRepo.GetByID(ctx, campaignID); err != nil {
		return 0, err
	}
	added := 0
	for _, lead := range leads {
		lead.CampaignID = campaignID
		if err := s.LeadRepo.Create(ctx, lead); err != nil {
			s.Logger.Warn().Err(err).Int("campaign_id", campaignID).Msg("failed to import lead")
			continue
		}
		added++
	}
	return added, nil
}

// EnqueueDispatch validates the campaign and hands a dispatch job to the
// worker queue. The actual send run happens out of process.
func (s *CampaignService) EnqueueDispatch(ctx context.Context, campaignID int) error {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	switch campaign.Status {
	case model.CampaignStatusDraft, model.CampaignStatusScheduled, model.CampaignStatusSending, model.CampaignStatusQueued:
	default:
		return &appErrors.ErrInvalidCampaignState{CampaignID: campaignID, Status: campaign.Status}
	}
	return s.Queue.PublishDispatch(campaignID)
}

// ListCampaigns fetches campaigns with pagination.
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, channel, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, channel, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}
	return campaigns, pagination, nil
}

// GetCampaignDetails returns a campaign with per-status lead stats and its
// future-day queue entries.
func (s *CampaignService) GetCampaignDetails(ctx context.Context, campaignID int) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	stats, err := s.CampaignRepo.GetCampaignStats(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	entries, err := s.QueueRepo.ListByCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return &CampaignDetails{Campaign: campaign, Stats: stats, QueueEntries: entries}, nil
}

// RenderPreview renders the campaign template (or an override) against one
// lead's fields.
func (s *CampaignService) RenderPreview(ctx context.Context, campaignID, leadID int, overrideTemplate *string) (string, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return "", err
	}
	lead, err := s.LeadRepo.GetByID(ctx, leadID)
	if err != nil {
		return "", err
	}
	if lead == nil || lead.CampaignID != campaignID {
		return "", fmt.Errorf("lead %d not found in campaign %d", leadID, campaignID)
	}

	template := campaign.Template
	if overrideTemplate != nil && strings.TrimSpace(*overrideTemplate) != "" {
		template = *overrideTemplate
	}
	if strings.TrimSpace(template) == "" {
		return "", fmt.Errorf("template cannot be empty")
	}
	return RenderTemplate(template, lead), nil
}
