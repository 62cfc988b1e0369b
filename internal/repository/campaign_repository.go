package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	appErrors "github.com/outreachhq/outreach-backend/internal/errors"
	"github.com/outreachhq/outreach-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id int) (*model.Campaign, error)
	UpdateStatus(ctx context.Context, campaignID int, status string) error
	SetNextRunAt(ctx context.Context, campaignID int, at time.Time) error
	ListCampaigns(ctx context.Context, offset, limit int, channel, status string) ([]*model.Campaign, int, error)
	ListDue(ctx context.Context, asOf time.Time) ([]*model.Campaign, error)
	IncrementCounter(ctx context.Context, campaignID int, counter string) error
	SyncCounters(ctx context.Context, campaignID int) error
	GetCampaignStats(ctx context.Context, campaignID int) (map[string]int, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, workspace_id, account_id, name, channel, status, template, max_retries,
		scheduled_at, next_run_at, sent_count, failed_count, delivered_count, seen_count, replied_count,
		created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(
		&c.ID, &c.WorkspaceID, &c.AccountID, &c.Name, &c.Channel, &c.Status, &c.Template, &c.MaxRetries,
		&c.ScheduledAt, &c.NextRunAt, &c.SentCount, &c.FailedCount, &c.DeliveredCount, &c.SeenCount,
		&c.RepliedCount, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignStatusDraft
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	query := `
		INSERT INTO campaigns (workspace_id, account_id, name, channel, status, template, max_retries, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	return r.DB.QueryRowContext(ctx, query,
		c.WorkspaceID, c.AccountID, c.Name, c.Channel, c.Status, c.Template, c.MaxRetries, c.ScheduledAt, c.CreatedAt,
	).Scan(&c.ID)
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) UpdateStatus(ctx context.Context, campaignID int, status string) error {
	query := `UPDATE campaigns SET status=$1, updated_at=NOW() WHERE id=$2`
	_, err := r.DB.ExecContext(ctx, query, status, campaignID)
	return err
}

func (r *CampaignRepository) SetNextRunAt(ctx context.Context, campaignID int, at time.Time) error {
	query := `UPDATE campaigns SET next_run_at=$1, updated_at=NOW() WHERE id=$2`
	_, err := r.DB.ExecContext(ctx, query, at, campaignID)
	return err
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	args := []any{}
	argPos := 1

	if channel != "" {
		query += fmt.Sprintf(" AND channel=$%d", argPos)
		args = append(args, channel)
		argPos++
	}
	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	argsCount := []any{}
	argPosCount := 1
	if channel != "" {
		countQuery += fmt.Sprintf(" AND channel=$%d", argPosCount)
		argsCount = append(argsCount, channel)
		argPosCount++
	}
	if status != "" {
		countQuery += fmt.Sprintf(" AND status=$%d", argPosCount)
		argsCount = append(argsCount, status)
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, countQuery, argsCount...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

// ListDue returns scheduled campaigns whose scheduled_at or next_run_at has
// passed. The scheduler enqueues a dispatch job for each.
func (r *CampaignRepository) ListDue(ctx context.Context, asOf time.Time) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns
		WHERE (status=$1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2)
		   OR (status=$3 AND next_run_at IS NOT NULL AND next_run_at <= $2)
		ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, query, model.CampaignStatusScheduled, asOf, model.CampaignStatusQueued)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	due := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, c)
	}
	return due, rows.Err()
}

// IncrementCounter bumps one aggregate counter. The counter name is mapped to
// a column here; callers never pass raw column names into SQL.
func (r *CampaignRepository) IncrementCounter(ctx context.Context, campaignID int, counter string) error {
	var column string
	switch counter {
	case model.LeadStatusSent:
		column = "sent_count"
	case model.LeadStatusFailed:
		column = "failed_count"
	case model.LeadStatusDelivered:
		column = "delivered_count"
	case model.LeadStatusSeen:
		column = "seen_count"
	case model.LeadStatusReplied:
		column = "replied_count"
	default:
		return fmt.Errorf("unknown campaign counter: %s", counter)
	}
	query := fmt.Sprintf(`UPDATE campaigns SET %s = %s + 1, updated_at=NOW() WHERE id=$1`, column, column)
	_, err := r.DB.ExecContext(ctx, query, campaignID)
	return err
}

// SyncCounters recomputes sent/failed aggregates from lead rows. Counters are
// monotonic: GREATEST keeps a reconciled value from shrinking a counter that
// webhook events already advanced.
func (r *CampaignRepository) SyncCounters(ctx context.Context, campaignID int) error {
	query := `
		UPDATE campaigns SET
			sent_count = GREATEST(sent_count, stats.sent),
			failed_count = GREATEST(failed_count, stats.failed),
			updated_at = NOW()
		FROM (
			SELECT
				COUNT(*) FILTER (WHERE status IN ('sent','delivered','seen','replied')) AS sent,
				COUNT(*) FILTER (WHERE status = 'failed') AS failed
			FROM campaign_leads WHERE campaign_id = $1
		) AS stats
		WHERE campaigns.id = $1
	`
	_, err := r.DB.ExecContext(ctx, query, campaignID)
	return err
}

func (r *CampaignRepository) GetCampaignStats(ctx context.Context, campaignID int) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM campaign_leads WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{
		model.LeadStatusPending:   0,
		model.LeadStatusSent:      0,
		model.LeadStatusFailed:    0,
		model.LeadStatusDeferred:  0,
		model.LeadStatusDelivered: 0,
		model.LeadStatusSeen:      0,
		model.LeadStatusReplied:   0,
	}
	total := 0
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
		total += count
	}
	stats["total"] = total
	return stats, rows.Err()
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
