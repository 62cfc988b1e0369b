package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/outreachhq/outreach-backend/internal/model"
)

type QueueRepositoryInterface interface {
	Upsert(ctx context.Context, campaignID int, scheduledDate time.Time, leadsToSend int) error
	ListByCampaign(ctx context.Context, campaignID int) ([]*model.CampaignQueueEntry, error)
	ListDue(ctx context.Context, asOf time.Time) ([]*model.CampaignQueueEntry, error)
	CountOpen(ctx context.Context, campaignID int) (int, error)
	ClaimDue(ctx context.Context, campaignID int, asOf time.Time) ([]int, error)
	Complete(ctx context.Context, id, leadsSent int) error
}

type QueueRepository struct {
	DB *sql.DB
}

const queueColumns = `id, campaign_id, scheduled_date, leads_to_send, leads_sent, status, created_at, updated_at`

func scanQueueEntry(row interface{ Scan(...any) error }) (*model.CampaignQueueEntry, error) {
	var e model.CampaignQueueEntry
	err := row.Scan(&e.ID, &e.CampaignID, &e.ScheduledDate, &e.LeadsToSend, &e.LeadsSent, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Upsert writes the allocation for one (campaign, date). Re-planning the same
// campaign replaces the day's allocation instead of duplicating the row.
func (r *QueueRepository) Upsert(ctx context.Context, campaignID int, scheduledDate time.Time, leadsToSend int) error {
	query := `
		INSERT INTO campaign_queue_entries (campaign_id, scheduled_date, leads_to_send, leads_sent, status, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 'queued', NOW(), NOW())
		ON CONFLICT (campaign_id, scheduled_date)
		DO UPDATE SET leads_to_send = EXCLUDED.leads_to_send, status = 'queued', updated_at = NOW()
	`
	_, err := r.DB.ExecContext(ctx, query, campaignID, scheduledDate, leadsToSend)
	return err
}

func (r *QueueRepository) ListByCampaign(ctx context.Context, campaignID int) ([]*model.CampaignQueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM campaign_queue_entries WHERE campaign_id=$1 ORDER BY scheduled_date`
	return r.list(ctx, query, campaignID)
}

// ListDue returns open entries whose scheduled date has arrived. Entries of
// terminal campaigns are skipped so the scheduler never re-triggers a
// campaign that can no longer run.
func (r *QueueRepository) ListDue(ctx context.Context, asOf time.Time) ([]*model.CampaignQueueEntry, error) {
	query := `SELECT e.id, e.campaign_id, e.scheduled_date, e.leads_to_send, e.leads_sent, e.status, e.created_at, e.updated_at
		FROM campaign_queue_entries e
		JOIN campaigns c ON c.id = e.campaign_id
		WHERE e.status='queued' AND e.scheduled_date <= $1
			AND c.status NOT IN ('completed', 'failed')
		ORDER BY e.scheduled_date`
	return r.list(ctx, query, asOf)
}

func (r *QueueRepository) list(ctx context.Context, query string, args ...any) ([]*model.CampaignQueueEntry, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []*model.CampaignQueueEntry{}
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *QueueRepository) CountOpen(ctx context.Context, campaignID int) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM campaign_queue_entries WHERE campaign_id=$1 AND status != 'completed'`
	err := r.DB.QueryRowContext(ctx, query, campaignID).Scan(&count)
	return count, err
}

// ClaimDue moves a campaign's due entries from queued to processing and
// returns their ids. The dispatch run claims its day's entries up front and
// completes them in finalize, so an entry never outlives its day as queued.
func (r *QueueRepository) ClaimDue(ctx context.Context, campaignID int, asOf time.Time) ([]int, error) {
	query := `UPDATE campaign_queue_entries SET status='processing', updated_at=NOW()
		WHERE campaign_id=$1 AND status='queued' AND scheduled_date <= $2
		RETURNING id`
	rows, err := r.DB.QueryContext(ctx, query, campaignID, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *QueueRepository) Complete(ctx context.Context, id, leadsSent int) error {
	query := `UPDATE campaign_queue_entries SET status='completed', leads_sent=$1, updated_at=NOW() WHERE id=$2`
	_, err := r.DB.ExecContext(ctx, query, leadsSent, id)
	return err
}

var _ QueueRepositoryInterface = (*QueueRepository)(nil)
