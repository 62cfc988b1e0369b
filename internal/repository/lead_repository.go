package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/outreachhq/outreach-backend/internal/model"
)

type LeadRepositoryInterface interface {
	Create(ctx context.Context, lead *model.CampaignLead) error
	GetByID(ctx context.Context, id int) (*model.CampaignLead, error)
	ListDispatchable(ctx context.Context, campaignID, maxRetries, limit int) ([]*model.CampaignLead, error)
	CountDispatchable(ctx context.Context, campaignID, maxRetries int) (int, error)
	CountByStatus(ctx context.Context, campaignID int) (map[string]int, error)
	MarkSent(ctx context.Context, id int, providerMessageID string) error
	MarkFailed(ctx context.Context, id int, lastError string, terminal bool) error
	DeferDispatchable(ctx context.Context, campaignID, maxRetries int, reason string) (int, error)
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (*model.CampaignLead, error)
	FindRecentByPhoneFragment(ctx context.Context, accountID, phoneFragment string, since time.Time) (*model.CampaignLead, error)
	AdvanceStatus(ctx context.Context, id int, from, to string, at time.Time) (bool, error)
}

type LeadRepository struct {
	DB *sql.DB
}

const leadColumns = `id, campaign_id, status, first_name, last_name, company, position, phone, profile_id,
		custom1, custom2, retry_count, last_error, defer_reason, provider_message_id,
		sent_at, delivered_at, seen_at, replied_at, created_at, updated_at`

func scanLead(row interface{ Scan(...any) error }) (*model.CampaignLead, error) {
	var l model.CampaignLead
	err := row.Scan(
		&l.ID, &l.CampaignID, &l.Status, &l.FirstName, &l.LastName, &l.Company, &l.Position, &l.Phone,
		&l.ProfileID, &l.Custom1, &l.Custom2, &l.RetryCount, &l.LastError, &l.DeferReason,
		&l.ProviderMessageID, &l.SentAt, &l.DeliveredAt, &l.SeenAt, &l.RepliedAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *LeadRepository) Create(ctx context.Context, lead *model.CampaignLead) error {
	if lead.Status == "" {
		lead.Status = model.LeadStatusPending
	}
	query := `
		INSERT INTO campaign_leads
			(campaign_id, status, first_name, last_name, company, position, phone, profile_id, custom1, custom2, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	return r.DB.QueryRowContext(ctx, query,
		lead.CampaignID, lead.Status, lead.FirstName, lead.LastName, lead.Company, lead.Position,
		lead.Phone, lead.ProfileID, lead.Custom1, lead.Custom2,
	).Scan(&lead.ID, &lead.CreatedAt, &lead.UpdatedAt)
}

func (r *LeadRepository) GetByID(ctx context.Context, id int) (*model.CampaignLead, error) {
	query := `SELECT ` + leadColumns + ` FROM campaign_leads WHERE id=$1`
	lead, err := scanLead(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return lead, nil
}

// dispatchableWhere selects leads still eligible for a send attempt: fresh
// pending leads, deferred leads re-entering a run, and failed leads with
// retry budget left.
const dispatchableWhere = `campaign_id=$1 AND (
		status IN ('pending','deferred')
		OR (status='failed' AND retry_count < $2)
	)`

func (r *LeadRepository) ListDispatchable(ctx context.Context, campaignID, maxRetries, limit int) ([]*model.CampaignLead, error) {
	query := `SELECT ` + leadColumns + ` FROM campaign_leads WHERE ` + dispatchableWhere + ` ORDER BY id LIMIT $3`
	rows, err := r.DB.QueryContext(ctx, query, campaignID, maxRetries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leads := []*model.CampaignLead{}
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

func (r *LeadRepository) CountDispatchable(ctx context.Context, campaignID, maxRetries int) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM campaign_leads WHERE ` + dispatchableWhere
	err := r.DB.QueryRowContext(ctx, query, campaignID, maxRetries).Scan(&count)
	return count, err
}

func (r *LeadRepository) CountByStatus(ctx context.Context, campaignID int) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM campaign_leads WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func (r *LeadRepository) MarkSent(ctx context.Context, id int, providerMessageID string) error {
	query := `
		UPDATE campaign_leads
		SET status='sent', provider_message_id=$1, last_error='', defer_reason='', sent_at=NOW(), updated_at=NOW()
		WHERE id=$2
	`
	_, err := r.DB.ExecContext(ctx, query, providerMessageID, id)
	return err
}

// MarkFailed records a failed attempt. retry_count only moves on failure;
// terminal marks the attempt that exhausted the retry budget, recorded as a
// 'failed' reason code so exports can tell it apart from rate limiting.
func (r *LeadRepository) MarkFailed(ctx context.Context, id int, lastError string, terminal bool) error {
	query := `
		UPDATE campaign_leads
		SET status='failed', last_error=$1, retry_count=retry_count+1,
			defer_reason = CASE WHEN $2 THEN 'failed' ELSE defer_reason END,
			updated_at=NOW()
		WHERE id=$3
	`
	_, err := r.DB.ExecContext(ctx, query, lastError, terminal, id)
	return err
}

// DeferDispatchable moves every still-eligible lead of a campaign to
// deferred with the given reason code. Returns the number of leads moved.
func (r *LeadRepository) DeferDispatchable(ctx context.Context, campaignID, maxRetries int, reason string) (int, error) {
	query := `
		UPDATE campaign_leads
		SET status='deferred', defer_reason=$3, updated_at=NOW()
		WHERE ` + dispatchableWhere
	res, err := r.DB.ExecContext(ctx, query, campaignID, maxRetries, reason)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *LeadRepository) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*model.CampaignLead, error) {
	if providerMessageID == "" {
		return nil, nil
	}
	query := `SELECT ` + leadColumns + ` FROM campaign_leads WHERE provider_message_id=$1`
	lead, err := scanLead(r.DB.QueryRowContext(ctx, query, providerMessageID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return lead, nil
}

// FindRecentByPhoneFragment is the bounded-lookback heuristic used when an
// inbound reply carries no message id we know. Best effort: most recently
// dispatched lead on the account whose phone contains the fragment.
func (r *LeadRepository) FindRecentByPhoneFragment(ctx context.Context, accountID, phoneFragment string, since time.Time) (*model.CampaignLead, error) {
	if phoneFragment == "" {
		return nil, nil
	}
	query := `
		SELECT ` + leadColumns + `
		FROM campaign_leads l
		WHERE l.sent_at >= $1
		  AND l.phone LIKE '%' || $2 || '%'
		  AND EXISTS (SELECT 1 FROM campaigns c WHERE c.id = l.campaign_id AND c.account_id = $3)
		ORDER BY l.sent_at DESC
		LIMIT 1
	`
	lead, err := scanLead(r.DB.QueryRowContext(ctx, query, since, phoneFragment, accountID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return lead, nil
}

// AdvanceStatus upgrades a lead only when it is still in the expected state.
// The (id, from) guard makes the row update the single gate deciding whether
// an event's counter increment happens, so each event counts at most once.
func (r *LeadRepository) AdvanceStatus(ctx context.Context, id int, from, to string, at time.Time) (bool, error) {
	var stampColumn string
	switch to {
	case model.LeadStatusDelivered:
		stampColumn = "delivered_at"
	case model.LeadStatusSeen:
		stampColumn = "seen_at"
	case model.LeadStatusReplied:
		stampColumn = "replied_at"
	default:
		stampColumn = ""
	}

	query := `UPDATE campaign_leads SET status=$1, updated_at=NOW()`
	args := []any{to}
	if stampColumn != "" {
		query += `, ` + stampColumn + `=$2 WHERE id=$3 AND status=$4`
		args = append(args, at, id, from)
	} else {
		query += ` WHERE id=$2 AND status=$3`
		args = append(args, id, from)
	}

	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

var _ LeadRepositoryInterface = (*LeadRepository)(nil)
