package repository

import (
	"context"
	"database/sql"

	"github.com/outreachhq/outreach-backend/internal/model"
)

type AuditRepositoryInterface interface {
	Append(ctx context.Context, entry *model.AuditLog) error
}

type AuditRepository struct {
	DB *sql.DB
}

func (r *AuditRepository) Append(ctx context.Context, entry *model.AuditLog) error {
	query := `
		INSERT INTO audit_logs (campaign_id, lead_id, event_type, detail, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, created_at
	`
	return r.DB.QueryRowContext(ctx, query, entry.CampaignID, entry.LeadID, entry.EventType, entry.Detail).
		Scan(&entry.ID, &entry.CreatedAt)
}

var _ AuditRepositoryInterface = (*AuditRepository)(nil)
