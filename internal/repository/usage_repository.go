package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/outreachhq/outreach-backend/internal/model"
)

type UsageRepositoryInterface interface {
	Consume(ctx context.Context, workspaceID int, accountID, action string, day time.Time, limit int) (used int, allowed bool, err error)
	CurrentUsage(ctx context.Context, workspaceID int, accountID, action string, day time.Time) (int, error)
	MonthlyUsage(ctx context.Context, workspaceID int, accountID, action string, monthStart time.Time) (int, error)
}

type UsageRepository struct {
	DB *sql.DB
}

// Consume increments the day's usage counter by one, but only while it stays
// under the limit. The whole check-and-increment is a single statement, so
// two racing invocations at the last unit of capacity cannot both pass: the
// conflict target serializes them and the WHERE clause stops the loser.
func (r *UsageRepository) Consume(ctx context.Context, workspaceID int, accountID, action string, day time.Time, limit int) (int, bool, error) {
	if limit <= 0 {
		return 0, false, nil
	}

	query := `
		INSERT INTO usage_counters (workspace_id, account_id, action, day, used, updated_at)
		VALUES ($1, $2, $3, $4, 1, NOW())
		ON CONFLICT (workspace_id, account_id, action, day)
		DO UPDATE SET used = usage_counters.used + 1, updated_at = NOW()
		WHERE usage_counters.used < $5
		RETURNING used
	`
	var used int
	err := r.DB.QueryRowContext(ctx, query, workspaceID, accountID, action, day, limit).Scan(&used)
	if err == sql.ErrNoRows {
		// Conflict update filtered out: the counter is already at the limit.
		current, cErr := r.CurrentUsage(ctx, workspaceID, accountID, action, day)
		if cErr != nil {
			current = limit
		}
		return current, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return used, true, nil
}

func (r *UsageRepository) CurrentUsage(ctx context.Context, workspaceID int, accountID, action string, day time.Time) (int, error) {
	query := `SELECT used FROM usage_counters WHERE workspace_id=$1 AND account_id=$2 AND action=$3 AND day=$4`
	var used int
	err := r.DB.QueryRowContext(ctx, query, workspaceID, accountID, action, day).Scan(&used)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return used, err
}

// MonthlyUsage sums the day-keyed counters of the month containing monthStart.
func (r *UsageRepository) MonthlyUsage(ctx context.Context, workspaceID int, accountID, action string, monthStart time.Time) (int, error) {
	query := `
		SELECT COALESCE(SUM(used), 0) FROM usage_counters
		WHERE workspace_id=$1 AND account_id=$2 AND action=$3 AND day >= $4 AND day < $5
	`
	monthEnd := monthStart.AddDate(0, 1, 0)
	var used int
	err := r.DB.QueryRowContext(ctx, query, workspaceID, accountID, action, monthStart, monthEnd).Scan(&used)
	return used, err
}

var _ UsageRepositoryInterface = (*UsageRepository)(nil)

// PlanRepository resolves per-workspace action limits.
type PlanRepositoryInterface interface {
	GetPlan(ctx context.Context, workspaceID int, action string) (*model.WorkspacePlan, error)
}

type PlanRepository struct {
	DB *sql.DB
}

// GetPlan returns the plan row for (workspace, action), or nil when the
// workspace is unconfigured for that action.
func (r *PlanRepository) GetPlan(ctx context.Context, workspaceID int, action string) (*model.WorkspacePlan, error) {
	query := `
		SELECT id, workspace_id, action, daily_limit, monthly_limit, credit_cost, created_at
		FROM workspace_plans WHERE workspace_id=$1 AND action=$2
	`
	var p model.WorkspacePlan
	err := r.DB.QueryRowContext(ctx, query, workspaceID, action).Scan(
		&p.ID, &p.WorkspaceID, &p.Action, &p.DailyLimit, &p.MonthlyLimit, &p.CreditCost, &p.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

var _ PlanRepositoryInterface = (*PlanRepository)(nil)
