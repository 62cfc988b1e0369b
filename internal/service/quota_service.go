package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/outreachhq/outreach-backend/internal/errors"
	"github.com/outreachhq/outreach-backend/internal/metrics"
	"github.com/outreachhq/outreach-backend/internal/repository"
)

// QuotaDecision is the outcome of one atomic consume attempt.
type QuotaDecision struct {
	Allowed bool `json:"allowed"`
	Current int  `json:"current"`
	Limit   int  `json:"limit"`
}

// Limits are the resolved plan values for one (workspace, action).
type Limits struct {
	Daily      int
	Monthly    int
	CreditCost int
}

// QuotaService enforces per-workspace daily and monthly usage limits.
// Every failure of the underlying check is fail-closed: the caller gets a
// retryable quota-unavailable error, never an implicit allow.
type QuotaService struct {
	UsageRepo repository.UsageRepositoryInterface
	PlanRepo  repository.PlanRepositoryInterface
	Logger    zerolog.Logger

	// Starter-tier defaults for workspaces with no plan row.
	DefaultDailyLimit   int
	DefaultMonthlyLimit int
}

// ResolveLimits loads the workspace plan for an action, falling back to the
// conservative starter tier when unconfigured.
func (s *QuotaService) ResolveLimits(ctx context.Context, workspaceID int, action string) (*Limits, error) {
	plan, err := s.PlanRepo.GetPlan(ctx, workspaceID, action)
	if err != nil {
		return nil, &appErrors.ErrQuotaUnavailable{Action: action, Cause: err}
	}
	if plan == nil {
		return &Limits{Daily: s.DefaultDailyLimit, Monthly: s.DefaultMonthlyLimit}, nil
	}
	return &Limits{Daily: plan.DailyLimit, Monthly: plan.MonthlyLimit, CreditCost: plan.CreditCost}, nil
}

// Consume performs the atomic check-and-increment for one unit of an action.
// Concurrent invocations racing on the same (workspace, account, action, day)
// are serialized by the storage layer; when one unit of capacity is left,
// exactly one caller sees Allowed.
func (s *QuotaService) Consume(ctx context.Context, workspaceID int, accountID, action string, at time.Time) (*QuotaDecision, error) {
	limits, err := s.ResolveLimits(ctx, workspaceID, action)
	if err != nil {
		return nil, err
	}

	day := UsageDay(at)
	if limits.Monthly > 0 {
		monthStart := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
		monthly, err := s.UsageRepo.MonthlyUsage(ctx, workspaceID, accountID, action, monthStart)
		if err != nil {
			return nil, &appErrors.ErrQuotaUnavailable{Action: action, Cause: err}
		}
		if monthly >= limits.Monthly {
			metrics.QuotaDenials.WithLabelValues(action).Inc()
			return &QuotaDecision{Allowed: false, Current: monthly, Limit: limits.Monthly}, nil
		}
	}

	used, allowed, err := s.UsageRepo.Consume(ctx, workspaceID, accountID, action, day, limits.Daily)
	if err != nil {
		return nil, &appErrors.ErrQuotaUnavailable{Action: action, Cause: err}
	}
	if !allowed {
		metrics.QuotaDenials.WithLabelValues(action).Inc()
	}
	return &QuotaDecision{Allowed: allowed, Current: used, Limit: limits.Daily}, nil
}

// CurrentUsage reads the day's consumed units without incrementing.
func (s *QuotaService) CurrentUsage(ctx context.Context, workspaceID int, accountID, action string, at time.Time) (int, error) {
	used, err := s.UsageRepo.CurrentUsage(ctx, workspaceID, accountID, action, UsageDay(at))
	if err != nil {
		return 0, &appErrors.ErrQuotaUnavailable{Action: action, Cause: err}
	}
	return used, nil
}

// UsageDay truncates a timestamp to its UTC calendar day, the key granularity
// of usage counters.
func UsageDay(at time.Time) time.Time {
	utc := at.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}
