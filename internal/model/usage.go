package model

import "time"

// Metered actions counted against workspace plan limits.
const (
	ActionSendMessage  = "send_message"
	ActionChatStart    = "chat_start"
	ActionProfileFetch = "profile_fetch"
)

// UsageCounter is the source of truth for quota checks, keyed by
// (workspace, provider account, action, calendar day). Each day has a
// distinct key, so no reset step exists.
type UsageCounter struct {
	ID          int       `db:"id" json:"id"`
	WorkspaceID int       `db:"workspace_id" json:"workspace_id"`
	AccountID   string    `db:"account_id" json:"account_id"`
	Action      string    `db:"action" json:"action"`
	Day         time.Time `db:"day" json:"day"`
	Used        int       `db:"used" json:"used"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// WorkspacePlan carries the per-action daily and monthly limits of a
// workspace. Unconfigured workspaces fall back to conservative starter
// defaults resolved by the quota service.
type WorkspacePlan struct {
	ID           int       `db:"id" json:"id"`
	WorkspaceID  int       `db:"workspace_id" json:"workspace_id"`
	Action       string    `db:"action" json:"action"`
	DailyLimit   int       `db:"daily_limit" json:"daily_limit"`
	MonthlyLimit int       `db:"monthly_limit" json:"monthly_limit"`
	CreditCost   int       `db:"credit_cost" json:"credit_cost"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
