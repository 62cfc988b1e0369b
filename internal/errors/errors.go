// internal/errors/errors.go
package appErrors

import "fmt"

// ErrCampaignNotFound is returned when a campaign id resolves to nothing.
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrInvalidCampaignState is returned when an operation is requested on a
// campaign whose status does not allow it. Retrying cannot fix it.
type ErrInvalidCampaignState struct {
	CampaignID int
	Status     string
}

func (e *ErrInvalidCampaignState) Error() string {
	return fmt.Sprintf("campaign %d cannot be dispatched in status %s", e.CampaignID, e.Status)
}

// ErrQuotaExceeded is returned when a consume attempt would pass the daily
// limit. Current and Limit report the state observed by the atomic check.
type ErrQuotaExceeded struct {
	Action  string
	Current int
	Limit   int
}

func (e *ErrQuotaExceeded) Error() string {
	return fmt.Sprintf("daily quota exceeded for %s: %d/%d", e.Action, e.Current, e.Limit)
}

// ErrQuotaUnavailable means the atomic quota check itself could not be
// evaluated. The engine fails closed: callers must treat the request as
// blocked and retry later.
type ErrQuotaUnavailable struct {
	Action string
	Cause  error
}

func (e *ErrQuotaUnavailable) Error() string {
	return fmt.Sprintf("quota system unavailable for %s: %v", e.Action, e.Cause)
}

func (e *ErrQuotaUnavailable) Unwrap() error { return e.Cause }

// ErrInsufficientCredits is returned by a debit that would take the balance
// negative. It is raised before any external side effect.
type ErrInsufficientCredits struct {
	WorkspaceID int
	Resource    string
	Amount      int
}

func (e *ErrInsufficientCredits) Error() string {
	return fmt.Sprintf("insufficient %s credits in workspace %d for amount %d", e.Resource, e.WorkspaceID, e.Amount)
}

// ErrUnsupportedChannel is returned for channels the dispatcher cannot send
// on. No quota or retry budget is consumed for these leads.
type ErrUnsupportedChannel struct {
	Channel string
}

func (e *ErrUnsupportedChannel) Error() string {
	return fmt.Sprintf("unsupported channel: %s", e.Channel)
}
