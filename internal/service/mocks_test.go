package service_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	appErrors "github.com/outreachhq/outreach-backend/internal/errors"
	"github.com/outreachhq/outreach-backend/internal/model"
	"github.com/outreachhq/outreach-backend/internal/provider"
	"github.com/outreachhq/outreach-backend/internal/repository"
)

// ---- campaign repo ----

type mockCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[int]*model.Campaign
	counters  map[string]int // "<id>:<counter>" -> increments
}

func newMockCampaignRepo(campaigns ...*model.Campaign) *mockCampaignRepo {
	r := &mockCampaignRepo{campaigns: map[int]*model.Campaign{}, counters: map[string]int{}}
	for _, c := range campaigns {
		r.campaigns[c.ID] = c
	}
	return r
}

func (r *mockCampaignRepo) Create(ctx context.Context, c *model.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.ID = len(r.campaigns) + 1
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignStatusDraft
	}
	r.campaigns[c.ID] = c
	return nil
}

func (r *mockCampaignRepo) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	copied := *c
	return &copied, nil
}

func (r *mockCampaignRepo) UpdateStatus(ctx context.Context, campaignID int, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.campaigns[campaignID]; ok {
		c.Status = status
	}
	return nil
}

func (r *mockCampaignRepo) SetNextRunAt(ctx context.Context, campaignID int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.campaigns[campaignID]; ok {
		c.NextRunAt = &at
	}
	return nil
}

func (r *mockCampaignRepo) ListCampaigns(ctx context.Context, offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.Campaign{}
	for _, c := range r.campaigns {
		if channel != "" && c.Channel != channel {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		copied := *c
		out = append(out, &copied)
	}
	return out, len(out), nil
}

func (r *mockCampaignRepo) ListDue(ctx context.Context, asOf time.Time) ([]*model.Campaign, error) {
	return nil, nil
}

func (r *mockCampaignRepo) IncrementCounter(ctx context.Context, campaignID int, counter string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[fmt.Sprintf("%d:%s", campaignID, counter)]++
	return nil
}

func (r *mockCampaignRepo) SyncCounters(ctx context.Context, campaignID int) error { return nil }

func (r *mockCampaignRepo) GetCampaignStats(ctx context.Context, campaignID int) (map[string]int, error) {
	return map[string]int{}, nil
}

func (r *mockCampaignRepo) counterValue(campaignID int, counter string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[fmt.Sprintf("%d:%s", campaignID, counter)]
}

var _ repository.CampaignRepositoryInterface = (*mockCampaignRepo)(nil)

// ---- lead repo ----

type mockLeadRepo struct {
	mu     sync.Mutex
	nextID int
	leads  map[int]*model.CampaignLead
	order  []int
}

func newMockLeadRepo(leads ...*model.CampaignLead) *mockLeadRepo {
	r := &mockLeadRepo{leads: map[int]*model.CampaignLead{}}
	for _, l := range leads {
		r.nextID++
		if l.ID == 0 {
			l.ID = r.nextID
		}
		if l.Status == "" {
			l.Status = model.LeadStatusPending
		}
		r.leads[l.ID] = l
		r.order = append(r.order, l.ID)
	}
	return r
}

func (r *mockLeadRepo) dispatchable(l *model.CampaignLead, maxRetries int) bool {
	switch l.Status {
	case model.LeadStatusPending, model.LeadStatusDeferred:
		return true
	case model.LeadStatusFailed:
		return l.RetryCount < maxRetries
	}
	return false
}

func (r *mockLeadRepo) Create(ctx context.Context, lead *model.CampaignLead) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	lead.ID = r.nextID
	if lead.Status == "" {
		lead.Status = model.LeadStatusPending
	}
	r.leads[lead.ID] = lead
	r.order = append(r.order, lead.ID)
	return nil
}

func (r *mockLeadRepo) GetByID(ctx context.Context, id int) (*model.CampaignLead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[id]
	if !ok {
		return nil, nil
	}
	copied := *l
	return &copied, nil
}

func (r *mockLeadRepo) ListDispatchable(ctx context.Context, campaignID, maxRetries, limit int) ([]*model.CampaignLead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.CampaignLead{}
	for _, id := range r.order {
		l := r.leads[id]
		if l.CampaignID == campaignID && r.dispatchable(l, maxRetries) {
			copied := *l
			out = append(out, &copied)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *mockLeadRepo) CountDispatchable(ctx context.Context, campaignID, maxRetries int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, l := range r.leads {
		if l.CampaignID == campaignID && r.dispatchable(l, maxRetries) {
			count++
		}
	}
	return count, nil
}

func (r *mockLeadRepo) CountByStatus(ctx context.Context, campaignID int) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[string]int{}
	for _, l := range r.leads {
		if l.CampaignID == campaignID {
			counts[l.Status]++
		}
	}
	return counts, nil
}

func (r *mockLeadRepo) MarkSent(ctx context.Context, id int, providerMessageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.leads[id]
	l.Status = model.LeadStatusSent
	l.ProviderMessageID = providerMessageID
	l.LastError = ""
	l.DeferReason = ""
	now := time.Now()
	l.SentAt = &now
	return nil
}

func (r *mockLeadRepo) MarkFailed(ctx context.Context, id int, lastError string, terminal bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.leads[id]
	l.Status = model.LeadStatusFailed
	l.LastError = lastError
	l.RetryCount++
	if terminal {
		l.DeferReason = model.DeferReasonFailed
	}
	return nil
}

func (r *mockLeadRepo) DeferDispatchable(ctx context.Context, campaignID, maxRetries int, reason string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	moved := 0
	for _, l := range r.leads {
		if l.CampaignID == campaignID && r.dispatchable(l, maxRetries) {
			l.Status = model.LeadStatusDeferred
			l.DeferReason = reason
			moved++
		}
	}
	return moved, nil
}

func (r *mockLeadRepo) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*model.CampaignLead, error) {
	if providerMessageID == "" {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.leads {
		if l.ProviderMessageID == providerMessageID {
			copied := *l
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *mockLeadRepo) FindRecentByPhoneFragment(ctx context.Context, accountID, phoneFragment string, since time.Time) (*model.CampaignLead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *model.CampaignLead
	for _, l := range r.leads {
		if l.SentAt == nil || l.SentAt.Before(since) || phoneFragment == "" {
			continue
		}
		if !contains(digits(l.Phone), phoneFragment) {
			continue
		}
		if best == nil || l.SentAt.After(*best.SentAt) {
			best = l
		}
	}
	if best == nil {
		return nil, nil
	}
	copied := *best
	return &copied, nil
}

func (r *mockLeadRepo) AdvanceStatus(ctx context.Context, id int, from, to string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[id]
	if !ok || l.Status != from {
		return false, nil
	}
	l.Status = to
	return true, nil
}

func (r *mockLeadRepo) get(id int) model.CampaignLead {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.leads[id]
}

var _ repository.LeadRepositoryInterface = (*mockLeadRepo)(nil)

func digits(s string) string {
	out := []rune{}
	for _, r := range s {
		if r >= '0' && r <= '9' {
			out = append(out, r)
		}
	}
	return string(out)
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

// ---- queue repo ----

type mockQueueRepo struct {
	mu      sync.Mutex
	nextID  int
	entries map[string]*model.CampaignQueueEntry // "<campaign>:<date>"
}

func newMockQueueRepo() *mockQueueRepo {
	return &mockQueueRepo{entries: map[string]*model.CampaignQueueEntry{}}
}

func queueKey(campaignID int, date time.Time) string {
	return fmt.Sprintf("%d:%s", campaignID, date.Format("2006-01-02"))
}

func (r *mockQueueRepo) Upsert(ctx context.Context, campaignID int, scheduledDate time.Time, leadsToSend int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := queueKey(campaignID, scheduledDate)
	if e, ok := r.entries[key]; ok {
		e.LeadsToSend = leadsToSend
		e.Status = model.QueueEntryStatusQueued
		return nil
	}
	r.nextID++
	r.entries[key] = &model.CampaignQueueEntry{
		ID:            r.nextID,
		CampaignID:    campaignID,
		ScheduledDate: scheduledDate,
		LeadsToSend:   leadsToSend,
		Status:        model.QueueEntryStatusQueued,
	}
	return nil
}

func (r *mockQueueRepo) ListByCampaign(ctx context.Context, campaignID int) ([]*model.CampaignQueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.CampaignQueueEntry{}
	for _, e := range r.entries {
		if e.CampaignID == campaignID {
			copied := *e
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *mockQueueRepo) ListDue(ctx context.Context, asOf time.Time) ([]*model.CampaignQueueEntry, error) {
	return nil, nil
}

func (r *mockQueueRepo) CountOpen(ctx context.Context, campaignID int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, e := range r.entries {
		if e.CampaignID == campaignID && e.Status != model.QueueEntryStatusCompleted {
			count++
		}
	}
	return count, nil
}

func (r *mockQueueRepo) ClaimDue(ctx context.Context, campaignID int, asOf time.Time) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := []int{}
	for _, e := range r.entries {
		if e.CampaignID == campaignID && e.Status == model.QueueEntryStatusQueued && !e.ScheduledDate.After(asOf) {
			e.Status = model.QueueEntryStatusProcessing
			ids = append(ids, e.ID)
		}
	}
	return ids, nil
}

func (r *mockQueueRepo) Complete(ctx context.Context, id, leadsSent int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.ID == id {
			e.Status = model.QueueEntryStatusCompleted
			e.LeadsSent = leadsSent
		}
	}
	return nil
}

var _ repository.QueueRepositoryInterface = (*mockQueueRepo)(nil)

// ---- usage repo ----

type mockUsageRepo struct {
	mu      sync.Mutex
	used    map[string]int
	failErr error
}

func newMockUsageRepo() *mockUsageRepo {
	return &mockUsageRepo{used: map[string]int{}}
}

func usageKey(workspaceID int, accountID, action string, day time.Time) string {
	return fmt.Sprintf("%d:%s:%s:%s", workspaceID, accountID, action, day.Format("2006-01-02"))
}

func (r *mockUsageRepo) Consume(ctx context.Context, workspaceID int, accountID, action string, day time.Time, limit int) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return 0, false, r.failErr
	}
	if limit <= 0 {
		return 0, false, nil
	}
	key := usageKey(workspaceID, accountID, action, day)
	if r.used[key] >= limit {
		return r.used[key], false, nil
	}
	r.used[key]++
	return r.used[key], true, nil
}

func (r *mockUsageRepo) CurrentUsage(ctx context.Context, workspaceID int, accountID, action string, day time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return 0, r.failErr
	}
	return r.used[usageKey(workspaceID, accountID, action, day)], nil
}

func (r *mockUsageRepo) MonthlyUsage(ctx context.Context, workspaceID int, accountID, action string, monthStart time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return 0, r.failErr
	}
	total := 0
	for _, used := range r.used {
		total += used
	}
	return total, nil
}

var _ repository.UsageRepositoryInterface = (*mockUsageRepo)(nil)

// ---- plan repo ----

type mockPlanRepo struct {
	plans map[string]*model.WorkspacePlan
	err   error
}

func newMockPlanRepo(plans ...*model.WorkspacePlan) *mockPlanRepo {
	r := &mockPlanRepo{plans: map[string]*model.WorkspacePlan{}}
	for _, p := range plans {
		r.plans[fmt.Sprintf("%d:%s", p.WorkspaceID, p.Action)] = p
	}
	return r
}

func (r *mockPlanRepo) GetPlan(ctx context.Context, workspaceID int, action string) (*model.WorkspacePlan, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.plans[fmt.Sprintf("%d:%s", workspaceID, action)], nil
}

var _ repository.PlanRepositoryInterface = (*mockPlanRepo)(nil)

// ---- credit repo ----

type mockCreditRepo struct {
	mu       sync.Mutex
	balances map[string]int
	applied  map[string]bool // "<ref>:<type>"
}

func newMockCreditRepo() *mockCreditRepo {
	return &mockCreditRepo{balances: map[string]int{}, applied: map[string]bool{}}
}

func (r *mockCreditRepo) setBalance(workspaceID int, resource string, balance int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[fmt.Sprintf("%d:%s", workspaceID, resource)] = balance
}

func (r *mockCreditRepo) balance(workspaceID int, resource string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[fmt.Sprintf("%d:%s", workspaceID, resource)]
}

func (r *mockCreditRepo) Debit(ctx context.Context, workspaceID int, resource string, amount int, referenceID, description string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applied[referenceID+":debit"] {
		return nil
	}
	key := fmt.Sprintf("%d:%s", workspaceID, resource)
	if r.balances[key] < amount {
		return &appErrors.ErrInsufficientCredits{WorkspaceID: workspaceID, Resource: resource, Amount: amount}
	}
	r.balances[key] -= amount
	r.applied[referenceID+":debit"] = true
	return nil
}

func (r *mockCreditRepo) Credit(ctx context.Context, workspaceID int, resource string, amount int, referenceID, description string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applied[referenceID+":credit"] {
		return nil
	}
	r.balances[fmt.Sprintf("%d:%s", workspaceID, resource)] += amount
	r.applied[referenceID+":credit"] = true
	return nil
}

func (r *mockCreditRepo) Balance(ctx context.Context, workspaceID int, resource string) (int, error) {
	return r.balance(workspaceID, resource), nil
}

var _ repository.CreditRepositoryInterface = (*mockCreditRepo)(nil)

// ---- audit repo ----

type mockAuditRepo struct {
	mu      sync.Mutex
	entries []*model.AuditLog
}

func (r *mockAuditRepo) Append(ctx context.Context, entry *model.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = len(r.entries) + 1
	r.entries = append(r.entries, entry)
	return nil
}

var _ repository.AuditRepositoryInterface = (*mockAuditRepo)(nil)

// ---- messenger ----

type sentCall struct {
	AccountID string
	Channel   string
	Recipient string
	Text      string
}

type mockMessenger struct {
	mu    sync.Mutex
	calls []sentCall
	// sendErrs[i] is the error of the i-th StartChat call; nil means success.
	sendErrs  []error
	connected bool
	statusErr error
}

func newMockMessenger() *mockMessenger {
	return &mockMessenger{connected: true}
}

func (m *mockMessenger) StartChat(ctx context.Context, accountID, channel, recipient, text string) (*provider.SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.calls)
	m.calls = append(m.calls, sentCall{AccountID: accountID, Channel: channel, Recipient: recipient, Text: text})
	if idx < len(m.sendErrs) && m.sendErrs[idx] != nil {
		return nil, m.sendErrs[idx]
	}
	return &provider.SendResult{ChatID: fmt.Sprintf("chat-%d", idx+1), MessageID: fmt.Sprintf("msg-%d", idx+1)}, nil
}

func (m *mockMessenger) AccountStatus(ctx context.Context, accountID string) (*provider.AccountStatus, error) {
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	status := "ok"
	if !m.connected {
		status = "disconnected"
	}
	return &provider.AccountStatus{ID: accountID, Status: status, Connected: m.connected}, nil
}

func (m *mockMessenger) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

var _ provider.MessengerInterface = (*mockMessenger)(nil)
