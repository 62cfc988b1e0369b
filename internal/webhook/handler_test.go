package webhook_test

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outreachhq/outreach-backend/internal/model"
	"github.com/outreachhq/outreach-backend/internal/repository"
	"github.com/outreachhq/outreach-backend/internal/service"
	"github.com/outreachhq/outreach-backend/internal/webhook"
)

// The stubs embed the repository interfaces and override only what the
// reconciler touches for these payloads.

type stubLeadRepo struct {
	repository.LeadRepositoryInterface
	lead      *model.CampaignLead
	lookupErr error
	advanced  bool
}

func (s *stubLeadRepo) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*model.CampaignLead, error) {
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	if s.lead != nil && s.lead.ProviderMessageID == providerMessageID {
		return s.lead, nil
	}
	return nil, nil
}

func (s *stubLeadRepo) FindRecentByPhoneFragment(ctx context.Context, accountID, phoneFragment string, since time.Time) (*model.CampaignLead, error) {
	return nil, nil
}

func (s *stubLeadRepo) AdvanceStatus(ctx context.Context, id int, from, to string, at time.Time) (bool, error) {
	s.advanced = true
	s.lead.Status = to
	return true, nil
}

type stubCampaignRepo struct {
	repository.CampaignRepositoryInterface
	increments int
}

func (s *stubCampaignRepo) IncrementCounter(ctx context.Context, campaignID int, counter string) error {
	s.increments++
	return nil
}

type stubAuditRepo struct{}

func (s *stubAuditRepo) Append(ctx context.Context, entry *model.AuditLog) error { return nil }

type handlerFixture struct {
	leads     *stubLeadRepo
	campaigns *stubCampaignRepo
	handler   *webhook.Handler
}

func newHandlerFixture(secret string) *handlerFixture {
	f := &handlerFixture{
		leads: &stubLeadRepo{lead: &model.CampaignLead{
			ID: 1, CampaignID: 1, Status: model.LeadStatusSent, ProviderMessageID: "m1",
		}},
		campaigns: &stubCampaignRepo{},
	}
	f.handler = &webhook.Handler{
		Reconciler: &service.ReconcileService{
			CampaignRepo: f.campaigns,
			LeadRepo:     f.leads,
			AuditRepo:    &stubAuditRepo{},
			Logger:       zerolog.Nop(),
		},
		Secret: secret,
		Logger: zerolog.Nop(),
	}
	return f
}

func (f *handlerFixture) post(body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(webhook.SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	f.handler.HandleProviderEvent(rec, req)
	return rec
}

var deliveredBody = []byte(`{"event":"message_delivered","message_id":"m1"}`)

func TestHandlerAppliesSignedEvent(t *testing.T) {
	f := newHandlerFixture("topsecret")

	rec := f.post(deliveredBody, webhook.Sign("topsecret", deliveredBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.leads.advanced)
	assert.Equal(t, model.LeadStatusDelivered, f.leads.lead.Status)
	assert.Equal(t, 1, f.campaigns.increments)
}

func TestHandlerRejectsMissingSignature(t *testing.T) {
	f := newHandlerFixture("topsecret")

	rec := f.post(deliveredBody, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, f.leads.advanced)
}

func TestHandlerRejectsTamperedBody(t *testing.T) {
	f := newHandlerFixture("topsecret")

	signature := webhook.Sign("topsecret", deliveredBody)
	tampered := []byte(`{"event":"message_delivered","message_id":"m2"}`)
	rec := f.post(tampered, signature)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerRejectsWrongSecret(t *testing.T) {
	f := newHandlerFixture("topsecret")

	rec := f.post(deliveredBody, webhook.Sign("othersecret", deliveredBody))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerSkipsVerificationWithoutSecret(t *testing.T) {
	f := newHandlerFixture("")

	rec := f.post(deliveredBody, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.leads.advanced)
}

func TestHandlerAcksUnrecognizedPayload(t *testing.T) {
	f := newHandlerFixture("")

	rec := f.post([]byte(`{"event":"message_typing","message_id":"m1"}`), "")

	assert.Equal(t, http.StatusOK, rec.Code, "unknown payloads are dropped, never bounced back to the provider")
	assert.False(t, f.leads.advanced)
}

func TestHandlerAcksOnProcessingFailure(t *testing.T) {
	f := newHandlerFixture("")
	f.leads.lookupErr = fmt.Errorf("database down")

	rec := f.post(deliveredBody, "")

	assert.Equal(t, http.StatusOK, rec.Code, "processing failures must not trigger provider retry storms")
}

func TestHandlerAcksUnmatchedEvent(t *testing.T) {
	f := newHandlerFixture("")

	rec := f.post([]byte(`{"event":"message_delivered","message_id":"m-unknown"}`), "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.leads.advanced)
}

func TestSignIsDeterministic(t *testing.T) {
	a := webhook.Sign("s", []byte("body"))
	b := webhook.Sign("s", []byte("body"))
	require.Equal(t, a, b)
	assert.Len(t, a, 64) // hex sha256
	assert.NotEqual(t, a, webhook.Sign("other", []byte("body")))
}
