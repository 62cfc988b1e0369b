package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/outreachhq/outreach-backend/internal/service"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Webhook-Signature"

// Handler receives provider webhooks. Internal processing failures are
// logged and still acknowledged with 200: surfacing them would only trigger
// provider-side retry storms.
type Handler struct {
	Reconciler *service.ReconcileService
	Secret     string
	Logger     zerolog.Logger
}

func (h *Handler) HandleProviderEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.Logger.Warn().Err(err).Msg("failed to read webhook body")
		h.ack(w)
		return
	}

	if h.Secret != "" && !h.verifySignature(body, r.Header.Get(SignatureHeader)) {
		h.Logger.Warn().Str("remote", r.RemoteAddr).Msg("rejected webhook with missing or invalid signature")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	event, err := Normalize(body)
	if err != nil {
		h.Logger.Warn().Err(err).Msg("dropped unrecognized webhook payload")
		h.ack(w)
		return
	}

	if err := h.Reconciler.Apply(r.Context(), event); err != nil {
		h.Logger.Error().Err(err).Str("event_type", event.Type).Msg("webhook event processing failed")
	}
	h.ack(w)
}

func (h *Handler) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (h *Handler) ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Sign computes the signature a caller must send for a body. Exported for
// tests and local tooling.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
