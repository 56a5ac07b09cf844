package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/google/uuid"

	"github.com/accountgraph/server/internal/apperr"
	"github.com/accountgraph/server/internal/identity"
	"github.com/accountgraph/server/internal/logging"
)

const webhookSecretHeader = "X-Webhook-Secret"

// WebhookHandler receives wallet assignments from the MPC key service
type WebhookHandler struct {
	profiles *identity.Profiles
	secret   []byte
	log      logging.Logger
}

// NewWebhookHandler returns a handler that rejects every call when secret is empty
func NewWebhookHandler(profiles *identity.Profiles, secret string, log logging.Logger) *WebhookHandler {
	return &WebhookHandler{profiles: profiles, secret: []byte(secret), log: log}
}

type walletWebhookRequest struct {
	ProfileID string `json:"profileId"`
	KeyID     string `json:"keyId"`
	PublicKey string `json:"publicKey"`
	Address   string `json:"address"`
}

// HandleWallet handles POST /webhooks/mpc/wallet
func (h *WebhookHandler) HandleWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	got := []byte(r.Header.Get(webhookSecretHeader))
	if len(h.secret) == 0 || subtle.ConstantTimeCompare(got, h.secret) != 1 {
		respondWithError(ctx, w, h.log, apperr.Authentication(apperr.CodeInvalidToken, "invalid webhook secret", nil))
		return
	}

	var req walletWebhookRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(ctx, w, h.log, err)
		return
	}
	profileID, err := uuid.Parse(req.ProfileID)
	if err != nil {
		respondWithError(ctx, w, h.log, apperr.Validation("invalid profileId"))
		return
	}

	prof, err := h.profiles.AssignWallet(ctx, profileID, req.Address, req.KeyID)
	if err != nil {
		respondWithError(ctx, w, h.log, err)
		return
	}
	h.log.Info(ctx, "mpc wallet received", "profile_id", prof.ID.String(), "key_id", req.KeyID, "has_public_key", req.PublicKey != "")
	respondJSON(w, http.StatusOK, toProfileResponse(prof))
}
