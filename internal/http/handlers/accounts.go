package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/accountgraph/server/internal/account"
	"github.com/accountgraph/server/internal/apperr"
	"github.com/accountgraph/server/internal/auth"
	"github.com/accountgraph/server/internal/identity"
	"github.com/accountgraph/server/internal/logging"
	"github.com/accountgraph/server/internal/middleware"
	"github.com/accountgraph/server/internal/model"
)

// AccountHandler serves the identity graph of the authenticated account
type AccountHandler struct {
	dispatcher *auth.Dispatcher
	accounts   *account.Store
	graph      *identity.Graph
	log        logging.Logger
}

func NewAccountHandler(dispatcher *auth.Dispatcher, accounts *account.Store, graph *identity.Graph, log logging.Logger) *AccountHandler {
	return &AccountHandler{dispatcher: dispatcher, accounts: accounts, graph: graph, log: log}
}

func toLinkResponse(l model.IdentityLink, self uuid.UUID) linkResponse {
	return linkResponse{
		AccountID:   l.Other(self).String(),
		LinkType:    string(l.LinkType),
		PrivacyMode: string(l.PrivacyMode),
	}
}

type graphResponse struct {
	Accounts           []accountResponse `json:"accounts"`
	Links              []linkResponse    `json:"links"`
	AccessibleProfiles []profileResponse `json:"accessibleProfiles"`
}

// HandleGraph handles GET /accounts/graph. The profile list is for display; it grants nothing.
func (h *AccountHandler) HandleGraph(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, ok := middleware.GetAccountID(ctx)
	if !ok {
		respondWithError(ctx, w, h.log, apperr.Authentication(apperr.CodeInvalidToken, "unauthorized", nil))
		return
	}

	ids, err := h.graph.LinkedAccounts(ctx, accountID)
	if err != nil {
		respondWithError(ctx, w, h.log, err)
		return
	}
	accounts := make([]accountResponse, 0, len(ids))
	for _, id := range ids {
		a, err := h.accounts.Get(ctx, id)
		if err != nil {
			respondWithError(ctx, w, h.log, err)
			return
		}
		accounts = append(accounts, toAccountResponse(a))
	}

	links, err := h.graph.Links(ctx, accountID)
	if err != nil {
		respondWithError(ctx, w, h.log, err)
		return
	}
	linkResp := make([]linkResponse, 0, len(links))
	for _, l := range links {
		linkResp = append(linkResp, toLinkResponse(l, accountID))
	}

	profiles, err := h.graph.AccessibleProfiles(ctx, accountID)
	if err != nil {
		respondWithError(ctx, w, h.log, err)
		return
	}

	respondJSON(w, http.StatusOK, graphResponse{
		Accounts:           accounts,
		Links:              linkResp,
		AccessibleProfiles: toProfileResponses(profiles),
	})
}

type linkRequest struct {
	credentialRequest
	PrivacyMode string `json:"privacyMode"`
}

type linkCredentialResponse struct {
	Account  accountResponse   `json:"account"`
	Link     linkResponse      `json:"link"`
	Profiles []profileResponse `json:"profiles"`
}

// HandleLink handles POST /accounts/link
func (h *AccountHandler) HandleLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, ok := middleware.GetAccountID(ctx)
	if !ok {
		respondWithError(ctx, w, h.log, apperr.Authentication(apperr.CodeInvalidToken, "unauthorized", nil))
		return
	}
	var req linkRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(ctx, w, h.log, err)
		return
	}
	credential, err := req.toRequest()
	if err != nil {
		respondWithError(ctx, w, h.log, err)
		return
	}

	result, err := h.dispatcher.LinkCredential(ctx, accountID, credential, model.PrivacyMode(req.PrivacyMode), getClientIP(r))
	if err != nil {
		respondWithError(ctx, w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, linkCredentialResponse{
		Account:  toAccountResponse(result.Account),
		Link:     toLinkResponse(result.Link, accountID),
		Profiles: toProfileResponses(result.Profiles),
	})
}

type privacyRequest struct {
	PrivacyMode string `json:"privacyMode"`
}

// HandleSetPrivacy handles PUT /accounts/links/{accountId}
func (h *AccountHandler) HandleSetPrivacy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, other, err := h.linkTarget(r)
	if err != nil {
		respondWithError(ctx, w, h.log, err)
		return
	}
	var req privacyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(ctx, w, h.log, err)
		return
	}
	link, err := h.graph.SetPrivacyMode(ctx, accountID, other, model.PrivacyMode(strings.TrimSpace(req.PrivacyMode)))
	if err != nil {
		respondWithError(ctx, w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, toLinkResponse(link, accountID))
}

// HandleUnlink handles DELETE /accounts/links/{accountId}
func (h *AccountHandler) HandleUnlink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, other, err := h.linkTarget(r)
	if err != nil {
		respondWithError(ctx, w, h.log, err)
		return
	}
	if err := h.graph.Unlink(ctx, accountID, other); err != nil {
		respondWithError(ctx, w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// linkTarget resolves the caller and the {accountId} path parameter. Both calls that use it
// address the canonical edge between the two, so a caller can only touch its own links.
func (h *AccountHandler) linkTarget(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	accountID, ok := middleware.GetAccountID(r.Context())
	if !ok {
		return uuid.Nil, uuid.Nil, apperr.Authentication(apperr.CodeInvalidToken, "unauthorized", nil)
	}
	other, err := uuid.Parse(chi.URLParam(r, "accountId"))
	if err != nil {
		return uuid.Nil, uuid.Nil, apperr.Validation("invalid accountId")
	}
	if other == accountID {
		return uuid.Nil, uuid.Nil, apperr.Validation("an account cannot link to itself")
	}
	return accountID, other, nil
}

// HandleUpdateMetadata handles PATCH /accounts/metadata. Top-level keys are merged.
func (h *AccountHandler) HandleUpdateMetadata(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, ok := middleware.GetAccountID(ctx)
	if !ok {
		respondWithError(ctx, w, h.log, apperr.Authentication(apperr.CodeInvalidToken, "unauthorized", nil))
		return
	}
	var patch map[string]any
	if err := decodeJSON(r, &patch); err != nil {
		respondWithError(ctx, w, h.log, err)
		return
	}
	acct, err := h.accounts.UpdateMetadata(ctx, accountID, patch)
	if err != nil {
		respondWithError(ctx, w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, toAccountResponse(acct))
}

// HandleBeginPasskey handles POST /accounts/passkeys/begin
func (h *AccountHandler) HandleBeginPasskey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, ok := middleware.GetAccountID(ctx)
	if !ok {
		respondWithError(ctx, w, h.log, apperr.Authentication(apperr.CodeInvalidToken, "unauthorized", nil))
		return
	}
	challenge, err := h.dispatcher.BeginPasskeyRegistration(ctx, accountID)
	if err != nil {
		respondWithError(ctx, w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, challenge)
}

type finishPasskeyRequest struct {
	ChallengeID string          `json:"challengeId"`
	Credential  json.RawMessage `json:"credential"`
}

// HandleFinishPasskey handles POST /accounts/passkeys/finish
func (h *AccountHandler) HandleFinishPasskey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, ok := middleware.GetAccountID(ctx)
	if !ok {
		respondWithError(ctx, w, h.log, apperr.Authentication(apperr.CodeInvalidToken, "unauthorized", nil))
		return
	}
	var req finishPasskeyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(ctx, w, h.log, err)
		return
	}
	if req.ChallengeID == "" || len(req.Credential) == 0 {
		respondWithError(ctx, w, h.log, apperr.Validation("challengeId and credential are required"))
		return
	}
	acct, err := h.dispatcher.FinishPasskeyRegistration(ctx, accountID, req.ChallengeID, req.Credential)
	if err != nil {
		respondWithError(ctx, w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, toAccountResponse(acct))
}
