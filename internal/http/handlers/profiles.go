package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/accountgraph/server/internal/apperr"
	"github.com/accountgraph/server/internal/auth"
	"github.com/accountgraph/server/internal/identity"
	"github.com/accountgraph/server/internal/logging"
	"github.com/accountgraph/server/internal/middleware"
)

// ProfileHandler handles the profile endpoints of the authenticated account
type ProfileHandler struct {
	dispatcher *auth.Dispatcher
	profiles   *identity.Profiles
	log        logging.Logger
}

func NewProfileHandler(dispatcher *auth.Dispatcher, profiles *identity.Profiles, log logging.Logger) *ProfileHandler {
	return &ProfileHandler{dispatcher: dispatcher, profiles: profiles, log: log}
}

type createProfileRequest struct {
	Name string `json:"name"`
}

// HandleCreate handles POST /profiles
func (h *ProfileHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, ok := middleware.GetAccountID(ctx)
	if !ok {
		respondWithError(ctx, w, h.log, apperr.Authentication(apperr.CodeInvalidToken, "unauthorized", nil))
		return
	}
	var req createProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(ctx, w, h.log, err)
		return
	}
	prof, err := h.profiles.Create(ctx, accountID, req.Name)
	if err != nil {
		respondWithError(ctx, w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, toProfileResponse(prof))
}

type switchProfileRequest struct {
	ProfileID string `json:"profileId"`
}

type switchProfileResponse struct {
	Profile profileResponse `json:"profile"`
	Tokens  auth.Tokens     `json:"tokens"`
}

// HandleSwitch handles POST /profiles/switch
func (h *ProfileHandler) HandleSwitch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, ok := middleware.GetClaims(ctx)
	if !ok {
		respondWithError(ctx, w, h.log, apperr.Authentication(apperr.CodeInvalidToken, "unauthorized", nil))
		return
	}
	var req switchProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(ctx, w, h.log, err)
		return
	}
	profileID, err := uuid.Parse(req.ProfileID)
	if err != nil {
		respondWithError(ctx, w, h.log, apperr.Validation("invalid profileId"))
		return
	}

	prof, tokens, err := h.dispatcher.SwitchProfile(ctx, claims, profileID)
	if err != nil {
		respondWithError(ctx, w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, switchProfileResponse{Profile: toProfileResponse(prof), Tokens: tokens})
}

type deleteProfileResponse struct {
	Deleted bool `json:"deleted"`
}

// HandleDelete handles DELETE /profiles/{profileId}. The profile row goes away with its last link.
func (h *ProfileHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, ok := middleware.GetAccountID(ctx)
	if !ok {
		respondWithError(ctx, w, h.log, apperr.Authentication(apperr.CodeInvalidToken, "unauthorized", nil))
		return
	}
	profileID, err := uuid.Parse(chi.URLParam(r, "profileId"))
	if err != nil {
		respondWithError(ctx, w, h.log, apperr.Validation("invalid profileId"))
		return
	}
	deleted, err := h.profiles.Remove(ctx, accountID, profileID)
	if err != nil {
		respondWithError(ctx, w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, deleteProfileResponse{Deleted: deleted})
}
