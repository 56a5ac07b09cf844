package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/accountgraph/server/internal/apperr"
	"github.com/accountgraph/server/internal/logging"
	"github.com/accountgraph/server/internal/model"
)

const maxBodyBytes = 1 << 20

// errorResponse is the body of every non-2xx response
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondWithError writes application errors as-is. Anything else is logged and hidden
// behind a generic 500.
func respondWithError(ctx context.Context, w http.ResponseWriter, log logging.Logger, err error) {
	if e, ok := apperr.As(err); ok {
		respondJSON(w, e.HTTPStatus(), errorResponse{Error: e.Message, Code: e.Code})
		return
	}
	log.Error(ctx, "request failed", "error", err)
	respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
}

// decodeJSON reads a bounded JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return apperr.Validation("invalid request body")
}

type accountResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Identifier string         `json:"identifier"`
	Provider   *string        `json:"provider"`
	Verified   bool           `json:"verified"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

func toAccountResponse(a model.Account) accountResponse {
	meta := a.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return accountResponse{
		ID:         a.ID.String(),
		Type:       string(a.Type),
		Identifier: a.Identifier,
		Provider:   a.Provider,
		Verified:   a.Verified,
		Metadata:   meta,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

type profileResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	WalletAddress *string   `json:"walletAddress"`
	LastActiveAt  time.Time `json:"lastActiveAt"`
	CreatedAt     time.Time `json:"createdAt"`
}

func toProfileResponse(p model.Profile) profileResponse {
	return profileResponse{
		ID:            p.ID.String(),
		Name:          p.Name,
		WalletAddress: p.WalletAddress,
		LastActiveAt:  p.LastActiveAt,
		CreatedAt:     p.CreatedAt,
	}
}

func toProfileResponses(ps []model.Profile) []profileResponse {
	out := make([]profileResponse, 0, len(ps))
	for _, p := range ps {
		out = append(out, toProfileResponse(p))
	}
	return out
}

type linkResponse struct {
	AccountID   string `json:"accountId"`
	LinkType    string `json:"linkType"`
	PrivacyMode string `json:"privacyMode"`
}
