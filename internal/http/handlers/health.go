package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger is satisfied by *sql.DB
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler reports liveness, and database reachability when a Pinger is set
type HealthHandler struct {
	db Pinger
}

func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

type healthResponse struct {
	OK bool `json:"ok"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, healthResponse{OK: false})
			return
		}
	}
	respondJSON(w, http.StatusOK, healthResponse{OK: true})
}
