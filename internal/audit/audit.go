// Package audit records security-relevant events. Recording never fails the caller.
package audit

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/accountgraph/server/internal/logging"
)

// EventType names a security event
type EventType string

const (
	EventInvalidSignature EventType = "invalid_signature"
	EventNonceReplay      EventType = "nonce_replay"
	EventCodeBruteforce   EventType = "code_bruteforce"
	EventRefreshReuse     EventType = "refresh_reuse"
	EventCustodyMismatch  EventType = "custody_mismatch"
	EventPasskeyUnknown   EventType = "passkey_unknown"
	EventLogoutAll        EventType = "logout_all"
)

// Event is a single security observation
type Event struct {
	Type      EventType
	Strategy  string
	AccountID *uuid.UUID
	Subject   string
	IP        string
	Detail    string
}

// Recorder records security events
type Recorder interface {
	Record(ctx context.Context, e Event)
}

// LogRecorder writes events as WARN log lines
type LogRecorder struct {
	log logging.Logger
}

func NewLogRecorder(log logging.Logger) *LogRecorder {
	return &LogRecorder{log: log.With("component", "security")}
}

func (r *LogRecorder) Record(ctx context.Context, e Event) {
	args := []any{"event", string(e.Type)}
	if e.Strategy != "" {
		args = append(args, "strategy", e.Strategy)
	}
	if e.AccountID != nil {
		args = append(args, "account_id", e.AccountID.String())
	}
	if e.Subject != "" {
		args = append(args, "subject", logging.Mask(e.Subject))
	}
	if e.IP != "" {
		args = append(args, "ip", e.IP)
	}
	if e.Detail != "" {
		args = append(args, "detail", e.Detail)
	}
	r.log.Warn(ctx, "security event", args...)
}

// MemoryRecorder keeps events in memory; used by tests
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *MemoryRecorder) Record(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far
func (r *MemoryRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Has reports whether an event of type t was recorded
func (r *MemoryRecorder) Has(t EventType) bool {
	for _, e := range r.Events() {
		if e.Type == t {
			return true
		}
	}
	return false
}
