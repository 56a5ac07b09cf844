package audit

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/accountgraph/server/internal/logging"
)

func TestLogRecorder_MasksSubject(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogRecorder(logging.NewJSON(&buf, slog.LevelDebug))
	id := uuid.New()

	r.Record(context.Background(), Event{
		Type:      EventNonceReplay,
		Strategy:  "wallet",
		AccountID: &id,
		Subject:   "0x1234567890abcdef",
	})

	out := buf.String()
	assert.Contains(t, out, `"event":"nonce_replay"`)
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, id.String())
	assert.NotContains(t, out, "0x1234567890abcdef")
}

func TestMemoryRecorder(t *testing.T) {
	r := &MemoryRecorder{}
	r.Record(context.Background(), Event{Type: EventRefreshReuse})

	assert.True(t, r.Has(EventRefreshReuse))
	assert.False(t, r.Has(EventLogoutAll))
	assert.Len(t, r.Events(), 1)
}
