package handlers

import (
	"context"
	"database/sql"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianhealey/smart-inventory/internal/server/database"
)

func TestStreamReplaysPersistedEvents(t *testing.T) {
	ts := newTestServer(t)

	require.NoError(t, ts.store.WithTx(func(tx *sql.Tx) error {
		for _, payload := range []string{
			`{"type":"item_status_update","sensor_id":"bin-1"}`,
			`{"type":"alert_created","sensor_id":"bin-1"}`,
			`{"type":"alert_resolved","sensor_id":"bin-1"}`,
		} {
			_, err := database.RecordEvent(tx, "event", payload, "2026-01-17T00:00:00Z")
			require.NoError(t, err)
		}
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // return immediately after the replay

	req := httptest.NewRequest("GET", "/api/v1/stream", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	rec := httptest.NewRecorder()
	ts.handler.Stream(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.NotContains(t, body, "id: 1\n", "events at or before Last-Event-ID are not replayed")
	assert.Contains(t, body, "id: 2\ndata: {\"type\":\"alert_created\",\"sensor_id\":\"bin-1\"}\n\n")
	assert.Contains(t, body, "id: 3\ndata: {\"type\":\"alert_resolved\",\"sensor_id\":\"bin-1\"}\n\n")
}

func TestStreamWithoutLastEventIDStartsLive(t *testing.T) {
	ts := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest("GET", "/api/v1/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	ts.handler.Stream(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.False(t, strings.Contains(rec.Body.String(), "data:"))
}
