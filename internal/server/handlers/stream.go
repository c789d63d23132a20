package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

const keepaliveInterval = 15 * time.Second

// Stream handles GET /api/v1/stream as server-sent events. A reconnecting
// client may send Last-Event-ID (or ?last_event_id=) to replay persisted
// events it missed before switching to the live feed.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	lastEventID := parseLastEventID(r)
	if lastEventID > 0 {
		stored, err := h.store.EventsSince(lastEventID, h.cfg.EventReplayLimit)
		if err != nil {
			logrus.Errorf("Failed to replay events: %v", err)
		} else {
			for _, event := range stored {
				fmt.Fprintf(w, "id: %d\ndata: %s\n\n", event.ID, event.Payload)
			}
			flusher.Flush()
		}
	}

	sub := h.events.Subscribe()
	defer h.events.Unsubscribe(sub)

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event := <-sub.Events():
			payload, err := json.Marshal(event)
			if err != nil {
				logrus.Errorf("Failed to encode event: %v", err)
				continue
			}
			if event.EventID > 0 {
				fmt.Fprintf(w, "id: %d\n", event.EventID)
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func parseLastEventID(r *http.Request) int64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("last_event_id")
	}
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
