package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/relvacode/iso8601"
	"github.com/sirupsen/logrus"

	"github.com/brianhealey/smart-inventory/internal/server/config"
	"github.com/brianhealey/smart-inventory/internal/server/database"
	"github.com/brianhealey/smart-inventory/internal/server/events"
)

// Handler carries the shared dependencies for all HTTP endpoints.
type Handler struct {
	cfg    *config.Config
	store  *database.Store
	events *events.Broadcaster
}

func New(cfg *config.Config, store *database.Store, broadcaster *events.Broadcaster) *Handler {
	return &Handler{cfg: cfg, store: store, events: broadcaster}
}

func utcNow() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// normalizeTS parses an ISO-8601 timestamp, assumes UTC when the zone is
// absent, and re-emits it normalized to UTC.
func normalizeTS(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("missing timestamp")
	}
	parsed, err := iso8601.ParseString(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid timestamp %q: %w", value, err)
	}
	return parsed.UTC().Format(time.RFC3339Nano), nil
}

// isNewer reports whether newTS should advance sensor state over lastTS.
// Equal timestamps advance; unparseable stored values fall back to string
// comparison.
func isNewer(newTS string, lastTS *string) bool {
	if lastTS == nil || *lastTS == "" {
		return true
	}
	newParsed, errNew := iso8601.ParseString(newTS)
	lastParsed, errLast := iso8601.ParseString(*lastTS)
	if errNew != nil || errLast != nil {
		return newTS >= *lastTS
	}
	return !newParsed.Before(lastParsed)
}

// parseRange converts an Nd/Nh window string to a duration. Default 7 days.
func parseRange(rangeStr string) (time.Duration, error) {
	if rangeStr == "" {
		return 7 * 24 * time.Hour, nil
	}
	if len(rangeStr) < 2 {
		return 0, fmt.Errorf("invalid range format")
	}
	value, err := strconv.Atoi(rangeStr[:len(rangeStr)-1])
	if err != nil {
		return 0, fmt.Errorf("invalid range format")
	}
	switch rangeStr[len(rangeStr)-1] {
	case 'd':
		return time.Duration(value) * 24 * time.Hour, nil
	case 'h':
		return time.Duration(value) * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid range unit")
}

func parseLimit(raw string) (int, error) {
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 1 {
		return 0, fmt.Errorf("invalid limit")
	}
	return parsed, nil
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.Errorf("Failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, map[string]string{"error": detail})
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": utcNow()})
}

// NotFound is the catch-all for unmatched routes.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	logrus.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"remote": r.RemoteAddr,
	}).Warn("Unmatched route")
	respondError(w, http.StatusNotFound, "not found")
}
