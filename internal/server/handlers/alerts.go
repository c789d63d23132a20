package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/brianhealey/smart-inventory/internal/server/database"
	"github.com/brianhealey/smart-inventory/internal/server/models"
)

// ListAlerts handles GET /api/v1/alerts?status=active|acknowledged|resolved.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = "active"
	}
	switch status {
	case "active", "acknowledged", "resolved":
	default:
		respondError(w, http.StatusBadRequest, "invalid status")
		return
	}

	alerts, err := h.store.ListAlerts(status)
	if err != nil {
		logrus.Errorf("Failed to list alerts: %v", err)
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

// AckAlert handles POST /api/v1/alerts/{id}/ack. Only active alerts can be
// acknowledged; anything else is a 404.
func (h *Handler) AckAlert(w http.ResponseWriter, r *http.Request) {
	alertID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusNotFound, "alert not found")
		return
	}

	now := utcNow()
	err = h.store.AcknowledgeAlert(alertID, now)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "alert not found")
		return
	}
	if err != nil {
		logrus.Errorf("Failed to acknowledge alert %d: %v", alertID, err)
		respondError(w, http.StatusInternalServerError, "update failed")
		return
	}

	h.events.Publish(models.Event{
		Type:           models.EventAlertAcknowledged,
		AlertID:        alertID,
		AcknowledgedAt: now,
	})

	respondJSON(w, http.StatusOK, map[string]any{
		"id":              alertID,
		"status":          "acknowledged",
		"acknowledged_at": now,
	})
}
