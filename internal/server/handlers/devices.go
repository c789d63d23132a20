package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"
)

// ListDevices handles GET /api/v1/devices.
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.store.ListDevices()
	if err != nil {
		logrus.Errorf("Failed to list devices: %v", err)
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// ListSensors handles GET /api/v1/sensors.
func (h *Handler) ListSensors(w http.ResponseWriter, r *http.Request) {
	sensors, err := h.store.ListSensors()
	if err != nil {
		logrus.Errorf("Failed to list sensors: %v", err)
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sensors": sensors})
}
