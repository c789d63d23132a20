package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/brianhealey/smart-inventory/internal/server/database"
	"github.com/brianhealey/smart-inventory/internal/server/models"
)

// ListItems handles GET /api/v1/items.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListItems()
	if err != nil {
		logrus.Errorf("Failed to list items: %v", err)
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GetItem handles GET /api/v1/items/{id}, including the latest reading of
// the bound sensor.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["id"]

	item, err := h.store.GetItem(itemID)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		logrus.Errorf("Failed to get item %s: %v", itemID, err)
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}

	var latest *database.Reading
	if item.SensorID != nil && *item.SensorID != "" {
		latest, err = h.store.LatestReading(*item.SensorID)
		if err != nil {
			logrus.Errorf("Failed to get latest reading for item %s: %v", itemID, err)
			respondError(w, http.StatusInternalServerError, "query failed")
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"id":             item.ID,
		"name":           item.Name,
		"sensor_id":      item.SensorID,
		"thresholds":     item.Thresholds,
		"unit":           item.Unit,
		"image_url":      item.ImageURL,
		"created_at":     item.CreatedAt,
		"updated_at":     item.UpdatedAt,
		"latest_reading": latest,
	})
}

// CreateItem handles POST /api/v1/items.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var payload models.ItemCreate
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if payload.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	now := utcNow()
	item := database.Item{
		ID:         uuid.NewString(),
		Name:       payload.Name,
		SensorID:   payload.SensorID,
		Thresholds: payload.Thresholds,
		Unit:       payload.Unit,
		ImageURL:   payload.ImageURL,
		CreatedAt:  &now,
		UpdatedAt:  &now,
	}
	if err := h.store.CreateItem(item); err != nil {
		logrus.Errorf("Failed to create item: %v", err)
		respondError(w, http.StatusInternalServerError, "create failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"id": item.ID, "created_at": now})
}

// UpdateItem handles PUT /api/v1/items/{id} with partial fields.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["id"]

	var payload models.ItemUpdate
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	now := utcNow()
	patch := database.ItemPatch{
		Name:       payload.Name,
		SensorID:   payload.SensorID,
		Thresholds: payload.Thresholds,
		Unit:       payload.Unit,
		ImageURL:   payload.ImageURL,
	}
	err := h.store.UpdateItem(itemID, patch, now)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		logrus.Errorf("Failed to update item %s: %v", itemID, err)
		respondError(w, http.StatusInternalServerError, "update failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"id": itemID, "updated_at": now})
}

// UpdateThresholds handles POST /api/v1/items/{id}/thresholds.
func (h *Handler) UpdateThresholds(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["id"]

	var payload models.ThresholdsIn
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	thresholds := map[string]float64{}
	if payload.Low != nil {
		thresholds["low"] = *payload.Low
	}
	if payload.OK != nil {
		thresholds["ok"] = *payload.OK
	}

	now := utcNow()
	err := h.store.UpdateItemThresholds(itemID, thresholds, now)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		logrus.Errorf("Failed to update thresholds for %s: %v", itemID, err)
		respondError(w, http.StatusInternalServerError, "update failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"id": itemID, "updated_at": now})
}

// ItemHistory handles GET /api/v1/items/{id}/history?range=Nd|Nh&limit=N.
func (h *Handler) ItemHistory(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["id"]

	window, err := parseRange(r.URL.Query().Get("range"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 500
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := parseLimit(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	if limit > h.cfg.HistoryLimit {
		limit = h.cfg.HistoryLimit
	}

	item, err := h.store.GetItem(itemID)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		logrus.Errorf("Failed to get item %s: %v", itemID, err)
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}

	if item.SensorID == nil || *item.SensorID == "" {
		respondJSON(w, http.StatusOK, map[string]any{"item_id": itemID, "readings": []database.Reading{}})
		return
	}

	since := time.Now().UTC().Add(-window).Format(time.RFC3339Nano)
	readings, err := h.store.History(*item.SensorID, since, limit)
	if err != nil {
		logrus.Errorf("Failed to query history for %s: %v", itemID, err)
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"item_id": itemID, "readings": readings})
}
