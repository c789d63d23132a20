package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brianhealey/smart-inventory/internal/server/database"
	"github.com/brianhealey/smart-inventory/internal/server/models"
)

// errBadBatch marks validation failures that must abort the whole batch
// with a 400 and no partial commit.
type errBadBatch struct {
	detail string
}

func (e *errBadBatch) Error() string {
	return e.detail
}

// IngestBatch handles POST /api/v1/readings/batch. Readings are processed
// in order inside one transaction; duplicates (same device, sensor, seq and
// timestamp) are stored once and emit no events, so devices can retry the
// same batch safely. Events publish only after the transaction commits.
func (h *Handler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	var batch models.ReadingsBatchIn
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if batch.DeviceID == "" {
		respondError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	now := utcNow()
	var ackSeq *uint64
	var pending []models.Event

	err := h.store.WithTx(func(tx *sql.Tx) error {
		var firmware *string
		if batch.Firmware != "" {
			firmware = &batch.Firmware
		}
		if err := database.UpsertDevice(tx, batch.DeviceID, firmware, now); err != nil {
			return err
		}

		for _, reading := range batch.Readings {
			readingTS, err := normalizeTS(reading.TS)
			if err != nil {
				return &errBadBatch{detail: "invalid reading timestamp"}
			}
			if reading.SensorID == "" {
				return &errBadBatch{detail: "reading sensor_id is required"}
			}

			if err := database.EnsureSensor(tx, reading.SensorID, batch.DeviceID); err != nil {
				return err
			}
			prevState, prevTS, err := database.SensorState(tx, reading.SensorID)
			if err != nil {
				return err
			}

			inserted, err := database.InsertReading(tx, database.ReadingRecord{
				DeviceID:        batch.DeviceID,
				SeqID:           reading.SeqID,
				SensorID:        reading.SensorID,
				TS:              readingTS,
				RawValue:        reading.RawValue,
				NormalizedValue: reading.NormalizedValue,
				State:           reading.State,
				CreatedAt:       now,
			})
			if err != nil {
				return err
			}

			// The row is stored (or already was), so acking is safe
			// even for duplicates.
			seq := reading.SeqID
			ackSeq = &seq
			if !inserted {
				continue
			}

			if isNewer(readingTS, prevTS) {
				err := database.UpdateSensorState(tx, reading.SensorID, reading.State, reading.NormalizedValue, readingTS)
				if err != nil {
					return err
				}
			}

			item, err := database.ItemForSensor(tx, reading.SensorID)
			if err != nil {
				return err
			}
			var itemID *string
			if item != nil {
				itemID = &item.ID
			}

			pending = append(pending, models.Event{
				Type:            models.EventItemStatusUpdate,
				SensorID:        reading.SensorID,
				ItemID:          itemID,
				State:           reading.State,
				NormalizedValue: reading.NormalizedValue,
				TS:              readingTS,
			})

			if prevState == nil || *prevState != reading.State {
				switch reading.State {
				case "low", "out":
					message := fmt.Sprintf("Sensor %s is %s", reading.SensorID, reading.State)
					if item != nil {
						message = fmt.Sprintf("%s is %s", item.Name, reading.State)
					}
					alertID, err := database.CreateAlert(tx, reading.SensorID, itemID, reading.State, message, now)
					if err != nil {
						return err
					}
					pending = append(pending, models.Event{
						Type:      models.EventAlertCreated,
						AlertID:   alertID,
						SensorID:  reading.SensorID,
						ItemID:    itemID,
						State:     reading.State,
						Message:   message,
						CreatedAt: now,
					})
				case "ok":
					if err := database.ResolveActiveAlerts(tx, reading.SensorID, now); err != nil {
						return err
					}
					pending = append(pending, models.Event{
						Type:       models.EventAlertResolved,
						SensorID:   reading.SensorID,
						ItemID:     itemID,
						ResolvedAt: now,
					})
				}
			}
		}

		for i := range pending {
			payload, err := json.Marshal(pending[i])
			if err != nil {
				return fmt.Errorf("failed to encode event: %w", err)
			}
			eventID, err := database.RecordEvent(tx, pending[i].Type, string(payload), now)
			if err != nil {
				return err
			}
			pending[i].EventID = eventID
		}
		return database.PruneEvents(tx, h.cfg.EventRetentionSeconds, h.cfg.EventMaxRows, time.Now())
	})
	if err != nil {
		var bad *errBadBatch
		if errors.As(err, &bad) {
			respondError(w, http.StatusBadRequest, bad.detail)
			return
		}
		logrus.Errorf("Ingest failed for device %s: %v", batch.DeviceID, err)
		respondError(w, http.StatusInternalServerError, "ingest failed")
		return
	}

	for _, event := range pending {
		h.events.Publish(event)
	}

	logrus.WithFields(logrus.Fields{
		"device_id": batch.DeviceID,
		"readings":  len(batch.Readings),
		"events":    len(pending),
	}).Info("Batch ingested")

	respondJSON(w, http.StatusOK, models.BatchAck{AckSeqID: ackSeq, ServerTime: now})
}
