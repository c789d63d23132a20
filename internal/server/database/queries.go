package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Device is a device row as served to the UI.
type Device struct {
	ID       string  `json:"id"`
	Name     *string `json:"name"`
	Location *string `json:"location"`
	Firmware *string `json:"firmware"`
	LastSeen *string `json:"last_seen"`
}

// Sensor is a sensor row as served to the UI.
type Sensor struct {
	ID         string             `json:"id"`
	DeviceID   *string            `json:"device_id"`
	Type       *string            `json:"type"`
	Thresholds map[string]float64 `json:"thresholds"`
	StateMap   map[string]string  `json:"state_map"`
	LastState  *string            `json:"last_state"`
	LastValue  *float64           `json:"last_value"`
	LastUpdate *string            `json:"last_update"`
}

// Item is an item row.
type Item struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	SensorID   *string            `json:"sensor_id"`
	Thresholds map[string]float64 `json:"thresholds"`
	Unit       *string            `json:"unit"`
	ImageURL   *string            `json:"image_url"`
	CreatedAt  *string            `json:"created_at"`
	UpdatedAt  *string            `json:"updated_at"`
}

// ItemSummary is an item joined with its sensor's derived status.
type ItemSummary struct {
	Item
	Status     string   `json:"status"`
	LastUpdate *string  `json:"last_update"`
	LastValue  *float64 `json:"last_value"`
}

// Reading is a stored reading as served in history and detail responses.
type Reading struct {
	SeqID           uint64   `json:"seq_id"`
	TS              string   `json:"ts"`
	RawValue        *float64 `json:"raw_value"`
	NormalizedValue *float64 `json:"normalized_value"`
	State           string   `json:"state"`
}

// Alert is an alert row joined with its item's name.
type Alert struct {
	ID         int64   `json:"id"`
	ItemID     *string `json:"item_id"`
	SensorID   string  `json:"sensor_id"`
	Type       string  `json:"type"`
	Status     string  `json:"status"`
	Message    *string `json:"message"`
	CreatedAt  string  `json:"created_at"`
	ResolvedAt *string `json:"resolved_at"`
	ItemName   *string `json:"name"`
}

// StoredEvent is a persisted broadcast event, replayed over SSE.
type StoredEvent struct {
	ID      int64
	Payload string
}

// ListItems returns all items with their sensor's current status; items
// without a sensor (or a sensor that has not reported) show "unknown".
func (s *Store) ListItems() ([]ItemSummary, error) {
	rows, err := s.db.Query(
		`SELECT items.id, items.name, items.sensor_id, items.thresholds,
		        items.unit, items.image_url, items.created_at, items.updated_at,
		        sensors.last_state, sensors.last_update, sensors.last_value
		 FROM items
		 LEFT JOIN sensors ON items.sensor_id = sensors.id
		 ORDER BY items.name ASC;`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	items := []ItemSummary{}
	for rows.Next() {
		var item ItemSummary
		var thresholds, lastState *string
		err := rows.Scan(
			&item.ID, &item.Name, &item.SensorID, &thresholds,
			&item.Unit, &item.ImageURL, &item.CreatedAt, &item.UpdatedAt,
			&lastState, &item.LastUpdate, &item.LastValue,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		item.Thresholds = loadsJSON(thresholds)
		item.Status = "unknown"
		if lastState != nil && *lastState != "" {
			item.Status = *lastState
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetItem returns one item or ErrNotFound.
func (s *Store) GetItem(itemID string) (*Item, error) {
	var item Item
	var thresholds *string
	row := s.db.QueryRow(
		`SELECT id, name, sensor_id, thresholds, unit, image_url, created_at, updated_at
		 FROM items WHERE id = ?;`,
		itemID,
	)
	err := row.Scan(
		&item.ID, &item.Name, &item.SensorID, &thresholds,
		&item.Unit, &item.ImageURL, &item.CreatedAt, &item.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query item: %w", err)
	}
	item.Thresholds = loadsJSON(thresholds)
	return &item, nil
}

// LatestReading returns the newest reading for a sensor by timestamp, or
// nil when the sensor has none.
func (s *Store) LatestReading(sensorID string) (*Reading, error) {
	var r Reading
	row := s.db.QueryRow(
		`SELECT seq_id, ts, raw_value, normalized_value, state
		 FROM readings WHERE sensor_id = ?
		 ORDER BY ts DESC LIMIT 1;`,
		sensorID,
	)
	err := row.Scan(&r.SeqID, &r.TS, &r.RawValue, &r.NormalizedValue, &r.State)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest reading: %w", err)
	}
	return &r, nil
}

// History returns readings for a sensor since the given timestamp, oldest
// first, capped at limit.
func (s *Store) History(sensorID, since string, limit int) ([]Reading, error) {
	rows, err := s.db.Query(
		`SELECT seq_id, ts, raw_value, normalized_value, state
		 FROM readings
		 WHERE sensor_id = ? AND ts >= ?
		 ORDER BY ts ASC
		 LIMIT ?;`,
		sensorID, since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	readings := []Reading{}
	for rows.Next() {
		var r Reading
		if err := rows.Scan(&r.SeqID, &r.TS, &r.RawValue, &r.NormalizedValue, &r.State); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// CreateItem inserts a new item row.
func (s *Store) CreateItem(item Item) error {
	return s.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO items (id, sensor_id, name, thresholds, unit, image_url, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
			item.ID, item.SensorID, item.Name, dumpsJSON(item.Thresholds),
			item.Unit, item.ImageURL, item.CreatedAt, item.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert item: %w", err)
		}
		return nil
	})
}

// ItemPatch carries the set fields of a partial item update.
type ItemPatch struct {
	Name       *string
	SensorID   *string
	Thresholds *map[string]float64
	Unit       *string
	ImageURL   *string
}

// UpdateItem applies a partial update; ErrNotFound when the item does not
// exist. A patch with no set fields only touches updated_at.
func (s *Store) UpdateItem(itemID string, patch ItemPatch, now string) error {
	fields := []string{}
	values := []any{}

	if patch.Name != nil {
		fields = append(fields, "name = ?")
		values = append(values, *patch.Name)
	}
	if patch.SensorID != nil {
		fields = append(fields, "sensor_id = ?")
		values = append(values, *patch.SensorID)
	}
	if patch.Thresholds != nil {
		fields = append(fields, "thresholds = ?")
		values = append(values, dumpsJSON(*patch.Thresholds))
	}
	if patch.Unit != nil {
		fields = append(fields, "unit = ?")
		values = append(values, *patch.Unit)
	}
	if patch.ImageURL != nil {
		fields = append(fields, "image_url = ?")
		values = append(values, *patch.ImageURL)
	}

	fields = append(fields, "updated_at = ?")
	values = append(values, now, itemID)

	return s.WithTx(func(tx *sql.Tx) error {
		result, err := tx.Exec(
			fmt.Sprintf("UPDATE items SET %s WHERE id = ?;", strings.Join(fields, ", ")),
			values...,
		)
		if err != nil {
			return fmt.Errorf("failed to update item: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// UpdateItemThresholds replaces an item's thresholds.
func (s *Store) UpdateItemThresholds(itemID string, thresholds map[string]float64, now string) error {
	return s.WithTx(func(tx *sql.Tx) error {
		result, err := tx.Exec(
			"UPDATE items SET thresholds = ?, updated_at = ? WHERE id = ?;",
			dumpsJSON(thresholds), now, itemID,
		)
		if err != nil {
			return fmt.Errorf("failed to update thresholds: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ListAlerts returns alerts in the given status, newest first.
func (s *Store) ListAlerts(status string) ([]Alert, error) {
	rows, err := s.db.Query(
		`SELECT alerts.id, alerts.item_id, alerts.sensor_id, alerts.type, alerts.status,
		        alerts.message, alerts.created_at, alerts.resolved_at, items.name
		 FROM alerts
		 LEFT JOIN items ON alerts.item_id = items.id
		 WHERE alerts.status = ?
		 ORDER BY alerts.created_at DESC;`,
		status,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []Alert{}
	for rows.Next() {
		var a Alert
		err := rows.Scan(
			&a.ID, &a.ItemID, &a.SensorID, &a.Type, &a.Status,
			&a.Message, &a.CreatedAt, &a.ResolvedAt, &a.ItemName,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// AcknowledgeAlert flips an active alert to acknowledged; anything else is
// ErrNotFound.
func (s *Store) AcknowledgeAlert(alertID int64, now string) error {
	return s.WithTx(func(tx *sql.Tx) error {
		result, err := tx.Exec(
			"UPDATE alerts SET status = 'acknowledged', resolved_at = ? WHERE id = ? AND status = 'active';",
			now, alertID,
		)
		if err != nil {
			return fmt.Errorf("failed to acknowledge alert: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ListDevices returns all known devices.
func (s *Store) ListDevices() ([]Device, error) {
	rows, err := s.db.Query("SELECT id, name, location, firmware, last_seen FROM devices ORDER BY id;")
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.ID, &d.Name, &d.Location, &d.Firmware, &d.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// ListSensors returns all known sensors.
func (s *Store) ListSensors() ([]Sensor, error) {
	rows, err := s.db.Query(
		`SELECT id, device_id, type, thresholds, state_map, last_state, last_value, last_update
		 FROM sensors ORDER BY id;`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensors: %w", err)
	}
	defer rows.Close()

	sensors := []Sensor{}
	for rows.Next() {
		var sensor Sensor
		var thresholds, stateMap *string
		err := rows.Scan(
			&sensor.ID, &sensor.DeviceID, &sensor.Type, &thresholds, &stateMap,
			&sensor.LastState, &sensor.LastValue, &sensor.LastUpdate,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sensor: %w", err)
		}
		sensor.Thresholds = loadsJSON(thresholds)
		sensor.StateMap = loadsStateMap(stateMap)
		sensors = append(sensors, sensor)
	}
	return sensors, rows.Err()
}

// EventsSince returns persisted events after lastID for SSE replay.
func (s *Store) EventsSince(lastID int64, limit int) ([]StoredEvent, error) {
	rows, err := s.db.Query(
		"SELECT id, payload FROM events WHERE id > ? ORDER BY id ASC LIMIT ?;",
		lastID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []StoredEvent{}
	for rows.Next() {
		var e StoredEvent
		if err := rows.Scan(&e.ID, &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
