package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a lookup or targeted update matches nothing.
var ErrNotFound = errors.New("not found")

// Store wraps the server database. sqlite allows one writer at a time, so
// every transaction serializes under mu; reads go straight to the pool.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

const schema = `
CREATE TABLE IF NOT EXISTS devices (
	id TEXT PRIMARY KEY,
	name TEXT,
	location TEXT,
	firmware TEXT,
	last_seen TEXT
);

CREATE TABLE IF NOT EXISTS sensors (
	id TEXT PRIMARY KEY,
	device_id TEXT,
	type TEXT,
	thresholds TEXT,
	state_map TEXT,
	last_state TEXT,
	last_value REAL,
	last_update TEXT,
	FOREIGN KEY(device_id) REFERENCES devices(id)
);

CREATE TABLE IF NOT EXISTS items (
	id TEXT PRIMARY KEY,
	sensor_id TEXT,
	name TEXT NOT NULL,
	thresholds TEXT,
	unit TEXT,
	image_url TEXT,
	created_at TEXT,
	updated_at TEXT,
	FOREIGN KEY(sensor_id) REFERENCES sensors(id)
);

CREATE TABLE IF NOT EXISTS readings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id TEXT NOT NULL,
	seq_id INTEGER NOT NULL,
	sensor_id TEXT NOT NULL,
	ts TEXT NOT NULL,
	raw_value REAL,
	normalized_value REAL,
	state TEXT NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE(device_id, sensor_id, seq_id, ts),
	FOREIGN KEY(sensor_id) REFERENCES sensors(id)
);

CREATE TABLE IF NOT EXISTS alerts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	item_id TEXT,
	sensor_id TEXT NOT NULL,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	message TEXT,
	created_at TEXT NOT NULL,
	resolved_at TEXT,
	FOREIGN KEY(item_id) REFERENCES items(id),
	FOREIGN KEY(sensor_id) REFERENCES sensors(id)
);

CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_readings_sensor_ts ON readings(sensor_id, ts);
CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);
`

// Open opens the database at path, creating the directory and schema as
// needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a transaction: commit on nil, rollback on error.
func (s *Store) WithTx(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func dumpsJSON(value map[string]float64) *string {
	if value == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	text := string(raw)
	return &text
}

func loadsJSON(value *string) map[string]float64 {
	if value == nil || *value == "" {
		return nil
	}
	var parsed map[string]float64
	if err := json.Unmarshal([]byte(*value), &parsed); err != nil {
		return nil
	}
	return parsed
}

func loadsStateMap(value *string) map[string]string {
	if value == nil || *value == "" {
		return nil
	}
	var parsed map[string]string
	if err := json.Unmarshal([]byte(*value), &parsed); err != nil {
		return nil
	}
	return parsed
}

// --- Ingest path, transaction-scoped ---

// ReadingRecord is one stored reading row.
type ReadingRecord struct {
	DeviceID        string
	SeqID           uint64
	SensorID        string
	TS              string
	RawValue        *float64
	NormalizedValue *float64
	State           string
	CreatedAt       string
}

// UpsertDevice creates or touches a device row, refreshing last_seen.
func UpsertDevice(tx *sql.Tx, deviceID string, firmware *string, lastSeen string) error {
	_, err := tx.Exec(
		`INSERT INTO devices (id, firmware, last_seen)
		 VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET firmware = excluded.firmware, last_seen = excluded.last_seen;`,
		deviceID, firmware, lastSeen,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}
	return nil
}

// EnsureSensor creates the sensor row on first sight of a sensor id.
func EnsureSensor(tx *sql.Tx, sensorID, deviceID string) error {
	_, err := tx.Exec(
		"INSERT OR IGNORE INTO sensors (id, device_id) VALUES (?, ?);",
		sensorID, deviceID,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure sensor: %w", err)
	}
	return nil
}

// SensorState returns the sensor's last derived state and its timestamp.
func SensorState(tx *sql.Tx, sensorID string) (lastState, lastUpdate *string, err error) {
	row := tx.QueryRow("SELECT last_state, last_update FROM sensors WHERE id = ?;", sensorID)
	if err := row.Scan(&lastState, &lastUpdate); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to read sensor state: %w", err)
	}
	return lastState, lastUpdate, nil
}

// InsertReading stores the reading unless the idempotency key
// (device_id, sensor_id, seq_id, ts) already exists. The bool reports
// whether a row was actually inserted.
func InsertReading(tx *sql.Tx, r ReadingRecord) (bool, error) {
	result, err := tx.Exec(
		`INSERT OR IGNORE INTO readings
		 (device_id, seq_id, sensor_id, ts, raw_value, normalized_value, state, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		r.DeviceID, r.SeqID, r.SensorID, r.TS, r.RawValue, r.NormalizedValue, r.State, r.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert reading: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// UpdateSensorState advances the sensor's derived state.
func UpdateSensorState(tx *sql.Tx, sensorID, state string, lastValue *float64, ts string) error {
	_, err := tx.Exec(
		"UPDATE sensors SET last_state = ?, last_value = ?, last_update = ? WHERE id = ?;",
		state, lastValue, ts, sensorID,
	)
	if err != nil {
		return fmt.Errorf("failed to update sensor state: %w", err)
	}
	return nil
}

// ItemRef is the item bound to a sensor, if any.
type ItemRef struct {
	ID   string
	Name string
}

// ItemForSensor returns the item bound to the sensor, or nil.
func ItemForSensor(tx *sql.Tx, sensorID string) (*ItemRef, error) {
	var ref ItemRef
	row := tx.QueryRow("SELECT id, name FROM items WHERE sensor_id = ?;", sensorID)
	if err := row.Scan(&ref.ID, &ref.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up item for sensor: %w", err)
	}
	return &ref, nil
}

// CreateAlert opens a new active alert and returns its id.
func CreateAlert(tx *sql.Tx, sensorID string, itemID *string, alertType, message, createdAt string) (int64, error) {
	result, err := tx.Exec(
		`INSERT INTO alerts (item_id, sensor_id, type, status, message, created_at)
		 VALUES (?, ?, ?, 'active', ?, ?);`,
		itemID, sensorID, alertType, message, createdAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create alert: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get alert id: %w", err)
	}
	return id, nil
}

// ResolveActiveAlerts closes every active alert for the sensor.
func ResolveActiveAlerts(tx *sql.Tx, sensorID, resolvedAt string) error {
	_, err := tx.Exec(
		"UPDATE alerts SET status = 'resolved', resolved_at = ? WHERE sensor_id = ? AND status = 'active';",
		resolvedAt, sensorID,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve alerts: %w", err)
	}
	return nil
}

// RecordEvent appends to the persisted event log and returns the event id
// used for SSE replay.
func RecordEvent(tx *sql.Tx, eventType, payload, createdAt string) (int64, error) {
	result, err := tx.Exec(
		"INSERT INTO events (type, payload, created_at) VALUES (?, ?, ?);",
		eventType, payload, createdAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record event: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get event id: %w", err)
	}
	return id, nil
}

// PruneEvents drops events past the retention window and, beyond that, the
// oldest rows over the row cap.
func PruneEvents(tx *sql.Tx, retentionSeconds, maxRows int, now time.Time) error {
	if retentionSeconds > 0 {
		cutoff := now.UTC().Add(-time.Duration(retentionSeconds) * time.Second).Format(time.RFC3339Nano)
		if _, err := tx.Exec("DELETE FROM events WHERE created_at < ?;", cutoff); err != nil {
			return fmt.Errorf("failed to prune events by age: %w", err)
		}
	}
	if maxRows > 0 {
		var count int
		if err := tx.QueryRow("SELECT COUNT(*) FROM events;").Scan(&count); err != nil {
			return fmt.Errorf("failed to count events: %w", err)
		}
		if count > maxRows {
			_, err := tx.Exec(
				`DELETE FROM events
				 WHERE id IN (
					SELECT id FROM events ORDER BY id ASC LIMIT ?
				 );`,
				count-maxRows,
			)
			if err != nil {
				return fmt.Errorf("failed to prune events by rows: %w", err)
			}
		}
	}
	return nil
}
