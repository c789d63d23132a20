package outbox

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/brianhealey/smart-inventory/internal/agent/processing"
)

// Options bound outbox retention. Zero values disable trimming.
type Options struct {
	MaxRows int
	MaxAge  time.Duration
}

// Outbox is the durable upload queue. Every enqueued reading gets a
// monotonically increasing sequence id from sqlite AUTOINCREMENT, so ids
// keep climbing across restarts and deletes. The polling loop writes and the
// uploader reads; one mutex serializes both.
type Outbox struct {
	mu      sync.Mutex
	db      *sql.DB
	maxRows int
	maxAge  time.Duration
}

const schema = `
CREATE TABLE IF NOT EXISTS readings (
	seq_id INTEGER PRIMARY KEY AUTOINCREMENT,
	sensor_id TEXT NOT NULL,
	ts TEXT NOT NULL,
	raw_value REAL,
	normalized_value REAL,
	state TEXT NOT NULL
);
`

// Open opens (creating if needed) the queue database at path.
func Open(path string, opts Options) (*Outbox, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create queue directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create queue schema: %w", err)
	}

	o := &Outbox{db: db, maxAge: opts.MaxAge}
	if opts.MaxRows > 0 {
		o.maxRows = opts.MaxRows
	}
	return o, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// Enqueue stores a reading and returns its assigned sequence id. The row is
// committed before return; retention trimming runs after each enqueue.
func (o *Outbox) Enqueue(r processing.Reading) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	result, err := o.db.Exec(
		`INSERT INTO readings (sensor_id, ts, raw_value, normalized_value, state)
		 VALUES (?, ?, ?, ?, ?);`,
		r.SensorID, r.TS, r.RawValue, r.NormalizedValue, r.State,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue reading: %w", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get assigned seq_id: %w", err)
	}

	if err := o.trimLocked(); err != nil {
		return 0, err
	}
	return uint64(seq), nil
}

// GetBatch returns the oldest pending readings, up to limit, in seq order.
// Rows are not removed; only AckUpTo removes.
func (o *Outbox) GetBatch(limit int) ([]processing.Reading, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rows, err := o.db.Query(
		`SELECT seq_id, sensor_id, ts, raw_value, normalized_value, state
		 FROM readings
		 ORDER BY seq_id ASC
		 LIMIT ?;`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch: %w", err)
	}
	defer rows.Close()

	var batch []processing.Reading
	for rows.Next() {
		var r processing.Reading
		if err := rows.Scan(&r.SeqID, &r.SensorID, &r.TS, &r.RawValue, &r.NormalizedValue, &r.State); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		batch = append(batch, r)
	}
	return batch, rows.Err()
}

// AckUpTo deletes all readings with seq_id <= seq. Idempotent.
func (o *Outbox) AckUpTo(seq uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := o.db.Exec("DELETE FROM readings WHERE seq_id <= ?;", seq); err != nil {
		return fmt.Errorf("failed to ack readings: %w", err)
	}
	return nil
}

func (o *Outbox) PendingCount() (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var count int
	if err := o.db.QueryRow("SELECT COUNT(*) FROM readings;").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count readings: %w", err)
	}
	return count, nil
}

// MaxSeq returns the highest pending sequence id; ok is false when the queue
// is empty.
func (o *Outbox) MaxSeq() (seq uint64, ok bool, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var max sql.NullInt64
	if err := o.db.QueryRow("SELECT MAX(seq_id) FROM readings;").Scan(&max); err != nil {
		return 0, false, fmt.Errorf("failed to query max seq_id: %w", err)
	}
	if !max.Valid {
		return 0, false, nil
	}
	return uint64(max.Int64), true, nil
}

// Trim applies retention: rows older than MaxAge go first, then the oldest
// rows beyond MaxRows. Trimming may drop never-acked rows; under a
// catastrophic backlog fresh data wins over old.
func (o *Outbox) Trim() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.trimLocked()
}

func (o *Outbox) trimLocked() error {
	if o.maxRows == 0 && o.maxAge == 0 {
		return nil
	}

	if o.maxAge > 0 {
		cutoff := time.Now().UTC().Add(-o.maxAge).Format(time.RFC3339Nano)
		if _, err := o.db.Exec("DELETE FROM readings WHERE ts < ?;", cutoff); err != nil {
			return fmt.Errorf("failed to trim by age: %w", err)
		}
	}

	if o.maxRows > 0 {
		var count int
		if err := o.db.QueryRow("SELECT COUNT(*) FROM readings;").Scan(&count); err != nil {
			return fmt.Errorf("failed to count readings for trim: %w", err)
		}
		if count > o.maxRows {
			excess := count - o.maxRows
			_, err := o.db.Exec(
				`DELETE FROM readings
				 WHERE seq_id IN (
					SELECT seq_id FROM readings
					ORDER BY seq_id ASC
					LIMIT ?
				 );`,
				excess,
			)
			if err != nil {
				return fmt.Errorf("failed to trim by rows: %w", err)
			}
		}
	}
	return nil
}
