package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "inventory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func fptr(v float64) *float64 { return &v }

func sptr(v string) *string { return &v }

func record(deviceID string, seq uint64, sensorID, ts, state string, value float64) ReadingRecord {
	return ReadingRecord{
		DeviceID:        deviceID,
		SeqID:           seq,
		SensorID:        sensorID,
		TS:              ts,
		RawValue:        fptr(value),
		NormalizedValue: fptr(value),
		State:           state,
		CreatedAt:       "2026-01-17T00:00:00Z",
	}
}

func TestInsertReadingIsIdempotent(t *testing.T) {
	store := openTestStore(t)

	err := store.WithTx(func(tx *sql.Tx) error {
		require.NoError(t, UpsertDevice(tx, "dev-1", sptr("0.1.0"), "2026-01-17T00:00:00Z"))
		require.NoError(t, EnsureSensor(tx, "bin-1", "dev-1"))

		inserted, err := InsertReading(tx, record("dev-1", 1, "bin-1", "2026-01-17T00:00:00Z", "low", 5))
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = InsertReading(tx, record("dev-1", 1, "bin-1", "2026-01-17T00:00:00Z", "low", 5))
		require.NoError(t, err)
		assert.False(t, inserted)

		// Same seq from a different device is a distinct row.
		require.NoError(t, UpsertDevice(tx, "dev-2", nil, "2026-01-17T00:00:00Z"))
		require.NoError(t, EnsureSensor(tx, "bin-2", "dev-2"))
		inserted, err = InsertReading(tx, record("dev-2", 1, "bin-2", "2026-01-17T00:00:00Z", "low", 5))
		require.NoError(t, err)
		assert.True(t, inserted)
		return nil
	})
	require.NoError(t, err)
}

func TestUpsertDeviceTouchesLastSeen(t *testing.T) {
	store := openTestStore(t)

	err := store.WithTx(func(tx *sql.Tx) error {
		require.NoError(t, UpsertDevice(tx, "dev-1", sptr("0.1.0"), "2026-01-17T00:00:00Z"))
		require.NoError(t, UpsertDevice(tx, "dev-1", sptr("0.2.0"), "2026-01-17T00:01:00Z"))
		return nil
	})
	require.NoError(t, err)

	devices, err := store.ListDevices()
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "0.2.0", *devices[0].Firmware)
	assert.Equal(t, "2026-01-17T00:01:00Z", *devices[0].LastSeen)
}

func TestSensorStateRoundTrip(t *testing.T) {
	store := openTestStore(t)

	err := store.WithTx(func(tx *sql.Tx) error {
		require.NoError(t, UpsertDevice(tx, "dev-1", nil, "2026-01-17T00:00:00Z"))
		require.NoError(t, EnsureSensor(tx, "bin-1", "dev-1"))

		state, update, err := SensorState(tx, "bin-1")
		require.NoError(t, err)
		assert.Nil(t, state)
		assert.Nil(t, update)

		require.NoError(t, UpdateSensorState(tx, "bin-1", "low", fptr(5), "2026-01-17T00:00:01Z"))

		state, update, err = SensorState(tx, "bin-1")
		require.NoError(t, err)
		require.NotNil(t, state)
		assert.Equal(t, "low", *state)
		assert.Equal(t, "2026-01-17T00:00:01Z", *update)
		return nil
	})
	require.NoError(t, err)
}

func TestAlertLifecycle(t *testing.T) {
	store := openTestStore(t)

	var alertID int64
	err := store.WithTx(func(tx *sql.Tx) error {
		require.NoError(t, UpsertDevice(tx, "dev-1", nil, "2026-01-17T00:00:00Z"))
		require.NoError(t, EnsureSensor(tx, "bin-1", "dev-1"))
		var err error
		alertID, err = CreateAlert(tx, "bin-1", nil, "low", "Sensor bin-1 is low", "2026-01-17T00:00:00Z")
		return err
	})
	require.NoError(t, err)

	active, err := store.ListAlerts("active")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, alertID, active[0].ID)

	require.NoError(t, store.WithTx(func(tx *sql.Tx) error {
		return ResolveActiveAlerts(tx, "bin-1", "2026-01-17T00:01:00Z")
	}))

	active, err = store.ListAlerts("active")
	require.NoError(t, err)
	assert.Empty(t, active)

	resolved, err := store.ListAlerts("resolved")
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, "2026-01-17T00:01:00Z", *resolved[0].ResolvedAt)

	// Resolved alerts cannot be acknowledged.
	err = store.AcknowledgeAlert(alertID, "2026-01-17T00:02:00Z")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAcknowledgeActiveAlert(t *testing.T) {
	store := openTestStore(t)

	var alertID int64
	require.NoError(t, store.WithTx(func(tx *sql.Tx) error {
		require.NoError(t, UpsertDevice(tx, "dev-1", nil, "2026-01-17T00:00:00Z"))
		require.NoError(t, EnsureSensor(tx, "bin-1", "dev-1"))
		var err error
		alertID, err = CreateAlert(tx, "bin-1", nil, "low", "msg", "2026-01-17T00:00:00Z")
		return err
	}))

	require.NoError(t, store.AcknowledgeAlert(alertID, "2026-01-17T00:01:00Z"))

	acked, err := store.ListAlerts("acknowledged")
	require.NoError(t, err)
	require.Len(t, acked, 1)

	// Idempotent acks fail: the alert is no longer active.
	assert.ErrorIs(t, store.AcknowledgeAlert(alertID, "2026-01-17T00:02:00Z"), ErrNotFound)
}

func TestItemCRUDAndQueries(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.WithTx(func(tx *sql.Tx) error {
		require.NoError(t, UpsertDevice(tx, "dev-1", nil, "2026-01-17T00:00:00Z"))
		require.NoError(t, EnsureSensor(tx, "bin-1", "dev-1"))
		require.NoError(t, UpdateSensorState(tx, "bin-1", "low", fptr(5), "2026-01-17T00:00:01Z"))
		return nil
	}))

	now := "2026-01-17T00:00:02Z"
	item := Item{
		ID:         "item-1",
		Name:       "Flour",
		SensorID:   sptr("bin-1"),
		Thresholds: map[string]float64{"low": 10, "ok": 20},
		Unit:       sptr("kg"),
		CreatedAt:  &now,
		UpdatedAt:  &now,
	}
	require.NoError(t, store.CreateItem(item))

	items, err := store.ListItems()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Flour", items[0].Name)
	assert.Equal(t, "low", items[0].Status)
	assert.Equal(t, 10.0, items[0].Thresholds["low"])

	got, err := store.GetItem("item-1")
	require.NoError(t, err)
	assert.Equal(t, "kg", *got.Unit)

	_, err = store.GetItem("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.UpdateItem("item-1", ItemPatch{Name: sptr("Bread Flour")}, "2026-01-17T00:00:03Z"))
	got, err = store.GetItem("item-1")
	require.NoError(t, err)
	assert.Equal(t, "Bread Flour", got.Name)
	assert.Equal(t, "kg", *got.Unit, "unset fields untouched")

	assert.ErrorIs(t, store.UpdateItem("nope", ItemPatch{}, now), ErrNotFound)

	require.NoError(t, store.UpdateItemThresholds("item-1", map[string]float64{"low": 1, "ok": 2}, now))
	got, err = store.GetItem("item-1")
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.Thresholds["ok"])
}

func TestItemWithoutSensorShowsUnknownStatus(t *testing.T) {
	store := openTestStore(t)

	now := "2026-01-17T00:00:00Z"
	require.NoError(t, store.CreateItem(Item{ID: "item-1", Name: "Unbound", CreatedAt: &now, UpdatedAt: &now}))

	items, err := store.ListItems()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "unknown", items[0].Status)
}

func TestHistoryAndLatestReading(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.WithTx(func(tx *sql.Tx) error {
		require.NoError(t, UpsertDevice(tx, "dev-1", nil, "2026-01-17T00:00:00Z"))
		require.NoError(t, EnsureSensor(tx, "bin-1", "dev-1"))
		for i, ts := range []string{
			"2026-01-17T00:00:01Z",
			"2026-01-17T00:00:02Z",
			"2026-01-17T00:00:03Z",
		} {
			_, err := InsertReading(tx, record("dev-1", uint64(i+1), "bin-1", ts, "ok", float64(i)))
			require.NoError(t, err)
		}
		return nil
	}))

	latest, err := store.LatestReading("bin-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "2026-01-17T00:00:03Z", latest.TS)

	history, err := store.History("bin-1", "2026-01-17T00:00:02Z", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2026-01-17T00:00:02Z", history[0].TS)

	capped, err := store.History("bin-1", "2026-01-17T00:00:00Z", 1)
	require.NoError(t, err)
	assert.Len(t, capped, 1)

	none, err := store.LatestReading("ghost")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestEventLogRecordReplayPrune(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.WithTx(func(tx *sql.Tx) error {
		for i := 0; i < 5; i++ {
			_, err := RecordEvent(tx, "item_status_update", `{"type":"item_status_update"}`, "2026-01-17T00:00:00Z")
			require.NoError(t, err)
		}
		return nil
	}))

	events, err := store.EventsSince(2, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(3), events[0].ID)

	require.NoError(t, store.WithTx(func(tx *sql.Tx) error {
		return PruneEvents(tx, 0, 2, time.Now())
	}))
	events, err = store.EventsSince(0, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(4), events[0].ID)

	require.NoError(t, store.WithTx(func(tx *sql.Tx) error {
		return PruneEvents(tx, 1, 0, time.Now().Add(48*time.Hour))
	}))
	events, err = store.EventsSince(0, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	store := openTestStore(t)

	err := store.WithTx(func(tx *sql.Tx) error {
		require.NoError(t, UpsertDevice(tx, "dev-1", nil, "2026-01-17T00:00:00Z"))
		return assert.AnError
	})
	require.Error(t, err)

	devices, err := store.ListDevices()
	require.NoError(t, err)
	assert.Empty(t, devices)
}
