package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/hems/pkg/types"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS devices (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	device_type TEXT NOT NULL,
	power_rating REAL NOT NULL,
	is_on INTEGER NOT NULL DEFAULT 0,
	priority INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS energy_data (
	ts INTEGER PRIMARY KEY,
	version INTEGER NOT NULL,
	record TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS config (
	name TEXT PRIMARY KEY,
	version INTEGER NOT NULL,
	json TEXT NOT NULL
);`

// SQLiteProvider implements Database on a local SQLite file.
type SQLiteProvider struct {
	db   *sql.DB
	path string
}

func configuredSQLite() *SQLiteProvider {
	path := lflag.String("sqlite-path", "hems.db", "Path of the SQLite database file")

	s := &SQLiteProvider{}
	lflag.Do(func() {
		s.path = *path
	})
	return s
}

// NewSQLiteProvider opens (creating if needed) the database at path.
func NewSQLiteProvider(ctx context.Context, path string) (*SQLiteProvider, error) {
	s := &SQLiteProvider{path: path}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks if the provider is properly configured.
func (s *SQLiteProvider) Validate() error {
	if s.path == "" {
		return fmt.Errorf("sqlite-path is required")
	}
	return nil
}

// Init opens the database and ensures the schema exists.
func (s *SQLiteProvider) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database %s: %w", s.path, err)
	}
	// a single connection serializes writers and keeps :memory: databases
	// shared
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return fmt.Errorf("failed to create sqlite schema: %w", err)
	}
	s.db = db
	return nil
}

// Close closes the underlying database.
func (s *SQLiteProvider) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetSettings returns the stored settings and their version. Missing
// settings return the zero value with version 0.
func (s *SQLiteProvider) GetSettings(ctx context.Context) (types.Settings, int, error) {
	var version int
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT version, json FROM config WHERE name = 'settings'`).Scan(&version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Settings{}, 0, nil
	}
	if err != nil {
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings: %w", err)
	}
	var settings types.Settings
	if err := json.Unmarshal([]byte(data), &settings); err != nil {
		return types.Settings{}, 0, fmt.Errorf("failed to unmarshal settings json: %w", err)
	}
	return settings, version, nil
}

// SetSettings stores the settings as JSON.
func (s *SQLiteProvider) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	b, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO config (name, version, json) VALUES ('settings', ?, ?)
		ON CONFLICT(name) DO UPDATE SET version = excluded.version, json = excluded.json`,
		version, string(b))
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// ListDevices returns every device ordered by ID.
func (s *SQLiteProvider) ListDevices(ctx context.Context) ([]types.Device, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, device_type, power_rating, is_on, priority FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var devices []types.Device
	for rows.Next() {
		var d types.Device
		if err := rows.Scan(&d.ID, &d.Name, &d.DeviceType, &d.PowerRatingKW, &d.IsOn, &d.Priority); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating devices: %w", err)
	}
	return devices, nil
}

func (s *SQLiteProvider) getDevice(ctx context.Context, deviceID int64) (types.Device, error) {
	var d types.Device
	err := s.db.QueryRowContext(ctx, `SELECT id, name, device_type, power_rating, is_on, priority FROM devices WHERE id = ?`, deviceID).
		Scan(&d.ID, &d.Name, &d.DeviceType, &d.PowerRatingKW, &d.IsOn, &d.Priority)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Device{}, fmt.Errorf("%w: %d", ErrDeviceNotFound, deviceID)
	}
	if err != nil {
		return types.Device{}, fmt.Errorf("failed to get device %d: %w", deviceID, err)
	}
	return d, nil
}

// SetDeviceOn updates the on/off state of a device.
func (s *SQLiteProvider) SetDeviceOn(ctx context.Context, deviceID int64, on bool) (types.Device, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE devices SET is_on = ? WHERE id = ?`, on, deviceID)
	if err != nil {
		return types.Device{}, fmt.Errorf("failed to update device %d: %w", deviceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return types.Device{}, fmt.Errorf("failed to update device %d: %w", deviceID, err)
	}
	if n == 0 {
		return types.Device{}, fmt.Errorf("%w: %d", ErrDeviceNotFound, deviceID)
	}
	return s.getDevice(ctx, deviceID)
}

// UpsertDevice inserts or replaces a device.
func (s *SQLiteProvider) UpsertDevice(ctx context.Context, d types.Device) (types.Device, error) {
	if d.ID == 0 {
		res, err := s.db.ExecContext(ctx, `INSERT INTO devices (name, device_type, power_rating, is_on, priority) VALUES (?, ?, ?, ?, ?)`,
			d.Name, d.DeviceType, d.PowerRatingKW, d.IsOn, d.Priority)
		if err != nil {
			return types.Device{}, fmt.Errorf("failed to insert device: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return types.Device{}, fmt.Errorf("failed to read device id: %w", err)
		}
		d.ID = id
		return d, nil
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO devices (id, name, device_type, power_rating, is_on, priority) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			device_type = excluded.device_type,
			power_rating = excluded.power_rating,
			is_on = excluded.is_on,
			priority = excluded.priority`,
		d.ID, d.Name, d.DeviceType, d.PowerRatingKW, d.IsOn, d.Priority)
	if err != nil {
		return types.Device{}, fmt.Errorf("failed to upsert device %d: %w", d.ID, err)
	}
	return d, nil
}

// AppendEnergyRecord stores a record keyed by its timestamp. A record with
// the same timestamp is replaced.
func (s *SQLiteProvider) AppendEnergyRecord(ctx context.Context, rec types.EnergyRecord, version int) error {
	if rec.Timestamp.IsZero() {
		return fmt.Errorf("energy record missing timestamp")
	}
	rec.ID = types.EnergyRecordID(rec.Timestamp)
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal energy record: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO energy_data (ts, version, record) VALUES (?, ?, ?)
		ON CONFLICT(ts) DO UPDATE SET version = excluded.version, record = excluded.record`,
		rec.Timestamp.UnixNano(), version, string(b))
	if err != nil {
		return fmt.Errorf("failed to append energy record: %w", err)
	}
	return nil
}

func scanEnergyRecords(rows *sql.Rows) ([]types.EnergyRecord, error) {
	var records []types.EnergyRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan energy record: %w", err)
		}
		var r types.EnergyRecord
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal energy record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating energy records: %w", err)
	}
	return records, nil
}

// GetLatestEnergyRecord returns the most recent record or nil.
func (s *SQLiteProvider) GetLatestEnergyRecord(ctx context.Context) (*types.EnergyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM energy_data ORDER BY ts DESC LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest energy record: %w", err)
	}
	defer func() { _ = rows.Close() }()
	records, err := scanEnergyRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// GetEnergyHistory returns the records in [start, end).
func (s *SQLiteProvider) GetEnergyHistory(ctx context.Context, start, end time.Time) ([]types.EnergyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM energy_data WHERE ts >= ? AND ts < ? ORDER BY ts`,
		start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to get energy history: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEnergyRecords(rows)
}
