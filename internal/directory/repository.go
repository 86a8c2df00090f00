package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository defines directory persistence operations.
type Repository interface {
	Upsert(ctx context.Context, e Entry) error
	RecordInfo(ctx context.Context, e Entry) error
	List(ctx context.Context) ([]Entry, error)
	Get(ctx context.Context, name string) (*Entry, error)
	Delete(ctx context.Context, name string) error
}

// SQLiteRepository implements Repository using the device_directory table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new SQLite-backed directory.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Upsert inserts or replaces the entry for e.Name and stamps LastUpdate.
// Returns ErrDefaultName for the factory name.
func (r *SQLiteRepository) Upsert(ctx context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	const query = `INSERT INTO device_directory (name, ip, wifi, battery, motor, firmware, last_update)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			ip = excluded.ip,
			wifi = excluded.wifi,
			battery = excluded.battery,
			motor = excluded.motor,
			firmware = excluded.firmware,
			last_update = excluded.last_update`
	_, err := r.db.ExecContext(ctx, query,
		e.Name, e.IP, e.WiFi, e.Battery, e.Motor, e.Firmware,
		r.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upserting directory entry %s: %w", e.Name, err)
	}
	return nil
}

// RecordInfo stores what a device reported in its info message. It
// inserts like Upsert but leaves an existing entry's wifi untouched, since
// only registration reports it.
func (r *SQLiteRepository) RecordInfo(ctx context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	const query = `INSERT INTO device_directory (name, ip, wifi, battery, motor, firmware, last_update)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			ip = excluded.ip,
			battery = excluded.battery,
			motor = excluded.motor,
			firmware = excluded.firmware,
			last_update = excluded.last_update`
	_, err := r.db.ExecContext(ctx, query,
		e.Name, e.IP, e.WiFi, e.Battery, e.Motor, e.Firmware,
		r.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("recording info for %s: %w", e.Name, err)
	}
	return nil
}

// List returns all entries ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Entry, error) {
	const query = `SELECT name, ip, wifi, battery, motor, firmware, last_update
		FROM device_directory ORDER BY name`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying directory: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating directory rows: %w", err)
	}
	return entries, nil
}

// Get returns the entry for name, or ErrNotFound.
func (r *SQLiteRepository) Get(ctx context.Context, name string) (*Entry, error) {
	const query = `SELECT name, ip, wifi, battery, motor, firmware, last_update
		FROM device_directory WHERE name = ?`
	e, err := scanEntry(r.db.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// Delete removes the entry for name, or returns ErrNotFound.
func (r *SQLiteRepository) Delete(ctx context.Context, name string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM device_directory WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting directory entry %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting directory entry %s: %w", name, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var e Entry
	var lastUpdate string
	if err := s.Scan(&e.Name, &e.IP, &e.WiFi, &e.Battery, &e.Motor, &e.Firmware, &lastUpdate); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning directory entry: %w", err)
	}
	e.LastUpdate, _ = time.Parse(time.RFC3339, lastUpdate) //nolint:errcheck // written by Upsert
	return &e, nil
}
