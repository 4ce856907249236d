// Package store provides storage backends for PillMinder.
//
// This file implements an SQLite-backed store for medications and health records.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/PillboxLabs/PillMinder/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// SaveMedication inserts or updates a medication. The insertion sequence is
// preserved on update so GetMedications keeps returning insertion order.
func (s *SQLiteStore) SaveMedication(m models.Medication) error {
	_, err := s.db.Exec(`INSERT INTO medications (id, name, dosage, time_label, scheduled_time, status, instructions, stock, taken_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			dosage = excluded.dosage,
			time_label = excluded.time_label,
			scheduled_time = excluded.scheduled_time,
			status = excluded.status,
			instructions = excluded.instructions,
			stock = excluded.stock,
			taken_time = excluded.taken_time`,
		m.ID, m.Name, m.Dosage, m.TimeLabel, m.ScheduledTime, string(m.Status), m.Instructions, m.Stock, nilIfEmpty(m.TakenTime))
	if err != nil {
		return fmt.Errorf("failed to save medication: %w", err)
	}
	return nil
}

// GetMedications returns all medications in insertion order.
func (s *SQLiteStore) GetMedications() ([]models.Medication, error) {
	rows, err := s.db.Query(`SELECT id, name, dosage, time_label, scheduled_time, status, instructions, stock, taken_time
		FROM medications ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query medications: %w", err)
	}
	defer rows.Close()

	var meds []models.Medication
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, err
		}
		meds = append(meds, m)
	}
	return meds, rows.Err()
}

// DeleteMedication removes a medication by id.
func (s *SQLiteStore) DeleteMedication(id string) error {
	if _, err := s.db.Exec(`DELETE FROM medications WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete medication: %w", err)
	}
	return nil
}

// AddHealthRecord appends a health record.
func (s *SQLiteStore) AddHealthRecord(r models.HealthRecord) error {
	_, err := s.db.Exec(`INSERT INTO health_records (id, type, value, unit, timestamp, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.Type), r.Value, r.Unit, r.Timestamp, r.Status)
	if err != nil {
		return fmt.Errorf("failed to add health record: %w", err)
	}
	return nil
}

// GetHealthRecords returns all health records, newest first.
func (s *SQLiteStore) GetHealthRecords() ([]models.HealthRecord, error) {
	rows, err := s.db.Query(`SELECT id, type, value, unit, timestamp, status
		FROM health_records ORDER BY timestamp DESC, seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query health records: %w", err)
	}
	defer rows.Close()

	var records []models.HealthRecord
	for rows.Next() {
		r, err := scanHealthRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
