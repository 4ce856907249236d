// Package store provides storage backends for PillMinder.
//
// This file implements a PostgreSQL-backed store for medications and health records.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/PillboxLabs/PillMinder/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// SaveMedication inserts or updates a medication, preserving insertion order.
func (s *PostgresStore) SaveMedication(m models.Medication) error {
	_, err := s.db.Exec(`INSERT INTO medications (id, name, dosage, time_label, scheduled_time, status, instructions, stock, taken_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			dosage = EXCLUDED.dosage,
			time_label = EXCLUDED.time_label,
			scheduled_time = EXCLUDED.scheduled_time,
			status = EXCLUDED.status,
			instructions = EXCLUDED.instructions,
			stock = EXCLUDED.stock,
			taken_time = EXCLUDED.taken_time`,
		m.ID, m.Name, m.Dosage, m.TimeLabel, m.ScheduledTime, string(m.Status), m.Instructions, m.Stock, nilIfEmpty(m.TakenTime))
	if err != nil {
		return fmt.Errorf("failed to save medication: %w", err)
	}
	return nil
}

// GetMedications returns all medications in insertion order.
func (s *PostgresStore) GetMedications() ([]models.Medication, error) {
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
func (s *PostgresStore) DeleteMedication(id string) error {
	if _, err := s.db.Exec(`DELETE FROM medications WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete medication: %w", err)
	}
	return nil
}

// AddHealthRecord appends a health record.
func (s *PostgresStore) AddHealthRecord(r models.HealthRecord) error {
	_, err := s.db.Exec(`INSERT INTO health_records (id, type, value, unit, timestamp, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, string(r.Type), r.Value, r.Unit, r.Timestamp, r.Status)
	if err != nil {
		return fmt.Errorf("failed to add health record: %w", err)
	}
	return nil
}

// GetHealthRecords returns all health records, newest first.
func (s *PostgresStore) GetHealthRecords() ([]models.HealthRecord, error) {
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
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
