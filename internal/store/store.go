// Package store provides storage backends for PillMinder.
//
// The ledger keeps medications in memory and calls into a Store after every
// transition; a store is therefore a durability collaborator, never the
// source of truth while the service is running. SQLite and PostgreSQL
// implementations are provided alongside an in-memory store for tests.
package store

import (
	"sort"
	"strings"
	"sync"

	"github.com/PillboxLabs/PillMinder/internal/models"
)

// Store persists medications and health records across restarts.
type Store interface {
	// SaveMedication inserts or updates a medication, preserving its
	// original insertion position on update.
	SaveMedication(m models.Medication) error

	// GetMedications returns all medications in insertion order.
	GetMedications() ([]models.Medication, error)

	// DeleteMedication removes a medication by id. Deleting an absent id is
	// not an error; the ledger performs existence checks.
	DeleteMedication(id string) error

	// AddHealthRecord appends a health record.
	AddHealthRecord(r models.HealthRecord) error

	// GetHealthRecords returns all health records, newest first.
	GetHealthRecords() ([]models.HealthRecord, error)

	// Close releases any underlying resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string // database connection string (file path for SQLite)
}

// Option defines a configuration option for a store.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType reports "postgres" for PostgreSQL connection strings and
// "sqlite" for anything else (assumed to be a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	// Key=value connection strings (host=..., dbname=...) are lib/pq style.
	for _, key := range []string{"host=", "dbname=", "user=", "sslmode="} {
		if strings.Contains(dsn, key) {
			return "postgres"
		}
	}
	return "sqlite"
}

// InMemoryStore keeps everything in process memory. Used in tests and when
// no DSN is configured.
type InMemoryStore struct {
	mu      sync.RWMutex
	meds    []models.Medication
	records []models.HealthRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// SaveMedication inserts or updates a medication in place.
func (s *InMemoryStore) SaveMedication(m models.Medication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.meds {
		if s.meds[i].ID == m.ID {
			s.meds[i] = m
			return nil
		}
	}
	s.meds = append(s.meds, m)
	return nil
}

// GetMedications returns all medications in insertion order.
func (s *InMemoryStore) GetMedications() ([]models.Medication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Medication, len(s.meds))
	copy(out, s.meds)
	return out, nil
}

// DeleteMedication removes a medication by id.
func (s *InMemoryStore) DeleteMedication(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.meds {
		if s.meds[i].ID == id {
			s.meds = append(s.meds[:i], s.meds[i+1:]...)
			return nil
		}
	}
	return nil
}

// AddHealthRecord appends a health record.
func (s *InMemoryStore) AddHealthRecord(r models.HealthRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

// GetHealthRecords returns all health records, newest first.
func (s *InMemoryStore) GetHealthRecords() ([]models.HealthRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.HealthRecord, len(s.records))
	copy(out, s.records)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp > out[j].Timestamp
	})
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
