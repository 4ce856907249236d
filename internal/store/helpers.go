package store

import (
	"database/sql"
	"fmt"

	"github.com/PillboxLabs/PillMinder/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanMedication scans a Medication from sql.Rows.
func scanMedication(rows *sql.Rows) (models.Medication, error) {
	var m models.Medication
	var status string
	var takenTime sql.NullString
	err := rows.Scan(&m.ID, &m.Name, &m.Dosage, &m.TimeLabel, &m.ScheduledTime, &status, &m.Instructions, &m.Stock, &takenTime)
	if err != nil {
		return m, fmt.Errorf("scan medication failed: %w", err)
	}
	m.Status = models.MedicationStatus(status)
	m.TakenTime = takenTime.String
	return m, nil
}

// scanHealthRecord scans a HealthRecord from sql.Rows.
func scanHealthRecord(rows *sql.Rows) (models.HealthRecord, error) {
	var r models.HealthRecord
	var typ string
	err := rows.Scan(&r.ID, &typ, &r.Value, &r.Unit, &r.Timestamp, &r.Status)
	if err != nil {
		return r, fmt.Errorf("scan health record failed: %w", err)
	}
	r.Type = models.RecordType(typ)
	return r, nil
}
