// Package models defines the core data structures for PillMinder.
//
// It includes the medication record, the adherence/health record types, and
// the structured intent contract shared across modules.
package models

import (
	"errors"
	"time"
)

// MedicationStatus describes where a medication is in its daily cycle.
type MedicationStatus string

const (
	// MedicationPending means the dose has not been taken yet today.
	MedicationPending MedicationStatus = "pending"
	// MedicationTaken means the dose was confirmed taken.
	MedicationTaken MedicationStatus = "taken"
	// MedicationSkipped means the dose was explicitly skipped.
	MedicationSkipped MedicationStatus = "skipped"
)

// Time layouts used throughout the service.
const (
	// ScheduledTimeLayout is the minute-resolution time-of-day trigger key.
	ScheduledTimeLayout = "15:04"
	// TakenTimeLayout is the wall-clock timestamp recorded on a take.
	TakenTimeLayout = "2006-01-02 15:04"
)

// Defaults applied when adding a medication with missing optional fields.
const (
	// DefaultStock is the dose count assumed for a fresh package.
	DefaultStock = 30
	// DefaultTimeLabel is the coarse period tag applied when none is given.
	DefaultTimeLabel = "早上"
	// DefaultInstructions is the placeholder guidance applied when none is given.
	DefaultInstructions = "遵医嘱"
)

// Error variables for better error handling and testability
var (
	ErrMedicationNotFound   = errors.New("medication not found")
	ErrAlreadyTaken         = errors.New("medication already taken")
	ErrAlarmMismatch        = errors.New("medication is not the one currently alarming")
	ErrNoActiveAlarm        = errors.New("no alarm is currently active")
	ErrEmptyName            = errors.New("medication name cannot be empty")
	ErrEmptyDosage          = errors.New("medication dosage cannot be empty")
	ErrEmptyScheduledTime   = errors.New("scheduled time is required")
	ErrInvalidScheduledTime = errors.New("scheduled time must be in HH:MM format")
	ErrNegativeStock        = errors.New("stock cannot be negative")
	ErrEmptyRecordValue     = errors.New("health record value cannot be empty")
	ErrInvalidRecordType    = errors.New("invalid health record type")
)

// Medication is a recurring daily dose owned by the ledger.
type Medication struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Dosage        string           `json:"dosage"`
	TimeLabel     string           `json:"timeLabel"`
	ScheduledTime string           `json:"scheduledTime"` // HH:MM trigger key
	Status        MedicationStatus `json:"status"`
	Instructions  string           `json:"instructions,omitempty"`
	Stock         int              `json:"stock"`
	TakenTime     string           `json:"takenTime,omitempty"` // set only while status is taken
}

// MedicationDraft carries caller-supplied fields for adding a medication.
// The ledger assigns the id and fills defaults for the optional fields.
type MedicationDraft struct {
	Name          string `json:"name"`
	Dosage        string `json:"dosage"`
	TimeLabel     string `json:"timeLabel,omitempty"`
	ScheduledTime string `json:"scheduledTime"`
	Instructions  string `json:"instructions,omitempty"`
	Stock         *int   `json:"stock,omitempty"`
}

// Validate checks the draft's required fields and the trigger-key format.
func (d *MedicationDraft) Validate() error {
	if d.Name == "" {
		return ErrEmptyName
	}
	if d.Dosage == "" {
		return ErrEmptyDosage
	}
	if d.ScheduledTime == "" {
		return ErrEmptyScheduledTime
	}
	if _, err := time.Parse(ScheduledTimeLayout, d.ScheduledTime); err != nil {
		return ErrInvalidScheduledTime
	}
	if d.Stock != nil && *d.Stock < 0 {
		return ErrNegativeStock
	}
	return nil
}

// MedicationPatch carries a partial field replace for an update. Nil fields
// are left untouched.
type MedicationPatch struct {
	Name          *string           `json:"name,omitempty"`
	Dosage        *string           `json:"dosage,omitempty"`
	TimeLabel     *string           `json:"timeLabel,omitempty"`
	ScheduledTime *string           `json:"scheduledTime,omitempty"`
	Instructions  *string           `json:"instructions,omitempty"`
	Stock         *int              `json:"stock,omitempty"`
	Status        *MedicationStatus `json:"status,omitempty"`
}

// Validate rejects patch values that would corrupt the trigger key or stock.
func (p *MedicationPatch) Validate() error {
	if p.ScheduledTime != nil {
		if _, err := time.Parse(ScheduledTimeLayout, *p.ScheduledTime); err != nil {
			return ErrInvalidScheduledTime
		}
	}
	if p.Stock != nil && *p.Stock < 0 {
		return ErrNegativeStock
	}
	return nil
}

// RecordType classifies a health record entry.
type RecordType string

const (
	RecordBloodPressure RecordType = "bloodPressure"
	RecordBloodSugar    RecordType = "bloodSugar"
	RecordHeartRate     RecordType = "heartRate"
	RecordSymptom       RecordType = "symptom"
)

// IsValidRecordType checks if the given record type is supported.
func IsValidRecordType(rt RecordType) bool {
	switch rt {
	case RecordBloodPressure, RecordBloodSugar, RecordHeartRate, RecordSymptom:
		return true
	default:
		return false
	}
}

// HealthRecord is a free-standing health observation, most commonly a
// symptom note created after a FEELING_BAD intent is confirmed by the user.
type HealthRecord struct {
	ID        string     `json:"id"`
	Type      RecordType `json:"type"`
	Value     string     `json:"value"`
	Unit      string     `json:"unit,omitempty"`
	Timestamp string     `json:"timestamp"`
	Status    string     `json:"status,omitempty"` // normal | warning | danger | info
}

// Validate checks the record's type and value.
func (r *HealthRecord) Validate() error {
	if !IsValidRecordType(r.Type) {
		return ErrInvalidRecordType
	}
	if r.Value == "" {
		return ErrEmptyRecordValue
	}
	return nil
}

// IntentType identifies one of the closed set of intents the voice/chat
// collaborator may deliver.
type IntentType string

const (
	// IntentConfirmTaken means the user says they took their medicine.
	IntentConfirmTaken IntentType = "CONFIRM_TAKEN"
	// IntentFeelingBad means the user reports feeling unwell.
	IntentFeelingBad IntentType = "FEELING_BAD"
	// IntentQueryTime means the user asks for the current time.
	IntentQueryTime IntentType = "QUERY_TIME"
	// IntentUnknown is anything the analyzer could not classify.
	IntentUnknown IntentType = "UNKNOWN"
)

// Intent is the structured payload delivered by the voice/chat collaborator.
// The core never parses raw transcripts; it consumes only this contract.
type Intent struct {
	Intent  IntentType `json:"intent"`
	Entity  string     `json:"entity,omitempty"`  // medicine name, if named
	Symptom string     `json:"symptom,omitempty"` // symptom summary, if reported
}

// AlarmState is the lifecycle state of the alarm machine.
type AlarmState string

const (
	// AlarmInactive means no reminder is currently escalating.
	AlarmInactive AlarmState = "INACTIVE"
	// AlarmRinging means exactly one medication reminder is escalating.
	AlarmRinging AlarmState = "RINGING"
)

// AlarmStatus is a read-only snapshot of the alarm machine for callers.
type AlarmStatus struct {
	State        AlarmState `json:"state"`
	MedicationID string     `json:"medicationId,omitempty"`
	StartedAt    string     `json:"startedAt,omitempty"`
	Repeats      int        `json:"repeats"`
}
