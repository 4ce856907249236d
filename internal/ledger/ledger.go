// Package ledger owns the authoritative set of medication records.
//
// Every mutation (take, add, update, delete, daily reset) goes through the
// Ledger and is written to the configured store before the in-memory state
// is committed, so callers never observe a half-applied transition and the
// persisted state always matches what the ledger holds. The Ledger is not
// goroutine-safe on its own: the reminder engine is its single owner and
// serializes all access behind its mutex.
package ledger

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/PillboxLabs/PillMinder/internal/announce"
	"github.com/PillboxLabs/PillMinder/internal/models"
	"github.com/PillboxLabs/PillMinder/internal/store"
	"github.com/google/uuid"
)

// Announcement phrases spoken on ledger transitions.
const (
	takenConfirmation = "真棒！您按时吃药了。"
	addedTemplate     = "已添加%s的服药提醒"
)

// Ledger is the single owner of all medication records.
type Ledger struct {
	st   store.Store
	ann  announce.Announcer
	meds []models.Medication // insertion order
}

// New creates a ledger backed by the given store and announcer, loading any
// previously persisted medications.
func New(st store.Store, ann announce.Announcer) (*Ledger, error) {
	meds, err := st.GetMedications()
	if err != nil {
		return nil, fmt.Errorf("failed to load medications: %w", err)
	}
	slog.Debug("Ledger initialized", "medications", len(meds))
	return &Ledger{st: st, ann: ann, meds: meds}, nil
}

// List returns a copy of all medications in insertion order.
func (l *Ledger) List() []models.Medication {
	out := make([]models.Medication, len(l.meds))
	copy(out, l.meds)
	return out
}

// Get returns the medication with the given id.
func (l *Ledger) Get(id string) (models.Medication, error) {
	for i := range l.meds {
		if l.meds[i].ID == id {
			return l.meds[i], nil
		}
	}
	return models.Medication{}, models.ErrMedicationNotFound
}

// ListPending returns pending medications in insertion order.
func (l *Ledger) ListPending() []models.Medication {
	var out []models.Medication
	for i := range l.meds {
		if l.meds[i].Status == models.MedicationPending {
			out = append(out, l.meds[i])
		}
	}
	return out
}

// ListHistory returns the adherence history projection: every medication
// whose status is not pending, newest first. Taken medications sort by their
// taken time; skipped ones carry no timestamp, so their scheduled time is
// anchored to the day of the given reference time.
func (l *Ledger) ListHistory(now time.Time) []models.Medication {
	var out []models.Medication
	for i := range l.meds {
		if l.meds[i].Status != models.MedicationPending {
			out = append(out, l.meds[i])
		}
	}
	day := now.Format(time.DateOnly)
	sort.SliceStable(out, func(i, j int) bool {
		return historyKey(out[i], day) > historyKey(out[j], day)
	})
	return out
}

func historyKey(m models.Medication, day string) string {
	if m.TakenTime != "" {
		return m.TakenTime
	}
	// A bare "15:04" would sort below every full timestamp regardless of
	// recency; prefix the day so the keys compare like for like.
	return day + " " + m.ScheduledTime
}

// Take marks a medication as taken at the given time, decrementing its stock
// by one (floored at zero). Taking an already-taken medication is rejected
// so a repeated confirmation cannot double-decrement the stock.
func (l *Ledger) Take(id string, now time.Time) (models.Medication, error) {
	idx := l.indexOf(id)
	if idx < 0 {
		return models.Medication{}, models.ErrMedicationNotFound
	}
	if l.meds[idx].Status == models.MedicationTaken {
		return models.Medication{}, models.ErrAlreadyTaken
	}

	m := l.meds[idx]
	m.Status = models.MedicationTaken
	if m.Stock > 0 {
		m.Stock--
	}
	m.TakenTime = now.Format(models.TakenTimeLayout)

	if err := l.st.SaveMedication(m); err != nil {
		return models.Medication{}, fmt.Errorf("failed to persist take: %w", err)
	}
	l.meds[idx] = m
	slog.Info("Ledger.Take: medication taken", "id", m.ID, "name", m.Name, "stock", m.Stock)
	l.ann.Speak(takenConfirmation)
	return m, nil
}

// Add creates a new medication from the draft, filling defaults and
// assigning a fresh id.
func (l *Ledger) Add(draft models.MedicationDraft) (models.Medication, error) {
	if err := draft.Validate(); err != nil {
		return models.Medication{}, err
	}

	m := models.Medication{
		ID:            uuid.NewString(),
		Name:          draft.Name,
		Dosage:        draft.Dosage,
		TimeLabel:     draft.TimeLabel,
		ScheduledTime: draft.ScheduledTime,
		Status:        models.MedicationPending,
		Instructions:  draft.Instructions,
		Stock:         models.DefaultStock,
	}
	if m.TimeLabel == "" {
		m.TimeLabel = models.DefaultTimeLabel
	}
	if m.Instructions == "" {
		m.Instructions = models.DefaultInstructions
	}
	if draft.Stock != nil {
		m.Stock = *draft.Stock
	}

	if err := l.st.SaveMedication(m); err != nil {
		return models.Medication{}, fmt.Errorf("failed to persist medication: %w", err)
	}
	l.meds = append(l.meds, m)
	slog.Info("Ledger.Add: medication added", "id", m.ID, "name", m.Name, "scheduled_time", m.ScheduledTime)
	l.ann.Speak(fmt.Sprintf(addedTemplate, m.Name))
	return m, nil
}

// Update applies a partial field replace to the medication with the given id.
func (l *Ledger) Update(id string, patch models.MedicationPatch) (models.Medication, error) {
	if err := patch.Validate(); err != nil {
		return models.Medication{}, err
	}
	idx := l.indexOf(id)
	if idx < 0 {
		return models.Medication{}, models.ErrMedicationNotFound
	}

	m := l.meds[idx]
	if patch.Name != nil {
		m.Name = *patch.Name
	}
	if patch.Dosage != nil {
		m.Dosage = *patch.Dosage
	}
	if patch.TimeLabel != nil {
		m.TimeLabel = *patch.TimeLabel
	}
	if patch.ScheduledTime != nil {
		m.ScheduledTime = *patch.ScheduledTime
	}
	if patch.Instructions != nil {
		m.Instructions = *patch.Instructions
	}
	if patch.Stock != nil {
		m.Stock = *patch.Stock
	}
	if patch.Status != nil {
		m.Status = *patch.Status
		if m.Status != models.MedicationTaken {
			m.TakenTime = ""
		}
	}

	if err := l.st.SaveMedication(m); err != nil {
		return models.Medication{}, fmt.Errorf("failed to persist update: %w", err)
	}
	l.meds[idx] = m
	slog.Debug("Ledger.Update: medication updated", "id", m.ID)
	return m, nil
}

// Delete removes the medication with the given id.
func (l *Ledger) Delete(id string) error {
	idx := l.indexOf(id)
	if idx < 0 {
		return models.ErrMedicationNotFound
	}
	if err := l.st.DeleteMedication(id); err != nil {
		return fmt.Errorf("failed to persist delete: %w", err)
	}
	l.meds = append(l.meds[:idx], l.meds[idx+1:]...)
	slog.Info("Ledger.Delete: medication removed", "id", id)
	return nil
}

// DailyReset returns every taken medication to pending and clears its taken
// time, preparing the ledger for the next day's cycle. It is idempotent.
func (l *Ledger) DailyReset() (int, error) {
	reset := 0
	for i := range l.meds {
		if l.meds[i].Status != models.MedicationTaken {
			continue
		}
		m := l.meds[i]
		m.Status = models.MedicationPending
		m.TakenTime = ""
		if err := l.st.SaveMedication(m); err != nil {
			return reset, fmt.Errorf("failed to persist daily reset: %w", err)
		}
		l.meds[i] = m
		reset++
	}
	slog.Info("Ledger.DailyReset: completed", "reset", reset)
	return reset, nil
}

func (l *Ledger) indexOf(id string) int {
	for i := range l.meds {
		if l.meds[i].ID == id {
			return i
		}
	}
	return -1
}
