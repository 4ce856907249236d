package ledger

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/PillboxLabs/PillMinder/internal/models"
	"github.com/PillboxLabs/PillMinder/internal/store"
)

type recordingAnnouncer struct {
	mu     sync.Mutex
	spoken []string
}

func (a *recordingAnnouncer) Speak(text string) {
	a.mu.Lock()
	a.spoken = append(a.spoken, text)
	a.mu.Unlock()
}

func (a *recordingAnnouncer) IsSpeaking() bool { return false }
func (a *recordingAnnouncer) CancelAll()       {}

func newTestLedger(t *testing.T) (*Ledger, *store.InMemoryStore, *recordingAnnouncer) {
	t.Helper()
	st := store.NewInMemoryStore()
	ann := &recordingAnnouncer{}
	l, err := New(st, ann)
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	return l, st, ann
}

func addMed(t *testing.T, l *Ledger, name, scheduledTime string, stock int) models.Medication {
	t.Helper()
	m, err := l.Add(models.MedicationDraft{
		Name:          name,
		Dosage:        "1片",
		ScheduledTime: scheduledTime,
		Stock:         &stock,
	})
	if err != nil {
		t.Fatalf("failed to add %s: %v", name, err)
	}
	return m
}

func TestAddAppliesDefaults(t *testing.T) {
	l, st, ann := newTestLedger(t)
	m, err := l.Add(models.MedicationDraft{Name: "阿司匹林", Dosage: "1片", ScheduledTime: "20:00"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.ID == "" {
		t.Error("expected a fresh id")
	}
	if m.Status != models.MedicationPending {
		t.Errorf("status = %s, want pending", m.Status)
	}
	if m.Stock != models.DefaultStock {
		t.Errorf("stock = %d, want %d", m.Stock, models.DefaultStock)
	}
	if m.TimeLabel != models.DefaultTimeLabel || m.Instructions != models.DefaultInstructions {
		t.Errorf("defaults not applied: %+v", m)
	}
	persisted, _ := st.GetMedications()
	if len(persisted) != 1 || persisted[0].ID != m.ID {
		t.Errorf("medication not persisted: %+v", persisted)
	}
	if len(ann.spoken) != 1 {
		t.Errorf("expected 1 announcement, got %d", len(ann.spoken))
	}
}

func TestAddRejectsInvalidDraft(t *testing.T) {
	l, _, _ := newTestLedger(t)
	_, err := l.Add(models.MedicationDraft{Dosage: "1片", ScheduledTime: "08:00"})
	if !errors.Is(err, models.ErrEmptyName) {
		t.Errorf("expected ErrEmptyName, got %v", err)
	}
	if len(l.List()) != 0 {
		t.Error("invalid add must not mutate the ledger")
	}
}

func TestTakeTransition(t *testing.T) {
	l, st, _ := newTestLedger(t)
	m := addMed(t, l, "阿司匹林", "20:00", 5)

	now := time.Date(2026, 8, 31, 20, 0, 0, 0, time.Local)
	taken, err := l.Take(m.ID, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if taken.Status != models.MedicationTaken {
		t.Errorf("status = %s, want taken", taken.Status)
	}
	if taken.Stock != 4 {
		t.Errorf("stock = %d, want 4", taken.Stock)
	}
	if taken.TakenTime != "2026-08-31 20:00" {
		t.Errorf("takenTime = %q, want %q", taken.TakenTime, "2026-08-31 20:00")
	}
	persisted, _ := st.GetMedications()
	if persisted[0].Status != models.MedicationTaken {
		t.Error("take not persisted")
	}
}

func TestTakeRejectsSecondTake(t *testing.T) {
	l, _, _ := newTestLedger(t)
	m := addMed(t, l, "阿司匹林", "20:00", 5)
	now := time.Now()
	if _, err := l.Take(m.ID, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := l.Take(m.ID, now); !errors.Is(err, models.ErrAlreadyTaken) {
		t.Errorf("expected ErrAlreadyTaken, got %v", err)
	}
	got, _ := l.Get(m.ID)
	if got.Stock != 4 {
		t.Errorf("stock double-decremented: %d", got.Stock)
	}
}

func TestTakeFloorsStockAtZero(t *testing.T) {
	l, _, _ := newTestLedger(t)
	m := addMed(t, l, "二甲双胍", "12:00", 0)
	taken, err := l.Take(m.ID, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if taken.Stock != 0 {
		t.Errorf("stock = %d, want 0", taken.Stock)
	}
}

func TestTakeNotFound(t *testing.T) {
	l, _, _ := newTestLedger(t)
	if _, err := l.Take("missing", time.Now()); !errors.Is(err, models.ErrMedicationNotFound) {
		t.Errorf("expected ErrMedicationNotFound, got %v", err)
	}
}

func TestUpdatePartialPatch(t *testing.T) {
	l, _, _ := newTestLedger(t)
	m := addMed(t, l, "氨氯地平片", "08:00", 12)

	newTime := "09:30"
	updated, err := l.Update(m.ID, models.MedicationPatch{ScheduledTime: &newTime})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.ScheduledTime != "09:30" {
		t.Errorf("scheduledTime = %q, want 09:30", updated.ScheduledTime)
	}
	if updated.Name != m.Name || updated.Stock != m.Stock {
		t.Error("patch touched fields it should not have")
	}

	if _, err := l.Update("missing", models.MedicationPatch{}); !errors.Is(err, models.ErrMedicationNotFound) {
		t.Errorf("expected ErrMedicationNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	l, st, _ := newTestLedger(t)
	m := addMed(t, l, "氨氯地平片", "08:00", 12)
	if err := l.Delete(m.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := l.Get(m.ID); !errors.Is(err, models.ErrMedicationNotFound) {
		t.Error("medication still present after delete")
	}
	persisted, _ := st.GetMedications()
	if len(persisted) != 0 {
		t.Error("delete not persisted")
	}
	if err := l.Delete(m.ID); !errors.Is(err, models.ErrMedicationNotFound) {
		t.Errorf("expected ErrMedicationNotFound, got %v", err)
	}
}

func TestDailyResetIdempotent(t *testing.T) {
	l, _, _ := newTestLedger(t)
	m1 := addMed(t, l, "氨氯地平片", "08:00", 12)
	m2 := addMed(t, l, "阿司匹林", "20:00", 5)
	if _, err := l.Take(m1.ID, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := l.Take(m2.ID, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n, err := l.DailyReset()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("reset count = %d, want 2", n)
	}
	for _, m := range l.List() {
		if m.Status != models.MedicationPending || m.TakenTime != "" {
			t.Errorf("medication not reset: %+v", m)
		}
	}

	// Second reset changes nothing.
	n, err = l.DailyReset()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("second reset count = %d, want 0", n)
	}
}

func TestListHistoryOrdering(t *testing.T) {
	l, _, _ := newTestLedger(t)
	m1 := addMed(t, l, "氨氯地平片", "08:00", 12)
	m2 := addMed(t, l, "阿司匹林", "20:00", 5)
	skipped := models.MedicationSkipped
	m3 := addMed(t, l, "二甲双胍", "12:00", 45)
	if _, err := l.Update(m3.ID, models.MedicationPatch{Status: &skipped}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	day := time.Date(2026, 8, 31, 0, 0, 0, 0, time.Local)
	l.Take(m1.ID, day.Add(8*time.Hour))
	l.Take(m2.ID, day.Add(20*time.Hour))

	history := l.ListHistory(day)
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	// Newest first: the skipped noon entry is anchored to the same day, so
	// it lands between the evening and morning takes instead of always last.
	if history[0].ID != m2.ID || history[1].ID != m3.ID || history[2].ID != m1.ID {
		t.Errorf("unexpected history order: %s, %s, %s", history[0].Name, history[1].Name, history[2].Name)
	}

	if pending := l.ListPending(); len(pending) != 0 {
		t.Errorf("expected no pending medications, got %d", len(pending))
	}
}
