package reminder

import (
	"testing"
	"time"

	"github.com/PillboxLabs/PillMinder/internal/models"
)

func at(hhmm string) time.Time {
	parsed, err := time.Parse(models.ScheduledTimeLayout, hhmm)
	if err != nil {
		panic(err)
	}
	return time.Date(2026, 8, 31, parsed.Hour(), parsed.Minute(), 17, 0, time.Local)
}

func TestFindDue(t *testing.T) {
	meds := []models.Medication{
		{ID: "1", Name: "氨氯地平片", ScheduledTime: "08:00", Status: models.MedicationPending},
		{ID: "2", Name: "二甲双胍", ScheduledTime: "12:00", Status: models.MedicationTaken},
		{ID: "3", Name: "阿司匹林", ScheduledTime: "20:00", Status: models.MedicationPending},
	}

	cases := []struct {
		name     string
		now      time.Time
		activeID string
		wantID   string
	}{
		{"due pending matches", at("08:00"), "", "1"},
		{"nothing due", at("09:15"), "", ""},
		{"taken medication never due", at("12:00"), "", ""},
		{"active alarm suppresses matcher", at("20:00"), "1", ""},
		{"evening dose", at("20:00"), "", "3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := FindDue(tc.now, meds, tc.activeID)
			gotID := ""
			if got != nil {
				gotID = got.ID
			}
			if gotID != tc.wantID {
				t.Errorf("FindDue = %q, want %q", gotID, tc.wantID)
			}
		})
	}
}

func TestFindDueInsertionOrderTieBreak(t *testing.T) {
	meds := []models.Medication{
		{ID: "a", ScheduledTime: "08:00", Status: models.MedicationPending},
		{ID: "b", ScheduledTime: "08:00", Status: models.MedicationPending},
	}
	got := FindDue(at("08:00"), meds, "")
	if got == nil || got.ID != "a" {
		t.Fatalf("expected first inserted medication, got %+v", got)
	}

	// Once the first is taken, the second becomes the match for the minute.
	meds[0].Status = models.MedicationTaken
	got = FindDue(at("08:00"), meds, "")
	if got == nil || got.ID != "b" {
		t.Fatalf("expected second medication after first resolved, got %+v", got)
	}
}

func TestFindDueIsPure(t *testing.T) {
	meds := []models.Medication{
		{ID: "1", ScheduledTime: "08:00", Status: models.MedicationPending, Stock: 3},
	}
	got := FindDue(at("08:00"), meds, "")
	got.Stock = 99
	if meds[0].Stock != 3 {
		t.Error("FindDue must return a copy, not alias the input slice")
	}
}
