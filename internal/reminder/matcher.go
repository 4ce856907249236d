// Package reminder implements the medication reminder core: the schedule
// matcher, the alarm state machine, and the engine facade that ties them to
// the ledger.
package reminder

import (
	"time"

	"github.com/PillboxLabs/PillMinder/internal/models"
)

// FindDue returns the first pending medication whose scheduled time matches
// now at minute resolution, in insertion order. It returns nil whenever an
// alarm is already active (activeID non-empty): the one-alarm-at-a-time
// invariant would otherwise silently swallow a medication due in the same
// minute, so suppression is made explicit here. Medications due in the same
// minute are matched one per tick, each after the previous alarm resolves.
//
// FindDue is a pure function of its inputs.
func FindDue(now time.Time, meds []models.Medication, activeID string) *models.Medication {
	if activeID != "" {
		return nil
	}
	current := now.Format(models.ScheduledTimeLayout)
	for i := range meds {
		if meds[i].Status == models.MedicationPending && meds[i].ScheduledTime == current {
			m := meds[i]
			return &m
		}
	}
	return nil
}
