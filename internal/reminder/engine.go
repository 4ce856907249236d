package reminder

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/PillboxLabs/PillMinder/internal/announce"
	"github.com/PillboxLabs/PillMinder/internal/ledger"
	"github.com/PillboxLabs/PillMinder/internal/models"
)

// Defaults for alarm escalation behavior.
const (
	// DefaultRepeatInterval is how often a ringing alarm re-announces.
	DefaultRepeatInterval = 5 * time.Second
	// DefaultEscalateAfterRepeats is how many unacknowledged repeats pass
	// before the guardian is notified, roughly a minute of ringing.
	DefaultEscalateAfterRepeats = 12
)

// Reminder announcement phrases.
const (
	reminderTemplate = "该吃药了！请服用%s"
	escalateTemplate = "服药提醒：%s（%s）的 %s 提醒未确认，请联系老人确认。"
)

// Escalator is notified when a ringing alarm has gone unacknowledged for
// too long. The default implementation texts the guardian via Twilio.
type Escalator interface {
	Notify(med models.Medication) error
}

// Engine drives the reminder core. It owns the ledger, runs the schedule
// matcher on every tick, and implements the alarm state machine: at most one
// medication rings at a time, re-announced on a fixed interval until
// acknowledged, deferred, or snoozed.
//
// All entry points serialize through one mutex, which gives the ledger its
// single-writer guarantee: tick loop, HTTP handlers, cron jobs and timer
// callbacks never interleave mutations.
type Engine struct {
	mu    sync.Mutex
	led   *ledger.Ledger
	ann   announce.Announcer
	timer Timer
	clock Clock

	repeatInterval time.Duration
	escalateAfter  int
	escalator      Escalator

	// Alarm state. ringingID is exclusively owned by the engine; nothing
	// else writes it.
	ringingID     string
	ringingSince  time.Time
	repeats       int
	escalated     bool
	repeatTimerID string

	// deferredAt maps medication id to the minute key in which it was
	// deferred. Entries suppress re-matching for the rest of that minute and
	// are pruned on the next tick.
	deferredAt map[string]string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRepeatInterval overrides the alarm re-announcement interval.
func WithRepeatInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.repeatInterval = d
	}
}

// WithEscalator enables guardian escalation after the given number of
// unacknowledged repeats.
func WithEscalator(esc Escalator, afterRepeats int) EngineOption {
	return func(e *Engine) {
		e.escalator = esc
		if afterRepeats > 0 {
			e.escalateAfter = afterRepeats
		}
	}
}

// NewEngine creates a reminder engine over the given collaborators.
func NewEngine(led *ledger.Ledger, ann announce.Announcer, timer Timer, clock Clock, opts ...EngineOption) *Engine {
	e := &Engine{
		led:            led,
		ann:            ann,
		timer:          timer,
		clock:          clock,
		repeatInterval: DefaultRepeatInterval,
		escalateAfter:  DefaultEscalateAfterRepeats,
		deferredAt:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Tick advances the schedule matcher one step. It is a no-op when an alarm
// is already ringing or nothing is due at the current minute.
func (e *Engine) Tick(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ringingID != "" {
		slog.Debug("Engine.Tick: alarm active, matcher suppressed", "ringing_id", e.ringingID)
		return
	}

	// Drop deferral markers from earlier minutes and hide medications that
	// were deferred within the current one; their trigger minute occurs once
	// a day, so skipping the rest of it pushes the next match to tomorrow.
	minute := now.Format(models.TakenTimeLayout)
	meds := e.led.List()
	candidates := meds[:0:0]
	for _, m := range meds {
		if deferredMinute, ok := e.deferredAt[m.ID]; ok {
			if deferredMinute == minute {
				continue
			}
			delete(e.deferredAt, m.ID)
		}
		candidates = append(candidates, m)
	}

	med := FindDue(now, candidates, e.ringingID)
	if med == nil {
		return
	}
	e.startRingingLocked(*med)
}

// startRingingLocked transitions INACTIVE -> RINGING. The matcher guard
// already prevents a second concurrent alarm; this re-checks as defense in
// depth because snooze re-rings bypass the matcher.
func (e *Engine) startRingingLocked(med models.Medication) {
	if e.ringingID != "" {
		slog.Warn("Engine: ring requested while already ringing, ignored", "ringing_id", e.ringingID, "requested_id", med.ID)
		return
	}
	e.ringingID = med.ID
	e.ringingSince = e.clock.Now()
	e.repeats = 0
	e.escalated = false

	slog.Info("Engine: alarm ringing", "id", med.ID, "name", med.Name, "scheduled_time", med.ScheduledTime)
	e.ann.Speak(fmt.Sprintf(reminderTemplate, med.Name))

	id, err := e.timer.ScheduleRepeat(e.repeatInterval, e.repeatAnnounce)
	if err != nil {
		slog.Error("Engine: failed to schedule alarm repeat", "error", err, "id", med.ID)
		return
	}
	e.repeatTimerID = id
}

// repeatAnnounce fires on every repeat interval while ringing. A repeat is
// skipped when the announcer is still busy with the previous announcement.
func (e *Engine) repeatAnnounce() {
	e.mu.Lock()
	if e.ringingID == "" {
		e.mu.Unlock()
		return
	}
	med, err := e.led.Get(e.ringingID)
	if err != nil {
		// The ringing medication vanished from the ledger; clear the alarm.
		slog.Warn("Engine: ringing medication missing, stopping alarm", "id", e.ringingID)
		e.stopAlarmLocked()
		e.mu.Unlock()
		return
	}

	e.repeats++
	if !e.ann.IsSpeaking() {
		e.ann.Speak(fmt.Sprintf(reminderTemplate, med.Name))
	} else {
		slog.Debug("Engine: announcer busy, repeat skipped", "id", med.ID, "repeats", e.repeats)
	}

	var escalate bool
	if e.escalator != nil && !e.escalated && e.repeats >= e.escalateAfter {
		e.escalated = true
		escalate = true
	}
	e.mu.Unlock()

	if escalate {
		slog.Info("Engine: escalating unacknowledged alarm", "id", med.ID, "repeats", e.repeats)
		go func() {
			if err := e.escalator.Notify(med); err != nil {
				slog.Error("Engine: guardian escalation failed", "error", err, "id", med.ID)
			}
		}()
	}
}

// Acknowledge resolves the ringing alarm by taking the medication. The id
// must match the currently ringing medication.
func (e *Engine) Acknowledge(id string) (models.Medication, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ringingID == "" {
		return models.Medication{}, models.ErrNoActiveAlarm
	}
	if id != e.ringingID {
		return models.Medication{}, models.ErrAlarmMismatch
	}
	// Stop the alarm before the ledger speaks its take confirmation. The
	// other order would drop or cancel the confirmation on announcers that
	// treat an in-flight reminder send as busy.
	e.stopAlarmLocked()
	return e.led.Take(id, e.clock.Now())
}

// Defer silences the ringing alarm without marking the medication taken. The
// medication stays pending, so the matcher picks it up again the next time
// the clock equals its scheduled time. Because the trigger key is a
// time-of-day, that next match is the next calendar day, not later today.
// Snooze covers the remind-me-soon case.
func (e *Engine) Defer() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ringingID == "" {
		return models.ErrNoActiveAlarm
	}
	slog.Info("Engine: alarm deferred", "id", e.ringingID)
	e.deferredAt[e.ringingID] = e.clock.Now().Format(models.TakenTimeLayout)
	e.stopAlarmLocked()
	return nil
}

// Snooze silences the ringing alarm and re-rings the same medication after
// the given delay, provided it is still pending and no other alarm has
// started in the meantime.
func (e *Engine) Snooze(delay time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ringingID == "" {
		return models.ErrNoActiveAlarm
	}
	medID := e.ringingID
	slog.Info("Engine: alarm snoozed", "id", medID, "delay", delay)
	e.stopAlarmLocked()

	_, err := e.timer.ScheduleAfter(delay, func() { e.reRing(medID) })
	if err != nil {
		return fmt.Errorf("failed to schedule snooze: %w", err)
	}
	return nil
}

// reRing restarts the alarm for a snoozed medication if it still qualifies.
func (e *Engine) reRing(medID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ringingID != "" {
		slog.Debug("Engine: snooze expired but another alarm is ringing", "snoozed_id", medID)
		return
	}
	med, err := e.led.Get(medID)
	if err != nil || med.Status != models.MedicationPending {
		slog.Debug("Engine: snoozed medication no longer pending", "id", medID)
		return
	}
	e.startRingingLocked(med)
}

// Take marks a medication taken. If it is the one currently ringing, the
// alarm is driven back to inactive.
func (e *Engine) Take(id string) (models.Medication, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Same ordering as Acknowledge: free the announcer first so the take
	// confirmation is not cancelled along with the reminder.
	if id == e.ringingID {
		e.stopAlarmLocked()
	}
	return e.led.Take(id, e.clock.Now())
}

// Add creates a new medication in the ledger.
func (e *Engine) Add(draft models.MedicationDraft) (models.Medication, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.led.Add(draft)
}

// Update applies a partial update to a medication.
func (e *Engine) Update(id string, patch models.MedicationPatch) (models.Medication, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.led.Update(id, patch)
}

// Delete removes a medication. Deleting the medication that is currently
// ringing forces the alarm inactive first so no dangling reference remains.
func (e *Engine) Delete(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if id == e.ringingID {
		slog.Info("Engine: deleting ringing medication, stopping alarm", "id", id)
		e.stopAlarmLocked()
	}
	return e.led.Delete(id)
}

// DailyReset returns every taken medication to pending for the next day.
// Timing is owned by the caller; the engine only applies the transition.
func (e *Engine) DailyReset() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.led.DailyReset()
}

// List returns all medications in insertion order.
func (e *Engine) List() []models.Medication {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.led.List()
}

// Get returns a single medication by id.
func (e *Engine) Get(id string) (models.Medication, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.led.Get(id)
}

// ListPending returns pending medications in insertion order.
func (e *Engine) ListPending() []models.Medication {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.led.ListPending()
}

// ListHistory returns the adherence history projection.
func (e *Engine) ListHistory() []models.Medication {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.led.ListHistory(e.clock.Now())
}

// Alarm returns a snapshot of the alarm machine's state.
func (e *Engine) Alarm() models.AlarmStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ringingID == "" {
		return models.AlarmStatus{State: models.AlarmInactive}
	}
	return models.AlarmStatus{
		State:        models.AlarmRinging,
		MedicationID: e.ringingID,
		StartedAt:    e.ringingSince.Format(models.TakenTimeLayout),
		Repeats:      e.repeats,
	}
}

// Stop shuts the engine down, cancelling the alarm and all timers.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopAlarmLocked()
	e.timer.Stop()
}

// stopAlarmLocked transitions RINGING -> INACTIVE: cancels the repeat timer
// and any in-flight announcement, then clears the alarm state.
func (e *Engine) stopAlarmLocked() {
	if e.repeatTimerID != "" {
		if err := e.timer.Cancel(e.repeatTimerID); err != nil {
			slog.Error("Engine: failed to cancel repeat timer", "error", err, "timer_id", e.repeatTimerID)
		}
		e.repeatTimerID = ""
	}
	e.ann.CancelAll()
	e.ringingID = ""
	e.repeats = 0
	e.escalated = false
}
