package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PillboxLabs/PillMinder/internal/announce"
	"github.com/PillboxLabs/PillMinder/internal/ledger"
	"github.com/PillboxLabs/PillMinder/internal/models"
	"github.com/PillboxLabs/PillMinder/internal/store"
)

// fakeClock returns a settable fixed time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// fakeAnnouncer records announcements and exposes a controllable busy flag.
type fakeAnnouncer struct {
	mu        sync.Mutex
	spoken    []string
	busy      bool
	cancelled int
}

func (a *fakeAnnouncer) Speak(text string) {
	a.mu.Lock()
	a.spoken = append(a.spoken, text)
	a.mu.Unlock()
}

func (a *fakeAnnouncer) IsSpeaking() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.busy
}

func (a *fakeAnnouncer) CancelAll() {
	a.mu.Lock()
	a.cancelled++
	a.mu.Unlock()
}

func (a *fakeAnnouncer) spokenCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.spoken)
}

func (a *fakeAnnouncer) setBusy(b bool) {
	a.mu.Lock()
	a.busy = b
	a.mu.Unlock()
}

// fakeTimer lets tests fire scheduled callbacks deterministically.
type fakeTimer struct {
	mu        sync.Mutex
	nextID    int
	repeats   map[string]func()
	oneShots  map[string]func()
	cancelled []string
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{repeats: make(map[string]func()), oneShots: make(map[string]func())}
}

func (t *fakeTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := fmt.Sprintf("oneshot_%d", t.nextID)
	t.oneShots[id] = fn
	return id, nil
}

func (t *fakeTimer) ScheduleRepeat(interval time.Duration, fn func()) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := fmt.Sprintf("repeat_%d", t.nextID)
	t.repeats[id] = fn
	return id, nil
}

func (t *fakeTimer) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.repeats, id)
	delete(t.oneShots, id)
	t.cancelled = append(t.cancelled, id)
	return nil
}

func (t *fakeTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.repeats = make(map[string]func())
	t.oneShots = make(map[string]func())
}

func (t *fakeTimer) fireRepeats() {
	t.mu.Lock()
	fns := make([]func(), 0, len(t.repeats))
	for _, fn := range t.repeats {
		fns = append(fns, fn)
	}
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (t *fakeTimer) fireOneShots() {
	t.mu.Lock()
	fns := make([]func(), 0, len(t.oneShots))
	for _, fn := range t.oneShots {
		fns = append(fns, fn)
	}
	t.oneShots = make(map[string]func())
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (t *fakeTimer) activeRepeats() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.repeats)
}

type fakeEscalator struct {
	notified chan models.Medication
}

func (f *fakeEscalator) Notify(med models.Medication) error {
	f.notified <- med
	return nil
}

func newTestEngine(t *testing.T, opts ...EngineOption) (*Engine, *fakeAnnouncer, *fakeTimer, *fakeClock) {
	t.Helper()
	ann := &fakeAnnouncer{}
	led, err := ledger.New(store.NewInMemoryStore(), ann)
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	clock := &fakeClock{now: time.Date(2026, 8, 31, 20, 0, 0, 0, time.Local)}
	timer := newFakeTimer()
	return NewEngine(led, ann, timer, clock, opts...), ann, timer, clock
}

func addPending(t *testing.T, e *Engine, name, scheduledTime string, stock int) models.Medication {
	t.Helper()
	m, err := e.Add(models.MedicationDraft{Name: name, Dosage: "1片", ScheduledTime: scheduledTime, Stock: &stock})
	if err != nil {
		t.Fatalf("failed to add %s: %v", name, err)
	}
	return m
}

func TestTickRingsDueMedicationOnce(t *testing.T) {
	e, ann, timer, clock := newTestEngine(t)
	m := addPending(t, e, "阿司匹林", "20:00", 5)
	announcedBefore := ann.spokenCount()

	e.Tick(clock.Now())

	status := e.Alarm()
	if status.State != models.AlarmRinging || status.MedicationID != m.ID {
		t.Fatalf("expected ringing on %s, got %+v", m.ID, status)
	}
	if ann.spokenCount() != announcedBefore+1 {
		t.Errorf("expected one immediate announcement, got %d", ann.spokenCount()-announcedBefore)
	}
	if timer.activeRepeats() != 1 {
		t.Errorf("expected one repeat schedule, got %d", timer.activeRepeats())
	}

	// A second tick in the same minute must not raise a second alarm.
	e.Tick(clock.Now())
	if timer.activeRepeats() != 1 {
		t.Errorf("second tick raised a second alarm")
	}
	if got := e.Alarm(); got.MedicationID != m.ID {
		t.Errorf("alarm switched medications: %+v", got)
	}
}

func TestAcknowledgeAppliesTakeAndStopsAlarm(t *testing.T) {
	e, ann, timer, clock := newTestEngine(t)
	m := addPending(t, e, "阿司匹林", "20:00", 5)
	e.Tick(clock.Now())

	taken, err := e.Acknowledge(m.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if taken.Status != models.MedicationTaken || taken.Stock != 4 {
		t.Errorf("take not applied: %+v", taken)
	}
	if taken.TakenTime != "2026-08-31 20:00" {
		t.Errorf("takenTime = %q, want %q", taken.TakenTime, "2026-08-31 20:00")
	}
	if e.Alarm().State != models.AlarmInactive {
		t.Error("alarm still active after acknowledge")
	}
	if timer.activeRepeats() != 0 {
		t.Error("repeat timer not cancelled on acknowledge")
	}
	ann.mu.Lock()
	cancelled := ann.cancelled
	ann.mu.Unlock()
	if cancelled == 0 {
		t.Error("in-flight announcement not cancelled on acknowledge")
	}
}

func TestAcknowledgeGuards(t *testing.T) {
	e, _, _, clock := newTestEngine(t)
	m := addPending(t, e, "阿司匹林", "20:00", 5)
	addPending(t, e, "二甲双胍", "12:00", 45)

	if _, err := e.Acknowledge(m.ID); !errors.Is(err, models.ErrNoActiveAlarm) {
		t.Errorf("expected ErrNoActiveAlarm, got %v", err)
	}

	e.Tick(clock.Now())
	if _, err := e.Acknowledge("some-other-id"); !errors.Is(err, models.ErrAlarmMismatch) {
		t.Errorf("expected ErrAlarmMismatch, got %v", err)
	}
	// The mismatch must not have resolved the alarm.
	if e.Alarm().State != models.AlarmRinging {
		t.Error("alarm cleared by mismatched acknowledge")
	}
}

func TestDeferLeavesMedicationPending(t *testing.T) {
	e, _, timer, clock := newTestEngine(t)
	m := addPending(t, e, "阿司匹林", "20:00", 5)
	e.Tick(clock.Now())

	if err := e.Defer(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Alarm().State != models.AlarmInactive {
		t.Error("alarm still active after defer")
	}
	if timer.activeRepeats() != 0 {
		t.Error("repeat timer not cancelled on defer")
	}
	got, _ := e.Get(m.ID)
	if got.Status != models.MedicationPending || got.Stock != 5 {
		t.Errorf("defer mutated the medication: %+v", got)
	}

	if err := e.Defer(); !errors.Is(err, models.ErrNoActiveAlarm) {
		t.Errorf("expected ErrNoActiveAlarm on idle defer, got %v", err)
	}
}

func TestSameMinuteMedicationsRingOneAtATime(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	first := addPending(t, e, "氨氯地平片", "08:00", 12)
	second := addPending(t, e, "降糖药", "08:00", 30)

	morning := time.Date(2026, 8, 31, 8, 0, 0, 0, time.Local)
	e.Tick(morning)
	if got := e.Alarm(); got.MedicationID != first.ID {
		t.Fatalf("expected first medication to ring, got %+v", got)
	}

	// While the first rings, the second stays suppressed.
	e.Tick(morning)
	if got := e.Alarm(); got.MedicationID != first.ID {
		t.Fatalf("second alarm raised while first still ringing: %+v", got)
	}

	if _, err := e.Acknowledge(first.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e.Tick(morning.Add(30 * time.Second))
	if got := e.Alarm(); got.MedicationID != second.ID {
		t.Errorf("expected second medication to ring after first resolved, got %+v", got)
	}
}

func TestRepeatSkipsWhileAnnouncerBusy(t *testing.T) {
	e, ann, timer, clock := newTestEngine(t)
	addPending(t, e, "阿司匹林", "20:00", 5)
	e.Tick(clock.Now())
	base := ann.spokenCount()

	ann.setBusy(true)
	timer.fireRepeats()
	if ann.spokenCount() != base {
		t.Error("repeat announced while announcer was busy")
	}

	ann.setBusy(false)
	timer.fireRepeats()
	if ann.spokenCount() != base+1 {
		t.Errorf("expected one repeat announcement, got %d", ann.spokenCount()-base)
	}
	if !strings.Contains(ann.spoken[len(ann.spoken)-1], "阿司匹林") {
		t.Errorf("repeat announcement missing medication name: %q", ann.spoken[len(ann.spoken)-1])
	}
}

func TestEscalationFiresExactlyOnce(t *testing.T) {
	esc := &fakeEscalator{notified: make(chan models.Medication, 4)}
	e, _, timer, clock := newTestEngine(t, WithEscalator(esc, 2))
	m := addPending(t, e, "阿司匹林", "20:00", 5)
	e.Tick(clock.Now())

	timer.fireRepeats()
	select {
	case <-esc.notified:
		t.Fatal("escalated before the repeat threshold")
	default:
	}

	timer.fireRepeats()
	select {
	case med := <-esc.notified:
		if med.ID != m.ID {
			t.Errorf("escalated wrong medication: %+v", med)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("escalation did not fire at threshold")
	}

	timer.fireRepeats()
	timer.fireRepeats()
	select {
	case <-esc.notified:
		t.Error("escalated more than once for the same alarm")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSnoozeReRingsPendingMedication(t *testing.T) {
	e, _, timer, clock := newTestEngine(t)
	m := addPending(t, e, "阿司匹林", "20:00", 5)
	e.Tick(clock.Now())

	if err := e.Snooze(10 * time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Alarm().State != models.AlarmInactive {
		t.Fatal("alarm still active after snooze")
	}

	timer.fireOneShots()
	status := e.Alarm()
	if status.State != models.AlarmRinging || status.MedicationID != m.ID {
		t.Errorf("snooze did not re-ring: %+v", status)
	}
}

func TestSnoozeDoesNotReRingResolvedMedication(t *testing.T) {
	e, _, timer, clock := newTestEngine(t)
	m := addPending(t, e, "阿司匹林", "20:00", 5)
	e.Tick(clock.Now())

	if err := e.Snooze(10 * time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := e.Take(m.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	timer.fireOneShots()
	if e.Alarm().State != models.AlarmInactive {
		t.Error("snooze re-rang a medication that was already taken")
	}
}

func TestTakeStopsRingingAlarm(t *testing.T) {
	e, _, timer, clock := newTestEngine(t)
	m := addPending(t, e, "阿司匹林", "20:00", 0)
	e.Tick(clock.Now())

	taken, err := e.Take(m.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if taken.Stock != 0 {
		t.Errorf("stock went negative: %d", taken.Stock)
	}
	if e.Alarm().State != models.AlarmInactive {
		t.Error("alarm still active after direct take")
	}
	if timer.activeRepeats() != 0 {
		t.Error("repeat timer not cancelled on direct take")
	}
}

func TestDeleteRingingMedicationClearsAlarm(t *testing.T) {
	e, _, timer, clock := newTestEngine(t)
	m := addPending(t, e, "阿司匹林", "20:00", 5)
	e.Tick(clock.Now())

	if err := e.Delete(m.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Alarm().State != models.AlarmInactive {
		t.Error("alarm still references a deleted medication")
	}
	if timer.activeRepeats() != 0 {
		t.Error("repeat timer not cancelled on delete")
	}
}

func TestDeferSuppressesRestOfMinute(t *testing.T) {
	e, _, _, clock := newTestEngine(t)
	addPending(t, e, "阿司匹林", "20:00", 5)
	e.Tick(clock.Now())
	if err := e.Defer(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Another tick inside the same minute must not re-raise the alarm.
	e.Tick(clock.Now().Add(30 * time.Second))
	if got := e.Alarm(); got.State != models.AlarmInactive {
		t.Errorf("deferred medication re-rang within the same minute: %+v", got)
	}
}

func TestDeferredMedicationMatchesOnLaterTick(t *testing.T) {
	e, _, _, clock := newTestEngine(t)
	m := addPending(t, e, "阿司匹林", "20:00", 5)
	e.Tick(clock.Now())
	if err := e.Defer(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The trigger key is time-of-day, so the next match is the next time the
	// clock reads 20:00, on the following calendar day.
	nextDay := clock.Now().Add(24 * time.Hour)
	clock.set(nextDay)
	e.Tick(nextDay)
	status := e.Alarm()
	if status.State != models.AlarmRinging || status.MedicationID != m.ID {
		t.Errorf("deferred medication not re-matched next day: %+v", status)
	}
}

// slowSender is a transport whose sends take real time, so an announcement
// can still be in flight when the next engine call arrives.
type slowSender struct {
	mu        sync.Mutex
	delay     time.Duration
	delivered []string
}

func (s *slowSender) SendMessage(ctx context.Context, to string, body string) error {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	s.delivered = append(s.delivered, body)
	s.mu.Unlock()
	return nil
}

func (s *slowSender) deliveredBodies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.delivered...)
}

func waitForIdle(t *testing.T, ann *announce.SenderAnnouncer) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for ann.IsSpeaking() {
		if time.Now().After(deadline) {
			t.Fatal("announcer never went idle")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAcknowledgeConfirmationSurvivesInFlightReminder(t *testing.T) {
	sender := &slowSender{delay: 250 * time.Millisecond}
	ann := announce.NewSenderAnnouncer(sender, "8613800000000")
	led, err := ledger.New(store.NewInMemoryStore(), ann)
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	clock := &fakeClock{now: time.Date(2026, 8, 31, 20, 0, 0, 0, time.Local)}
	timer := newFakeTimer()
	e := NewEngine(led, ann, timer, clock)

	stock := 5
	m, err := e.Add(models.MedicationDraft{Name: "阿司匹林", Dosage: "1片", ScheduledTime: "20:00", Stock: &stock})
	if err != nil {
		t.Fatalf("failed to add: %v", err)
	}
	waitForIdle(t, ann)

	// The reminder send is still in flight when the acknowledge arrives;
	// the alarm must be stopped first so the take confirmation goes out on
	// a free announcer instead of being dropped or cancelled.
	e.Tick(clock.Now())
	if _, err := e.Acknowledge(m.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForIdle(t, ann)

	var sawConfirmation bool
	for _, body := range sender.deliveredBodies() {
		if strings.Contains(body, "真棒") {
			sawConfirmation = true
		}
		if strings.Contains(body, "该吃药了") {
			t.Errorf("cancelled reminder still reached the transport: %q", body)
		}
	}
	if !sawConfirmation {
		t.Errorf("take confirmation never reached the transport: %v", sender.deliveredBodies())
	}
}
