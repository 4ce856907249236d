package reminder

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSimpleTimerScheduleAfter(t *testing.T) {
	timer := NewSimpleTimer()
	defer timer.Stop()

	fired := make(chan struct{})
	if _, err := timer.ScheduleAfter(10*time.Millisecond, func() { close(fired) }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("one-shot timer never fired")
	}
}

func TestSimpleTimerCancelStopsOneShot(t *testing.T) {
	timer := NewSimpleTimer()
	defer timer.Stop()

	var fired atomic.Bool
	id, err := timer.ScheduleAfter(50*time.Millisecond, func() { fired.Store(true) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := timer.Cancel(id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if fired.Load() {
		t.Error("cancelled timer still fired")
	}
}

func TestSimpleTimerRepeatUntilCancelled(t *testing.T) {
	timer := NewSimpleTimer()
	defer timer.Stop()

	var count atomic.Int64
	id, err := timer.ScheduleRepeat(5*time.Millisecond, func() { count.Add(1) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for count.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if count.Load() < 3 {
		t.Fatal("repeat timer did not fire repeatedly")
	}

	if err := timer.Cancel(id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	settled := count.Load()
	time.Sleep(50 * time.Millisecond)
	if count.Load() != settled {
		t.Error("repeat timer kept firing after cancel")
	}
}

func TestSimpleTimerRejectsNonPositiveInterval(t *testing.T) {
	timer := NewSimpleTimer()
	defer timer.Stop()
	if _, err := timer.ScheduleRepeat(0, func() {}); err == nil {
		t.Error("expected error for zero interval")
	}
}
