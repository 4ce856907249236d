// Package reminder provides timer implementations for alarm escalation.
package reminder

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Timer schedules one-shot and repeating callbacks. Every schedule call
// returns an id the engine holds so it can cancel the callback on every exit
// from the ringing state; an uncancelled repeat re-announcing after an
// acknowledgement is a correctness bug, not just a leak.
type Timer interface {
	// ScheduleAfter schedules fn to run once after delay.
	ScheduleAfter(delay time.Duration, fn func()) (string, error)

	// ScheduleRepeat schedules fn to run every interval until cancelled.
	ScheduleRepeat(interval time.Duration, fn func()) (string, error)

	// Cancel cancels a scheduled callback by id. Cancelling an unknown id is
	// not an error.
	Cancel(id string) error

	// Stop cancels all scheduled callbacks.
	Stop()
}

// timerEntry tracks information about a scheduled callback
type timerEntry struct {
	stop        func()
	scheduledAt time.Time
	description string
}

// SimpleTimer implements the Timer interface using Go's standard time package.
type SimpleTimer struct {
	timers map[string]*timerEntry
	mu     sync.Mutex
	nextID int64
}

// NewSimpleTimer creates a new SimpleTimer.
func NewSimpleTimer() *SimpleTimer {
	return &SimpleTimer{
		timers: make(map[string]*timerEntry),
	}
}

// ScheduleAfter schedules a function to run once after a delay.
func (t *SimpleTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	t.mu.Lock()
	t.nextID++
	id := fmt.Sprintf("timer_%d", t.nextID)
	t.mu.Unlock()

	slog.Debug("SimpleTimer ScheduleAfter", "id", id, "delay", delay)

	timer := time.AfterFunc(delay, func() {
		slog.Debug("SimpleTimer executing scheduled function", "id", id)
		fn()
		t.mu.Lock()
		delete(t.timers, id)
		t.mu.Unlock()
	})

	t.mu.Lock()
	t.timers[id] = &timerEntry{
		stop:        func() { timer.Stop() },
		scheduledAt: time.Now(),
		description: fmt.Sprintf("one-shot after %v", delay),
	}
	t.mu.Unlock()
	return id, nil
}

// ScheduleRepeat schedules a function to run at a fixed interval until the
// returned id is cancelled.
func (t *SimpleTimer) ScheduleRepeat(interval time.Duration, fn func()) (string, error) {
	if interval <= 0 {
		return "", fmt.Errorf("repeat interval must be positive, got %v", interval)
	}
	t.mu.Lock()
	t.nextID++
	id := fmt.Sprintf("timer_%d", t.nextID)
	t.mu.Unlock()

	slog.Debug("SimpleTimer ScheduleRepeat", "id", id, "interval", interval)

	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	t.mu.Lock()
	t.timers[id] = &timerEntry{
		stop: func() {
			once.Do(func() {
				ticker.Stop()
				close(done)
			})
		},
		scheduledAt: time.Now(),
		description: fmt.Sprintf("repeat every %v", interval),
	}
	t.mu.Unlock()
	return id, nil
}

// Cancel cancels a scheduled function by ID.
func (t *SimpleTimer) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, exists := t.timers[id]; exists {
		entry.stop()
		delete(t.timers, id)
		slog.Debug("SimpleTimer Cancel succeeded", "id", id)
		return nil
	}

	slog.Debug("SimpleTimer Cancel: timer not found", "id", id)
	return nil
}

// Stop cancels all scheduled timers.
func (t *SimpleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	slog.Debug("SimpleTimer stopping all timers", "count", len(t.timers))
	for _, entry := range t.timers {
		entry.stop()
	}
	t.timers = make(map[string]*timerEntry)
}
