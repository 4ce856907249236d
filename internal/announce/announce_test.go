package announce

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// blockingSender holds every send until released, so tests can observe the
// busy state deterministically.
type blockingSender struct {
	mu      sync.Mutex
	sent    []string
	release chan struct{}
}

func newBlockingSender() *blockingSender {
	return &blockingSender{release: make(chan struct{})}
}

func (s *blockingSender) SendMessage(ctx context.Context, to, body string) error {
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	s.sent = append(s.sent, body)
	s.mu.Unlock()
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSenderAnnouncerBusyWhileSending(t *testing.T) {
	sender := newBlockingSender()
	a := NewSenderAnnouncer(sender, "+8613800138000")

	a.Speak("该吃药了")
	waitFor(t, a.IsSpeaking)

	// A second Speak while busy is dropped, not queued.
	a.Speak("该吃药了")

	close(sender.release)
	waitFor(t, func() bool { return !a.IsSpeaking() })

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 1 {
		t.Errorf("expected exactly 1 delivered message, got %d", len(sender.sent))
	}
}

func TestSenderAnnouncerCancelAll(t *testing.T) {
	sender := newBlockingSender()
	a := NewSenderAnnouncer(sender, "+8613800138000")

	a.Speak("该吃药了")
	waitFor(t, a.IsSpeaking)

	a.CancelAll()
	if a.IsSpeaking() {
		t.Error("still speaking after CancelAll")
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 0 {
		t.Errorf("cancelled send still delivered: %v", sender.sent)
	}
}

type failingSender struct{}

func (failingSender) SendMessage(ctx context.Context, to, body string) error {
	return errors.New("transport down")
}

func TestSenderAnnouncerSendFailureClearsBusy(t *testing.T) {
	a := NewSenderAnnouncer(failingSender{}, "+8613800138000")
	a.Speak("该吃药了")
	waitFor(t, func() bool { return !a.IsSpeaking() })
}
