// Package announce abstracts how reminders reach the patient.
//
// The reminder engine only ever talks to the Announcer interface; concrete
// backends (console log, Twilio SMS, WhatsApp) live behind it so the core
// never knows about speech engines or message transports.
package announce

import (
	"context"
	"log/slog"
	"sync"
)

// Announcer delivers reminder text to the patient. Speak is fire-and-forget;
// the engine polls IsSpeaking before repeating so announcements never overlap.
type Announcer interface {
	// Speak delivers the given text. It must not block the caller.
	Speak(text string)

	// IsSpeaking reports whether a previous announcement is still in progress.
	IsSpeaking() bool

	// CancelAll aborts any in-flight announcement.
	CancelAll()
}

// ConsoleAnnouncer writes announcements to the structured log. It is the
// default backend when no transport is configured, and doubles as the
// development/testing announcer.
type ConsoleAnnouncer struct{}

// NewConsoleAnnouncer creates a console announcer.
func NewConsoleAnnouncer() *ConsoleAnnouncer {
	return &ConsoleAnnouncer{}
}

// Speak logs the announcement.
func (a *ConsoleAnnouncer) Speak(text string) {
	slog.Info("announcement", "text", text)
}

// IsSpeaking always reports false; log lines complete immediately.
func (a *ConsoleAnnouncer) IsSpeaking() bool {
	return false
}

// CancelAll is a no-op for the console backend.
func (a *ConsoleAnnouncer) CancelAll() {}

// Sender is the minimal message transport contract satisfied by the
// WhatsApp and Twilio clients.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// SenderAnnouncer adapts a message transport to the Announcer contract.
// A send in flight counts as "speaking" so the repeat loop skips its tick
// instead of stacking messages.
type SenderAnnouncer struct {
	sender Sender
	to     string

	mu      sync.Mutex
	busy    bool
	cancel  context.CancelFunc
	pending sync.WaitGroup
}

// NewSenderAnnouncer creates an announcer that delivers to the given
// recipient through the given transport.
func NewSenderAnnouncer(sender Sender, to string) *SenderAnnouncer {
	return &SenderAnnouncer{sender: sender, to: to}
}

// Speak sends the text asynchronously.
func (a *SenderAnnouncer) Speak(text string) {
	a.mu.Lock()
	if a.busy {
		// A previous announcement is still going out; the engine is
		// expected to have checked IsSpeaking, so just drop this one.
		a.mu.Unlock()
		slog.Debug("SenderAnnouncer.Speak: dropped, send in flight", "to", a.to)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.busy = true
	a.cancel = cancel
	a.pending.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.pending.Done()
		if err := a.sender.SendMessage(ctx, a.to, text); err != nil {
			slog.Error("SenderAnnouncer.Speak: send failed", "error", err, "to", a.to)
		} else {
			slog.Debug("SenderAnnouncer.Speak: sent", "to", a.to, "body_length", len(text))
		}
		a.mu.Lock()
		a.busy = false
		a.cancel = nil
		a.mu.Unlock()
	}()
}

// IsSpeaking reports whether a send is still in flight.
func (a *SenderAnnouncer) IsSpeaking() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.busy
}

// CancelAll aborts the in-flight send, if any, and waits for it to finish.
func (a *SenderAnnouncer) CancelAll() {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Unlock()
	a.pending.Wait()
}
