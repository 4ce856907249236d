package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/PillboxLabs/PillMinder/internal/announce"
	"github.com/PillboxLabs/PillMinder/internal/models"
)

// escalateSendTimeout bounds a guardian notification send.
const escalateSendTimeout = 15 * time.Second

// SenderEscalator notifies the guardian over a message transport (Twilio
// SMS in the default wiring) when an alarm goes unacknowledged.
type SenderEscalator struct {
	sender announce.Sender
	to     string
}

// NewSenderEscalator creates an escalator texting the given guardian number.
func NewSenderEscalator(sender announce.Sender, to string) *SenderEscalator {
	return &SenderEscalator{sender: sender, to: to}
}

// Notify sends the unacknowledged-alarm message to the guardian.
func (s *SenderEscalator) Notify(med models.Medication) error {
	ctx, cancel := context.WithTimeout(context.Background(), escalateSendTimeout)
	defer cancel()
	body := fmt.Sprintf(escalateTemplate, med.Name, med.Dosage, med.ScheduledTime)
	return s.sender.SendMessage(ctx, s.to, body)
}
