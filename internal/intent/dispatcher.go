// Package intent translates structured voice/chat intents into ledger and
// alarm operations.
//
// This is the seam the excluded natural-language subsystem plugs into: raw
// transcripts are classified elsewhere (internal/genai); the dispatcher only
// ever sees the closed intent set defined in internal/models.
package intent

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/PillboxLabs/PillMinder/internal/models"
	"github.com/PillboxLabs/PillMinder/internal/reminder"
)

// Reply phrases returned to the caller for rendering or speech.
const (
	confirmReplyTemplate = "好的，已帮您记录%s。"
	noPendingReply       = "现在没有需要服用的药哦。"
	feelingBadReply      = "听到您身体不适，建议您立即联系家人或医生。您可以记录一下症状。"
	queryTimeTemplate    = "现在是%d点%d分。"
	unknownReply         = "我没太听懂，能再说一遍吗？"
)

// Engine is the slice of the reminder engine the dispatcher needs.
type Engine interface {
	ListPending() []models.Medication
	Take(id string) (models.Medication, error)
}

// Result is the outcome of dispatching one intent. Symptom is populated for
// FEELING_BAD so the caller can offer to record it; the dispatcher itself
// never writes a health record; that step is deliberately deferred to an
// explicit user confirmation.
type Result struct {
	Intent     models.IntentType  `json:"intent"`
	Reply      string             `json:"reply"`
	Medication *models.Medication `json:"medication,omitempty"`
	Symptom    string             `json:"symptom,omitempty"`
}

// Dispatcher maps intents onto engine operations.
type Dispatcher struct {
	engine Engine
	clock  reminder.Clock
}

// NewDispatcher creates a dispatcher over the given engine and clock.
func NewDispatcher(engine Engine, clock reminder.Clock) *Dispatcher {
	return &Dispatcher{engine: engine, clock: clock}
}

// Dispatch applies one intent. Unrecognized intents are a safe no-op.
func (d *Dispatcher) Dispatch(in models.Intent) (Result, error) {
	slog.Debug("Dispatcher.Dispatch", "intent", in.Intent, "entity", in.Entity)

	switch in.Intent {
	case models.IntentConfirmTaken:
		return d.confirmTaken(in.Entity)
	case models.IntentFeelingBad:
		return Result{Intent: in.Intent, Reply: feelingBadReply, Symptom: in.Symptom}, nil
	case models.IntentQueryTime:
		now := d.clock.Now()
		return Result{Intent: in.Intent, Reply: fmt.Sprintf(queryTimeTemplate, now.Hour(), now.Minute())}, nil
	default:
		return Result{Intent: models.IntentUnknown, Reply: unknownReply}, nil
	}
}

// confirmTaken takes the named pending medication, or falls back to the
// earliest-scheduled pending one when no exact name match exists. There is
// no fuzzy name matching.
func (d *Dispatcher) confirmTaken(entity string) (Result, error) {
	pending := d.engine.ListPending()
	if len(pending) == 0 {
		return Result{Intent: models.IntentConfirmTaken, Reply: noPendingReply}, nil
	}

	target := pending[0]
	matched := false
	if entity != "" {
		for _, m := range pending {
			if m.Name == entity {
				target = m
				matched = true
				break
			}
		}
	}
	if !matched {
		// Schedule order: earliest time-of-day first, insertion order as the
		// tie-break (ListPending already returns insertion order).
		sorted := make([]models.Medication, len(pending))
		copy(sorted, pending)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].ScheduledTime < sorted[j].ScheduledTime
		})
		target = sorted[0]
	}

	taken, err := d.engine.Take(target.ID)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Intent:     models.IntentConfirmTaken,
		Reply:      fmt.Sprintf(confirmReplyTemplate, taken.Name),
		Medication: &taken,
	}, nil
}
