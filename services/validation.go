package services

import (
	"context"
	"fmt"
	"time"

	"stepChallengeAPI/internal/types/challenge"
	"stepChallengeAPI/internal/types/entry"
)

const (
	msgChallengeClosed  = "This challenge is closed. Steps can no longer be added."
	msgOutsideWindow    = "Step date must be within the challenge period."
	msgStepsRegressed   = "Total steps cannot be less than your previous entry."
	msgNegativeSteps    = "Steps must be zero or more."
	msgDuplicateEntry   = "You have already logged steps for this date."
	msgDateRequired     = "Date is required."
	msgNotParticipating = "You are not participating in this challenge."
)

// CheckEntry runs the rules that need nothing but the challenge itself:
// non-negative steps, the open/closed gate (skipped when override is set) and
// the date window.
func CheckEntry(c *challenge.Challenge, day time.Time, steps int64, override bool) error {
	if day.IsZero() {
		return newFieldError("date", msgDateRequired)
	}
	if steps < 0 {
		return newFieldError("daily_steps", msgNegativeSteps)
	}
	if !c.IsActive && !override {
		return newFieldError("challenge", msgChallengeClosed)
	}
	if !c.Contains(day) {
		return newFieldError("date", msgOutsideWindow)
	}
	return nil
}

// EntryValidator applies every write rule to a candidate entry.
type EntryValidator struct {
	store EntryStore
	mode  entry.Mode
}

func NewEntryValidator(store EntryStore, mode entry.Mode) *EntryValidator {
	return &EntryValidator{store: store, mode: mode}
}

// Validate rejects e when CheckEntry fails or, in cumulative mode, when its
// value is below the most recent earlier entry of the same participant.
func (v *EntryValidator) Validate(ctx context.Context, c *challenge.Challenge, e *entry.StepEntry, override bool) error {
	if err := CheckEntry(c, e.Date, e.DailySteps, override); err != nil {
		return err
	}
	if v.mode != entry.ModeCumulative {
		return nil
	}

	prev, err := v.store.PreviousEntry(ctx, e.ParticipantID, e.ChallengeID, e.Date)
	if err != nil {
		return fmt.Errorf("failed to load previous entry: %w", err)
	}
	if prev != nil && e.DailySteps < prev.DailySteps {
		return newFieldError("daily_steps", msgStepsRegressed)
	}
	return nil
}
