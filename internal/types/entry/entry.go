package entry

import (
	"time"
)

// Mode selects how daily_steps values are interpreted.
type Mode string

const (
	// ModeDaily treats every entry as an independent per-day count; totals are sums.
	ModeDaily Mode = "daily"
	// ModeCumulative treats every entry as a running total that must never regress;
	// a participant's total is their latest value.
	ModeCumulative Mode = "cumulative"
)

func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeDaily, "":
		return ModeDaily, true
	case ModeCumulative:
		return ModeCumulative, true
	}
	return "", false
}

type StepEntry struct {
	ID            int64     `json:"id" db:"id"`
	ParticipantID int64     `json:"participant_id" db:"participant_id"`
	ChallengeID   int64     `json:"challenge_id" db:"challenge_id"`
	Date          time.Time `json:"date" db:"date"`
	DailySteps    int64     `json:"daily_steps" db:"daily_steps"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`

	ChallengeName string `json:"challenge_name,omitempty"`
}

// CreateEntryRequest is what the add-entry form posts. Values stay as strings so
// form and JSON bodies decode the same way.
type CreateEntryRequest struct {
	ChallengeID string `json:"challenge"`
	Date        string `json:"date"`
	DailySteps  string `json:"daily_steps"`
}

type CorrectEntryRequest struct {
	Date       *string `json:"date,omitempty"`
	DailySteps *int64  `json:"daily_steps,omitempty"`
}

// EntryForm is the add-entry page model.
type EntryForm struct {
	ActiveChallenges   []ChallengeOption `json:"active_challenges"`
	DefaultDate        string            `json:"default_date"`
	DefaultChallengeID *int64            `json:"default_challenge_id"`
	PastEntries        []*StepEntry      `json:"past_entries"`
}

type ChallengeOption struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}
