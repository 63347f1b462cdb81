package challenge

import (
	"time"
)

// DateLayout is the wire and form format for calendar dates.
const DateLayout = "2006-01-02"

type Challenge struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	StartDate time.Time `json:"start_date" db:"start_date"`
	EndDate   time.Time `json:"end_date" db:"end_date"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Contains reports whether day falls inside the challenge window, bounds included.
func (c *Challenge) Contains(day time.Time) bool {
	d := TruncateDay(day)
	return !d.Before(TruncateDay(c.StartDate)) && !d.After(TruncateDay(c.EndDate))
}

type Team struct {
	ID          int64  `json:"id" db:"id"`
	ChallengeID int64  `json:"challenge_id" db:"challenge_id"`
	Name        string `json:"name" db:"name"`
	Color       string `json:"color" db:"color"`
}

type Participant struct {
	ID          int64     `json:"id" db:"id"`
	UserID      int64     `json:"user_id" db:"user_id"`
	TeamID      int64     `json:"team_id" db:"team_id"`
	ChallengeID int64     `json:"challenge_id" db:"challenge_id"`
	JoinedAt    time.Time `json:"joined_at" db:"joined_at"`

	// Joined for display.
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	TeamName    string `json:"team_name"`
	TeamColor   string `json:"team_color"`
}

type CreateChallengeRequest struct {
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	IsActive  *bool  `json:"is_active,omitempty"`
}

type UpdateChallengeRequest struct {
	Name      *string `json:"name,omitempty"`
	StartDate *string `json:"start_date,omitempty"`
	EndDate   *string `json:"end_date,omitempty"`
	IsActive  *bool   `json:"is_active,omitempty"`
}

type CreateTeamRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type CreateParticipantRequest struct {
	UserID int64 `json:"user_id"`
	TeamID int64 `json:"team_id"`
}

// TruncateDay drops the clock part of t, keeping its calendar date in UTC.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a UTC day.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// DisplayName mirrors how a participant is shown on boards: full name, or the
// username when no name was recorded.
func DisplayName(username, firstName, lastName string) string {
	full := firstName
	if lastName != "" {
		if full != "" {
			full += " "
		}
		full += lastName
	}
	if full == "" {
		return username
	}
	return full
}
