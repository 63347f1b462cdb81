package leaderboard

import (
	"time"

	"stepChallengeAPI/internal/types/challenge"
)

type ParticipantStanding struct {
	ParticipantID int64  `json:"participant_id" db:"participant_id"`
	UserID        int64  `json:"user_id" db:"user_id"`
	Username      string `json:"username" db:"username"`
	DisplayName   string `json:"display_name"`
	TeamID        int64  `json:"team_id" db:"team_id"`
	TeamName      string `json:"team_name" db:"team_name"`
	TeamColor     string `json:"team_color" db:"team_color"`
	TotalSteps    int64  `json:"total_steps" db:"total_steps"`
	Rank          int    `json:"rank" db:"rank"`
}

type TeamStanding struct {
	TeamID      int64  `json:"team_id" db:"team_id"`
	Name        string `json:"name" db:"name"`
	Color       string `json:"color" db:"color"`
	TotalSteps  int64  `json:"total_steps" db:"total_steps"`
	MemberCount int    `json:"member_count" db:"member_count"`
	Rank        int    `json:"rank" db:"rank"`
}

type Leaderboard struct {
	Challenge    *challenge.Challenge   `json:"challenge"`
	Participants []*ParticipantStanding `json:"participants"`
	Teams        []*TeamStanding        `json:"teams"`
	Days         ChallengeDays          `json:"days"`
}

type QuickStats struct {
	TotalSteps       int64 `json:"total_steps"`
	ParticipantCount int   `json:"participant_count"`
	EntryCount       int   `json:"entry_count"`
	AvgSteps         int64 `json:"avg_steps"`
}

type ChallengeDays struct {
	TotalDays       int `json:"total_days"`
	DaysElapsed     int `json:"days_elapsed"`
	DaysLeft        int `json:"days_left"`
	ProgressPercent int `json:"progress_percent"`
}

// Days computes the time progress of c as seen on today. Only calendar dates
// matter; clock and zone of the arguments are ignored.
func Days(c *challenge.Challenge, today time.Time) ChallengeDays {
	start := challenge.TruncateDay(c.StartDate)
	end := challenge.TruncateDay(c.EndDate)
	now := challenge.TruncateDay(today)

	total := daysBetween(start, end) + 1
	if total < 1 {
		total = 1
	}

	elapsed := daysBetween(start, now) + 1
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > total {
		elapsed = total
	}

	left := daysBetween(now, end)
	if left < 0 {
		left = 0
	}

	return ChallengeDays{
		TotalDays:       total,
		DaysElapsed:     elapsed,
		DaysLeft:        left,
		ProgressPercent: 100 * elapsed / total,
	}
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

// Home is the dashboard payload.
type Home struct {
	CurrentChallenge *challenge.Challenge   `json:"current_challenge"`
	Participant      *challenge.Participant `json:"participant"`
	MyTotalSteps     int64                  `json:"my_total_steps"`
	TopParticipants  []*ParticipantStanding `json:"top_participants"`
	TopTeams         []*TeamStanding        `json:"top_teams"`
	QuickStats       *QuickStats            `json:"quick_stats"`
	Days             *ChallengeDays         `json:"days"`
}

// Page is the leaderboard view payload.
type Page struct {
	Challenges   []*challenge.Challenge `json:"challenges"`
	Challenge    *challenge.Challenge   `json:"challenge"`
	Participants []*ParticipantStanding `json:"participants"`
	Teams        []*TeamStanding        `json:"teams"`
	Days         *ChallengeDays         `json:"days"`
}
