package services

import (
	"context"
	"time"

	"stepChallengeAPI/internal/types/challenge"
	"stepChallengeAPI/internal/types/entry"
	"stepChallengeAPI/internal/types/leaderboard"
	"stepChallengeAPI/internal/types/user"
)

// Lookups that find nothing return database.ErrNotFound, except the Find*/Latest*/
// Previous* helpers which return (nil, nil). Unique key violations return
// database.ErrConflict.

type ChallengeStore interface {
	GetChallenge(ctx context.Context, id int64) (*challenge.Challenge, error)
	ListChallenges(ctx context.Context, active *bool) ([]*challenge.Challenge, error)
	ListChallengesForUser(ctx context.Context, userID int64, activeOnly bool) ([]*challenge.Challenge, error)
	LatestChallenge(ctx context.Context, activeOnly bool) (*challenge.Challenge, error)
	CreateChallenge(ctx context.Context, c *challenge.Challenge) error
	UpdateChallenge(ctx context.Context, c *challenge.Challenge) error

	GetTeam(ctx context.Context, id int64) (*challenge.Team, error)
	ListTeams(ctx context.Context, challengeID int64) ([]*challenge.Team, error)
	CreateTeam(ctx context.Context, t *challenge.Team) error

	CreateParticipant(ctx context.Context, p *challenge.Participant) error
	FindParticipant(ctx context.Context, userID, challengeID int64) (*challenge.Participant, error)
	ListParticipants(ctx context.Context, challengeID int64) ([]*challenge.Participant, error)
}

type UserStore interface {
	GetUser(ctx context.Context, id int64) (*user.User, error)
	GetUserByUsername(ctx context.Context, username string) (*user.User, error)
	CreateUser(ctx context.Context, u *user.User) error
}

type EntryStore interface {
	GetEntry(ctx context.Context, id int64) (*entry.StepEntry, error)
	InsertEntry(ctx context.Context, e *entry.StepEntry) error
	UpdateEntry(ctx context.Context, e *entry.StepEntry) error
	PreviousEntry(ctx context.Context, participantID, challengeID int64, before time.Time) (*entry.StepEntry, error)
	ListEntriesByUser(ctx context.Context, userID int64) ([]*entry.StepEntry, error)
	ListEntriesByChallenge(ctx context.Context, challengeID int64) ([]*entry.StepEntry, error)
}

type StatsStore interface {
	// ParticipantTotals returns every participant of the challenge with their
	// total, zero when they have no entries. Rank is left unset.
	ParticipantTotals(ctx context.Context, challengeID int64, mode entry.Mode) ([]*leaderboard.ParticipantStanding, error)
	CountEntries(ctx context.Context, challengeID int64) (int, error)
}

// ImportStore is the get-or-create surface used by the CSV importer.
type ImportStore interface {
	GetOrCreateChallenge(ctx context.Context, c *challenge.Challenge) (bool, error)
	GetOrCreateTeam(ctx context.Context, t *challenge.Team) (bool, error)
	GetOrCreateUser(ctx context.Context, u *user.User) (bool, error)
	GetOrCreateParticipant(ctx context.Context, p *challenge.Participant) (bool, error)
	// BulkInsertEntries skips rows colliding with an existing unique key and
	// returns how many were written.
	BulkInsertEntries(ctx context.Context, entries []*entry.StepEntry) (int, error)
}

// Store is everything the HTTP server needs.
type Store interface {
	ChallengeStore
	UserStore
	EntryStore
	StatsStore
	Ping(ctx context.Context) error
}

// LeaderboardCache stores computed standings per challenge. Implementations
// must treat failures as misses.
type LeaderboardCache interface {
	Get(ctx context.Context, challengeID int64) (*leaderboard.Leaderboard, bool)
	Set(ctx context.Context, challengeID int64, lb *leaderboard.Leaderboard)
	Invalidate(ctx context.Context, challengeID int64)
}

type noopCache struct{}

func (noopCache) Get(context.Context, int64) (*leaderboard.Leaderboard, bool) { return nil, false }
func (noopCache) Set(context.Context, int64, *leaderboard.Leaderboard)        {}
func (noopCache) Invalidate(context.Context, int64)                           {}

func cacheOrNoop(c LeaderboardCache) LeaderboardCache {
	if c == nil {
		return noopCache{}
	}
	return c
}
