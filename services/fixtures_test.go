package services

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stepChallengeAPI/internal/database/memstore"
	"stepChallengeAPI/internal/types/challenge"
	"stepChallengeAPI/internal/types/leaderboard"
	"stepChallengeAPI/internal/types/user"
)

func day(s string) time.Time {
	d, err := challenge.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func fixedClock(s string) func() time.Time {
	return func() time.Time { return day(s).Add(15 * time.Hour) }
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *memstore.Store
}

func newFixture(t *testing.T) *fixture {
	return &fixture{t: t, ctx: context.Background(), store: memstore.New()}
}

func (f *fixture) challenge(name, start, end string, active bool) *challenge.Challenge {
	c := &challenge.Challenge{Name: name, StartDate: day(start), EndDate: day(end), IsActive: active}
	require.NoError(f.t, f.store.CreateChallenge(f.ctx, c))
	return c
}

func (f *fixture) team(c *challenge.Challenge, name string) *challenge.Team {
	tm := &challenge.Team{ChallengeID: c.ID, Name: name, Color: "#112233"}
	require.NoError(f.t, f.store.CreateTeam(f.ctx, tm))
	return tm
}

func (f *fixture) user(username string) *user.User {
	u := &user.User{Username: username}
	require.NoError(f.t, f.store.CreateUser(f.ctx, u))
	return u
}

func (f *fixture) join(u *user.User, tm *challenge.Team) *challenge.Participant {
	p := &challenge.Participant{UserID: u.ID, TeamID: tm.ID}
	require.NoError(f.t, f.store.CreateParticipant(f.ctx, p))
	return p
}

func actorOf(u *user.User) *user.Actor {
	return &user.Actor{UserID: u.ID, Username: u.Username, IsStaff: u.IsStaff, IsSuperuser: u.IsSuperuser}
}

// recordingCache is an in-process LeaderboardCache that remembers invalidations.
type recordingCache struct {
	entries     map[int64]*leaderboard.Leaderboard
	invalidated []int64
	hits        int
}

func newRecordingCache() *recordingCache {
	return &recordingCache{entries: map[int64]*leaderboard.Leaderboard{}}
}

func (c *recordingCache) Get(_ context.Context, id int64) (*leaderboard.Leaderboard, bool) {
	lb, ok := c.entries[id]
	if ok {
		c.hits++
		cp := *lb
		return &cp, true
	}
	return nil, false
}

func (c *recordingCache) Set(_ context.Context, id int64, lb *leaderboard.Leaderboard) {
	cp := *lb
	c.entries[id] = &cp
}

func (c *recordingCache) Invalidate(_ context.Context, id int64) {
	delete(c.entries, id)
	c.invalidated = append(c.invalidated, id)
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
