package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepChallengeAPI/internal/logger"
	"stepChallengeAPI/internal/types/challenge"
	"stepChallengeAPI/internal/types/leaderboard"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "leaderboard:42", Key(42))
}

func TestUnreachableRedisIsAMiss(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	c := NewLeaderboardCache(client, time.Minute, logger.NewNop())
	ctx := context.Background()

	c.Set(ctx, 1, &leaderboard.Leaderboard{})
	c.Invalidate(ctx, 1)
	lb, ok := c.Get(ctx, 1)
	assert.False(t, ok)
	assert.Nil(t, lb)
}

func TestRoundTrip(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	c, err := Connect(ctx, url, time.Minute, logger.NewNop())
	require.NoError(t, err)
	defer c.Close()

	id := time.Now().UnixNano()
	defer c.Invalidate(ctx, id)

	want := &leaderboard.Leaderboard{
		Challenge: &challenge.Challenge{ID: id, Name: "January"},
		Participants: []*leaderboard.ParticipantStanding{
			{ParticipantID: 1, Username: "alice", TotalSteps: 5000, Rank: 1},
		},
		Teams: []*leaderboard.TeamStanding{{TeamID: 1, Name: "Fast Feet", TotalSteps: 5000, Rank: 1, MemberCount: 1}},
	}
	c.Set(ctx, id, want)

	got, ok := c.Get(ctx, id)
	require.True(t, ok)
	assert.Equal(t, want.Participants, got.Participants)
	assert.Equal(t, want.Teams, got.Teams)

	c.Invalidate(ctx, id)
	_, ok = c.Get(ctx, id)
	assert.False(t, ok)
}
