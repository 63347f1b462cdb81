package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"stepChallengeAPI/internal/logger"
	"stepChallengeAPI/internal/types/leaderboard"
)

// LeaderboardCache keeps computed standings in Redis as JSON. Redis failures
// are logged and reported as misses; the database stays the source of truth.
type LeaderboardCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// Connect parses url, opens a client and checks it with a ping.
func Connect(ctx context.Context, url string, ttl time.Duration, log *logger.Logger) (*LeaderboardCache, error) {
	opt, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewLeaderboardCache(client, ttl, log), nil
}

func NewLeaderboardCache(client *redis.Client, ttl time.Duration, log *logger.Logger) *LeaderboardCache {
	return &LeaderboardCache{client: client, ttl: ttl, log: log}
}

func Key(challengeID int64) string {
	return fmt.Sprintf("leaderboard:%d", challengeID)
}

func (c *LeaderboardCache) Get(ctx context.Context, challengeID int64) (*leaderboard.Leaderboard, bool) {
	val, err := c.client.Get(ctx, Key(challengeID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warnw("leaderboard cache read failed", "challenge_id", challengeID, "error", err)
		}
		return nil, false
	}

	var lb leaderboard.Leaderboard
	if err := json.Unmarshal(val, &lb); err != nil {
		c.log.Warnw("leaderboard cache entry is corrupt", "challenge_id", challengeID, "error", err)
		return nil, false
	}
	return &lb, true
}

func (c *LeaderboardCache) Set(ctx context.Context, challengeID int64, lb *leaderboard.Leaderboard) {
	data, err := json.Marshal(lb)
	if err != nil {
		c.log.Warnw("failed to encode leaderboard", "challenge_id", challengeID, "error", err)
		return
	}
	if err := c.client.Set(ctx, Key(challengeID), data, c.ttl).Err(); err != nil {
		c.log.Warnw("leaderboard cache write failed", "challenge_id", challengeID, "error", err)
	}
}

func (c *LeaderboardCache) Invalidate(ctx context.Context, challengeID int64) {
	if err := c.client.Del(ctx, Key(challengeID)).Err(); err != nil {
		c.log.Warnw("leaderboard cache invalidation failed", "challenge_id", challengeID, "error", err)
	}
}

func (c *LeaderboardCache) Close() error {
	return c.client.Close()
}
