package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"stepChallengeAPI/internal/database"
	"stepChallengeAPI/internal/logger"
	"stepChallengeAPI/internal/types/challenge"
	"stepChallengeAPI/internal/types/entry"
	"stepChallengeAPI/internal/types/leaderboard"
	"stepChallengeAPI/internal/types/user"
)

const homeTopN = 3

type LeaderboardServiceStore interface {
	ChallengeStore
	StatsStore
}

type LeaderboardService struct {
	store LeaderboardServiceStore
	mode  entry.Mode
	cache LeaderboardCache
	log   *logger.Logger
	now   func() time.Time
}

func NewLeaderboardService(store LeaderboardServiceStore, mode entry.Mode, cache LeaderboardCache, log *logger.Logger) *LeaderboardService {
	return &LeaderboardService{
		store: store,
		mode:  mode,
		cache: cacheOrNoop(cache),
		log:   log,
		now:   time.Now,
	}
}

// Standings ranks the participants and teams of c, using the cache when one is
// configured. Days are computed for the current date on every call.
func (s *LeaderboardService) Standings(ctx context.Context, c *challenge.Challenge) (*leaderboard.Leaderboard, error) {
	if cached, ok := s.cache.Get(ctx, c.ID); ok {
		cached.Challenge = c
		cached.Days = leaderboard.Days(c, s.now())
		return cached, nil
	}

	participants, err := s.store.ParticipantTotals(ctx, c.ID, s.mode)
	if err != nil {
		return nil, err
	}
	teams, err := s.store.ListTeams(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	lb := &leaderboard.Leaderboard{
		Challenge:    c,
		Participants: RankParticipants(participants),
		Teams:        RankTeams(RollUpTeams(teams, participants)),
		Days:         leaderboard.Days(c, s.now()),
	}
	s.cache.Set(ctx, c.ID, lb)
	return lb, nil
}

// ChallengeStandings loads the challenge by id and returns its standings.
func (s *LeaderboardService) ChallengeStandings(ctx context.Context, id int64) (*leaderboard.Leaderboard, error) {
	c, err := s.store.GetChallenge(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, NewNotFoundError(fmt.Sprintf("challenge %d not found", id))
		}
		return nil, err
	}
	return s.Standings(ctx, c)
}

// Home assembles the dashboard. actor is nil for anonymous callers.
func (s *LeaderboardService) Home(ctx context.Context, actor *user.Actor) (*leaderboard.Home, error) {
	home := &leaderboard.Home{
		TopParticipants: []*leaderboard.ParticipantStanding{},
		TopTeams:        []*leaderboard.TeamStanding{},
	}

	current, err := s.store.LatestChallenge(ctx, true)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return home, nil
	}
	home.CurrentChallenge = current

	lb, err := s.Standings(ctx, current)
	if err != nil {
		return nil, err
	}
	days := lb.Days
	home.Days = &days
	home.TopParticipants = topParticipants(lb.Participants, homeTopN)
	home.TopTeams = topTeams(lb.Teams, homeTopN)

	if actor != nil {
		p, err := s.store.FindParticipant(ctx, actor.UserID, current.ID)
		if err != nil {
			return nil, err
		}
		home.Participant = p
		for _, st := range lb.Participants {
			if st.UserID == actor.UserID {
				home.MyTotalSteps += st.TotalSteps
			}
		}
	}

	entryCount, err := s.store.CountEntries(ctx, current.ID)
	if err != nil {
		return nil, err
	}
	home.QuickStats = BuildQuickStats(lb.Participants, entryCount)

	return home, nil
}

// Page resolves the leaderboard view. challengeParam is the raw ?challenge=
// value; empty means "pick a sensible default".
func (s *LeaderboardService) Page(ctx context.Context, actor *user.Actor, challengeParam string) (*leaderboard.Page, error) {
	page := &leaderboard.Page{
		Challenges:   []*challenge.Challenge{},
		Participants: []*leaderboard.ParticipantStanding{},
		Teams:        []*leaderboard.TeamStanding{},
	}

	if actor != nil {
		challenges, err := s.store.ListChallengesForUser(ctx, actor.UserID, false)
		if err != nil {
			return nil, err
		}
		page.Challenges = challenges
	}

	selected, err := s.selectChallenge(ctx, challengeParam)
	if err != nil {
		return nil, err
	}
	if selected == nil {
		return page, nil
	}

	lb, err := s.Standings(ctx, selected)
	if err != nil {
		return nil, err
	}
	page.Challenge = selected
	page.Participants = lb.Participants
	page.Teams = lb.Teams
	days := lb.Days
	page.Days = &days

	return page, nil
}

func (s *LeaderboardService) selectChallenge(ctx context.Context, param string) (*challenge.Challenge, error) {
	param = strings.TrimSpace(param)
	if param != "" {
		id, err := strconv.ParseInt(param, 10, 64)
		if err != nil || id <= 0 {
			return nil, NewInvalidError("challenge must be a numeric id")
		}
		c, err := s.store.GetChallenge(ctx, id)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return nil, NewNotFoundError(fmt.Sprintf("challenge %d not found", id))
			}
			return nil, err
		}
		return c, nil
	}

	c, err := s.store.LatestChallenge(ctx, true)
	if err != nil || c != nil {
		return c, err
	}
	return s.store.LatestChallenge(ctx, false)
}

// RankParticipants orders by total descending, then participant id, and
// assigns competition ranks: equal totals share a rank and the next distinct
// total skips ahead (1, 1, 3).
func RankParticipants(list []*leaderboard.ParticipantStanding) []*leaderboard.ParticipantStanding {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].TotalSteps != list[j].TotalSteps {
			return list[i].TotalSteps > list[j].TotalSteps
		}
		return list[i].ParticipantID < list[j].ParticipantID
	})
	for i, st := range list {
		if i > 0 && st.TotalSteps == list[i-1].TotalSteps {
			st.Rank = list[i-1].Rank
		} else {
			st.Rank = i + 1
		}
	}
	return list
}

// RankTeams is RankParticipants for teams, tie-broken by team id.
func RankTeams(list []*leaderboard.TeamStanding) []*leaderboard.TeamStanding {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].TotalSteps != list[j].TotalSteps {
			return list[i].TotalSteps > list[j].TotalSteps
		}
		return list[i].TeamID < list[j].TeamID
	})
	for i, st := range list {
		if i > 0 && st.TotalSteps == list[i-1].TotalSteps {
			st.Rank = list[i-1].Rank
		} else {
			st.Rank = i + 1
		}
	}
	return list
}

// RollUpTeams sums member totals per team. Teams without members score zero.
func RollUpTeams(teams []*challenge.Team, participants []*leaderboard.ParticipantStanding) []*leaderboard.TeamStanding {
	byID := make(map[int64]*leaderboard.TeamStanding, len(teams))
	out := make([]*leaderboard.TeamStanding, 0, len(teams))
	for _, t := range teams {
		st := &leaderboard.TeamStanding{TeamID: t.ID, Name: t.Name, Color: t.Color}
		byID[t.ID] = st
		out = append(out, st)
	}
	for _, p := range participants {
		if st, ok := byID[p.TeamID]; ok {
			st.TotalSteps += p.TotalSteps
			st.MemberCount++
		}
	}
	return out
}

// BuildQuickStats summarises a challenge for the dashboard.
func BuildQuickStats(participants []*leaderboard.ParticipantStanding, entryCount int) *leaderboard.QuickStats {
	stats := &leaderboard.QuickStats{
		ParticipantCount: len(participants),
		EntryCount:       entryCount,
	}
	for _, p := range participants {
		stats.TotalSteps += p.TotalSteps
	}
	if stats.ParticipantCount > 0 {
		stats.AvgSteps = stats.TotalSteps / int64(stats.ParticipantCount)
	}
	return stats
}

func topParticipants(list []*leaderboard.ParticipantStanding, n int) []*leaderboard.ParticipantStanding {
	if len(list) > n {
		return list[:n]
	}
	return list
}

func topTeams(list []*leaderboard.TeamStanding, n int) []*leaderboard.TeamStanding {
	if len(list) > n {
		return list[:n]
	}
	return list
}
