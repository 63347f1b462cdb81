package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"stepChallengeAPI/internal/database"
	"stepChallengeAPI/internal/logger"
	"stepChallengeAPI/internal/types/challenge"
)

// DefaultTeamColor is used when a team is created without a color.
const DefaultTeamColor = "#808080"

var hexColor = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// ChallengeService backs the staff screens for challenges, teams and rosters.
type ChallengeService struct {
	store ChallengeStore
	cache LeaderboardCache
	log   *logger.Logger
}

func NewChallengeService(store ChallengeStore, cache LeaderboardCache, log *logger.Logger) *ChallengeService {
	return &ChallengeService{store: store, cache: cacheOrNoop(cache), log: log}
}

// ListChallenges accepts the raw ?active= value: "", "true" or "false".
func (s *ChallengeService) ListChallenges(ctx context.Context, activeParam string) ([]*challenge.Challenge, error) {
	var active *bool
	if activeParam != "" {
		v, err := strconv.ParseBool(activeParam)
		if err != nil {
			return nil, NewInvalidError("active must be true or false")
		}
		active = &v
	}
	return s.store.ListChallenges(ctx, active)
}

func (s *ChallengeService) GetChallenge(ctx context.Context, id int64) (*challenge.Challenge, error) {
	c, err := s.store.GetChallenge(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, NewNotFoundError(fmt.Sprintf("challenge %d not found", id))
		}
		return nil, err
	}
	return c, nil
}

func (s *ChallengeService) CreateChallenge(ctx context.Context, req *challenge.CreateChallengeRequest) (*challenge.Challenge, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, newFieldError("name", "Name is required.")
	}
	start, err := challenge.ParseDate(strings.TrimSpace(req.StartDate))
	if err != nil {
		return nil, newFieldError("start_date", "Enter a valid date (YYYY-MM-DD).")
	}
	end, err := challenge.ParseDate(strings.TrimSpace(req.EndDate))
	if err != nil {
		return nil, newFieldError("end_date", "Enter a valid date (YYYY-MM-DD).")
	}

	c := &challenge.Challenge{Name: name, StartDate: start, EndDate: end, IsActive: true}
	if req.IsActive != nil {
		c.IsActive = *req.IsActive
	}
	if err := checkWindow(c); err != nil {
		return nil, err
	}

	if err := s.store.CreateChallenge(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create challenge: %w", err)
	}

	s.log.Infow("challenge created", "challenge_id", c.ID, "name", c.Name, "is_active", c.IsActive)
	return c, nil
}

// UpdateChallenge applies the non-nil fields of req and re-checks the window.
func (s *ChallengeService) UpdateChallenge(ctx context.Context, id int64, req *challenge.UpdateChallengeRequest) (*challenge.Challenge, error) {
	c, err := s.GetChallenge(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, newFieldError("name", "Name is required.")
		}
		c.Name = name
	}
	if req.StartDate != nil {
		if c.StartDate, err = challenge.ParseDate(strings.TrimSpace(*req.StartDate)); err != nil {
			return nil, newFieldError("start_date", "Enter a valid date (YYYY-MM-DD).")
		}
	}
	if req.EndDate != nil {
		if c.EndDate, err = challenge.ParseDate(strings.TrimSpace(*req.EndDate)); err != nil {
			return nil, newFieldError("end_date", "Enter a valid date (YYYY-MM-DD).")
		}
	}
	if req.IsActive != nil {
		c.IsActive = *req.IsActive
	}
	if err := checkWindow(c); err != nil {
		return nil, err
	}

	if err := s.store.UpdateChallenge(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to update challenge %d: %w", id, err)
	}
	s.cache.Invalidate(ctx, c.ID)

	s.log.Infow("challenge updated", "challenge_id", c.ID, "is_active", c.IsActive)
	return c, nil
}

func (s *ChallengeService) ListTeams(ctx context.Context, challengeID int64) ([]*challenge.Team, error) {
	if _, err := s.GetChallenge(ctx, challengeID); err != nil {
		return nil, err
	}
	return s.store.ListTeams(ctx, challengeID)
}

func (s *ChallengeService) CreateTeam(ctx context.Context, challengeID int64, req *challenge.CreateTeamRequest) (*challenge.Team, error) {
	if _, err := s.GetChallenge(ctx, challengeID); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, newFieldError("name", "Team name is required.")
	}
	color := strings.TrimSpace(req.Color)
	if color == "" {
		color = DefaultTeamColor
	}
	if !hexColor.MatchString(color) {
		return nil, newFieldError("color", "Color must look like #rrggbb.")
	}

	t := &challenge.Team{ChallengeID: challengeID, Name: name, Color: color}
	if err := s.store.CreateTeam(ctx, t); err != nil {
		if errors.Is(err, database.ErrConflict) {
			return nil, NewConflictError(fmt.Sprintf("team %q already exists in this challenge", name))
		}
		return nil, fmt.Errorf("failed to create team: %w", err)
	}
	s.cache.Invalidate(ctx, challengeID)

	s.log.Infow("team created", "team_id", t.ID, "challenge_id", challengeID, "name", t.Name)
	return t, nil
}

func (s *ChallengeService) ListParticipants(ctx context.Context, challengeID int64) ([]*challenge.Participant, error) {
	if _, err := s.GetChallenge(ctx, challengeID); err != nil {
		return nil, err
	}
	return s.store.ListParticipants(ctx, challengeID)
}

// AddParticipant puts a user on a team. A user may join a given team once.
func (s *ChallengeService) AddParticipant(ctx context.Context, req *challenge.CreateParticipantRequest) (*challenge.Participant, error) {
	if req.UserID <= 0 {
		return nil, newFieldError("user_id", "user_id is required.")
	}
	if req.TeamID <= 0 {
		return nil, newFieldError("team_id", "team_id is required.")
	}

	team, err := s.store.GetTeam(ctx, req.TeamID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, newFieldError("team_id", "Select a valid team.")
		}
		return nil, err
	}

	p := &challenge.Participant{UserID: req.UserID, TeamID: team.ID}
	if err := s.store.CreateParticipant(ctx, p); err != nil {
		switch {
		case errors.Is(err, database.ErrConflict):
			return nil, NewConflictError("user is already on this team")
		case errors.Is(err, database.ErrNotFound):
			return nil, newFieldError("user_id", "Select a valid user.")
		}
		return nil, fmt.Errorf("failed to add participant: %w", err)
	}
	s.cache.Invalidate(ctx, team.ChallengeID)

	s.log.Infow("participant added", "participant_id", p.ID, "user_id", p.UserID, "team_id", p.TeamID)
	return p, nil
}

func checkWindow(c *challenge.Challenge) error {
	if c.EndDate.Before(c.StartDate) {
		return newFieldError("end_date", "End date must be on or after the start date.")
	}
	return nil
}
