package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"stepChallengeAPI/internal/database"
	"stepChallengeAPI/internal/logger"
	"stepChallengeAPI/internal/types/challenge"
	"stepChallengeAPI/internal/types/entry"
	"stepChallengeAPI/internal/types/user"
)

const pastEntriesOnForm = 10

type EntryServiceStore interface {
	ChallengeStore
	EntryStore
}

// EntryService owns every interactive write of step entries. All of them go
// through save, which validates before persisting.
type EntryService struct {
	store     EntryServiceStore
	validator *EntryValidator
	cache     LeaderboardCache
	log       *logger.Logger
	now       func() time.Time
}

func NewEntryService(store EntryServiceStore, mode entry.Mode, cache LeaderboardCache, log *logger.Logger) *EntryService {
	return &EntryService{
		store:     store,
		validator: NewEntryValidator(store, mode),
		cache:     cacheOrNoop(cache),
		log:       log,
		now:       time.Now,
	}
}

// EntryForm builds the add-entry page: the open challenges the caller is on,
// defaults, and their latest entries.
func (s *EntryService) EntryForm(ctx context.Context, actor *user.Actor) (*entry.EntryForm, error) {
	challenges, err := s.store.ListChallengesForUser(ctx, actor.UserID, true)
	if err != nil {
		return nil, err
	}

	form := &entry.EntryForm{
		ActiveChallenges: make([]entry.ChallengeOption, 0, len(challenges)),
		DefaultDate:      challenge.TruncateDay(s.now()).Format(challenge.DateLayout),
	}
	for _, c := range challenges {
		form.ActiveChallenges = append(form.ActiveChallenges, entry.ChallengeOption{
			ID:        c.ID,
			Name:      c.Name,
			StartDate: c.StartDate.Format(challenge.DateLayout),
			EndDate:   c.EndDate.Format(challenge.DateLayout),
		})
	}
	if len(challenges) > 0 {
		id := challenges[0].ID
		form.DefaultChallengeID = &id
	}

	past, err := s.store.ListEntriesByUser(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	if len(past) > pastEntriesOnForm {
		past = past[:pastEntriesOnForm]
	}
	form.PastEntries = past

	return form, nil
}

// CreateEntry records steps for the caller in the chosen challenge.
func (s *EntryService) CreateEntry(ctx context.Context, actor *user.Actor, req *entry.CreateEntryRequest) (*entry.StepEntry, error) {
	challengeID, day, steps, err := parseEntryRequest(req)
	if err != nil {
		return nil, err
	}

	c, err := s.store.GetChallenge(ctx, challengeID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, newFieldError("challenge", "Select a valid challenge.")
		}
		return nil, err
	}

	participant, err := s.store.FindParticipant(ctx, actor.UserID, c.ID)
	if err != nil {
		return nil, err
	}
	if participant == nil {
		s.log.Warnw("entry rejected: caller is not a participant", "user_id", actor.UserID, "challenge_id", c.ID)
		return nil, NewForbiddenError(msgNotParticipating)
	}

	e := &entry.StepEntry{
		ParticipantID: participant.ID,
		ChallengeID:   c.ID,
		Date:          day,
		DailySteps:    steps,
	}
	if err := s.save(ctx, actor, c, e, true); err != nil {
		return nil, err
	}
	e.ChallengeName = c.Name

	s.log.Infow("step entry created",
		"entry_id", e.ID,
		"user_id", actor.UserID,
		"challenge_id", c.ID,
		"date", day.Format(challenge.DateLayout),
		"daily_steps", steps,
	)
	return e, nil
}

// ListMyEntries returns the caller's own entries, newest first.
func (s *EntryService) ListMyEntries(ctx context.Context, actor *user.Actor) ([]*entry.StepEntry, error) {
	return s.store.ListEntriesByUser(ctx, actor.UserID)
}

// ListChallengeEntries is the admin listing of one challenge.
func (s *EntryService) ListChallengeEntries(ctx context.Context, challengeID int64) ([]*entry.StepEntry, error) {
	if _, err := s.store.GetChallenge(ctx, challengeID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, NewNotFoundError("challenge not found")
		}
		return nil, err
	}
	return s.store.ListEntriesByChallenge(ctx, challengeID)
}

// CorrectEntry lets staff fix an existing entry, subject to CanEdit.
func (s *EntryService) CorrectEntry(ctx context.Context, actor *user.Actor, id int64, req *entry.CorrectEntryRequest) (*entry.StepEntry, error) {
	e, err := s.store.GetEntry(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, NewNotFoundError("entry not found")
		}
		return nil, err
	}

	c, err := s.store.GetChallenge(ctx, e.ChallengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load challenge of entry %d: %w", id, err)
	}

	if !CanEdit(actor, c) {
		return nil, NewForbiddenError("This entry can no longer be edited.")
	}

	if req.Date != nil {
		day, err := challenge.ParseDate(strings.TrimSpace(*req.Date))
		if err != nil {
			return nil, newFieldError("date", "Enter a valid date (YYYY-MM-DD).")
		}
		e.Date = day
	}
	if req.DailySteps != nil {
		e.DailySteps = *req.DailySteps
	}

	if err := s.save(ctx, actor, c, e, false); err != nil {
		return nil, err
	}

	s.log.Infow("step entry corrected", "entry_id", e.ID, "actor_id", actor.UserID)
	return e, nil
}

func (s *EntryService) save(ctx context.Context, actor *user.Actor, c *challenge.Challenge, e *entry.StepEntry, isNew bool) error {
	if err := s.validator.Validate(ctx, c, e, canOverrideClosed(actor)); err != nil {
		return err
	}

	var err error
	if isNew {
		err = s.store.InsertEntry(ctx, e)
	} else {
		err = s.store.UpdateEntry(ctx, e)
	}
	if err != nil {
		if errors.Is(err, database.ErrConflict) {
			return newFieldError("date", msgDuplicateEntry)
		}
		return fmt.Errorf("failed to save step entry: %w", err)
	}

	s.cache.Invalidate(ctx, c.ID)
	return nil
}

func parseEntryRequest(req *entry.CreateEntryRequest) (int64, time.Time, int64, error) {
	challengeID, err := strconv.ParseInt(strings.TrimSpace(req.ChallengeID), 10, 64)
	if err != nil {
		return 0, time.Time{}, 0, newFieldError("challenge", "Select a valid challenge.")
	}

	dateStr := strings.TrimSpace(req.Date)
	if dateStr == "" {
		return 0, time.Time{}, 0, newFieldError("date", msgDateRequired)
	}
	day, err := challenge.ParseDate(dateStr)
	if err != nil {
		return 0, time.Time{}, 0, newFieldError("date", "Enter a valid date (YYYY-MM-DD).")
	}

	steps, err := strconv.ParseInt(strings.ReplaceAll(strings.TrimSpace(req.DailySteps), ",", ""), 10, 64)
	if err != nil {
		return 0, time.Time{}, 0, newFieldError("daily_steps", "Enter a whole number of steps.")
	}

	return challengeID, day, steps, nil
}
