// Package memstore is an in-memory store with the same ordering and conflict
// rules as database.PostgresStore. Only tests link it.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"stepChallengeAPI/internal/database"
	"stepChallengeAPI/internal/types/challenge"
	"stepChallengeAPI/internal/types/entry"
	"stepChallengeAPI/internal/types/leaderboard"
	"stepChallengeAPI/internal/types/user"
)

// Store keeps everything in maps.
type Store struct {
	mu sync.Mutex

	seq          int64
	users        map[int64]*user.User
	challenges   map[int64]*challenge.Challenge
	teams        map[int64]*challenge.Team
	participants map[int64]*challenge.Participant
	entries      map[int64]*entry.StepEntry

	now func() time.Time
}

func New() *Store {
	return &Store{
		users:        map[int64]*user.User{},
		challenges:   map[int64]*challenge.Challenge{},
		teams:        map[int64]*challenge.Team{},
		participants: map[int64]*challenge.Participant{},
		entries:      map[int64]*entry.StepEntry{},
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (m *Store) nextID() int64 {
	m.seq++
	return m.seq
}

func (m *Store) Ping(context.Context) error { return nil }

// ---------------------------------------------------------------------------
// Challenges
// ---------------------------------------------------------------------------

func sortChallenges(list []*challenge.Challenge) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].StartDate.Equal(list[j].StartDate) {
			return list[i].StartDate.After(list[j].StartDate)
		}
		return list[i].ID > list[j].ID
	})
}

func (m *Store) GetChallenge(_ context.Context, id int64) (*challenge.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.challenges[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Store) ListChallenges(_ context.Context, active *bool) ([]*challenge.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*challenge.Challenge{}
	for _, c := range m.challenges {
		if active != nil && c.IsActive != *active {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sortChallenges(out)
	return out, nil
}

func (m *Store) ListChallengesForUser(_ context.Context, userID int64, activeOnly bool) ([]*challenge.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[int64]bool{}
	out := []*challenge.Challenge{}
	for _, p := range m.participants {
		if p.UserID != userID {
			continue
		}
		t := m.teams[p.TeamID]
		c := m.challenges[t.ChallengeID]
		if seen[c.ID] || (activeOnly && !c.IsActive) {
			continue
		}
		seen[c.ID] = true
		cp := *c
		out = append(out, &cp)
	}
	sortChallenges(out)
	return out, nil
}

func (m *Store) LatestChallenge(ctx context.Context, activeOnly bool) (*challenge.Challenge, error) {
	var filter *bool
	if activeOnly {
		filter = &activeOnly
	}
	list, _ := m.ListChallenges(ctx, filter)
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (m *Store) CreateChallenge(_ context.Context, c *challenge.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.nextID()
	c.CreatedAt = m.now()
	cp := *c
	m.challenges[c.ID] = &cp
	return nil
}

func (m *Store) UpdateChallenge(_ context.Context, c *challenge.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.challenges[c.ID]
	if !ok {
		return database.ErrNotFound
	}
	existing.Name = c.Name
	existing.StartDate = c.StartDate
	existing.EndDate = c.EndDate
	existing.IsActive = c.IsActive
	return nil
}

// ---------------------------------------------------------------------------
// Teams and participants
// ---------------------------------------------------------------------------

func (m *Store) GetTeam(_ context.Context, id int64) (*challenge.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teams[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Store) ListTeams(_ context.Context, challengeID int64) ([]*challenge.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*challenge.Team{}
	for _, t := range m.teams {
		if t.ChallengeID == challengeID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Store) findTeamLocked(challengeID int64, name string) *challenge.Team {
	for _, t := range m.teams {
		if t.ChallengeID == challengeID && t.Name == name {
			return t
		}
	}
	return nil
}

func (m *Store) CreateTeam(_ context.Context, t *challenge.Team) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.challenges[t.ChallengeID]; !ok {
		return database.ErrNotFound
	}
	if m.findTeamLocked(t.ChallengeID, t.Name) != nil {
		return database.ErrConflict
	}
	t.ID = m.nextID()
	cp := *t
	m.teams[t.ID] = &cp
	return nil
}

// hydrateLocked fills the joined display fields of p.
func (m *Store) hydrateLocked(p *challenge.Participant) *challenge.Participant {
	cp := *p
	t := m.teams[p.TeamID]
	u := m.users[p.UserID]
	cp.ChallengeID = t.ChallengeID
	cp.TeamName = t.Name
	cp.TeamColor = t.Color
	cp.Username = u.Username
	cp.DisplayName = challenge.DisplayName(u.Username, u.FirstName, u.LastName)
	return &cp
}

func (m *Store) findParticipantLocked(userID, teamID int64) *challenge.Participant {
	for _, p := range m.participants {
		if p.UserID == userID && p.TeamID == teamID {
			return p
		}
	}
	return nil
}

func (m *Store) CreateParticipant(_ context.Context, p *challenge.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[p.UserID]; !ok {
		return database.ErrNotFound
	}
	if _, ok := m.teams[p.TeamID]; !ok {
		return database.ErrNotFound
	}
	if m.findParticipantLocked(p.UserID, p.TeamID) != nil {
		return database.ErrConflict
	}
	stored := &challenge.Participant{ID: m.nextID(), UserID: p.UserID, TeamID: p.TeamID, JoinedAt: m.now()}
	m.participants[stored.ID] = stored
	*p = *m.hydrateLocked(stored)
	return nil
}

func (m *Store) FindParticipant(_ context.Context, userID, challengeID int64) (*challenge.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *challenge.Participant
	for _, p := range m.participants {
		if p.UserID != userID || m.teams[p.TeamID].ChallengeID != challengeID {
			continue
		}
		if found == nil || p.ID < found.ID {
			found = p
		}
	}
	if found == nil {
		return nil, nil
	}
	return m.hydrateLocked(found), nil
}

func (m *Store) ListParticipants(_ context.Context, challengeID int64) ([]*challenge.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*challenge.Participant{}
	for _, p := range m.participants {
		if m.teams[p.TeamID].ChallengeID == challengeID {
			out = append(out, m.hydrateLocked(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TeamName != out[j].TeamName {
			return out[i].TeamName < out[j].TeamName
		}
		return out[i].Username < out[j].Username
	})
	return out, nil
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func (m *Store) GetUser(_ context.Context, id int64) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Store) userByUsernameLocked(username string) *user.User {
	for _, u := range m.users {
		if u.Username == username {
			return u
		}
	}
	return nil
}

func (m *Store) GetUserByUsername(_ context.Context, username string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.userByUsernameLocked(username)
	if u == nil {
		return nil, database.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Store) CreateUser(_ context.Context, u *user.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userByUsernameLocked(u.Username) != nil {
		return database.ErrConflict
	}
	u.ID = m.nextID()
	u.CreatedAt = m.now()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

// ---------------------------------------------------------------------------
// Step entries
// ---------------------------------------------------------------------------

func (m *Store) entryCopyLocked(e *entry.StepEntry) *entry.StepEntry {
	cp := *e
	if c, ok := m.challenges[e.ChallengeID]; ok {
		cp.ChallengeName = c.Name
	}
	return &cp
}

func (m *Store) duplicateLocked(e *entry.StepEntry) bool {
	for _, other := range m.entries {
		if other.ID != e.ID &&
			other.ParticipantID == e.ParticipantID &&
			other.ChallengeID == e.ChallengeID &&
			other.Date.Equal(e.Date) {
			return true
		}
	}
	return false
}

func sortEntriesDesc(list []*entry.StepEntry) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].Date.Equal(list[j].Date) {
			return list[i].Date.After(list[j].Date)
		}
		return list[i].ID > list[j].ID
	})
}

func (m *Store) GetEntry(_ context.Context, id int64) (*entry.StepEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return m.entryCopyLocked(e), nil
}

func (m *Store) InsertEntry(_ context.Context, e *entry.StepEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.participants[e.ParticipantID]; !ok {
		return database.ErrNotFound
	}
	if _, ok := m.challenges[e.ChallengeID]; !ok {
		return database.ErrNotFound
	}
	e.ID = 0
	if m.duplicateLocked(e) {
		return database.ErrConflict
	}
	e.ID = m.nextID()
	e.CreatedAt = m.now()
	cp := *e
	cp.ChallengeName = ""
	m.entries[e.ID] = &cp
	return nil
}

func (m *Store) UpdateEntry(_ context.Context, e *entry.StepEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.entries[e.ID]
	if !ok {
		return database.ErrNotFound
	}
	probe := *existing
	probe.Date = e.Date
	if m.duplicateLocked(&probe) {
		return database.ErrConflict
	}
	existing.Date = e.Date
	existing.DailySteps = e.DailySteps
	return nil
}

func (m *Store) PreviousEntry(_ context.Context, participantID, challengeID int64, before time.Time) (*entry.StepEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *entry.StepEntry
	for _, e := range m.entries {
		if e.ParticipantID != participantID || e.ChallengeID != challengeID || !e.Date.Before(before) {
			continue
		}
		if found == nil || e.Date.After(found.Date) {
			found = e
		}
	}
	if found == nil {
		return nil, nil
	}
	return m.entryCopyLocked(found), nil
}

func (m *Store) ListEntriesByUser(_ context.Context, userID int64) ([]*entry.StepEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*entry.StepEntry{}
	for _, e := range m.entries {
		if p, ok := m.participants[e.ParticipantID]; ok && p.UserID == userID {
			out = append(out, m.entryCopyLocked(e))
		}
	}
	sortEntriesDesc(out)
	return out, nil
}

func (m *Store) ListEntriesByChallenge(_ context.Context, challengeID int64) ([]*entry.StepEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*entry.StepEntry{}
	for _, e := range m.entries {
		if e.ChallengeID == challengeID {
			out = append(out, m.entryCopyLocked(e))
		}
	}
	sortEntriesDesc(out)
	return out, nil
}

// ---------------------------------------------------------------------------
// Aggregates
// ---------------------------------------------------------------------------

func (m *Store) ParticipantTotals(_ context.Context, challengeID int64, mode entry.Mode) ([]*leaderboard.ParticipantStanding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*leaderboard.ParticipantStanding{}
	for _, p := range m.participants {
		t := m.teams[p.TeamID]
		if t.ChallengeID != challengeID {
			continue
		}
		u := m.users[p.UserID]
		var total int64
		for _, e := range m.entries {
			if e.ParticipantID != p.ID || e.ChallengeID != challengeID {
				continue
			}
			if mode == entry.ModeCumulative {
				if e.DailySteps > total {
					total = e.DailySteps
				}
			} else {
				total += e.DailySteps
			}
		}
		out = append(out, &leaderboard.ParticipantStanding{
			ParticipantID: p.ID,
			UserID:        u.ID,
			Username:      u.Username,
			DisplayName:   challenge.DisplayName(u.Username, u.FirstName, u.LastName),
			TeamID:        t.ID,
			TeamName:      t.Name,
			TeamColor:     t.Color,
			TotalSteps:    total,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalSteps != out[j].TotalSteps {
			return out[i].TotalSteps > out[j].TotalSteps
		}
		return out[i].ParticipantID < out[j].ParticipantID
	})
	return out, nil
}

func (m *Store) CountEntries(_ context.Context, challengeID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.ChallengeID == challengeID {
			n++
		}
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Import
// ---------------------------------------------------------------------------

func (m *Store) GetOrCreateChallenge(ctx context.Context, c *challenge.Challenge) (bool, error) {
	m.mu.Lock()
	var found *challenge.Challenge
	for _, existing := range m.challenges {
		if existing.Name == c.Name && (found == nil || existing.ID < found.ID) {
			found = existing
		}
	}
	if found != nil {
		*c = *found
		m.mu.Unlock()
		return false, nil
	}
	m.mu.Unlock()
	return true, m.CreateChallenge(ctx, c)
}

func (m *Store) GetOrCreateTeam(ctx context.Context, t *challenge.Team) (bool, error) {
	m.mu.Lock()
	if existing := m.findTeamLocked(t.ChallengeID, t.Name); existing != nil {
		*t = *existing
		m.mu.Unlock()
		return false, nil
	}
	m.mu.Unlock()
	return true, m.CreateTeam(ctx, t)
}

func (m *Store) GetOrCreateUser(ctx context.Context, u *user.User) (bool, error) {
	m.mu.Lock()
	if existing := m.userByUsernameLocked(u.Username); existing != nil {
		*u = *existing
		m.mu.Unlock()
		return false, nil
	}
	m.mu.Unlock()
	return true, m.CreateUser(ctx, u)
}

func (m *Store) GetOrCreateParticipant(ctx context.Context, p *challenge.Participant) (bool, error) {
	m.mu.Lock()
	if existing := m.findParticipantLocked(p.UserID, p.TeamID); existing != nil {
		*p = *m.hydrateLocked(existing)
		m.mu.Unlock()
		return false, nil
	}
	m.mu.Unlock()
	return true, m.CreateParticipant(ctx, p)
}

func (m *Store) BulkInsertEntries(_ context.Context, entries []*entry.StepEntry) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range entries {
		cp := *e
		cp.ID = 0
		if m.duplicateLocked(&cp) {
			continue
		}
		cp.ID = m.nextID()
		cp.CreatedAt = m.now()
		m.entries[cp.ID] = &cp
		n++
	}
	return n, nil
}
