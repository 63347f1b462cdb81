package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stepChallengeAPI/internal/types/challenge"
	"stepChallengeAPI/internal/types/entry"
	"stepChallengeAPI/internal/types/leaderboard"
	"stepChallengeAPI/internal/types/user"
)

// BulkBatchSize bounds how many entries go into one insert batch.
const BulkBatchSize = 1000

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// ---------------------------------------------------------------------------
// Challenges
// ---------------------------------------------------------------------------

const challengeColumns = `c.id, c.name, c.start_date, c.end_date, c.is_active, c.created_at`

func scanChallenge(row pgx.Row) (*challenge.Challenge, error) {
	c := &challenge.Challenge{}
	if err := row.Scan(&c.ID, &c.Name, &c.StartDate, &c.EndDate, &c.IsActive, &c.CreatedAt); err != nil {
		return nil, err
	}
	return c, nil
}

func collectChallenges(rows pgx.Rows) ([]*challenge.Challenge, error) {
	defer rows.Close()
	challenges := []*challenge.Challenge{}
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan challenge: %w", err)
		}
		challenges = append(challenges, c)
	}
	return challenges, rows.Err()
}

func (s *PostgresStore) GetChallenge(ctx context.Context, id int64) (*challenge.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM step_challenges c WHERE c.id = $1`
	c, err := scanChallenge(s.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return c, nil
}

func (s *PostgresStore) ListChallenges(ctx context.Context, active *bool) ([]*challenge.Challenge, error) {
	query := `
	SELECT ` + challengeColumns + `
	FROM step_challenges c
	WHERE ($1::boolean IS NULL OR c.is_active = $1)
	ORDER BY c.start_date DESC, c.id DESC
	`
	rows, err := s.db.Query(ctx, query, active)
	if err != nil {
		return nil, fmt.Errorf("failed to list challenges: %w", err)
	}
	return collectChallenges(rows)
}

func (s *PostgresStore) ListChallengesForUser(ctx context.Context, userID int64, activeOnly bool) ([]*challenge.Challenge, error) {
	query := `
	SELECT DISTINCT ` + challengeColumns + `
	FROM step_challenges c
	INNER JOIN teams t ON t.challenge_id = c.id
	INNER JOIN participants p ON p.team_id = t.id
	WHERE p.user_id = $1
	AND ($2 = FALSE OR c.is_active)
	ORDER BY c.start_date DESC, c.id DESC
	`
	rows, err := s.db.Query(ctx, query, userID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list challenges for user: %w", err)
	}
	return collectChallenges(rows)
}

func (s *PostgresStore) LatestChallenge(ctx context.Context, activeOnly bool) (*challenge.Challenge, error) {
	query := `
	SELECT ` + challengeColumns + `
	FROM step_challenges c
	WHERE ($1 = FALSE OR c.is_active)
	ORDER BY c.start_date DESC, c.id DESC
	LIMIT 1
	`
	c, err := scanChallenge(s.db.QueryRow(ctx, query, activeOnly))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest challenge: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) CreateChallenge(ctx context.Context, c *challenge.Challenge) error {
	query := `
	INSERT INTO step_challenges (name, start_date, end_date, is_active)
	VALUES ($1, $2, $3, $4)
	RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query, c.Name, c.StartDate, c.EndDate, c.IsActive).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create challenge: %w", mapErr(err))
	}
	return nil
}

func (s *PostgresStore) UpdateChallenge(ctx context.Context, c *challenge.Challenge) error {
	query := `
	UPDATE step_challenges
	SET name = $2, start_date = $3, end_date = $4, is_active = $5
	WHERE id = $1
	`
	tag, err := s.db.Exec(ctx, query, c.ID, c.Name, c.StartDate, c.EndDate, c.IsActive)
	if err != nil {
		return fmt.Errorf("failed to update challenge: %w", mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Teams and participants
// ---------------------------------------------------------------------------

func (s *PostgresStore) GetTeam(ctx context.Context, id int64) (*challenge.Team, error) {
	t := &challenge.Team{}
	err := s.db.QueryRow(ctx, `SELECT id, challenge_id, name, color FROM teams WHERE id = $1`, id).
		Scan(&t.ID, &t.ChallengeID, &t.Name, &t.Color)
	if err != nil {
		return nil, mapErr(err)
	}
	return t, nil
}

func (s *PostgresStore) ListTeams(ctx context.Context, challengeID int64) ([]*challenge.Team, error) {
	rows, err := s.db.Query(ctx, `
	SELECT id, challenge_id, name, color
	FROM teams
	WHERE challenge_id = $1
	ORDER BY name, id
	`, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	teams := []*challenge.Team{}
	for rows.Next() {
		t := &challenge.Team{}
		if err := rows.Scan(&t.ID, &t.ChallengeID, &t.Name, &t.Color); err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

func (s *PostgresStore) CreateTeam(ctx context.Context, t *challenge.Team) error {
	err := s.db.QueryRow(ctx, `
	INSERT INTO teams (challenge_id, name, color)
	VALUES ($1, $2, $3)
	RETURNING id
	`, t.ChallengeID, t.Name, t.Color).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to create team: %w", mapErr(err))
	}
	return nil
}

const participantSelect = `
	SELECT p.id, p.user_id, p.team_id, t.challenge_id, p.joined_at,
		u.username, u.first_name, u.last_name, t.name, t.color
	FROM participants p
	INNER JOIN teams t ON t.id = p.team_id
	INNER JOIN users u ON u.id = p.user_id
`

func scanParticipant(row pgx.Row) (*challenge.Participant, error) {
	p := &challenge.Participant{}
	var firstName, lastName string
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.TeamID,
		&p.ChallengeID,
		&p.JoinedAt,
		&p.Username,
		&firstName,
		&lastName,
		&p.TeamName,
		&p.TeamColor,
	)
	if err != nil {
		return nil, err
	}
	p.DisplayName = challenge.DisplayName(p.Username, firstName, lastName)
	return p, nil
}

func (s *PostgresStore) getParticipant(ctx context.Context, id int64) (*challenge.Participant, error) {
	p, err := scanParticipant(s.db.QueryRow(ctx, participantSelect+` WHERE p.id = $1`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return p, nil
}

func (s *PostgresStore) CreateParticipant(ctx context.Context, p *challenge.Participant) error {
	var id int64
	err := s.db.QueryRow(ctx, `
	INSERT INTO participants (user_id, team_id)
	VALUES ($1, $2)
	RETURNING id
	`, p.UserID, p.TeamID).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to create participant: %w", mapErr(err))
	}

	full, err := s.getParticipant(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to reload participant: %w", err)
	}
	*p = *full
	return nil
}

func (s *PostgresStore) FindParticipant(ctx context.Context, userID, challengeID int64) (*challenge.Participant, error) {
	query := participantSelect + `
	WHERE p.user_id = $1 AND t.challenge_id = $2
	ORDER BY p.id
	LIMIT 1
	`
	p, err := scanParticipant(s.db.QueryRow(ctx, query, userID, challengeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find participant: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListParticipants(ctx context.Context, challengeID int64) ([]*challenge.Participant, error) {
	rows, err := s.db.Query(ctx, participantSelect+`
	WHERE t.challenge_id = $1
	ORDER BY t.name, u.username
	`, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	participants := []*challenge.Participant{}
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

const userColumns = `id, username, password_hash, email, first_name, last_name, is_staff, is_superuser, created_at`

func scanUser(row pgx.Row) (*user.User, error) {
	u := &user.User{}
	var hash string
	err := row.Scan(
		&u.ID,
		&u.Username,
		&hash,
		&u.Email,
		&u.FirstName,
		&u.LastName,
		&u.IsStaff,
		&u.IsSuperuser,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.PasswordHash = []byte(hash)
	return u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*user.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return u, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*user.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if err != nil {
		return nil, mapErr(err)
	}
	return u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *user.User) error {
	query := `
	INSERT INTO users (username, password_hash, email, first_name, last_name, is_staff, is_superuser)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id, created_at
	`
	err := s.db.QueryRow(
		ctx,
		query,
		u.Username,
		string(u.PasswordHash),
		u.Email,
		u.FirstName,
		u.LastName,
		u.IsStaff,
		u.IsSuperuser,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", mapErr(err))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Step entries
// ---------------------------------------------------------------------------

const entrySelect = `
	SELECT e.id, e.participant_id, e.challenge_id, e.date, e.daily_steps, e.created_at, c.name
	FROM step_entries e
	INNER JOIN step_challenges c ON c.id = e.challenge_id
`

func scanEntry(row pgx.Row) (*entry.StepEntry, error) {
	e := &entry.StepEntry{}
	err := row.Scan(&e.ID, &e.ParticipantID, &e.ChallengeID, &e.Date, &e.DailySteps, &e.CreatedAt, &e.ChallengeName)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func collectEntries(rows pgx.Rows) ([]*entry.StepEntry, error) {
	defer rows.Close()
	entries := []*entry.StepEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) GetEntry(ctx context.Context, id int64) (*entry.StepEntry, error) {
	e, err := scanEntry(s.db.QueryRow(ctx, entrySelect+` WHERE e.id = $1`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return e, nil
}

func (s *PostgresStore) InsertEntry(ctx context.Context, e *entry.StepEntry) error {
	query := `
	INSERT INTO step_entries (participant_id, challenge_id, date, daily_steps)
	VALUES ($1, $2, $3, $4)
	RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query, e.ParticipantID, e.ChallengeID, e.Date, e.DailySteps).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert step entry: %w", mapErr(err))
	}
	return nil
}

func (s *PostgresStore) UpdateEntry(ctx context.Context, e *entry.StepEntry) error {
	tag, err := s.db.Exec(ctx, `
	UPDATE step_entries
	SET date = $2, daily_steps = $3
	WHERE id = $1
	`, e.ID, e.Date, e.DailySteps)
	if err != nil {
		return fmt.Errorf("failed to update step entry: %w", mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) PreviousEntry(ctx context.Context, participantID, challengeID int64, before time.Time) (*entry.StepEntry, error) {
	query := entrySelect + `
	WHERE e.participant_id = $1 AND e.challenge_id = $2 AND e.date < $3
	ORDER BY e.date DESC
	LIMIT 1
	`
	e, err := scanEntry(s.db.QueryRow(ctx, query, participantID, challengeID, before))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get previous entry: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) ListEntriesByUser(ctx context.Context, userID int64) ([]*entry.StepEntry, error) {
	rows, err := s.db.Query(ctx, entrySelect+`
	INNER JOIN participants p ON p.id = e.participant_id
	WHERE p.user_id = $1
	ORDER BY e.date DESC, e.id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	return collectEntries(rows)
}

func (s *PostgresStore) ListEntriesByChallenge(ctx context.Context, challengeID int64) ([]*entry.StepEntry, error) {
	rows, err := s.db.Query(ctx, entrySelect+`
	WHERE e.challenge_id = $1
	ORDER BY e.date DESC, e.id DESC
	`, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	return collectEntries(rows)
}

// ---------------------------------------------------------------------------
// Aggregates
// ---------------------------------------------------------------------------

func totalExpr(mode entry.Mode) string {
	if mode == entry.ModeCumulative {
		return `COALESCE(MAX(e.daily_steps), 0)`
	}
	return `COALESCE(SUM(e.daily_steps), 0)::BIGINT`
}

func (s *PostgresStore) ParticipantTotals(ctx context.Context, challengeID int64, mode entry.Mode) ([]*leaderboard.ParticipantStanding, error) {
	query := fmt.Sprintf(`
	SELECT
		p.id AS participant_id,
		p.user_id,
		u.username,
		u.first_name,
		u.last_name,
		t.id AS team_id,
		t.name AS team_name,
		t.color AS team_color,
		%s AS total_steps
	FROM participants p
	INNER JOIN teams t ON t.id = p.team_id
	INNER JOIN users u ON u.id = p.user_id
	LEFT JOIN step_entries e
		ON e.participant_id = p.id
		AND e.challenge_id = t.challenge_id
	WHERE t.challenge_id = $1
	GROUP BY p.id, u.id, t.id
	ORDER BY total_steps DESC, p.id ASC
	`, totalExpr(mode))

	rows, err := s.db.Query(ctx, query, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch participant totals: %w", err)
	}
	defer rows.Close()

	standings := []*leaderboard.ParticipantStanding{}
	for rows.Next() {
		st := &leaderboard.ParticipantStanding{}
		var firstName, lastName string
		err := rows.Scan(
			&st.ParticipantID,
			&st.UserID,
			&st.Username,
			&firstName,
			&lastName,
			&st.TeamID,
			&st.TeamName,
			&st.TeamColor,
			&st.TotalSteps,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		st.DisplayName = challenge.DisplayName(st.Username, firstName, lastName)
		standings = append(standings, st)
	}
	return standings, rows.Err()
}

func (s *PostgresStore) CountEntries(ctx context.Context, challengeID int64) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM step_entries WHERE challenge_id = $1`, challengeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Import
// ---------------------------------------------------------------------------

func (s *PostgresStore) GetOrCreateChallenge(ctx context.Context, c *challenge.Challenge) (bool, error) {
	query := `SELECT ` + challengeColumns + ` FROM step_challenges c WHERE c.name = $1 ORDER BY c.id LIMIT 1`
	existing, err := scanChallenge(s.db.QueryRow(ctx, query, c.Name))
	if err == nil {
		*c = *existing
		return false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("failed to look up challenge: %w", err)
	}
	if err := s.CreateChallenge(ctx, c); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) GetOrCreateTeam(ctx context.Context, t *challenge.Team) (bool, error) {
	err := s.db.QueryRow(ctx, `
	INSERT INTO teams (challenge_id, name, color)
	VALUES ($1, $2, $3)
	ON CONFLICT (challenge_id, name) DO NOTHING
	RETURNING id
	`, t.ChallengeID, t.Name, t.Color).Scan(&t.ID)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("failed to create team: %w", err)
	}

	err = s.db.QueryRow(ctx, `SELECT id, color FROM teams WHERE challenge_id = $1 AND name = $2`, t.ChallengeID, t.Name).
		Scan(&t.ID, &t.Color)
	if err != nil {
		return false, fmt.Errorf("failed to load team: %w", err)
	}
	return false, nil
}

func (s *PostgresStore) GetOrCreateUser(ctx context.Context, u *user.User) (bool, error) {
	err := s.db.QueryRow(ctx, `
	INSERT INTO users (username, password_hash, email, first_name, last_name)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (username) DO NOTHING
	RETURNING id, created_at
	`, u.Username, string(u.PasswordHash), u.Email, u.FirstName, u.LastName).Scan(&u.ID, &u.CreatedAt)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("failed to create user: %w", err)
	}

	existing, err := s.GetUserByUsername(ctx, u.Username)
	if err != nil {
		return false, fmt.Errorf("failed to load user: %w", err)
	}
	*u = *existing
	return false, nil
}

func (s *PostgresStore) GetOrCreateParticipant(ctx context.Context, p *challenge.Participant) (bool, error) {
	var id int64
	created := true
	err := s.db.QueryRow(ctx, `
	INSERT INTO participants (user_id, team_id)
	VALUES ($1, $2)
	ON CONFLICT (user_id, team_id) DO NOTHING
	RETURNING id
	`, p.UserID, p.TeamID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		created = false
		err = s.db.QueryRow(ctx, `SELECT id FROM participants WHERE user_id = $1 AND team_id = $2`, p.UserID, p.TeamID).Scan(&id)
	}
	if err != nil {
		return false, fmt.Errorf("failed to get or create participant: %w", err)
	}

	full, err := s.getParticipant(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to reload participant: %w", err)
	}
	*p = *full
	return created, nil
}

func (s *PostgresStore) BulkInsertEntries(ctx context.Context, entries []*entry.StepEntry) (int, error) {
	const query = `
	INSERT INTO step_entries (participant_id, challenge_id, date, daily_steps)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (participant_id, challenge_id, date) DO NOTHING
	`

	inserted := 0
	for start := 0; start < len(entries); start += BulkBatchSize {
		end := start + BulkBatchSize
		if end > len(entries) {
			end = len(entries)
		}
		chunk := entries[start:end]

		n, err := s.insertBatch(ctx, query, chunk)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert batch starting at row %d: %w", start, err)
		}
		inserted += n
	}
	return inserted, nil
}

func (s *PostgresStore) insertBatch(ctx context.Context, query string, chunk []*entry.StepEntry) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, e := range chunk {
		batch.Queue(query, e.ParticipantID, e.ChallengeID, e.Date, e.DailySteps)
	}

	results := tx.SendBatch(ctx, batch)
	n := 0
	for range chunk {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return 0, err
		}
		n += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return n, nil
}
