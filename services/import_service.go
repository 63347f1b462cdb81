package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"stepChallengeAPI/internal/logger"
	"stepChallengeAPI/internal/types/challenge"
	"stepChallengeAPI/internal/types/entry"
	"stepChallengeAPI/internal/types/user"
)

const (
	colTeam   = "Teams"
	colMember = "Member"
	colDate   = "Date"
	colSteps  = "Steps"
)

// TeamColors assigns colors to the team names used by the sheets we import.
var TeamColors = map[string]string{
	"Orange Team": "#FFA500",
	"Red Team":    "#FF0000",
	"Blue Team":   "#0000FF",
	"Green Team":  "#008000",
	"Yellow Team": "#FFFF00",
	"Brown Team":  "#8B4513",
}

type ImportOptions struct {
	ChallengeName string
	StartDate     time.Time
	EndDate       time.Time
	IsActive      bool
}

// DefaultImportOptions describes the December 2025 sheet.
func DefaultImportOptions() ImportOptions {
	return ImportOptions{
		ChallengeName: "December 2025",
		StartDate:     time.Date(2025, time.December, 1, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2025, time.December, 31, 0, 0, 0, 0, time.UTC),
	}
}

type ImportSummary struct {
	Challenge           *challenge.Challenge `json:"challenge"`
	ChallengeCreated    bool                 `json:"challenge_created"`
	Teams               int                  `json:"teams"`
	TeamsCreated        int                  `json:"teams_created"`
	Participants        int                  `json:"participants"`
	ParticipantsCreated int                  `json:"participants_created"`
	EntriesCreated      int                  `json:"entries_created"`
	EntriesSkipped      int                  `json:"entries_skipped"`
	EntriesOutOfWindow  int                  `json:"entries_out_of_window"`
	EntriesDuplicate    int                  `json:"entries_duplicate"`
	SkippedMembers      []string             `json:"skipped_members"`
}

type importRow struct {
	line   int
	team   string
	member string
	date   string
	steps  string
}

// Importer loads a step sheet into the store. Every phase is get-or-create, so
// running it twice over the same file changes nothing.
type Importer struct {
	store ImportStore
	cache LeaderboardCache
	log   *logger.Logger
}

func NewImporter(store ImportStore, cache LeaderboardCache, log *logger.Logger) *Importer {
	return &Importer{store: store, cache: cacheOrNoop(cache), log: log}
}

func (im *Importer) ImportFile(ctx context.Context, path string, opts ImportOptions) (*ImportSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("CSV file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return im.Import(ctx, f, opts)
}

func (im *Importer) Import(ctx context.Context, r io.Reader, opts ImportOptions) (*ImportSummary, error) {
	if opts.EndDate.Before(opts.StartDate) {
		return nil, fmt.Errorf("end date %s is before start date %s",
			opts.EndDate.Format(challenge.DateLayout), opts.StartDate.Format(challenge.DateLayout))
	}

	rows, err := readImportRows(r)
	if err != nil {
		return nil, err
	}

	summary := &ImportSummary{SkippedMembers: []string{}}

	c := &challenge.Challenge{
		Name:      opts.ChallengeName,
		StartDate: challenge.TruncateDay(opts.StartDate),
		EndDate:   challenge.TruncateDay(opts.EndDate),
		IsActive:  opts.IsActive,
	}
	created, err := im.store.GetOrCreateChallenge(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("failed to create challenge: %w", err)
	}
	summary.Challenge = c
	summary.ChallengeCreated = created
	if !created {
		im.log.Warnw("challenge already exists, reusing it", "challenge_id", c.ID, "name", c.Name)
	}

	teams, err := im.importTeams(ctx, c, rows, summary)
	if err != nil {
		return nil, err
	}

	participants, err := im.importParticipants(ctx, teams, rows, summary)
	if err != nil {
		return nil, err
	}

	if err := im.importEntries(ctx, c, participants, rows, summary); err != nil {
		return nil, err
	}

	im.cache.Invalidate(ctx, c.ID)

	im.log.Infow("import finished",
		"challenge_id", c.ID,
		"teams", summary.Teams,
		"participants", summary.Participants,
		"entries_created", summary.EntriesCreated,
		"entries_skipped", summary.EntriesSkipped,
	)
	return summary, nil
}

func (im *Importer) importTeams(ctx context.Context, c *challenge.Challenge, rows []importRow, summary *ImportSummary) (map[string]*challenge.Team, error) {
	names := map[string]struct{}{}
	for _, row := range rows {
		if row.team != "" {
			names[row.team] = struct{}{}
		}
	}

	teams := make(map[string]*challenge.Team, len(names))
	for _, name := range sortedKeys(names) {
		color, ok := TeamColors[name]
		if !ok {
			color = DefaultTeamColor
		}
		t := &challenge.Team{ChallengeID: c.ID, Name: name, Color: color}
		created, err := im.store.GetOrCreateTeam(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("failed to create team %q: %w", name, err)
		}
		if created {
			summary.TeamsCreated++
		}
		teams[name] = t
		im.log.Infow("team ready", "team", name, "color", t.Color, "created", created)
	}
	summary.Teams = len(teams)
	return teams, nil
}

func (im *Importer) importParticipants(ctx context.Context, teams map[string]*challenge.Team, rows []importRow, summary *ImportSummary) (map[string]*challenge.Participant, error) {
	memberTeam := map[string]string{}
	for _, row := range rows {
		if row.member == "" {
			continue
		}
		if _, seen := memberTeam[row.member]; !seen {
			memberTeam[row.member] = row.team
		}
	}

	members := make([]string, 0, len(memberTeam))
	for m := range memberTeam {
		members = append(members, m)
	}
	sort.Strings(members)

	participants := make(map[string]*challenge.Participant, len(members))
	for _, member := range members {
		team, ok := teams[memberTeam[member]]
		if !ok {
			continue
		}

		first, last, ok := SplitMemberName(member)
		if !ok {
			im.log.Warnw("skipping member with a single-word name", "member", member)
			summary.SkippedMembers = append(summary.SkippedMembers, member)
			continue
		}

		u := &user.User{Username: ImportUsername(first, last), FirstName: first, LastName: last}
		if _, err := im.store.GetOrCreateUser(ctx, u); err != nil {
			return nil, fmt.Errorf("failed to create user %q: %w", u.Username, err)
		}

		p := &challenge.Participant{UserID: u.ID, TeamID: team.ID}
		created, err := im.store.GetOrCreateParticipant(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("failed to add %q to %q: %w", u.Username, team.Name, err)
		}
		if created {
			summary.ParticipantsCreated++
		}
		participants[member] = p
	}
	summary.Participants = len(participants)
	return participants, nil
}

func (im *Importer) importEntries(ctx context.Context, c *challenge.Challenge, participants map[string]*challenge.Participant, rows []importRow, summary *ImportSummary) error {
	batch := make([]*entry.StepEntry, 0, len(rows))
	for _, row := range rows {
		if row.member == "" || row.date == "" || row.steps == "" {
			summary.EntriesSkipped++
			continue
		}
		p, ok := participants[row.member]
		if !ok {
			im.log.Warnw("member not found", "line", row.line, "member", row.member)
			summary.EntriesSkipped++
			continue
		}

		day, err := challenge.ParseDate(row.date)
		if err != nil {
			im.log.Warnw("bad date", "line", row.line, "date", row.date)
			summary.EntriesSkipped++
			continue
		}
		steps, err := strconv.ParseInt(strings.ReplaceAll(row.steps, ",", ""), 10, 64)
		if err != nil {
			im.log.Warnw("bad step count", "line", row.line, "steps", row.steps)
			summary.EntriesSkipped++
			continue
		}
		if err := CheckEntry(c, day, steps, true); err != nil {
			im.log.Warnw("row rejected", "line", row.line, "member", row.member, "reason", err.Error())
			if !c.Contains(day) {
				summary.EntriesOutOfWindow++
			} else {
				summary.EntriesSkipped++
			}
			continue
		}

		batch = append(batch, &entry.StepEntry{
			ParticipantID: p.ID,
			ChallengeID:   c.ID,
			Date:          day,
			DailySteps:    steps,
		})
	}

	if len(batch) == 0 {
		return nil
	}
	n, err := im.store.BulkInsertEntries(ctx, batch)
	if err != nil {
		return fmt.Errorf("failed to insert step entries: %w", err)
	}
	summary.EntriesCreated = n
	summary.EntriesDuplicate = len(batch) - n
	return nil
}

func readImportRows(r io.Reader) ([]importRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("CSV file is empty")
		}
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	idx := map[string]int{}
	for i, h := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, col := range []string{colTeam, colMember, colDate, colSteps} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("CSV is missing the %q column", col)
		}
	}

	field := func(record []string, col string) string {
		i := idx[col]
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var rows []importRow
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV line %d: %w", line, err)
		}
		rows = append(rows, importRow{
			line:   line,
			team:   field(record, colTeam),
			member: field(record, colMember),
			date:   field(record, colDate),
			steps:  field(record, colSteps),
		})
	}
	return rows, nil
}

// SplitMemberName splits "First Middle Last" into "First" and "Middle Last".
// Names with fewer than two words are rejected.
func SplitMemberName(member string) (string, string, bool) {
	parts := strings.Fields(member)
	if len(parts) < 2 {
		return "", "", false
	}
	return parts[0], strings.Join(parts[1:], " "), true
}

// ImportUsername builds first.last, lowercased and without spaces.
func ImportUsername(first, last string) string {
	return strings.ReplaceAll(strings.ToLower(first+"."+last), " ", "")
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
