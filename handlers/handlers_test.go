package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepChallengeAPI/internal/database/memstore"
	"stepChallengeAPI/internal/logger"
	"stepChallengeAPI/internal/types/challenge"
	"stepChallengeAPI/internal/types/entry"
	"stepChallengeAPI/internal/types/user"
	"stepChallengeAPI/middleware"
	"stepChallengeAPI/services"
)

type testApp struct {
	t        *testing.T
	ctx      context.Context
	store    *memstore.Store
	auth     *services.AuthService
	sessions *middleware.Sessions
	router   *mux.Router
	pingErr  error
}

func newTestApp(t *testing.T) *testApp {
	log := logger.NewNop()
	store := memstore.New()
	sessions := middleware.NewSessions("handler-test-secret", time.Hour, false).WithUserLoader(store.GetUser)

	authService := services.NewAuthService(store, sessions.SignToken, log)
	leaderboardService := services.NewLeaderboardService(store, entry.ModeDaily, nil, log)
	hub := services.NewLeaderboardHub(leaderboardService.ChallengeStandings, log)
	t.Cleanup(hub.Close)
	entryService := services.NewEntryService(store, entry.ModeDaily, hub.Notifying(nil), log)
	challengeService := services.NewChallengeService(store, hub.Notifying(nil), log)

	app := &testApp{t: t, ctx: context.Background(), store: store, auth: authService, sessions: sessions}
	app.router = NewRouter(RouterConfig{
		Auth:        NewAuthHandler(authService, sessions, log),
		Entries:     NewEntryHandler(entryService, log),
		Leaderboard: NewLeaderboardHandler(leaderboardService, log),
		Admin:       NewAdminHandler(challengeService, entryService, authService, log),
		Live:        NewLiveHandler(hub, leaderboardService, log),
		Sessions:    sessions,
		Log:         log,
		Ping:        func(context.Context) error { return app.pingErr },
		MetricsUser: "prom",
		MetricsPass: "pw",
	})
	return app
}

func today() time.Time { return challenge.TruncateDay(time.Now()) }

func (a *testApp) openChallenge(name string) *challenge.Challenge {
	c := &challenge.Challenge{Name: name, StartDate: today().AddDate(0, 0, -5), EndDate: today().AddDate(0, 0, 5), IsActive: true}
	require.NoError(a.t, a.store.CreateChallenge(a.ctx, c))
	return c
}

func (a *testApp) team(c *challenge.Challenge, name string) *challenge.Team {
	tm := &challenge.Team{ChallengeID: c.ID, Name: name, Color: "#FFA500"}
	require.NoError(a.t, a.store.CreateTeam(a.ctx, tm))
	return tm
}

func (a *testApp) user(username string, staff bool) *user.User {
	u, err := a.auth.CreateUser(a.ctx, &user.CreateUserRequest{Username: username, Password: "pw-" + username, IsStaff: staff})
	require.NoError(a.t, err)
	return u
}

func (a *testApp) join(u *user.User, tm *challenge.Team) {
	require.NoError(a.t, a.store.CreateParticipant(a.ctx, &challenge.Participant{UserID: u.ID, TeamID: tm.ID}))
}

func (a *testApp) token(u *user.User) string {
	tok, _, err := a.sessions.SignToken(u)
	require.NoError(a.t, err)
	return tok
}

func (a *testApp) do(method, target, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func (a *testApp) postForm(target string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), dst), rr.Body.String())
}

func id(v int64) string { return strconv.FormatInt(v, 10) }

func TestAddEntry_ParticipantFlow(t *testing.T) {
	app := newTestApp(t)
	c := app.openChallenge("Winter Walk")
	app.join(app.user("alice", false), app.team(c, "Fast Feet"))

	// Log in through the form like a browser would.
	rr := app.postForm("/login/", url.Values{"username": {"alice"}, "password": {"pw-alice"}, "next": {"/add-entry/"}}, nil)
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/add-entry/", rr.Header().Get("Location"))
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	session := cookies[0]

	rr = app.postForm("/add-entry/", url.Values{
		"challenge":   {id(c.ID)},
		"date":        {today().Format(challenge.DateLayout)},
		"daily_steps": {"5000"},
	}, session)
	require.Equal(t, http.StatusSeeOther, rr.Code, rr.Body.String())
	assert.Equal(t, "/my-entries/", rr.Header().Get("Location"))

	req := httptest.NewRequest(http.MethodGet, "/my-entries/", nil)
	req.AddCookie(session)
	rr = httptest.NewRecorder()
	app.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var mine struct {
		Entries []entry.StepEntry `json:"entries"`
	}
	decode(t, rr, &mine)
	require.Len(t, mine.Entries, 1)
	assert.Equal(t, int64(5000), mine.Entries[0].DailySteps)

	rr = app.do(http.MethodGet, "/leaderboard?challenge="+id(c.ID), "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var page struct {
		Participants []struct {
			Username   string `json:"username"`
			TotalSteps int64  `json:"total_steps"`
		} `json:"participants"`
		Teams []struct {
			Name       string `json:"name"`
			TotalSteps int64  `json:"total_steps"`
		} `json:"teams"`
		Challenges []json.RawMessage `json:"challenges"`
	}
	decode(t, rr, &page)
	require.Len(t, page.Participants, 1)
	assert.Equal(t, "alice", page.Participants[0].Username)
	assert.Equal(t, int64(5000), page.Participants[0].TotalSteps)
	require.Len(t, page.Teams, 1)
	assert.Equal(t, "Fast Feet", page.Teams[0].Name)
	assert.Equal(t, int64(5000), page.Teams[0].TotalSteps)
	assert.NotNil(t, page.Challenges)
	assert.Empty(t, page.Challenges, "anonymous callers see no challenge list")
}

func TestAddEntry_JSON(t *testing.T) {
	app := newTestApp(t)
	c := app.openChallenge("Winter Walk")
	alice := app.user("alice", false)
	app.join(alice, app.team(c, "Fast Feet"))

	body := entry.CreateEntryRequest{ChallengeID: id(c.ID), Date: today().Format(challenge.DateLayout), DailySteps: "1,234"}
	rr := app.do(http.MethodPost, "/add-entry/", app.token(alice), body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created entry.StepEntry
	decode(t, rr, &created)
	assert.Equal(t, int64(1234), created.DailySteps)

	rr = app.do(http.MethodPost, "/add-entry/", app.token(alice), body)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	var errBody map[string]string
	decode(t, rr, &errBody)
	assert.Equal(t, "date", errBody["field"])
}

func TestAddEntry_NonParticipantForbidden(t *testing.T) {
	app := newTestApp(t)
	c := app.openChallenge("Winter Walk")
	app.team(c, "Fast Feet")
	bob := app.user("bob", false)

	body := entry.CreateEntryRequest{ChallengeID: id(c.ID), Date: today().Format(challenge.DateLayout), DailySteps: "5000"}
	rr := app.do(http.MethodPost, "/add-entry/", app.token(bob), body)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	entries, err := app.store.ListEntriesByChallenge(app.ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAddEntry_OutsideWindow(t *testing.T) {
	app := newTestApp(t)
	c := app.openChallenge("Winter Walk")
	alice := app.user("alice", false)
	app.join(alice, app.team(c, "Fast Feet"))

	body := entry.CreateEntryRequest{ChallengeID: id(c.ID), Date: today().AddDate(0, 0, 30).Format(challenge.DateLayout), DailySteps: "5000"}
	rr := app.do(http.MethodPost, "/add-entry/", app.token(alice), body)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEntryForm(t *testing.T) {
	app := newTestApp(t)
	c := app.openChallenge("Winter Walk")
	alice := app.user("alice", false)
	app.join(alice, app.team(c, "Fast Feet"))

	rr := app.do(http.MethodGet, "/add-entry/", app.token(alice), nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var form entry.EntryForm
	decode(t, rr, &form)
	assert.Equal(t, today().Format(challenge.DateLayout), form.DefaultDate)
	require.Len(t, form.ActiveChallenges, 1)
	require.NotNil(t, form.DefaultChallengeID)
	assert.Equal(t, c.ID, *form.DefaultChallengeID)
}

func TestRequiredRoutes_Anonymous(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/add-entry/", nil)
	rr := httptest.NewRecorder()
	app.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/login/?next=%2Fadd-entry%2F", rr.Header().Get("Location"))

	rr = app.do(http.MethodGet, "/my-entries/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLogin(t *testing.T) {
	app := newTestApp(t)
	app.user("alice", false)

	rr := app.do(http.MethodGet, "/login/?next=/leaderboard", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rr.Body.String(), `name="next" value="/leaderboard"`)

	rr = app.postForm("/login/", url.Values{"username": {"alice"}, "password": {"nope"}}, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "Please enter a correct username and password.")

	rr = app.postForm("/login/", url.Values{"username": {"alice"}, "password": {"pw-alice"}, "next": {"https://evil.example"}}, nil)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/", rr.Header().Get("Location"), "external next is ignored")

	rr = app.do(http.MethodPost, "/login/", "", user.LoginRequest{Username: "alice", Password: "pw-alice"})
	require.Equal(t, http.StatusOK, rr.Code)
	var resp user.LoginResponse
	decode(t, rr, &resp)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "alice", resp.User.Username)
	assert.NotContains(t, rr.Body.String(), "password_hash")

	rr = app.do(http.MethodPost, "/login/", "", user.LoginRequest{Username: "alice", Password: "bad"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLogout(t *testing.T) {
	app := newTestApp(t)
	alice := app.user("alice", false)

	rr := app.do(http.MethodPost, "/logout/", app.token(alice), nil)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/login/", rr.Header().Get("Location"))
	require.Len(t, rr.Result().Cookies(), 1)
	assert.Equal(t, -1, rr.Result().Cookies()[0].MaxAge)
}

func TestHome(t *testing.T) {
	app := newTestApp(t)

	rr := app.do(http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var empty map[string]interface{}
	decode(t, rr, &empty)
	assert.Nil(t, empty["current_challenge"])

	c := app.openChallenge("Winter Walk")
	alice := app.user("alice", false)
	app.join(alice, app.team(c, "Fast Feet"))

	rr = app.do(http.MethodGet, "/", app.token(alice), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var home struct {
		CurrentChallenge *challenge.Challenge   `json:"current_challenge"`
		Participant      *challenge.Participant `json:"participant"`
		Days             *struct {
			TotalDays int `json:"total_days"`
		} `json:"days"`
	}
	decode(t, rr, &home)
	require.NotNil(t, home.CurrentChallenge)
	assert.Equal(t, c.ID, home.CurrentChallenge.ID)
	require.NotNil(t, home.Participant)
	assert.Equal(t, "Fast Feet", home.Participant.TeamName)
	require.NotNil(t, home.Days)
	assert.Equal(t, 11, home.Days.TotalDays)
}

func TestLeaderboard_BadChallengeParam(t *testing.T) {
	app := newTestApp(t)
	app.openChallenge("Winter Walk")

	assert.Equal(t, http.StatusBadRequest, app.do(http.MethodGet, "/leaderboard?challenge=abc", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, app.do(http.MethodGet, "/leaderboard?challenge=9999", "", nil).Code)
}

func TestAdmin_RequiresStaff(t *testing.T) {
	app := newTestApp(t)
	alice := app.user("alice", false)

	assert.Equal(t, http.StatusUnauthorized, app.do(http.MethodGet, "/admin/challenges", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, app.do(http.MethodGet, "/admin/challenges", app.token(alice), nil).Code)

	ghost := app.token(&user.User{ID: 9999, Username: "ghost", IsStaff: true, IsSuperuser: true})
	assert.Equal(t, http.StatusUnauthorized, app.do(http.MethodGet, "/admin/challenges", ghost, nil).Code,
		"roles in the token are not trusted without an account")
}

func TestAdmin_ChallengeLifecycle(t *testing.T) {
	app := newTestApp(t)
	staff := app.token(app.user("coach", true))

	rr := app.do(http.MethodPost, "/admin/challenges", staff, challenge.CreateChallengeRequest{
		Name: "Spring", StartDate: "2025-03-01", EndDate: "2025-02-01",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = app.do(http.MethodPost, "/admin/challenges", staff, challenge.CreateChallengeRequest{
		Name: "Spring", StartDate: "2025-03-01", EndDate: "2025-03-31",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var c challenge.Challenge
	decode(t, rr, &c)

	rr = app.do(http.MethodPost, "/admin/challenges/"+id(c.ID)+"/teams", staff, challenge.CreateTeamRequest{Name: "Red Team", Color: "#FF0000"})
	require.Equal(t, http.StatusCreated, rr.Code)
	var team challenge.Team
	decode(t, rr, &team)

	rr = app.do(http.MethodPost, "/admin/challenges/"+id(c.ID)+"/teams", staff, challenge.CreateTeamRequest{Name: "Red Team"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = app.do(http.MethodPost, "/admin/users", staff, user.CreateUserRequest{Username: "dana", Password: "pw"})
	require.Equal(t, http.StatusCreated, rr.Code)
	var dana user.User
	decode(t, rr, &dana)

	rr = app.do(http.MethodPost, "/admin/users", staff, user.CreateUserRequest{Username: "boss", IsSuperuser: true})
	assert.Equal(t, http.StatusForbidden, rr.Code, "staff cannot mint superusers")

	rr = app.do(http.MethodPost, "/admin/participants", staff, challenge.CreateParticipantRequest{UserID: dana.ID, TeamID: team.ID})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = app.do(http.MethodGet, "/admin/participants?challenge="+id(c.ID), staff, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"username":"dana"`)

	inactive := false
	rr = app.do(http.MethodPatch, "/admin/challenges/"+id(c.ID), staff, challenge.UpdateChallengeRequest{IsActive: &inactive})
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &c)
	assert.False(t, c.IsActive)

	rr = app.do(http.MethodGet, "/admin/challenges?active=false", staff, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"name":"Spring"`)

	assert.Equal(t, http.StatusBadRequest, app.do(http.MethodGet, "/admin/participants", staff, nil).Code)
}

func TestAdmin_CorrectEntry(t *testing.T) {
	app := newTestApp(t)
	c := app.openChallenge("Winter Walk")
	alice := app.user("alice", false)
	app.join(alice, app.team(c, "Fast Feet"))
	staff := app.token(app.user("coach", true))

	rr := app.do(http.MethodPost, "/add-entry/", app.token(alice), entry.CreateEntryRequest{
		ChallengeID: id(c.ID), Date: today().Format(challenge.DateLayout), DailySteps: "100",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	var created entry.StepEntry
	decode(t, rr, &created)

	steps := int64(150)
	rr = app.do(http.MethodPut, "/admin/entries/"+id(created.ID), staff, entry.CorrectEntryRequest{DailySteps: &steps})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = app.do(http.MethodGet, "/admin/entries?challenge="+id(c.ID), staff, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"daily_steps":150`)

	c.IsActive = false
	require.NoError(t, app.store.UpdateChallenge(app.ctx, c))
	rr = app.do(http.MethodPut, "/admin/entries/"+id(created.ID), staff, entry.CorrectEntryRequest{DailySteps: &steps})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestApp(t)

	rr := app.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	app.pingErr = errors.New("down")
	rr = app.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = app.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestSafeNext(t *testing.T) {
	assert.Equal(t, "/my-entries/", safeNext("/my-entries/"))
	assert.Equal(t, "", safeNext("//evil.example"))
	assert.Equal(t, "", safeNext("https://evil.example"))
	assert.Equal(t, "", safeNext(""))
}
