package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepChallengeAPI/internal/types/user"
)

func actorEcho(t *testing.T, seen **user.Actor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a, ok := GetActor(r.Context()); ok {
			*seen = a
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestWithAuth_BearerAndCookie(t *testing.T) {
	s := NewSessions("test-secret", time.Hour, false)
	token, expiresAt, err := s.SignToken(&user.User{ID: 7, Username: "alice", IsStaff: true})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	var seen *user.Actor
	h := s.WithAuth(actorEcho(t, &seen))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, seen)
	assert.Equal(t, int64(7), seen.UserID)
	assert.True(t, seen.IsStaff)

	seen = nil
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, seen)
	assert.Equal(t, "alice", seen.Username)
}

func TestWithAuth_RejectsForeignOrExpiredTokens(t *testing.T) {
	s := NewSessions("test-secret", time.Hour, false)
	other := NewSessions("another-secret", time.Hour, false)
	expired := NewSessions("test-secret", -time.Minute, false)

	foreign, _, err := other.SignToken(&user.User{ID: 1, Username: "x"})
	require.NoError(t, err)
	stale, _, err := expired.SignToken(&user.User{ID: 1, Username: "x"})
	require.NoError(t, err)
	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UID: 1})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, tok := range map[string]string{"foreign": foreign, "expired": stale, "unsigned": unsigned, "garbage": "abc"} {
		t.Run(name, func(t *testing.T) {
			var seen *user.Actor
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+tok)
			rr := httptest.NewRecorder()
			s.WithAuth(actorEcho(t, &seen)).ServeHTTP(rr, req)
			assert.Nil(t, seen)
			assert.Equal(t, http.StatusNoContent, rr.Code, "optional auth never blocks")
		})
	}
}

func TestWithAuth_RolesComeFromTheAccount(t *testing.T) {
	accounts := map[int64]*user.User{
		7: {ID: 7, Username: "alice"},
	}
	s := NewSessions("test-secret", time.Hour, false).WithUserLoader(func(_ context.Context, id int64) (*user.User, error) {
		if u, ok := accounts[id]; ok {
			return u, nil
		}
		return nil, errors.New("not found")
	})

	// Both tokens were issued while the accounts were superusers.
	demoted, _, err := s.SignToken(&user.User{ID: 7, Username: "alice", IsStaff: true, IsSuperuser: true})
	require.NoError(t, err)
	deleted, _, err := s.SignToken(&user.User{ID: 8, Username: "bob", IsStaff: true, IsSuperuser: true})
	require.NoError(t, err)

	var seen *user.Actor
	req := httptest.NewRequest(http.MethodGet, "/admin/challenges", nil)
	req.Header.Set("Authorization", "Bearer "+demoted)
	s.WithAuth(actorEcho(t, &seen)).ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, seen)
	assert.Equal(t, int64(7), seen.UserID)
	assert.False(t, seen.IsStaff)
	assert.False(t, seen.IsSuperuser)

	rr := httptest.NewRecorder()
	req.Header.Set("Authorization", "Bearer "+demoted)
	s.WithAuth(RequireStaff(actorEcho(t, &seen))).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	seen = nil
	req = httptest.NewRequest(http.MethodGet, "/admin/challenges", nil)
	req.Header.Set("Authorization", "Bearer "+deleted)
	s.WithAuth(actorEcho(t, &seen)).ServeHTTP(httptest.NewRecorder(), req)
	assert.Nil(t, seen, "tokens of removed accounts are ignored")
}

func TestRequireAuth(t *testing.T) {
	var seen *user.Actor
	h := RequireAuth(actorEcho(t, &seen))

	t.Run("browser is redirected to login", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/add-entry/?x=1", nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusFound, rr.Code)
		assert.Equal(t, "/login/?next=%2Fadd-entry%2F%3Fx%3D1", rr.Header().Get("Location"))
	})

	t.Run("api client gets 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/my-entries/", nil)
		req.Header.Set("Accept", "application/json")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.JSONEq(t, `{"error":"Authentication required"}`, rr.Body.String())
	})

	t.Run("authenticated passes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/my-entries/", nil)
		req = req.WithContext(WithActor(req.Context(), &user.Actor{UserID: 3}))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusNoContent, rr.Code)
		require.NotNil(t, seen)
		assert.Equal(t, int64(3), seen.UserID)
	})
}

func TestRequireStaff(t *testing.T) {
	var seen *user.Actor
	h := RequireStaff(actorEcho(t, &seen))

	req := httptest.NewRequest(http.MethodGet, "/admin/challenges", nil)
	req.Header.Set("Accept", "application/json")
	req = req.WithContext(WithActor(req.Context(), &user.Actor{UserID: 3}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/challenges", nil)
	req = req.WithContext(WithActor(req.Context(), &user.Actor{UserID: 4, IsStaff: true}))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestSessionCookies(t *testing.T) {
	s := NewSessions("test-secret", time.Hour, true)
	rr := httptest.NewRecorder()
	s.SetCookie(rr, "tok", time.Now().Add(time.Hour))
	s.ClearCookie(rr)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 2)
	assert.Equal(t, "tok", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, -1, cookies[1].MaxAge)
}
