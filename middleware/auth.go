package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"stepChallengeAPI/internal/types/user"
)

type contextKey string

const actorKey contextKey = "actor"

// SessionCookieName carries the signed session for browser clients.
const SessionCookieName = "step_session"

type Claims struct {
	UID       int64  `json:"uid"`
	Username  string `json:"username"`
	Staff     bool   `json:"staff,omitempty"`
	Superuser bool   `json:"superuser,omitempty"`
	jwt.RegisteredClaims
}

// UserLoader fetches the current account behind a session.
type UserLoader func(ctx context.Context, id int64) (*user.User, error)

// Sessions signs and verifies HS256 session tokens. The same token works as a
// cookie or as a Bearer header.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	secure bool
	load   UserLoader
}

func NewSessions(secret string, ttl time.Duration, secureCookies bool) *Sessions {
	return &Sessions{secret: []byte(secret), ttl: ttl, secure: secureCookies}
}

// WithUserLoader makes WithAuth read roles from the account instead of the
// token, so demotions and deletions apply to sessions already issued.
func (s *Sessions) WithUserLoader(load UserLoader) *Sessions {
	s.load = load
	return s
}

func (s *Sessions) SignToken(u *user.User) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.ttl)
	claims := Claims{
		UID:       u.ID,
		Username:  u.Username,
		Staff:     u.IsStaff,
		Superuser: u.IsSuperuser,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

func (s *Sessions) parseToken(tok string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(tok, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if c, ok := t.Claims.(*Claims); ok && t.Valid && c.UID > 0 {
		return c, nil
	}
	return nil, errors.New("invalid token")
}

func (s *Sessions) SetCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Sessions) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// WithAuth attaches the caller to the context when a valid Bearer token or
// session cookie is present. It never rejects a request.
func (s *Sessions) WithAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := bearerToken(r)
		if tok == "" {
			if c, err := r.Cookie(SessionCookieName); err == nil {
				tok = c.Value
			}
		}
		if tok != "" {
			claims, err := s.parseToken(tok)
			if err != nil {
				authRejections.WithLabelValues("invalid_token").Inc()
			} else if actor, ok := s.actorFor(r.Context(), claims); ok {
				r = r.WithContext(WithActor(r.Context(), actor))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Sessions) actorFor(ctx context.Context, claims *Claims) (*user.Actor, bool) {
	if s.load == nil {
		return &user.Actor{
			UserID:      claims.UID,
			Username:    claims.Username,
			IsStaff:     claims.Staff,
			IsSuperuser: claims.Superuser,
		}, true
	}
	u, err := s.load(ctx, claims.UID)
	if err != nil || u == nil {
		authRejections.WithLabelValues("unknown_user").Inc()
		return nil, false
	}
	return &user.Actor{
		UserID:      u.ID,
		Username:    u.Username,
		IsStaff:     u.IsStaff,
		IsSuperuser: u.IsSuperuser,
	}, true
}

// RequireAuth turns anonymous requests away: API clients get a 401, browsers
// are sent to the login page with a next parameter.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetActor(r.Context()); !ok {
			rejectAnonymous(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := GetActor(r.Context())
		if !ok {
			rejectAnonymous(w, r)
			return
		}
		if !actor.IsStaff && !actor.IsSuperuser {
			authRejections.WithLabelValues("not_staff").Inc()
			respondWithError(w, http.StatusForbidden, "Staff access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func rejectAnonymous(w http.ResponseWriter, r *http.Request) {
	authRejections.WithLabelValues("missing_session").Inc()
	if IsAPIRequest(r) {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	http.Redirect(w, r, "/login/?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
}

// IsAPIRequest reports whether the caller expects JSON rather than pages.
func IsAPIRequest(r *http.Request) bool {
	if r.Header.Get("Authorization") != "" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

func WithActor(ctx context.Context, actor *user.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActor extracts the authenticated caller from context
func GetActor(ctx context.Context) (*user.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(*user.Actor)
	return actor, ok && actor != nil
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
