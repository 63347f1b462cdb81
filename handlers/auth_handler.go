package handlers

import (
	"context"
	"encoding/json"
	"html/template"
	"net/http"
	"strings"

	"stepChallengeAPI/internal/logger"
	"stepChallengeAPI/internal/types/user"
	"stepChallengeAPI/middleware"
	"stepChallengeAPI/services"
)

var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Sign in · Step Challenge</title>
<style>
body{margin:0;font-family:system-ui,sans-serif;background:linear-gradient(135deg,#1e3a8a,#0ea5e9);min-height:100vh;display:flex;align-items:center;justify-content:center}
.card{background:#fff;border-radius:12px;box-shadow:0 10px 30px rgba(0,0,0,.2);padding:2rem;width:100%;max-width:360px}
h1{margin:0 0 1.5rem;font-size:1.5rem;color:#1e3a8a;text-align:center}
label{display:block;font-size:.9rem;color:#334155;margin-bottom:.25rem}
input{width:100%;box-sizing:border-box;padding:.6rem;border:1px solid #cbd5e1;border-radius:6px;margin-bottom:1rem;font-size:1rem}
button{width:100%;padding:.7rem;border:0;border-radius:6px;background:#1e3a8a;color:#fff;font-size:1rem;cursor:pointer}
.error{background:#fee2e2;color:#991b1b;padding:.6rem;border-radius:6px;margin-bottom:1rem;font-size:.9rem}
</style>
</head>
<body>
<form class="card" method="post" action="/login/">
<h1>Step Challenge</h1>
{{if .Error}}<div class="error">{{.Error}}</div>{{end}}
<input type="hidden" name="next" value="{{.Next}}">
<label for="username">Username</label>
<input id="username" name="username" value="{{.Username}}" autocomplete="username" required autofocus>
<label for="password">Password</label>
<input id="password" name="password" type="password" autocomplete="current-password" required>
<button type="submit">Sign in</button>
</form>
</body>
</html>
`))

type loginPage struct {
	Error    string
	Next     string
	Username string
}

type AuthHandler struct {
	authService *services.AuthService
	sessions    *middleware.Sessions
	log         *logger.Logger
}

func NewAuthHandler(authService *services.AuthService, sessions *middleware.Sessions, log *logger.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		sessions:    sessions,
		log:         log,
	}
}

func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	h.renderLogin(w, http.StatusOK, loginPage{Next: safeNext(r.URL.Query().Get("next"))})
}

// Login accepts the login form or a JSON body. Browsers get a cookie and a
// redirect; API clients get the token in the response.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var req user.LoginRequest
	asJSON := isJSONBody(r)
	if asJSON {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid form data")
			return
		}
		req = user.LoginRequest{
			Username: r.PostForm.Get("username"),
			Password: r.PostForm.Get("password"),
			Next:     r.PostForm.Get("next"),
		}
	}

	resp, err := h.authService.Login(ctx, &req)
	if err != nil {
		if asJSON {
			respondWithServiceError(w, r, h.log, err)
			return
		}
		if se, ok := services.AsServiceError(err); ok {
			h.renderLogin(w, http.StatusUnauthorized, loginPage{Error: se.Message, Next: safeNext(req.Next), Username: req.Username})
			return
		}
		respondWithServiceError(w, r, h.log, err)
		return
	}

	h.sessions.SetCookie(w, resp.Token, resp.ExpiresAt)

	if asJSON {
		respondWithJSON(w, http.StatusOK, resp)
		return
	}
	next := safeNext(req.Next)
	if next == "" {
		next = "/"
	}
	http.Redirect(w, r, next, http.StatusSeeOther)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.ClearCookie(w)
	http.Redirect(w, r, "/login/", http.StatusSeeOther)
}

func (h *AuthHandler) renderLogin(w http.ResponseWriter, status int, page loginPage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := loginTemplate.Execute(w, page); err != nil {
		h.log.Errorw("failed to render login page", "error", err)
	}
}

// safeNext only allows redirects to paths on this site.
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return ""
	}
	return next
}
