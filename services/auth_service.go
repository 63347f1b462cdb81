package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"stepChallengeAPI/internal/database"
	"stepChallengeAPI/internal/logger"
	"stepChallengeAPI/internal/types/user"
)

const msgBadCredentials = "Please enter a correct username and password."

// TokenSigner issues a session token for u and reports when it expires.
type TokenSigner func(u *user.User) (string, time.Time, error)

type AuthService struct {
	store UserStore
	sign  TokenSigner
	log   *logger.Logger
}

func NewAuthService(store UserStore, sign TokenSigner, log *logger.Logger) *AuthService {
	return &AuthService{store: store, sign: sign, log: log}
}

// Login checks the password and returns a signed session. Unknown users and
// wrong passwords produce the same error.
func (s *AuthService) Login(ctx context.Context, req *user.LoginRequest) (*user.LoginResponse, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return nil, NewUnauthorizedError(msgBadCredentials)
	}

	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.log.Warnw("login failed: unknown user", "username", username)
			return nil, NewUnauthorizedError(msgBadCredentials)
		}
		return nil, err
	}
	if len(u.PasswordHash) == 0 || bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(req.Password)) != nil {
		s.log.Warnw("login failed: bad password", "user_id", u.ID)
		return nil, NewUnauthorizedError(msgBadCredentials)
	}

	token, expiresAt, err := s.sign(u)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session: %w", err)
	}

	s.log.Infow("user logged in", "user_id", u.ID)
	return &user.LoginResponse{Token: token, ExpiresAt: expiresAt, User: u}, nil
}

// CreateUser registers an account. An empty password leaves the account unable
// to log in, which is how imported participants are created.
func (s *AuthService) CreateUser(ctx context.Context, req *user.CreateUserRequest) (*user.User, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, newFieldError("username", "Username is required.")
	}

	u := &user.User{
		Username:    username,
		Email:       strings.TrimSpace(req.Email),
		FirstName:   strings.TrimSpace(req.FirstName),
		LastName:    strings.TrimSpace(req.LastName),
		IsStaff:     req.IsStaff || req.IsSuperuser,
		IsSuperuser: req.IsSuperuser,
	}
	if req.Password != "" {
		hash, err := HashPassword(req.Password)
		if err != nil {
			return nil, err
		}
		u.PasswordHash = hash
	}

	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, database.ErrConflict) {
			return nil, NewConflictError(fmt.Sprintf("username %q is taken", username))
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.log.Infow("user created", "user_id", u.ID, "username", u.Username, "is_staff", u.IsStaff)
	return u, nil
}

func HashPassword(password string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return hash, nil
}
