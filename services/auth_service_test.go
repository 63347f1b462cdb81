package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepChallengeAPI/internal/logger"
	"stepChallengeAPI/internal/types/user"
)

func stubSigner(u *user.User) (string, time.Time, error) {
	return "token-for-" + u.Username, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), nil
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	svc := NewAuthService(f.store, stubSigner, logger.NewNop())

	_, err := svc.CreateUser(f.ctx, &user.CreateUserRequest{Username: "alice", Password: "s3cret!"})
	require.NoError(t, err)

	resp, err := svc.Login(f.ctx, &user.LoginRequest{Username: "alice", Password: "s3cret!"})
	require.NoError(t, err)
	assert.Equal(t, "token-for-alice", resp.Token)
	assert.Equal(t, "alice", resp.User.Username)

	_, err = svc.Login(f.ctx, &user.LoginRequest{Username: "alice", Password: "wrong"})
	assert.True(t, IsCode(err, ErrorUnauthorized))

	_, err = svc.Login(f.ctx, &user.LoginRequest{Username: "nobody", Password: "s3cret!"})
	assert.True(t, IsCode(err, ErrorUnauthorized))
	assert.Equal(t, msgBadCredentials, err.Error())
}

func TestLogin_AccountWithoutPassword(t *testing.T) {
	f := newFixture(t)
	svc := NewAuthService(f.store, stubSigner, logger.NewNop())

	_, err := svc.CreateUser(f.ctx, &user.CreateUserRequest{Username: "imported.user"})
	require.NoError(t, err)

	_, err = svc.Login(f.ctx, &user.LoginRequest{Username: "imported.user", Password: "anything"})
	assert.True(t, IsCode(err, ErrorUnauthorized))
}

func TestCreateUser(t *testing.T) {
	f := newFixture(t)
	svc := NewAuthService(f.store, stubSigner, logger.NewNop())

	u, err := svc.CreateUser(f.ctx, &user.CreateUserRequest{
		Username: "root", Password: "pw", FirstName: "Ro", LastName: "Ot", IsSuperuser: true,
	})
	require.NoError(t, err)
	assert.True(t, u.IsStaff, "superusers are staff")
	assert.NotEqual(t, []byte("pw"), u.PasswordHash)

	_, err = svc.CreateUser(f.ctx, &user.CreateUserRequest{Username: "root"})
	assert.True(t, IsCode(err, ErrorConflict))

	_, err = svc.CreateUser(f.ctx, &user.CreateUserRequest{Username: " "})
	assertFieldError(t, err, "username", "")
}
