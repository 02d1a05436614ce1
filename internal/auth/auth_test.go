package auth

import (
	"context"
	"encoding/base64"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pliu/chatty/internal/mocks"
	"github.com/pliu/chatty/internal/models"
	"github.com/pliu/chatty/internal/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"
)

const botUsername = "BiggestSECFan"

func newAuthenticator(t *testing.T) (*Authenticator, *mocks.MockUserDirectory) {
	t.Helper()
	ctrl := gomock.NewController(t)
	users := mocks.NewMockUserDirectory(ctrl)
	tokens := NewTokenIssuer("test-secret", time.Hour)
	return NewAuthenticator(users, tokens, bcrypt.MinCost, botUsername), users
}

func storedUser(t *testing.T, username, password string) *models.User {
	t.Helper()
	hash, err := HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)
	return &models.User{Username: username, DisplayName: "Alice", Password: hash}
}

func TestHashAndCompare(t *testing.T) {
	req := require.New(t)

	hash, err := HashPassword("s3cret", bcrypt.MinCost)
	req.NoError(err)
	req.NotEqual("s3cret", hash)
	req.True(ComparePassword(hash, "s3cret"))
	req.False(ComparePassword(hash, "wrong"))
	req.False(ComparePassword("s3cret", "s3cret"))
}

func TestTokenIssuer(t *testing.T) {
	req := require.New(t)
	issuer := NewTokenIssuer("secret", time.Hour)

	token, err := issuer.Generate("alice")
	req.NoError(err)

	username, err := issuer.Validate(token)
	req.NoError(err)
	req.Equal("alice", username)

	_, err = NewTokenIssuer("other-secret", time.Hour).Validate(token)
	req.ErrorIs(err, ErrInvalidToken)

	expired := NewTokenIssuer("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.Generate("alice")
	req.NoError(err)
	_, err = issuer.Validate(old)
	req.ErrorIs(err, ErrInvalidToken)
}

func TestVerifyCredential(t *testing.T) {
	ctx := context.Background()

	t.Run("accepts the right password", func(t *testing.T) {
		req := require.New(t)
		a, users := newAuthenticator(t)
		users.EXPECT().GetUser(gomock.Any(), "alice").Return(storedUser(t, "alice", "pw"), nil)

		user, err := a.VerifyCredential(ctx, "alice", "pw")
		req.NoError(err)
		req.Equal("alice", user.Username)
	})

	t.Run("rejects a wrong password", func(t *testing.T) {
		req := require.New(t)
		a, users := newAuthenticator(t)
		users.EXPECT().GetUser(gomock.Any(), "alice").Return(storedUser(t, "alice", "pw"), nil)

		_, err := a.VerifyCredential(ctx, "alice", "nope")
		req.ErrorIs(err, ErrInvalidCredentials)
	})

	t.Run("rejects an unknown user", func(t *testing.T) {
		req := require.New(t)
		a, users := newAuthenticator(t)
		users.EXPECT().GetUser(gomock.Any(), "ghost").Return(nil, store.ErrNotFound)

		_, err := a.VerifyCredential(ctx, "ghost", "pw")
		req.ErrorIs(err, ErrInvalidCredentials)
	})

	t.Run("never looks up reserved users", func(t *testing.T) {
		req := require.New(t)
		a, users := newAuthenticator(t)
		users.EXPECT().GetUser(gomock.Any(), gomock.Any()).Times(0)

		_, err := a.VerifyCredential(ctx, botUsername, "anything")
		req.ErrorIs(err, ErrInvalidCredentials)
	})
}

func TestLoginThenAuthenticateRequest(t *testing.T) {
	req := require.New(t)
	a, users := newAuthenticator(t)
	users.EXPECT().GetUser(gomock.Any(), "alice").Return(storedUser(t, "alice", "pw"), nil).Times(2)

	token, user, err := a.Login(context.Background(), "alice", "pw")
	req.NoError(err)
	req.Equal("alice", user.Username)

	bearer := httptest.NewRequest("GET", "/", nil)
	bearer.Header.Set("Authorization", "Bearer "+token)
	username, err := a.AuthenticateRequest(bearer)
	req.NoError(err)
	req.Equal("alice", username)

	basic := httptest.NewRequest("GET", "/", nil)
	basic.SetBasicAuth("alice", "pw")
	username, err = a.AuthenticateRequest(basic)
	req.NoError(err)
	req.Equal("alice", username)

	_, err = a.AuthenticateRequest(httptest.NewRequest("GET", "/", nil))
	req.ErrorIs(err, ErrInvalidCredentials)
}

func TestAuthenticateFrame(t *testing.T) {
	ctx := context.Background()

	t.Run("base64 credentials", func(t *testing.T) {
		req := require.New(t)
		a, users := newAuthenticator(t)
		users.EXPECT().GetUser(gomock.Any(), "alice").Return(storedUser(t, "alice", "p:w"), nil)

		frame := base64.StdEncoding.EncodeToString([]byte("alice:p:w"))
		username, err := a.AuthenticateFrame(ctx, frame)
		req.NoError(err)
		req.Equal("alice", username)
	})

	t.Run("session token", func(t *testing.T) {
		req := require.New(t)
		a, _ := newAuthenticator(t)
		token, err := a.tokens.Generate("bob")
		req.NoError(err)

		username, err := a.AuthenticateFrame(ctx, token)
		req.NoError(err)
		req.Equal("bob", username)
	})

	t.Run("token for a reserved user", func(t *testing.T) {
		req := require.New(t)
		a, _ := newAuthenticator(t)
		token, err := a.tokens.Generate(botUsername)
		req.NoError(err)

		_, err = a.AuthenticateFrame(ctx, token)
		req.ErrorIs(err, ErrInvalidCredentials)
	})

	t.Run("garbage", func(t *testing.T) {
		req := require.New(t)
		a, _ := newAuthenticator(t)

		_, err := a.AuthenticateFrame(ctx, "")
		req.ErrorIs(err, ErrInvalidCredentials)
		_, err = a.AuthenticateFrame(ctx, "not-a-token")
		req.ErrorIs(err, ErrInvalidCredentials)
	})
}
