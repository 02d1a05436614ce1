package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/pliu/chatty/internal/models"
	"github.com/pliu/chatty/internal/store"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Authenticator verifies credentials against the user directory and issues
// session tokens. Reserved usernames belong to automation accounts and can
// never log in.
type Authenticator struct {
	users    store.UserDirectory
	tokens   *TokenIssuer
	cost     int
	reserved map[string]struct{}
}

func NewAuthenticator(users store.UserDirectory, tokens *TokenIssuer, cost int, reserved ...string) *Authenticator {
	a := &Authenticator{
		users:    users,
		tokens:   tokens,
		cost:     cost,
		reserved: make(map[string]struct{}, len(reserved)),
	}
	for _, username := range reserved {
		a.reserved[username] = struct{}{}
	}
	return a
}

func (a *Authenticator) IsReserved(username string) bool {
	_, ok := a.reserved[username]
	return ok
}

func (a *Authenticator) HashPassword(password string) (string, error) {
	return HashPassword(password, a.cost)
}

// VerifyCredential returns the user when password matches the stored hash.
// Unknown users, reserved users and wrong passwords all fail the same way.
func (a *Authenticator) VerifyCredential(ctx context.Context, username, password string) (*models.User, error) {
	if username == "" || a.IsReserved(username) {
		return nil, ErrInvalidCredentials
	}
	user, err := a.users.GetUser(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !ComparePassword(user.Password, password) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Login verifies the credentials and issues a session token.
func (a *Authenticator) Login(ctx context.Context, username, password string) (string, *models.User, error) {
	user, err := a.VerifyCredential(ctx, username, password)
	if err != nil {
		return "", nil, err
	}
	token, err := a.tokens.Generate(user.Username)
	if err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}
	return token, user, nil
}

// AuthenticateRequest accepts either a Bearer session token or Basic
// credentials in the Authorization header.
func (a *Authenticator) AuthenticateRequest(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return a.authenticateToken(token)
	}
	if username, password, ok := r.BasicAuth(); ok {
		user, err := a.VerifyCredential(r.Context(), username, password)
		if err != nil {
			return "", err
		}
		return user.Username, nil
	}
	return "", ErrInvalidCredentials
}

// AuthenticateFrame resolves the first frame of a websocket session. The
// frame holds either base64("username:password") or a session token.
func (a *Authenticator) AuthenticateFrame(ctx context.Context, frame string) (string, error) {
	frame = strings.TrimSpace(frame)
	if frame == "" {
		return "", ErrInvalidCredentials
	}
	if decoded, err := base64.StdEncoding.DecodeString(frame); err == nil {
		if username, password, ok := strings.Cut(string(decoded), ":"); ok {
			user, err := a.VerifyCredential(ctx, username, password)
			if err != nil {
				return "", err
			}
			return user.Username, nil
		}
	}
	return a.authenticateToken(frame)
}

func (a *Authenticator) authenticateToken(token string) (string, error) {
	username, err := a.tokens.Validate(token)
	if err != nil {
		return "", errors.Join(ErrInvalidCredentials, err)
	}
	if a.IsReserved(username) {
		return "", ErrInvalidCredentials
	}
	return username, nil
}
