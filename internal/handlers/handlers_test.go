package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/pliu/chatty/internal/auth"
	"github.com/pliu/chatty/internal/filter"
	"github.com/pliu/chatty/internal/live"
	"github.com/pliu/chatty/internal/store/sqlstore"
	"github.com/pliu/chatty/internal/welcome"
	"github.com/pliu/chatty/internal/ws"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "password123"

type testApp struct {
	router http.Handler
	store  *sqlstore.SQLStore
	engine *live.Engine
}

func setupApp(t *testing.T) *testApp {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	sanitizer, err := filter.New([]string{"darn"}, '*')
	require.NoError(t, err)

	engine := live.NewEngine(log, 4)
	s, err := sqlstore.New("sqlite3", ":memory:", sqlstore.WithSanitizer(sanitizer), sqlstore.WithNotifier(engine))
	require.NoError(t, err)

	authn := auth.NewAuthenticator(s, auth.NewTokenIssuer("test-secret", time.Hour), bcrypt.MinCost, welcome.BotUsername)
	greeter := welcome.NewPolicy(s, log, authn.HashPassword)
	hub := ws.NewHub(log, 16)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		engine.Close()
		s.Close()
	})

	users := &UserHandler{Store: s, Auth: authn, Welcome: greeter, Log: log}
	chats := &ChatHandler{Store: s, Engine: engine, Hub: hub, Auth: authn, PageSize: 15, Log: log}
	return &testApp{
		router: NewRouter(users, chats, authn, log),
		store:  s,
		engine: engine,
	}
}

// call sends a request as username, authenticated with Basic credentials.
// An empty username sends no credentials.
func (a *testApp) call(t *testing.T, method, path, username string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if username != "" {
		req.SetBasicAuth(username, testPassword)
	}
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func (a *testApp) register(t *testing.T, username, displayName string) {
	t.Helper()
	rr := a.call(t, "POST", "/api/v1/user/register", "", map[string]string{
		"username":    username,
		"password":    testPassword,
		"displayName": displayName,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func requireError(t *testing.T, rr *httptest.ResponseRecorder, status int, message string) {
	t.Helper()
	require.Equal(t, status, rr.Code, rr.Body.String())
	body := decode[ErrorResponse](t, rr)
	require.Equal(t, status, body.Code)
	if message != "" {
		require.Equal(t, message, body.Message)
	}
}

func httpRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

func serve(a *testApp, r *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, r)
	return rr
}
