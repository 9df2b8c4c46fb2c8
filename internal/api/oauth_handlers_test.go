package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discordgate/discordgate/internal/authz"
	"github.com/discordgate/discordgate/internal/config"
	"github.com/discordgate/discordgate/internal/metrics"
	"github.com/discordgate/discordgate/internal/models"
	"github.com/discordgate/discordgate/internal/store"
)

type fakeEngine struct {
	result        *authz.Result
	authorizeErr  *authz.Error
	deleteErr     *authz.Error
	authorizeCall int
	lastCode      string
	messages      authz.Messages
}

func (f *fakeEngine) Authorize(ctx context.Context, code string) (*authz.Result, *authz.Error) {
	f.authorizeCall++
	f.lastCode = code
	if f.authorizeErr != nil {
		return nil, f.authorizeErr
	}
	return f.result, nil
}

func (f *fakeEngine) DeleteAccount(ctx context.Context, userID string) (string, *authz.Error) {
	if f.deleteErr != nil {
		return "", f.deleteErr
	}
	return f.messages.Get(authz.MsgUserDeleted), nil
}

func (f *fakeEngine) Messages() authz.Messages {
	return f.messages
}

type fakeStates struct {
	state      string
	consumeErr error
	consumed   []string
}

func (f *fakeStates) Create(ctx context.Context) (string, error) {
	return f.state, nil
}

func (f *fakeStates) Consume(ctx context.Context, state string) error {
	f.consumed = append(f.consumed, state)
	return f.consumeErr
}

type fakeUsers struct {
	users map[string]*models.User
}

func (f *fakeUsers) Get(ctx context.Context, userID string) (*models.User, error) {
	user, ok := f.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return user, nil
}

type fakeURLBuilder struct{}

func (fakeURLBuilder) AuthCodeURL(state string) string {
	return "https://discord.com/oauth2/authorize?state=" + state
}

func testAPIConfig() *config.Config {
	return &config.Config{
		Environment: "development",
		AppURL:      "http://localhost:8000",
		JWTSecret:   "0123456789abcdef0123456789abcdef",
		Discord: config.DiscordConfig{
			ClientID:     "123456789012345678",
			ClientSecret: "secret",
			GrantType:    "authorization_code",
			Prefix:       "larascord",
			Scope:        "identify&email",
			Prompt:       "none",
		},
	}
}

func testCollector() *metrics.Collector {
	return metrics.NewCollector(prometheus.NewRegistry())
}

func allowedResult() *authz.Result {
	return &authz.Result{
		User:       &models.User{ID: "100", Username: "wumpus"},
		MessageKey: authz.MsgUserAuthenticated,
		Message:    "You have been logged in.",
	}
}

func TestHandleOAuthLogin_RedirectsWithState(t *testing.T) {
	states := &fakeStates{state: "generated-state"}
	handler := HandleOAuthLogin(states, fakeURLBuilder{})

	req := httptest.NewRequest(http.MethodGet, "/larascord/login", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://discord.com/oauth2/authorize?state=generated-state", rec.Header().Get("Location"))
}

func TestHandleOAuthCallback_DiscordReportedError(t *testing.T) {
	engine := &fakeEngine{messages: authz.NewMessages(nil), result: allowedResult()}
	states := &fakeStates{}
	handler := HandleOAuthCallback(engine, states, testAPIConfig(), testCollector())

	req := httptest.NewRequest(http.MethodGet, "/larascord/callback?error=access_denied", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "The authorization failed.")
	assert.Equal(t, 0, engine.authorizeCall, "no token exchange may be attempted on a reported denial")
	assert.Empty(t, states.consumed)
}

func TestHandleOAuthCallback_InvalidState(t *testing.T) {
	engine := &fakeEngine{messages: authz.NewMessages(nil), result: allowedResult()}
	states := &fakeStates{consumeErr: store.ErrStateNotFound}
	handler := HandleOAuthCallback(engine, states, testAPIConfig(), testCollector())

	req := httptest.NewRequest(http.MethodGet, "/larascord/callback?code=abc&state=stale", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, engine.authorizeCall)
}

func TestHandleOAuthCallback_Allowed(t *testing.T) {
	engine := &fakeEngine{messages: authz.NewMessages(nil), result: allowedResult()}
	states := &fakeStates{}
	cfg := testAPIConfig()
	handler := HandleOAuthCallback(engine, states, cfg, testCollector())

	req := httptest.NewRequest(http.MethodGet, "/larascord/callback?code=good-code&state=fresh", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"fresh"}, states.consumed)
	assert.Equal(t, "good-code", engine.lastCode)

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "100", resp.User.ID)
	assert.Equal(t, "You have been logged in.", resp.Message)

	// The issued token must round-trip through the session middleware.
	sessionReq := httptest.NewRequest(http.MethodGet, "/api/user/me", nil)
	sessionReq.Header.Set("Authorization", "Bearer "+resp.Token)
	userID, err := userIDFromRequest(sessionReq, cfg.JWTSecret)
	require.NoError(t, err)
	assert.Equal(t, "100", userID)
}

func TestHandleOAuthCallback_Denied(t *testing.T) {
	messages := authz.NewMessages(nil)
	engine := &fakeEngine{
		messages: messages,
		authorizeErr: &authz.Error{
			Kind:    authz.KindNotMemberGuildOnly,
			Message: messages.Get(string(authz.KindNotMemberGuildOnly)),
		},
	}
	handler := HandleOAuthCallback(engine, &fakeStates{}, testAPIConfig(), testCollector())

	req := httptest.NewRequest(http.MethodGet, "/larascord/callback?code=abc&state=fresh", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "You are not allowed to login.")
}

func TestHandleOAuthCallback_SessionUserMismatch(t *testing.T) {
	engine := &fakeEngine{messages: authz.NewMessages(nil), result: allowedResult()}
	cfg := testAPIConfig()
	handler := HandleOAuthCallback(engine, &fakeStates{}, cfg, testCollector())

	// Session belongs to a different Discord user than the one authorizing.
	otherToken, err := generateJWT("999", cfg.JWTSecret)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/larascord/callback?code=abc&state=fresh", nil)
	req.Header.Set("Authorization", "Bearer "+otherToken)
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "The user ID doesn't match the logged-in user.")
}

func TestHandleDeleteAccount(t *testing.T) {
	engine := &fakeEngine{messages: authz.NewMessages(nil)}
	handler := HandleDeleteAccount(engine, testCollector())

	req := httptest.NewRequest(http.MethodDelete, "/api/user/me", nil)
	ctx := context.WithValue(req.Context(), userContextKey, &models.User{ID: "100"})
	rec := httptest.NewRecorder()
	handler(rec, req.WithContext(ctx))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Your account has been deleted.")
}

func TestAuthMiddleware(t *testing.T) {
	cfg := testAPIConfig()
	users := &fakeUsers{users: map[string]*models.User{
		"100": {ID: "100", Username: "wumpus"},
	}}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Context().Value(userContextKey).(*models.User)
		w.Write([]byte(user.Username))
	})
	handler := AuthMiddleware(cfg.JWTSecret, users)(next)

	t.Run("valid token", func(t *testing.T) {
		token, err := generateJWT("100", cfg.JWTSecret)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/user/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "wumpus", rec.Body.String())
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/user/me", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/user/me", nil)
		req.Header.Set("Authorization", "Basic abc")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token for deleted user", func(t *testing.T) {
		token, err := generateJWT("999", cfg.JWTSecret)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/user/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token signed with wrong secret", func(t *testing.T) {
		token, err := generateJWT("100", "another-secret-another-secret-xx")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/user/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestNewRouter_Health(t *testing.T) {
	cfg := testAPIConfig()
	registry := prometheus.NewRegistry()
	router := NewRouter(cfg, Deps{
		Engine:    &fakeEngine{messages: authz.NewMessages(nil), result: allowedResult()},
		States:    &fakeStates{state: "s"},
		Users:     &fakeUsers{users: map[string]*models.User{}},
		Discord:   fakeURLBuilder{},
		Collector: metrics.NewCollector(registry),
		Gatherer:  registry,
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestNewRouter_LoginRouteUsesPrefix(t *testing.T) {
	cfg := testAPIConfig()
	cfg.Discord.Prefix = "discord"
	registry := prometheus.NewRegistry()
	router := NewRouter(cfg, Deps{
		Engine:    &fakeEngine{messages: authz.NewMessages(nil), result: allowedResult()},
		States:    &fakeStates{state: "s"},
		Users:     &fakeUsers{users: map[string]*models.User{}},
		Discord:   fakeURLBuilder{},
		Collector: metrics.NewCollector(registry),
		Gatherer:  registry,
	})

	req := httptest.NewRequest(http.MethodGet, "/discord/login", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/larascord/login", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
