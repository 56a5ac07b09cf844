package tests

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accountgraph/server/internal/account"
	"github.com/accountgraph/server/internal/audit"
	"github.com/accountgraph/server/internal/auth"
	"github.com/accountgraph/server/internal/config"
	"github.com/accountgraph/server/internal/db"
	httphandler "github.com/accountgraph/server/internal/http"
	"github.com/accountgraph/server/internal/http/handlers"
	"github.com/accountgraph/server/internal/identity"
	"github.com/accountgraph/server/internal/logging"
	"github.com/accountgraph/server/internal/model"
	"github.com/accountgraph/server/internal/repo"
	"github.com/accountgraph/server/internal/session"
)

const testWebhookSecret = "integration-webhook-secret"

func TestMain(m *testing.M) {
	// Set env if unset. Do NOT set DATABASE_URL; integration tests skip if missing.
	if os.Getenv("JWT_SECRET") == "" {
		os.Setenv("JWT_SECRET", "test-jwt-secret-at-least-32-characters-long")
	}
	if os.Getenv("DEV_MODE") == "" {
		os.Setenv("DEV_MODE", "true")
	}
	os.Setenv("MPC_WEBHOOK_SECRET", testWebhookSecret)

	code := m.Run()
	os.Exit(code)
}

// testServer holds the server and DB for integration tests
type testServer struct {
	Server   *httptest.Server
	DB       *sql.DB
	Accounts *account.Store
	Graph    *identity.Graph
	Nonces   *auth.NonceStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg, err := config.Load()
	require.NoError(t, err, "config load must succeed for integration test")

	ctx := context.Background()
	log := logging.Discard()
	database, err := db.Open(ctx, cfg.DatabaseURL, log)
	require.NoError(t, err, "database open must succeed; check DATABASE_URL and that test DB exists")
	t.Cleanup(func() { database.Close() })

	require.NoError(t, db.Migrate(ctx, database), "migrations must run successfully")

	accountRepo := repo.NewAccountRepo(database)
	profileRepo := repo.NewProfileRepo(database)
	rec := audit.NewLogRecorder(log)

	accounts := account.NewStore(accountRepo, log)
	graph := identity.NewGraph(accountRepo, repo.NewLinkRepo(database), profileRepo, log)
	profiles := identity.NewProfiles(graph, profileRepo, log)
	sessions := session.NewManager(repo.NewSessionRepo(database), cfg.SessionTTL, log)
	tokens := auth.NewTokenService(auth.TokenConfig{
		Secret:     cfg.JWTSecret,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	}, repo.NewBlacklistRepo(database), repo.NewRefreshRepo(database), sessions, rec, log)
	nonces := auth.NewNonceStore(repo.NewNonceRepo(database), cfg.SIWENonceTTL)
	email := auth.NewEmailVerifier(repo.NewEmailCodeRepo(database), auth.NewLogSender(log), cfg.EmailCodeTTL, cfg.DevMode)

	dispatcher := auth.NewDispatcher(auth.Deps{
		Accounts: accounts,
		Graph:    graph,
		Profiles: profiles,
		Sessions: sessions,
		Tokens:   tokens,
		Audit:    rec,
		Log:      log,
	})
	dispatcher.Register(auth.StrategyWallet, auth.NewWalletVerifier(nonces, cfg.SIWEDomain))
	dispatcher.Register(auth.StrategyEmail, email)
	dispatcher.Register(auth.StrategyGuest, auth.NewGuestVerifier())

	router := httphandler.NewRouter(httphandler.Handlers{
		Health:   handlers.NewHealthHandler(database),
		Auth:     handlers.NewAuthHandler(dispatcher, nonces, email, tokens, accounts, graph, log),
		Accounts: handlers.NewAccountHandler(dispatcher, accounts, graph, log),
		Profiles: handlers.NewProfileHandler(dispatcher, profiles, log),
		Webhooks: handlers.NewWebhookHandler(profiles, cfg.MPCWebhookSecret, log),
	}, tokens, sessions, cfg.AllowedOrigins)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testServer{Server: server, DB: database, Accounts: accounts, Graph: graph, Nonces: nonces}
}

func (s *testServer) BaseURL() string { return s.Server.URL }

func (s *testServer) TruncateAuth(t *testing.T) {
	t.Helper()
	require.NoError(t, TruncateAuthTables(context.Background(), s.DB), "truncate auth tables")
}

// postJSON sends body to path with an optional bearer token and returns status and raw body
func (s *testServer) postJSON(t *testing.T, path, token string, body any) (int, string) {
	t.Helper()
	return s.send(t, http.MethodPost, path, token, body)
}

func (s *testServer) send(t *testing.T, method, path, token string, body any) (int, string) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.BaseURL()+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.Server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, readBody(resp)
}

// emailLogin requests a dev code for email and authenticates with it
func (s *testServer) emailLogin(t *testing.T, email string) authenticateResponse {
	t.Helper()
	status, body := s.postJSON(t, "/auth/email/request_code", "", map[string]string{"email": email})
	require.Equal(t, http.StatusOK, status, "request_code: %s", body)
	var codeRes requestCodeResponse
	require.NoError(t, json.Unmarshal([]byte(body), &codeRes))
	require.NotEmpty(t, codeRes.DevCode, "devCode must be present when DEV_MODE=true")

	status, body = s.postJSON(t, "/auth/authenticate", "", map[string]string{
		"strategy": "email", "email": email, "code": codeRes.DevCode,
	})
	require.Equal(t, http.StatusOK, status, "authenticate: %s", body)
	var res authenticateResponse
	require.NoError(t, json.Unmarshal([]byte(body), &res))
	return res
}

// requestCodeResponse matches POST /auth/email/request_code response
type requestCodeResponse struct {
	Message string `json:"message"`
	DevCode string `json:"devCode"`
}

type tokensResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// authenticateResponse matches POST /auth/authenticate response
type authenticateResponse struct {
	Account struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Identifier string `json:"identifier"`
		Verified   bool   `json:"verified"`
	} `json:"account"`
	Profiles []struct {
		ID string `json:"id"`
	} `json:"profiles"`
	ActiveProfile   *struct{ ID string } `json:"activeProfile"`
	Tokens          tokensResponse       `json:"tokens"`
	RequiresProfile bool                 `json:"requiresProfile"`
	IsNewAccount    bool                 `json:"isNewAccount"`
	SessionID       string               `json:"sessionId"`
}

// errorResponse matches error JSON body
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func TestAuthIntegration(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	ts := newTestServer(t)
	ctx := context.Background()

	t.Run("A_EmailLogin_DeletesCodes", func(t *testing.T) {
		ts.TruncateAuth(t)
		res := ts.emailLogin(t, "A@B.com")
		assert.Equal(t, "a@b.com", res.Account.Identifier)
		assert.True(t, res.Account.Verified)
		assert.True(t, res.RequiresProfile)
		assert.Nil(t, res.ActiveProfile)

		n, err := CountRows(ctx, ts.DB, "email_codes", "email = $1", "a@b.com")
		require.NoError(t, err)
		assert.Zero(t, n)

		status, body := ts.postJSON(t, "/auth/authenticate", "", map[string]string{
			"strategy": "email", "email": "a@b.com", "code": "123456",
		})
		assert.Equal(t, http.StatusUnauthorized, status)
		var errRes errorResponse
		require.NoError(t, json.Unmarshal([]byte(body), &errRes))
		assert.Equal(t, "INVALID_VERIFICATION_CODE", errRes.Code)
	})

	t.Run("B_FindOrCreate_ConcurrentFirstCalls", func(t *testing.T) {
		ts.TruncateAuth(t)
		const workers = 8
		ids := make(chan string, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				a, _, err := ts.Accounts.FindOrCreate(ctx, model.AccountTypeEmail, "race@example.com", nil, nil)
				if assert.NoError(t, err) {
					ids <- a.ID.String()
				}
			}()
		}
		wg.Wait()
		close(ids)

		first := ""
		for id := range ids {
			if first == "" {
				first = id
			}
			assert.Equal(t, first, id)
		}
		n, err := CountRows(ctx, ts.DB, "accounts", "identifier = $1", "race@example.com")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("C_Nonce_ConcurrentConsume", func(t *testing.T) {
		ts.TruncateAuth(t)
		nonce, _, err := ts.Nonces.Issue(ctx)
		require.NoError(t, err)

		const workers = 8
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if ts.Nonces.Consume(ctx, nonce) == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("D_Link_Canonical", func(t *testing.T) {
		ts.TruncateAuth(t)
		a, _, err := ts.Accounts.FindOrCreate(ctx, model.AccountTypeGuest, "guest_a", nil, nil)
		require.NoError(t, err)
		b, _, err := ts.Accounts.FindOrCreate(ctx, model.AccountTypeGuest, "guest_b", nil, nil)
		require.NoError(t, err)

		_, err = ts.Graph.Link(ctx, a.ID, b.ID, model.LinkTypeDirect, model.PrivacyLinked)
		require.NoError(t, err)
		link, err := ts.Graph.Link(ctx, b.ID, a.ID, model.LinkTypeDirect, model.PrivacyPartial)
		require.NoError(t, err)
		assert.Equal(t, model.PrivacyPartial, link.PrivacyMode)

		n, err := CountRows(ctx, ts.DB, "identity_links", "")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("E_Refresh_RotationInvalidatesOld", func(t *testing.T) {
		ts.TruncateAuth(t)
		res := ts.emailLogin(t, "rotate@example.com")

		status, body := ts.postJSON(t, "/auth/refresh", "", map[string]string{"refreshToken": res.Tokens.RefreshToken})
		require.Equal(t, http.StatusOK, status, body)
		var rotated tokensResponse
		require.NoError(t, json.Unmarshal([]byte(body), &rotated))

		status, body = ts.postJSON(t, "/auth/refresh", "", map[string]string{"refreshToken": rotated.RefreshToken})
		require.Equal(t, http.StatusOK, status, body)
		var latest tokensResponse
		require.NoError(t, json.Unmarshal([]byte(body), &latest))

		status, body = ts.postJSON(t, "/auth/refresh", "", map[string]string{"refreshToken": res.Tokens.RefreshToken})
		assert.Equal(t, http.StatusUnauthorized, status)
		var errRes errorResponse
		require.NoError(t, json.Unmarshal([]byte(body), &errRes))
		assert.Equal(t, "TOKEN_REVOKED", errRes.Code)

		status, _ = ts.postJSON(t, "/auth/refresh", "", map[string]string{"refreshToken": latest.RefreshToken})
		assert.Equal(t, http.StatusUnauthorized, status)
		n, err := CountRows(ctx, ts.DB, "account_sessions", "account_id = $1", res.Account.ID)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("F_ProfileDelete_CascadesLinks", func(t *testing.T) {
		ts.TruncateAuth(t)
		res := ts.emailLogin(t, "owner@example.com")

		status, body := ts.postJSON(t, "/profiles", res.Tokens.AccessToken, map[string]string{"name": "Main"})
		require.Equal(t, http.StatusCreated, status, body)
		var prof struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal([]byte(body), &prof))

		status, body = ts.send(t, http.MethodDelete, "/profiles/"+prof.ID, res.Tokens.AccessToken, nil)
		require.Equal(t, http.StatusOK, status, body)

		n, err := CountRows(ctx, ts.DB, "profile_accounts", "profile_id = $1", prof.ID)
		require.NoError(t, err)
		assert.Zero(t, n)
		n, err = CountRows(ctx, ts.DB, "profiles", "id = $1", prof.ID)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("G_LogoutAll", func(t *testing.T) {
		ts.TruncateAuth(t)
		first := ts.emailLogin(t, "multi@example.com")
		second := ts.emailLogin(t, "multi@example.com")

		status, body := ts.postJSON(t, "/auth/logout_all", first.Tokens.AccessToken, nil)
		require.Equal(t, http.StatusOK, status, body)

		n, err := CountRows(ctx, ts.DB, "account_sessions", "")
		require.NoError(t, err)
		assert.Zero(t, n)

		status, _ = ts.postJSON(t, "/auth/refresh", "", map[string]string{"refreshToken": second.Tokens.RefreshToken})
		assert.Equal(t, http.StatusUnauthorized, status)
	})
}

func readBody(resp *http.Response) string {
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}
