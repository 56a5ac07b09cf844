package tests

import (
	"encoding/json"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEmail = "e2e@example.com"

// TestAuthE2E runs the complete E2E flow: health, request_code, authenticate, me, rate limit, production mode.
// Uses httptest.NewServer (no real port). Deterministic: TruncateAuth before each section.
func TestAuthE2E(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set; skipping E2E test")
	}

	ts := newTestServer(t)
	client := ts.Server.Client()

	t.Run("A_Health", func(t *testing.T) {
		ts.TruncateAuth(t)
		resp, err := client.Get(ts.BaseURL() + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, "GET /health must return 200")
		var body map[string]bool
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.True(t, body["ok"])
	})

	t.Run("B_FullFlow", func(t *testing.T) {
		ts.TruncateAuth(t)
		res := ts.emailLogin(t, testEmail)
		assert.NotEmpty(t, res.Tokens.AccessToken)
		assert.NotEmpty(t, res.Tokens.RefreshToken)
		assert.True(t, res.IsNewAccount)
		assert.Equal(t, "email", res.Account.Type)

		status, body := ts.send(t, http.MethodGet, "/me", res.Tokens.AccessToken, nil)
		assert.Equal(t, http.StatusOK, status, "GET /me must return 200; body: %s", body)
		var me struct {
			Account struct {
				ID string `json:"id"`
			} `json:"account"`
			SessionID string `json:"sessionId"`
		}
		require.NoError(t, json.Unmarshal([]byte(body), &me))
		assert.Equal(t, res.Account.ID, me.Account.ID)
		assert.Equal(t, res.SessionID, me.SessionID)

		again := ts.emailLogin(t, testEmail)
		assert.False(t, again.IsNewAccount)
		assert.Equal(t, res.Account.ID, again.Account.ID)
	})

	t.Run("C_RateLimit", func(t *testing.T) {
		ts.TruncateAuth(t)
		var status int
		var body string
		for i := 0; i < 4; i++ {
			status, body = ts.postJSON(t, "/auth/email/request_code", "", map[string]string{"email": testEmail})
			if status == http.StatusTooManyRequests {
				break
			}
		}
		assert.Equal(t, http.StatusTooManyRequests, status,
			"4th request_code must return 429 (rate limit); body: %s", body)
		var errRes errorResponse
		require.NoError(t, json.Unmarshal([]byte(body), &errRes))
		assert.Equal(t, "RATE_LIMITED", errRes.Code)
	})

	t.Run("D_ProductionMode", func(t *testing.T) {
		t.Setenv("DEV_MODE", "false")
		prod := newTestServer(t)
		prod.TruncateAuth(t)

		status, body := prod.postJSON(t, "/auth/email/request_code", "", map[string]string{"email": testEmail})
		assert.Equal(t, http.StatusOK, status, "request_code in prod mode must return 200; body: %s", body)
		var res requestCodeResponse
		require.NoError(t, json.Unmarshal([]byte(body), &res))
		assert.Equal(t, "code_sent", res.Message)
		assert.Empty(t, res.DevCode, "devCode must not be exposed when DEV_MODE=false")

		status, _ = prod.postJSON(t, "/auth/authenticate", "", map[string]string{
			"strategy": "email", "email": testEmail, "code": "123456",
		})
		assert.Equal(t, http.StatusUnauthorized, status)
	})
}
