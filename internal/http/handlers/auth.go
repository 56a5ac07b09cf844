package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/accountgraph/server/internal/account"
	"github.com/accountgraph/server/internal/apperr"
	"github.com/accountgraph/server/internal/auth"
	"github.com/accountgraph/server/internal/identity"
	"github.com/accountgraph/server/internal/logging"
	"github.com/accountgraph/server/internal/middleware"
	"github.com/accountgraph/server/internal/model"
)

// AuthHandler handles the /auth endpoints and GET /me
type AuthHandler struct {
	dispatcher      *auth.Dispatcher
	nonces          *auth.NonceStore
	email           *auth.EmailVerifier
	tokens          *auth.TokenService
	accounts        *account.Store
	graph           *identity.Graph
	log             logging.Logger
	ipLimiter       *middleware.RateLimiter
	verifyIPLimiter *middleware.RateLimiter
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(
	dispatcher *auth.Dispatcher,
	nonces *auth.NonceStore,
	email *auth.EmailVerifier,
	tokens *auth.TokenService,
	accounts *account.Store,
	graph *identity.Graph,
	log logging.Logger,
) *AuthHandler {
	// per IP: bursts of 10 refilling one per minute for code/nonce issuance, bursts of 20 refilling
	// one per 30s for authenticate (email codes also have their own DB limit)
	return &AuthHandler{
		dispatcher:      dispatcher,
		nonces:          nonces,
		email:           email,
		tokens:          tokens,
		accounts:        accounts,
		graph:           graph,
		log:             log,
		ipLimiter:       middleware.NewRateLimiter(time.Minute, 10),
		verifyIPLimiter: middleware.NewRateLimiter(30*time.Second, 20),
	}
}

type nonceResponse struct {
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// HandleNonce handles POST /auth/siwe/nonce
func (h *AuthHandler) HandleNonce(w http.ResponseWriter, r *http.Request) {
	if !h.ipLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(r.Context(), w, h.log, apperr.RateLimit("rate limit exceeded"))
		return
	}
	nonce, expiresAt, err := h.nonces.Issue(r.Context())
	if err != nil {
		respondWithError(r.Context(), w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, nonceResponse{Nonce: nonce, ExpiresAt: expiresAt})
}

type requestCodeRequest struct {
	Email string `json:"email"`
}

type requestCodeResponse struct {
	Message string `json:"message"`
	DevCode string `json:"devCode,omitempty"`
}

// HandleRequestCode handles POST /auth/email/request_code
func (h *AuthHandler) HandleRequestCode(w http.ResponseWriter, r *http.Request) {
	var req requestCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(r.Context(), w, h.log, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		respondWithError(r.Context(), w, h.log, apperr.Validation("email is required"))
		return
	}
	if !h.ipLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(r.Context(), w, h.log, apperr.RateLimit("rate limit exceeded"))
		return
	}

	devCode, err := h.email.RequestCode(r.Context(), req.Email, getClientIP(r), r.UserAgent())
	if err != nil {
		respondWithError(r.Context(), w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, requestCodeResponse{Message: "code_sent", DevCode: devCode})
}

// HandlePasskeyOptions handles POST /auth/passkey/options
func (h *AuthHandler) HandlePasskeyOptions(w http.ResponseWriter, r *http.Request) {
	if !h.ipLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(r.Context(), w, h.log, apperr.RateLimit("rate limit exceeded"))
		return
	}
	challenge, err := h.dispatcher.BeginPasskeyLogin(r.Context())
	if err != nil {
		respondWithError(r.Context(), w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, challenge)
}

// credentialRequest carries the fields of every strategy; the strategy decides which are read
type credentialRequest struct {
	Strategy    string          `json:"strategy"`
	Message     string          `json:"message"`
	Signature   string          `json:"signature"`
	Address     string          `json:"address"`
	Email       string          `json:"email"`
	Code        string          `json:"code"`
	Provider    string          `json:"provider"`
	Token       string          `json:"token"`
	ChallengeID string          `json:"challengeId"`
	Credential  json.RawMessage `json:"credential"`
}

// toRequest builds the closed strategy variant
func (c credentialRequest) toRequest() (auth.Request, error) {
	switch auth.Strategy(strings.ToLower(strings.TrimSpace(c.Strategy))) {
	case auth.StrategyWallet:
		return auth.WalletRequest{Message: c.Message, Signature: c.Signature, Address: c.Address}, nil
	case auth.StrategyEmail:
		return auth.EmailRequest{Email: c.Email, Code: c.Code}, nil
	case auth.StrategySocial:
		return auth.SocialRequest{Provider: c.Provider, Token: c.Token}, nil
	case auth.StrategyGuest:
		return auth.GuestRequest{}, nil
	case auth.StrategyPasskey:
		return auth.PasskeyRequest{ChallengeID: c.ChallengeID, Credential: c.Credential}, nil
	case auth.StrategyFarcaster:
		return auth.FarcasterRequest{Message: c.Message, Signature: c.Signature}, nil
	case "":
		return nil, apperr.Validation("strategy is required")
	}
	return nil, apperr.Validation("unsupported strategy")
}

type authenticateRequest struct {
	credentialRequest
	DeviceID    *string `json:"deviceId"`
	PrivacyMode string  `json:"privacyMode"`
}

type authenticateResponse struct {
	Account         accountResponse   `json:"account"`
	Profiles        []profileResponse `json:"profiles"`
	ActiveProfile   *profileResponse  `json:"activeProfile"`
	Tokens          auth.Tokens       `json:"tokens"`
	RequiresProfile bool              `json:"requiresProfile"`
	IsNewAccount    bool              `json:"isNewAccount"`
	SessionID       string            `json:"sessionId"`
	PrivacyMode     string            `json:"privacyMode"`
}

// HandleAuthenticate handles POST /auth/authenticate
func (h *AuthHandler) HandleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req authenticateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(r.Context(), w, h.log, err)
		return
	}
	credential, err := req.toRequest()
	if err != nil {
		respondWithError(r.Context(), w, h.log, err)
		return
	}
	if !h.verifyIPLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(r.Context(), w, h.log, apperr.RateLimit("rate limit exceeded"))
		return
	}

	result, err := h.dispatcher.Authenticate(r.Context(), credential, auth.AuthOptions{
		DeviceID:    req.DeviceID,
		IPAddress:   getClientIP(r),
		UserAgent:   r.UserAgent(),
		PrivacyMode: model.PrivacyMode(req.PrivacyMode),
	})
	if err != nil {
		respondWithError(r.Context(), w, h.log, err)
		return
	}

	resp := authenticateResponse{
		Account:         toAccountResponse(result.Account),
		Profiles:        toProfileResponses(result.Profiles),
		Tokens:          result.Tokens,
		RequiresProfile: result.RequiresProfile,
		IsNewAccount:    result.IsNewAccount,
		SessionID:       result.SessionID,
		PrivacyMode:     string(result.PrivacyMode),
	}
	if result.ActiveProfile != nil {
		p := toProfileResponse(*result.ActiveProfile)
		resp.ActiveProfile = &p
	}
	respondJSON(w, http.StatusOK, resp)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// HandleRefresh handles POST /auth/refresh
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(r.Context(), w, h.log, err)
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		respondWithError(r.Context(), w, h.log, apperr.Validation("refreshToken is required"))
		return
	}
	tokens, _, err := h.tokens.Rotate(r.Context(), req.RefreshToken)
	if err != nil {
		respondWithError(r.Context(), w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, tokens)
}

type messageResponse struct {
	Message string `json:"message"`
}

// HandleLogout handles POST /auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(r.Context(), w, h.log, err)
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		respondWithError(r.Context(), w, h.log, apperr.Validation("refreshToken is required"))
		return
	}
	if err := h.tokens.Logout(r.Context(), req.RefreshToken); err != nil {
		respondWithError(r.Context(), w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, messageResponse{Message: "logged out"})
}

// HandleLogoutAll handles POST /auth/logout_all (protected)
func (h *AuthHandler) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.GetAccountID(r.Context())
	if !ok {
		respondWithError(r.Context(), w, h.log, apperr.Authentication(apperr.CodeInvalidToken, "unauthorized", nil))
		return
	}
	if err := h.tokens.LogoutAllDevices(r.Context(), accountID, model.ReasonSecurity); err != nil {
		respondWithError(r.Context(), w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, messageResponse{Message: "logged out everywhere"})
}

type meResponse struct {
	Account         accountResponse   `json:"account"`
	Profiles        []profileResponse `json:"profiles"`
	ActiveProfileID *string           `json:"activeProfileId"`
	SessionID       string            `json:"sessionId"`
}

// HandleMe handles GET /me (protected). Profiles are the directly linked ones only.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.GetSession(r.Context())
	if !ok || sess == nil {
		respondWithError(r.Context(), w, h.log, apperr.Authentication(apperr.CodeInvalidToken, "unauthorized", nil))
		return
	}
	acct, err := h.accounts.Get(r.Context(), sess.AccountID)
	if err != nil {
		respondWithError(r.Context(), w, h.log, err)
		return
	}
	profiles, err := h.graph.DirectProfiles(r.Context(), sess.AccountID)
	if err != nil {
		respondWithError(r.Context(), w, h.log, err)
		return
	}

	resp := meResponse{
		Account:   toAccountResponse(acct),
		Profiles:  toProfileResponses(profiles),
		SessionID: sess.SessionID,
	}
	if sess.ActiveProfileID != nil {
		id := sess.ActiveProfileID.String()
		resp.ActiveProfileID = &id
	}
	respondJSON(w, http.StatusOK, resp)
}

// getClientIP extracts the client IP from the request. chi's RealIP has already applied
// X-Forwarded-For / X-Real-IP to RemoteAddr.
func getClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
