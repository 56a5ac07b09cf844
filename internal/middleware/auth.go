package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/accountgraph/server/internal/apperr"
	"github.com/accountgraph/server/internal/auth"
	"github.com/accountgraph/server/internal/model"
	"github.com/accountgraph/server/internal/session"
)

type contextKey string

const (
	claimsKey  contextKey = "claims"
	sessionKey contextKey = "session"
)

// AuthMiddleware verifies the bearer access token and the session it names, then
// attaches both to the request context
func AuthMiddleware(tokens *auth.TokenService, sessions *session.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondWithError(w, apperr.Authentication(apperr.CodeInvalidToken, "missing authorization header", nil))
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				respondWithError(w, apperr.Authentication(apperr.CodeInvalidToken, "invalid authorization header format", nil))
				return
			}

			tokenString := strings.TrimSpace(parts[1])
			if tokenString == "" {
				respondWithError(w, apperr.Authentication(apperr.CodeInvalidToken, "missing token", nil))
				return
			}

			claims, err := tokens.VerifyAccess(tokenString)
			if err != nil {
				respondWithError(w, err)
				return
			}

			sess, err := sessions.Validate(r.Context(), claims.SessionID, claims.AccountID)
			if err != nil {
				respondWithError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			ctx = context.WithValue(ctx, sessionKey, &sess)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClaims returns the access token claims attached by AuthMiddleware
func GetClaims(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*auth.Claims)
	return c, ok
}

// GetAccountID extracts the authenticated account ID from context
func GetAccountID(ctx context.Context) (uuid.UUID, bool) {
	c, ok := GetClaims(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return c.AccountID, true
}

// GetSession returns the validated session attached by AuthMiddleware
func GetSession(ctx context.Context) (*model.AccountSession, bool) {
	s, ok := ctx.Value(sessionKey).(*model.AccountSession)
	return s, ok
}

// respondWithError sends a JSON error response; errors other than *apperr.Error become a 500
func respondWithError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := map[string]string{"error": "internal server error"}
	if e, ok := apperr.As(err); ok {
		status = e.HTTPStatus()
		body = map[string]string{"error": e.Message, "code": e.Code}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
