package http

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/accountgraph/server/internal/auth"
	"github.com/accountgraph/server/internal/http/handlers"
	"github.com/accountgraph/server/internal/middleware"
	"github.com/accountgraph/server/internal/session"
)

// Handlers groups the endpoint handlers mounted by NewRouter
type Handlers struct {
	Health   *handlers.HealthHandler
	Auth     *handlers.AuthHandler
	Accounts *handlers.AccountHandler
	Profiles *handlers.ProfileHandler
	Webhooks *handlers.WebhookHandler
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(h Handlers, tokens *auth.TokenService, sessions *session.Manager, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()
	authenticated := middleware.AuthMiddleware(tokens, sessions)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health.ServeHTTP)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/siwe/nonce", h.Auth.HandleNonce)
		r.Post("/email/request_code", h.Auth.HandleRequestCode)
		r.Post("/passkey/options", h.Auth.HandlePasskeyOptions)
		r.Post("/authenticate", h.Auth.HandleAuthenticate)
		r.Post("/refresh", h.Auth.HandleRefresh)
		r.Post("/logout", h.Auth.HandleLogout)
		r.With(authenticated).Post("/logout_all", h.Auth.HandleLogoutAll)
	})

	r.Post("/webhooks/mpc/wallet", h.Webhooks.HandleWallet)

	// Protected routes (require valid JWT and a live session)
	r.Group(func(r chi.Router) {
		r.Use(authenticated)

		r.Get("/me", h.Auth.HandleMe)

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/graph", h.Accounts.HandleGraph)
			r.Post("/link", h.Accounts.HandleLink)
			r.Put("/links/{accountId}", h.Accounts.HandleSetPrivacy)
			r.Delete("/links/{accountId}", h.Accounts.HandleUnlink)
			r.Patch("/metadata", h.Accounts.HandleUpdateMetadata)
			r.Post("/passkeys/begin", h.Accounts.HandleBeginPasskey)
			r.Post("/passkeys/finish", h.Accounts.HandleFinishPasskey)
		})

		r.Route("/profiles", func(r chi.Router) {
			r.Post("/", h.Profiles.HandleCreate)
			r.Post("/switch", h.Profiles.HandleSwitch)
			r.Delete("/{profileId}", h.Profiles.HandleDelete)
		})
	})

	return r
}
