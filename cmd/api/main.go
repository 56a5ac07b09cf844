package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/accountgraph/server/internal/account"
	"github.com/accountgraph/server/internal/audit"
	"github.com/accountgraph/server/internal/auth"
	"github.com/accountgraph/server/internal/config"
	"github.com/accountgraph/server/internal/db"
	httphandler "github.com/accountgraph/server/internal/http"
	"github.com/accountgraph/server/internal/http/handlers"
	"github.com/accountgraph/server/internal/identity"
	"github.com/accountgraph/server/internal/logging"
	"github.com/accountgraph/server/internal/repo"
	"github.com/accountgraph/server/internal/session"
	"github.com/accountgraph/server/internal/worker"
)

func main() {
	// Load .env from CWD or server/ so it works from repo root or server/ (env vars override)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("server/.env")

	bootLog := logging.NewJSON(os.Stderr, slog.LevelInfo)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		bootLog.Error(ctx, "failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logging.NewJSON(os.Stdout, cfg.Level())

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info(ctx, "server exited")
}

func run(ctx context.Context, cfg *config.Config, log logging.Logger) error {
	log.Info(ctx, "connecting to database", "target", cfg.DatabaseTarget())
	database, err := db.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(ctx, database); err != nil {
		return err
	}

	// Repositories
	accountRepo := repo.NewAccountRepo(database)
	linkRepo := repo.NewLinkRepo(database)
	profileRepo := repo.NewProfileRepo(database)
	sessionRepo := repo.NewSessionRepo(database)
	blacklistRepo := repo.NewBlacklistRepo(database)
	refreshRepo := repo.NewRefreshRepo(database)
	emailCodeRepo := repo.NewEmailCodeRepo(database)
	passkeyRepo := repo.NewPasskeyRepo(database)

	nonceRepo := repo.NewNonceRepo(database)
	if cfg.RedisURL != "" {
		client, err := db.OpenRedis(ctx, cfg.RedisURL, log)
		if err != nil {
			return err
		}
		defer client.Close()
		nonceRepo = repo.NewRedisNonceRepo(client)
	}

	// Core services
	rec := audit.NewLogRecorder(log)
	accounts := account.NewStore(accountRepo, log)
	graph := identity.NewGraph(accountRepo, linkRepo, profileRepo, log)
	profiles := identity.NewProfiles(graph, profileRepo, log)
	sessions := session.NewManager(sessionRepo, cfg.SessionTTL, log)
	tokens := auth.NewTokenService(auth.TokenConfig{
		Secret:     cfg.JWTSecret,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	}, blacklistRepo, refreshRepo, sessions, rec, log)

	// Strategies
	nonces := auth.NewNonceStore(nonceRepo, cfg.SIWENonceTTL)
	email := auth.NewEmailVerifier(emailCodeRepo, auth.NewLogSender(log), cfg.EmailCodeTTL, cfg.DevMode)
	passkeys, err := auth.NewPasskeyVerifier(auth.PasskeyConfig{
		RPID:          cfg.WebAuthnRPID,
		RPDisplayName: cfg.WebAuthnRPDisplayName,
		RPOrigins:     cfg.WebAuthnRPOrigins,
		ChallengeTTL:  cfg.WebAuthnChallengeTTL,
	}, passkeyRepo)
	if err != nil {
		return err
	}

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
	dispatcher.Register(auth.StrategySocial, auth.NewSocialVerifier(auth.DefaultSocialProviders(), nil))
	dispatcher.Register(auth.StrategyGuest, auth.NewGuestVerifier())
	dispatcher.Register(auth.StrategyPasskey, passkeys)

	registry, rpc, err := auth.DialIDRegistry(ctx, cfg.OptimismRPCURL, cfg.FarcasterIDRegistry)
	if err != nil {
		log.Warn(ctx, "farcaster sign-in disabled", "error", err)
	} else {
		defer rpc.Close()
		dispatcher.Register(auth.StrategyFarcaster, auth.NewFarcasterVerifier(nonces, registry, cfg.SIWEDomain))
	}

	if cfg.MPCWebhookSecret == "" {
		log.Warn(ctx, "MPC_WEBHOOK_SECRET is empty; wallet webhook will reject every call")
	}

	router := httphandler.NewRouter(httphandler.Handlers{
		Health:   handlers.NewHealthHandler(database),
		Auth:     handlers.NewAuthHandler(dispatcher, nonces, email, tokens, accounts, graph, log),
		Accounts: handlers.NewAccountHandler(dispatcher, accounts, graph, log),
		Profiles: handlers.NewProfileHandler(dispatcher, profiles, log),
		Webhooks: handlers.NewWebhookHandler(profiles, cfg.MPCWebhookSecret, log),
	}, tokens, sessions, cfg.AllowedOrigins)

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	sweeper := worker.NewSweeper(cfg.SweepInterval, log,
		worker.Task{Name: "siwe_nonces", Run: nonceRepo.DeleteExpired},
		worker.Task{Name: "token_blacklist", Run: blacklistRepo.DeleteExpired},
		worker.Task{Name: "refresh_tokens", Run: refreshRepo.DeleteExpired},
		worker.Task{Name: "sessions", Run: sessionRepo.DeleteExpired},
		worker.Task{Name: "email_codes", Run: emailCodeRepo.DeleteExpired},
		worker.Task{Name: "passkey_challenges", Run: passkeyRepo.DeleteExpiredChallenges},
	)
	sweeperDone := sweeper.Start(sweepCtx)

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "server starting", "port", cfg.Port, "dev_mode", cfg.DevMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	log.Info(ctx, "shutting down server")
	stopSweeper()
	<-sweeperDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
