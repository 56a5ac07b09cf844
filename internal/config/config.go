package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	Port        string `env:"PORT" envDefault:"8080"`
	DevMode     bool   `env:"DEV_MODE"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	JWTSecret       string        `env:"JWT_SECRET,required,notEmpty"`
	JWTIssuer       string        `env:"JWT_ISSUER" envDefault:"accountgraph"`
	JWTAudience     string        `env:"JWT_AUDIENCE" envDefault:"accountgraph-clients"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
	SessionTTL      time.Duration `env:"SESSION_TTL" envDefault:"168h"`

	SIWEDomain   string        `env:"SIWE_DOMAIN" envDefault:"localhost"`
	SIWENonceTTL time.Duration `env:"SIWE_NONCE_TTL" envDefault:"5m"`
	RedisURL     string        `env:"REDIS_URL"`

	EmailCodeTTL time.Duration `env:"EMAIL_CODE_TTL" envDefault:"10m"`

	OptimismRPCURL      string `env:"OPTIMISM_RPC_URL" envDefault:"https://mainnet.optimism.io"`
	FarcasterIDRegistry string `env:"FARCASTER_ID_REGISTRY" envDefault:"0x00000000Fc6c5F01Fc30151999387Bb99A9f489b"`

	WebAuthnRPID          string        `env:"WEBAUTHN_RP_ID" envDefault:"localhost"`
	WebAuthnRPDisplayName string        `env:"WEBAUTHN_RP_DISPLAY_NAME" envDefault:"AccountGraph"`
	WebAuthnRPOrigins     []string      `env:"WEBAUTHN_RP_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	WebAuthnChallengeTTL  time.Duration `env:"WEBAUTHN_CHALLENGE_TTL" envDefault:"5m"`

	MPCWebhookSecret string   `env:"MPC_WEBHOOK_SECRET"`
	AllowedOrigins   []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"10m"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= 0 || cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("token and session TTLs must be positive")
	}
	if cfg.AccessTokenTTL >= cfg.RefreshTokenTTL {
		return nil, fmt.Errorf("ACCESS_TOKEN_TTL must be shorter than REFRESH_TOKEN_TTL")
	}

	return &cfg, nil
}

// Level translates LOG_LEVEL into a slog level; unknown values fall back to info
func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// DatabaseTarget describes the DATABASE_URL host, port, db and user for logging (password omitted)
func (c *Config) DatabaseTarget() string {
	u, err := url.Parse(c.DatabaseURL)
	if err != nil {
		return "(invalid DATABASE_URL)"
	}
	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	dbName := strings.TrimPrefix(u.Path, "/")
	user := u.User.Username()
	if user == "" {
		user = "(none)"
	}
	return fmt.Sprintf("host=%s port=%s db=%s user=%s", host, port, dbName, user)
}
