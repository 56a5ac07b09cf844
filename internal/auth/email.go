package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/accountgraph/server/internal/apperr"
	"github.com/accountgraph/server/internal/logging"
	"github.com/accountgraph/server/internal/model"
	"github.com/accountgraph/server/internal/repo"
)

const (
	codeLength           = 6
	devCode              = "123456"
	DefaultEmailCodeTTL  = 10 * time.Minute
	requestWindow        = 10 * time.Minute
	maxRequestsPerWindow = 3
)

// CodeSender delivers a verification code to an inbox
type CodeSender interface {
	SendCode(ctx context.Context, email, code string) error
}

// LogSender stands in for a mail provider; it records that a code went out, never the code
type LogSender struct {
	log logging.Logger
}

func NewLogSender(log logging.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) SendCode(ctx context.Context, email, _ string) error {
	s.log.Info(ctx, "verification code issued", "email", logging.Mask(email))
	return nil
}

// EmailVerifier issues and checks one-time email codes. Only bcrypt hashes are stored.
type EmailVerifier struct {
	codes      repo.EmailCodeRepo
	sender     CodeSender
	ttl        time.Duration
	devMode    bool
	bcryptCost int
	now        func() time.Time
}

func NewEmailVerifier(codes repo.EmailCodeRepo, sender CodeSender, ttl time.Duration, devMode bool) *EmailVerifier {
	if ttl <= 0 {
		ttl = DefaultEmailCodeTTL
	}
	return &EmailVerifier{
		codes:      codes,
		sender:     sender,
		ttl:        ttl,
		devMode:    devMode,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
	}
}

// RequestCode stores a fresh code for email and hands it to the sender. In dev mode the code
// is always 123456 and is also returned so local clients can display it.
func (v *EmailVerifier) RequestCode(ctx context.Context, email, ip, userAgent string) (string, error) {
	addr, err := normalizeEmail(email)
	if err != nil {
		return "", err
	}

	code := devCode
	if !v.devMode {
		code, err = generateCode()
		if err != nil {
			return "", err
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), v.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash code: %w", err)
	}

	rec := model.EmailCode{
		Email:     addr,
		CodeHash:  hash,
		ExpiresAt: v.now().Add(v.ttl),
	}
	if ip != "" {
		rec.RequestIP = &ip
	}
	if userAgent != "" {
		rec.UserAgent = &userAgent
	}

	if err := v.codes.Create(ctx, rec, maxRequestsPerWindow, requestWindow); err != nil {
		if errors.Is(err, repo.ErrLimitExceeded) {
			return "", apperr.RateLimit(fmt.Sprintf("at most %d codes per %v", maxRequestsPerWindow, requestWindow))
		}
		return "", fmt.Errorf("store email code: %w", err)
	}

	if v.devMode {
		return code, nil
	}
	if err := v.sender.SendCode(ctx, addr, code); err != nil {
		return "", fmt.Errorf("send email code: %w", err)
	}
	return "", nil
}

func (v *EmailVerifier) Verify(ctx context.Context, r Request) (VerifiedIdentity, error) {
	req, ok := r.(EmailRequest)
	if !ok {
		return VerifiedIdentity{}, unexpectedRequest(StrategyEmail, r)
	}
	addr, err := normalizeEmail(req.Email)
	if err != nil {
		return VerifiedIdentity{}, err
	}
	code := strings.TrimSpace(req.Code)
	if !isCode(code) {
		return VerifiedIdentity{}, ErrInvalidCode
	}

	check, err := v.codes.VerifyAndConsume(ctx, addr, func(hash []byte) bool {
		return bcrypt.CompareHashAndPassword(hash, []byte(code)) == nil
	})
	if err != nil {
		return VerifiedIdentity{}, fmt.Errorf("verify email code: %w", err)
	}
	switch {
	case check.Matched:
	case check.Exhausted:
		return VerifiedIdentity{}, ErrCodeExhausted
	default:
		return VerifiedIdentity{}, ErrInvalidCode
	}

	return VerifiedIdentity{
		Type:            model.AccountTypeEmail,
		Identifier:      addr,
		ProvesOwnership: true,
	}, nil
}

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", apperr.Validation("invalid email address")
	}
	return strings.ToLower(addr.Address), nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeLength, n.Int64()), nil
}

func isCode(s string) bool {
	if len(s) != codeLength {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
