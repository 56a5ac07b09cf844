package auth

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/accountgraph/server/internal/model"
	"github.com/accountgraph/server/internal/repo"
)

const (
	challengeKindLogin        = "login"
	challengeKindRegistration = "registration"

	DefaultChallengeTTL = 5 * time.Minute
)

// PasskeyConfig is the relying party WebAuthn configuration
type PasskeyConfig struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string
	ChallengeTTL  time.Duration
}

type passkeyProvider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error)
}

type passkeyParser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultPasskeyParser struct{}

func (defaultPasskeyParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultPasskeyParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// PasskeyVerifier runs WebAuthn ceremonies. Login never creates accounts: an assertion is only
// accepted for a credential registered earlier through BeginRegistration/FinishRegistration.
type PasskeyVerifier struct {
	webauthn passkeyProvider
	parser   passkeyParser
	passkeys repo.PasskeyRepo
	ttl      time.Duration
	now      func() time.Time
}

func NewPasskeyVerifier(cfg PasskeyConfig, passkeys repo.PasskeyRepo) (*PasskeyVerifier, error) {
	w, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("configure webauthn: %w", err)
	}
	return newPasskeyVerifier(w, defaultPasskeyParser{}, passkeys, cfg.ChallengeTTL), nil
}

func newPasskeyVerifier(provider passkeyProvider, parser passkeyParser, passkeys repo.PasskeyRepo, ttl time.Duration) *PasskeyVerifier {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	return &PasskeyVerifier{webauthn: provider, parser: parser, passkeys: passkeys, ttl: ttl, now: time.Now}
}

// PasskeyChallenge is what a client needs to start a ceremony
type PasskeyChallenge struct {
	ChallengeID string          `json:"challengeId"`
	Options     json.RawMessage `json:"options"`
}

// BeginLogin issues a discoverable-credential assertion challenge
func (v *PasskeyVerifier) BeginLogin(ctx context.Context) (PasskeyChallenge, error) {
	assertion, session, err := v.webauthn.BeginDiscoverableLogin()
	if err != nil {
		return PasskeyChallenge{}, fmt.Errorf("begin passkey login: %w", err)
	}
	return v.storeChallenge(ctx, challengeKindLogin, nil, nil, session, assertion)
}

func (v *PasskeyVerifier) Verify(ctx context.Context, r Request) (VerifiedIdentity, error) {
	req, ok := r.(PasskeyRequest)
	if !ok {
		return VerifiedIdentity{}, unexpectedRequest(StrategyPasskey, r)
	}
	if req.ChallengeID == "" || len(req.Credential) == 0 {
		return VerifiedIdentity{}, fmt.Errorf("%w: challenge and credential are required", ErrInvalidPasskey)
	}

	parsed, err := v.parser.ParseCredentialRequestResponseBytes(req.Credential)
	if err != nil {
		return VerifiedIdentity{}, fmt.Errorf("%w: %v", ErrInvalidPasskey, err)
	}
	credentialID := encodeCredentialID(parsed.RawID)

	stored, err := v.passkeys.GetCredential(ctx, credentialID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return VerifiedIdentity{}, ErrPasskeyNotRegistered
		}
		return VerifiedIdentity{}, fmt.Errorf("load passkey credential: %w", err)
	}

	session, _, err := v.takeChallenge(ctx, req.ChallengeID, challengeKindLogin)
	if err != nil {
		return VerifiedIdentity{}, err
	}

	var credential webauthn.Credential
	if err := json.Unmarshal(stored.CredentialJSON, &credential); err != nil {
		return VerifiedIdentity{}, fmt.Errorf("decode passkey credential %s: %w", credentialID, err)
	}
	handler := func(_, userHandle []byte) (webauthn.User, error) {
		if !bytes.Equal(userHandle, stored.UserHandle) {
			return nil, errors.New("user handle does not own credential")
		}
		return &passkeyUser{handle: stored.UserHandle, name: credentialID, credentials: []webauthn.Credential{credential}}, nil
	}

	_, validated, err := v.webauthn.ValidatePasskeyLogin(handler, session, parsed)
	if err != nil {
		return VerifiedIdentity{}, fmt.Errorf("%w: %v", ErrInvalidPasskey, err)
	}

	if err := v.saveCredential(ctx, stored.AccountID, stored.UserHandle, *validated, true); err != nil {
		return VerifiedIdentity{}, err
	}

	return VerifiedIdentity{
		Type:            model.AccountTypePasskey,
		Identifier:      credentialID,
		ProvesOwnership: true,
		MustExist:       true,
	}, nil
}

// BeginRegistration starts attaching a new passkey to accountID. Every credential gets its own
// random user handle, so one account node always maps to one credential.
func (v *PasskeyVerifier) BeginRegistration(ctx context.Context, accountID uuid.UUID, name string) (PasskeyChallenge, error) {
	handle := make([]byte, 32)
	if _, err := rand.Read(handle); err != nil {
		return PasskeyChallenge{}, fmt.Errorf("generate user handle: %w", err)
	}
	user := &passkeyUser{handle: handle, name: name}
	creation, session, err := v.webauthn.BeginRegistration(user,
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	)
	if err != nil {
		return PasskeyChallenge{}, fmt.Errorf("begin passkey registration: %w", err)
	}
	return v.storeChallenge(ctx, challengeKindRegistration, &accountID, handle, session, creation)
}

// NewPasskey is a validated credential that has not been stored yet
type NewPasskey struct {
	CredentialID string
	userHandle   []byte
	credential   webauthn.Credential
}

// FinishRegistration validates the attestation for a challenge issued to accountID
func (v *PasskeyVerifier) FinishRegistration(ctx context.Context, accountID uuid.UUID, challengeID string, response []byte) (NewPasskey, error) {
	if challengeID == "" || len(response) == 0 {
		return NewPasskey{}, fmt.Errorf("%w: challenge and credential are required", ErrInvalidPasskey)
	}
	session, ch, err := v.takeChallenge(ctx, challengeID, challengeKindRegistration)
	if err != nil {
		return NewPasskey{}, err
	}
	if ch.AccountID == nil || *ch.AccountID != accountID {
		return NewPasskey{}, fmt.Errorf("%w: challenge belongs to another account", ErrInvalidPasskey)
	}

	parsed, err := v.parser.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return NewPasskey{}, fmt.Errorf("%w: %v", ErrInvalidPasskey, err)
	}
	credential, err := v.webauthn.CreateCredential(&passkeyUser{handle: ch.UserHandle}, session, parsed)
	if err != nil {
		return NewPasskey{}, fmt.Errorf("%w: %v", ErrInvalidPasskey, err)
	}
	return NewPasskey{
		CredentialID: encodeCredentialID(credential.ID),
		userHandle:   ch.UserHandle,
		credential:   *credential,
	}, nil
}

// Registered reports whether a credential ID is already stored
func (v *PasskeyVerifier) Registered(ctx context.Context, credentialID string) (bool, error) {
	_, err := v.passkeys.GetCredential(ctx, credentialID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repo.ErrNotFound):
		return false, nil
	}
	return false, fmt.Errorf("load passkey credential: %w", err)
}

// Store persists a credential returned by FinishRegistration for its passkey account
func (v *PasskeyVerifier) Store(ctx context.Context, pk NewPasskey, accountID uuid.UUID) error {
	return v.saveCredential(ctx, accountID, pk.userHandle, pk.credential, false)
}

func (v *PasskeyVerifier) storeChallenge(ctx context.Context, kind string, accountID *uuid.UUID, handle []byte, session *webauthn.SessionData, options any) (PasskeyChallenge, error) {
	if session == nil {
		return PasskeyChallenge{}, errors.New("session data is required")
	}
	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return PasskeyChallenge{}, fmt.Errorf("encode passkey session: %w", err)
	}
	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return PasskeyChallenge{}, fmt.Errorf("encode passkey options: %w", err)
	}
	id, err := randomID(24)
	if err != nil {
		return PasskeyChallenge{}, fmt.Errorf("generate challenge id: %w", err)
	}
	err = v.passkeys.PutChallenge(ctx, model.PasskeyChallenge{
		ID:          id,
		Kind:        kind,
		AccountID:   accountID,
		UserHandle:  handle,
		SessionJSON: sessionJSON,
		ExpiresAt:   v.now().Add(v.ttl),
	})
	if err != nil {
		return PasskeyChallenge{}, fmt.Errorf("store passkey challenge: %w", err)
	}
	return PasskeyChallenge{ChallengeID: id, Options: optionsJSON}, nil
}

func (v *PasskeyVerifier) takeChallenge(ctx context.Context, id, kind string) (webauthn.SessionData, model.PasskeyChallenge, error) {
	ch, err := v.passkeys.TakeChallenge(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return webauthn.SessionData{}, model.PasskeyChallenge{}, fmt.Errorf("%w: unknown challenge", ErrInvalidPasskey)
		}
		return webauthn.SessionData{}, model.PasskeyChallenge{}, fmt.Errorf("take passkey challenge: %w", err)
	}
	if ch.Kind != kind || !ch.ExpiresAt.After(v.now()) {
		return webauthn.SessionData{}, model.PasskeyChallenge{}, fmt.Errorf("%w: challenge expired", ErrInvalidPasskey)
	}
	var session webauthn.SessionData
	if err := json.Unmarshal(ch.SessionJSON, &session); err != nil {
		return webauthn.SessionData{}, model.PasskeyChallenge{}, fmt.Errorf("decode passkey session: %w", err)
	}
	return session, ch, nil
}

func (v *PasskeyVerifier) saveCredential(ctx context.Context, accountID uuid.UUID, handle []byte, credential webauthn.Credential, used bool) error {
	credentialJSON, err := json.Marshal(credential)
	if err != nil {
		return fmt.Errorf("encode passkey credential: %w", err)
	}
	rec := model.PasskeyCredential{
		CredentialID:   encodeCredentialID(credential.ID),
		AccountID:      accountID,
		UserHandle:     handle,
		CredentialJSON: credentialJSON,
	}
	if used {
		now := v.now()
		rec.LastUsedAt = &now
	}
	if err := v.passkeys.PutCredential(ctx, rec); err != nil {
		return fmt.Errorf("store passkey credential: %w", err)
	}
	return nil
}

type passkeyUser struct {
	handle      []byte
	name        string
	credentials []webauthn.Credential
}

func (u *passkeyUser) WebAuthnID() []byte {
	return u.handle
}

func (u *passkeyUser) WebAuthnName() string {
	return u.name
}

func (u *passkeyUser) WebAuthnDisplayName() string {
	return u.name
}

func (u *passkeyUser) WebAuthnIcon() string {
	return ""
}

func (u *passkeyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}
