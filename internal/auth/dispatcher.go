package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/accountgraph/server/internal/account"
	"github.com/accountgraph/server/internal/apperr"
	"github.com/accountgraph/server/internal/audit"
	"github.com/accountgraph/server/internal/identity"
	"github.com/accountgraph/server/internal/logging"
	"github.com/accountgraph/server/internal/model"
	"github.com/accountgraph/server/internal/session"
)

// Deps are the services every authentication funnels through
type Deps struct {
	Accounts *account.Store
	Graph    *identity.Graph
	Profiles *identity.Profiles
	Sessions *session.Manager
	Tokens   *TokenService
	Audit    audit.Recorder
	Log      logging.Logger
}

// Dispatcher verifies a credential with its strategy and opens a session for the account
type Dispatcher struct {
	verifiers map[Strategy]Verifier
	accounts  *account.Store
	graph     *identity.Graph
	profiles  *identity.Profiles
	sessions  *session.Manager
	tokens    *TokenService
	audit     audit.Recorder
	log       logging.Logger
}

func NewDispatcher(deps Deps) *Dispatcher {
	return &Dispatcher{
		verifiers: make(map[Strategy]Verifier),
		accounts:  deps.Accounts,
		graph:     deps.Graph,
		profiles:  deps.Profiles,
		sessions:  deps.Sessions,
		tokens:    deps.Tokens,
		audit:     deps.Audit,
		log:       deps.Log,
	}
}

// Register enables a strategy. Registering twice replaces the verifier.
func (d *Dispatcher) Register(s Strategy, v Verifier) {
	d.verifiers[s] = v
}

// AuthOptions describe the device and session requested by the client
type AuthOptions struct {
	DeviceID    *string
	IPAddress   string
	UserAgent   string
	PrivacyMode model.PrivacyMode
}

// AuthResult is the outcome of a successful authentication
type AuthResult struct {
	Account         model.Account
	Profiles        []model.Profile
	ActiveProfile   *model.Profile
	Tokens          Tokens
	RequiresProfile bool
	IsNewAccount    bool
	SessionID       string
	PrivacyMode     model.PrivacyMode
}

// Authenticate runs the strategy for req, resolves the account and issues a session.
// Only profiles directly linked to the account are returned or made active.
func (d *Dispatcher) Authenticate(ctx context.Context, req Request, opts AuthOptions) (AuthResult, error) {
	if opts.PrivacyMode != "" && !opts.PrivacyMode.Valid() {
		return AuthResult{}, apperr.Validation("invalid privacy mode")
	}

	acct, isNew, err := d.verify(ctx, req, opts.IPAddress)
	if err != nil {
		return AuthResult{}, err
	}

	profiles, err := d.graph.DirectProfiles(ctx, acct.ID)
	if err != nil {
		return AuthResult{}, err
	}
	var active *model.Profile
	if len(profiles) > 0 {
		active = &profiles[0]
		if err := d.profiles.Touch(ctx, active.ID); err != nil {
			d.log.Warn(ctx, "failed to touch profile", "profile_id", active.ID.String(), "error", err)
		}
	}

	sess, err := d.sessions.Create(ctx, acct.ID, session.Options{
		DeviceID:        opts.DeviceID,
		IPAddress:       optional(opts.IPAddress),
		UserAgent:       optional(opts.UserAgent),
		PrivacyMode:     opts.PrivacyMode,
		ActiveProfileID: profileID(active),
	})
	if err != nil {
		return AuthResult{}, err
	}

	tokens, err := d.tokens.Generate(ctx, TokenSubject{
		AccountID:       acct.ID,
		SessionID:       sess.SessionID,
		DeviceID:        sess.DeviceID,
		ActiveProfileID: sess.ActiveProfileID,
	})
	if err != nil {
		return AuthResult{}, err
	}

	d.log.Info(ctx, "authenticated",
		"strategy", string(req.Strategy()),
		"account_id", acct.ID.String(),
		"new_account", isNew,
		"profiles", len(profiles),
	)

	if profiles == nil {
		profiles = []model.Profile{}
	}
	return AuthResult{
		Account:         acct,
		Profiles:        profiles,
		ActiveProfile:   active,
		Tokens:          tokens,
		RequiresProfile: len(profiles) == 0,
		IsNewAccount:    isNew,
		SessionID:       sess.SessionID,
		PrivacyMode:     sess.PrivacyMode,
	}, nil
}

// LinkResult is the outcome of attaching a second credential to the caller
type LinkResult struct {
	Account  model.Account
	Link     model.IdentityLink
	Profiles []model.Profile
}

// LinkCredential verifies req and links the resulting account to callerID.
// The returned profiles are the caller's direct ones; linking grants no profile access.
func (d *Dispatcher) LinkCredential(ctx context.Context, callerID uuid.UUID, req Request, mode model.PrivacyMode, ip string) (LinkResult, error) {
	if mode != "" && !mode.Valid() {
		return LinkResult{}, apperr.Validation("invalid privacy mode")
	}
	acct, _, err := d.verify(ctx, req, ip)
	if err != nil {
		return LinkResult{}, err
	}
	if acct.ID == callerID {
		return LinkResult{}, apperr.Validation("credential already belongs to this account")
	}

	link, err := d.graph.Link(ctx, callerID, acct.ID, model.LinkTypeDirect, mode)
	if err != nil {
		return LinkResult{}, err
	}
	profiles, err := d.graph.DirectProfiles(ctx, callerID)
	if err != nil {
		return LinkResult{}, err
	}
	if profiles == nil {
		profiles = []model.Profile{}
	}
	return LinkResult{Account: acct, Link: link, Profiles: profiles}, nil
}

// SwitchProfile makes profileID active on the caller's session and reissues tokens
func (d *Dispatcher) SwitchProfile(ctx context.Context, claims *Claims, profileID uuid.UUID) (model.Profile, Tokens, error) {
	prof, err := d.profiles.Authorize(ctx, claims.AccountID, profileID)
	if err != nil {
		return model.Profile{}, Tokens{}, err
	}
	if err := d.sessions.SetActiveProfile(ctx, claims.SessionID, &prof.ID); err != nil {
		return model.Profile{}, Tokens{}, err
	}
	if err := d.profiles.Touch(ctx, prof.ID); err != nil {
		d.log.Warn(ctx, "failed to touch profile", "profile_id", prof.ID.String(), "error", err)
	}

	tokens, err := d.tokens.Generate(ctx, TokenSubject{
		AccountID:       claims.AccountID,
		SessionID:       claims.SessionID,
		DeviceID:        optional(claims.DeviceID),
		ActiveProfileID: &prof.ID,
	})
	if err != nil {
		return model.Profile{}, Tokens{}, err
	}
	return prof, tokens, nil
}

// BeginPasskeyLogin issues a login challenge for the passkey strategy
func (d *Dispatcher) BeginPasskeyLogin(ctx context.Context) (PasskeyChallenge, error) {
	pv, err := d.passkeyVerifier()
	if err != nil {
		return PasskeyChallenge{}, err
	}
	return pv.BeginLogin(ctx)
}

// BeginPasskeyRegistration starts registering a new passkey for the caller
func (d *Dispatcher) BeginPasskeyRegistration(ctx context.Context, callerID uuid.UUID) (PasskeyChallenge, error) {
	pv, err := d.passkeyVerifier()
	if err != nil {
		return PasskeyChallenge{}, err
	}
	caller, err := d.accounts.Get(ctx, callerID)
	if err != nil {
		return PasskeyChallenge{}, err
	}
	return pv.BeginRegistration(ctx, callerID, caller.Identifier)
}

// FinishPasskeyRegistration creates a passkey account for the new credential and links it
// directly to the caller
func (d *Dispatcher) FinishPasskeyRegistration(ctx context.Context, callerID uuid.UUID, challengeID string, response []byte) (model.Account, error) {
	pv, err := d.passkeyVerifier()
	if err != nil {
		return model.Account{}, err
	}
	pk, err := pv.FinishRegistration(ctx, callerID, challengeID, response)
	if err != nil {
		return model.Account{}, d.verificationError(ctx, StrategyPasskey, "", "", err)
	}
	exists, err := pv.Registered(ctx, pk.CredentialID)
	if err != nil {
		return model.Account{}, err
	}
	if exists {
		return model.Account{}, apperr.Conflict("passkey already registered")
	}

	acct, _, err := d.accounts.FindOrCreate(ctx, model.AccountTypePasskey, pk.CredentialID, nil, nil)
	if err != nil {
		return model.Account{}, err
	}
	if acct, err = d.accounts.Verify(ctx, acct.ID); err != nil {
		return model.Account{}, err
	}
	if err := pv.Store(ctx, pk, acct.ID); err != nil {
		return model.Account{}, err
	}
	if _, err := d.graph.Link(ctx, callerID, acct.ID, model.LinkTypeDirect, model.PrivacyLinked); err != nil {
		return model.Account{}, err
	}
	d.log.Info(ctx, "passkey registered", "account_id", acct.ID.String(), "linked_to", callerID.String())
	return acct, nil
}

func (d *Dispatcher) passkeyVerifier() (*PasskeyVerifier, error) {
	pv, ok := d.verifiers[StrategyPasskey].(*PasskeyVerifier)
	if !ok {
		return nil, apperr.NotFound("passkeys are not enabled")
	}
	return pv, nil
}

// verify runs the strategy and resolves the account it proved
func (d *Dispatcher) verify(ctx context.Context, req Request, ip string) (model.Account, bool, error) {
	if req == nil {
		return model.Account{}, false, apperr.Validation("strategy is required")
	}
	v, ok := d.verifiers[req.Strategy()]
	if !ok {
		return model.Account{}, false, apperr.Validation(fmt.Sprintf("unsupported strategy %q", req.Strategy()))
	}

	id, err := v.Verify(ctx, req)
	if err != nil {
		return model.Account{}, false, d.verificationError(ctx, req.Strategy(), subjectOf(req), ip, err)
	}

	if id.MustExist {
		acct, err := d.accounts.Lookup(ctx, id.Type, id.Identifier)
		if err != nil {
			if apperr.IsKind(err, apperr.KindNotFound) {
				return model.Account{}, false, d.verificationError(ctx, req.Strategy(), id.Identifier, ip, ErrPasskeyNotRegistered)
			}
			return model.Account{}, false, err
		}
		return d.ensureVerified(ctx, acct, id, false)
	}

	acct, created, err := d.accounts.FindOrCreate(ctx, id.Type, id.Identifier, id.Provider, id.Metadata)
	if err != nil {
		return model.Account{}, false, err
	}
	return d.ensureVerified(ctx, acct, id, created)
}

func (d *Dispatcher) ensureVerified(ctx context.Context, acct model.Account, id VerifiedIdentity, created bool) (model.Account, bool, error) {
	if !id.ProvesOwnership || acct.Verified {
		return acct, created, nil
	}
	verified, err := d.accounts.Verify(ctx, acct.ID)
	if err != nil {
		return model.Account{}, false, err
	}
	return verified, created, nil
}

// verificationError turns a verifier failure into a client-facing error and records the
// security-relevant ones
func (d *Dispatcher) verificationError(ctx context.Context, s Strategy, subject, ip string, err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	record := func(t audit.EventType) {
		d.audit.Record(ctx, audit.Event{Type: t, Strategy: string(s), Subject: subject, IP: ip, Detail: err.Error()})
	}
	signatureCode := apperr.CodeInvalidWalletSignature
	if s == StrategyFarcaster {
		signatureCode = apperr.CodeInvalidFarcaster
	}

	switch {
	case errors.Is(err, ErrNonceReplay):
		record(audit.EventNonceReplay)
		return apperr.Authentication(apperr.CodeNonceAlreadyUsed, "nonce has already been used", nil)
	case errors.Is(err, ErrNonceInvalid):
		return apperr.Authentication(apperr.CodeInvalidNonce, "nonce is invalid or expired", nil)
	case errors.Is(err, ErrInvalidSignature):
		record(audit.EventInvalidSignature)
		return apperr.Authentication(signatureCode, "signature verification failed", nil)
	case errors.Is(err, ErrInvalidMessage):
		return apperr.Authentication(signatureCode, "invalid sign-in message", nil)
	case errors.Is(err, ErrCustodyMismatch):
		record(audit.EventCustodyMismatch)
		return apperr.Authentication(apperr.CodeCustodyMismatch, "signer does not hold custody of this fid", nil)
	case errors.Is(err, ErrInvalidFarcaster):
		return apperr.Authentication(apperr.CodeInvalidFarcaster, "invalid farcaster sign-in", nil)
	case errors.Is(err, ErrCodeExhausted):
		record(audit.EventCodeBruteforce)
		return apperr.Authentication(apperr.CodeInvalidVerificationCode, "invalid or expired verification code", nil)
	case errors.Is(err, ErrInvalidCode):
		return apperr.Authentication(apperr.CodeInvalidVerificationCode, "invalid or expired verification code", nil)
	case errors.Is(err, ErrUnsupportedProvider):
		return &apperr.Error{Kind: apperr.KindValidation, Code: apperr.CodeUnsupportedProvider, Message: "unsupported social provider"}
	case errors.Is(err, ErrInvalidSocialToken):
		return apperr.Authentication(apperr.CodeInvalidSocialToken, "social token rejected", nil)
	case errors.Is(err, ErrPasskeyNotRegistered):
		record(audit.EventPasskeyUnknown)
		return apperr.Authentication(apperr.CodePasskeyNotRegistered, "passkey is not registered", nil)
	case errors.Is(err, ErrInvalidPasskey):
		return apperr.Authentication(apperr.CodeInvalidPasskey, "passkey verification failed", nil)
	}
	return fmt.Errorf("%s verification: %w", s, err)
}

// subjectOf picks the identifier worth recording with a security event
func subjectOf(req Request) string {
	switch r := req.(type) {
	case WalletRequest:
		return strings.ToLower(r.Address)
	case EmailRequest:
		return strings.ToLower(strings.TrimSpace(r.Email))
	case SocialRequest:
		return r.Provider
	case PasskeyRequest:
		return r.ChallengeID
	}
	return ""
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func profileID(p *model.Profile) *uuid.UUID {
	if p == nil {
		return nil
	}
	id := p.ID
	return &id
}
