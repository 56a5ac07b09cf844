package auth

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/accountgraph/server/internal/model"
)

// Strategy names an authentication method
type Strategy string

const (
	StrategyWallet    Strategy = "wallet"
	StrategyEmail     Strategy = "email"
	StrategySocial    Strategy = "social"
	StrategyGuest     Strategy = "guest"
	StrategyPasskey   Strategy = "passkey"
	StrategyFarcaster Strategy = "farcaster"
)

// Request is a strategy-specific credential. The set of implementations is closed.
type Request interface {
	Strategy() Strategy
	request()
}

// WalletRequest is a signed SIWE message
type WalletRequest struct {
	Message   string
	Signature string
	Address   string
}

// EmailRequest is an email address and the code mailed to it
type EmailRequest struct {
	Email string
	Code  string
}

// SocialRequest is a provider access token obtained by the client
type SocialRequest struct {
	Provider string
	Token    string
}

// GuestRequest carries nothing
type GuestRequest struct{}

// PasskeyRequest is a WebAuthn assertion answering a challenge from BeginLogin
type PasskeyRequest struct {
	ChallengeID string
	Credential  json.RawMessage
}

// FarcasterRequest is a signed SIWE message carrying a farcaster://fid/<fid> resource
type FarcasterRequest struct {
	Message   string
	Signature string
}

func (WalletRequest) Strategy() Strategy    { return StrategyWallet }
func (EmailRequest) Strategy() Strategy     { return StrategyEmail }
func (SocialRequest) Strategy() Strategy    { return StrategySocial }
func (GuestRequest) Strategy() Strategy     { return StrategyGuest }
func (PasskeyRequest) Strategy() Strategy   { return StrategyPasskey }
func (FarcasterRequest) Strategy() Strategy { return StrategyFarcaster }

func (WalletRequest) request()    {}
func (EmailRequest) request()     {}
func (SocialRequest) request()    {}
func (GuestRequest) request()     {}
func (PasskeyRequest) request()   {}
func (FarcasterRequest) request() {}

// VerifiedIdentity is what a verifier proved about the caller
type VerifiedIdentity struct {
	Type       model.AccountType
	Identifier string
	Provider   *string
	Metadata   map[string]any
	// ProvesOwnership marks the account verified after lookup
	ProvesOwnership bool
	// MustExist forbids creating the account; unknown identities are rejected
	MustExist bool
}

// Verifier checks one strategy's credential
type Verifier interface {
	Verify(ctx context.Context, req Request) (VerifiedIdentity, error)
}

func unexpectedRequest(want Strategy, got Request) error {
	return fmt.Errorf("%s verifier received %T", want, got)
}

func strPtr(s string) *string { return &s }
