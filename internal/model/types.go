package model

import (
	"bytes"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AccountType identifies the credential family an Account belongs to
type AccountType string

const (
	AccountTypeWallet  AccountType = "wallet"
	AccountTypeEmail   AccountType = "email"
	AccountTypeSocial  AccountType = "social"
	AccountTypeGuest   AccountType = "guest"
	AccountTypePasskey AccountType = "passkey"
)

// Valid reports whether t is one of the known account types
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeWallet, AccountTypeEmail, AccountTypeSocial, AccountTypeGuest, AccountTypePasskey:
		return true
	}
	return false
}

// LinkType distinguishes user-declared links from links the system inferred
type LinkType string

const (
	LinkTypeDirect   LinkType = "direct"
	LinkTypeInferred LinkType = "inferred"
)

// Valid reports whether t is a known link type
func (t LinkType) Valid() bool {
	return t == LinkTypeDirect || t == LinkTypeInferred
}

// PrivacyMode controls how far identity-graph traversal may reach across a link
type PrivacyMode string

const (
	PrivacyLinked   PrivacyMode = "linked"
	PrivacyPartial  PrivacyMode = "partial"
	PrivacyIsolated PrivacyMode = "isolated"
)

// Valid reports whether m is a known privacy mode
func (m PrivacyMode) Valid() bool {
	switch m {
	case PrivacyLinked, PrivacyPartial, PrivacyIsolated:
		return true
	}
	return false
}

// TokenType discriminates access and refresh JWTs
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// BlacklistReason records why a token was revoked before its expiry
type BlacklistReason string

const (
	ReasonLogout         BlacklistReason = "logout"
	ReasonRotation       BlacklistReason = "rotation"
	ReasonSecurity       BlacklistReason = "security"
	ReasonPasswordChange BlacklistReason = "password_change"
)

// Account is a single authentication credential (wallet, email, social login, guest or passkey)
type Account struct {
	ID         uuid.UUID
	Type       AccountType
	Identifier string
	Provider   *string
	Verified   bool
	Metadata   map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IdentityLink is an undirected edge between two accounts, stored with AccountAID < AccountBID
type IdentityLink struct {
	ID          uuid.UUID
	AccountAID  uuid.UUID
	AccountBID  uuid.UUID
	LinkType    LinkType
	PrivacyMode PrivacyMode
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Other returns the endpoint of the link that is not id
func (l IdentityLink) Other(id uuid.UUID) uuid.UUID {
	if l.AccountAID == id {
		return l.AccountBID
	}
	return l.AccountAID
}

// AccountSession is a device-bound, time-limited authorization context for an account
type AccountSession struct {
	ID              uuid.UUID
	AccountID       uuid.UUID
	SessionID       string
	DeviceID        *string
	IPAddress       *string
	UserAgent       *string
	PrivacyMode     PrivacyMode
	ActiveProfileID *uuid.UUID
	ExpiresAt       time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SiweNonce is a single-use replay-protection value for Sign-In with Ethereum messages
type SiweNonce struct {
	Nonce     string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// BlacklistedToken is a revoked JWT, kept until the token would have expired anyway
type BlacklistedToken struct {
	TokenHash string
	TokenType TokenType
	AccountID uuid.UUID
	Reason    BlacklistReason
	ExpiresAt time.Time
	CreatedAt time.Time
}

// RefreshRecord tracks an issued refresh token so it can be revoked in bulk
type RefreshRecord struct {
	JTI       string
	AccountID uuid.UUID
	SessionID string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// EmailCode is a bcrypt-hashed one-time code sent to an email address
type EmailCode struct {
	ID            uuid.UUID
	Email         string
	CodeHash      []byte
	ExpiresAt     time.Time
	Attempts      int
	LastAttemptAt *time.Time
	RequestIP     *string
	UserAgent     *string
	CreatedAt     time.Time
}

// PasskeyCredential is a registered WebAuthn credential owned by a passkey account
type PasskeyCredential struct {
	CredentialID   string
	AccountID      uuid.UUID
	UserHandle     []byte
	CredentialJSON []byte
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastUsedAt     *time.Time
}

// PasskeyChallenge holds WebAuthn ceremony state between the options and finish calls
type PasskeyChallenge struct {
	ID          string
	Kind        string
	AccountID   *uuid.UUID
	UserHandle  []byte
	SessionJSON []byte
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// Profile is the wallet-facing persona owned by the profile service; this core only reads it
// and maintains its account links
type Profile struct {
	ID            uuid.UUID
	Name          string
	WalletAddress *string
	MPCKeyID      *string
	LastActiveAt  time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CanonicalPair orders two account IDs so that the first sorts before the second,
// matching the byte-wise ordering PostgreSQL applies to uuid columns
func CanonicalPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(a[:], b[:]) > 0 {
		return b, a
	}
	return a, b
}

// SocialIdentifier namespaces a provider user ID so equal IDs from different providers stay distinct
func SocialIdentifier(provider, providerID string) string {
	return strings.ToLower(strings.TrimSpace(provider)) + ":" + NormalizeIdentifier(AccountTypeSocial, providerID)
}

// NormalizeIdentifier lower-cases identifiers for every account type except passkey,
// whose base64url credential IDs are case-sensitive
func NormalizeIdentifier(t AccountType, identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if t == AccountTypePasskey {
		return identifier
	}
	return strings.ToLower(identifier)
}
