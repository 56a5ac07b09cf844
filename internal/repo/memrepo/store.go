// Package memrepo provides in-memory implementations of the repo interfaces.
// They mirror the PostgreSQL semantics closely enough for service and handler tests.
package memrepo

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/accountgraph/server/internal/model"
	"github.com/accountgraph/server/internal/repo"
)

type linkKey struct{ a, b uuid.UUID }

type profileLink struct{ profileID, accountID uuid.UUID }

// Store holds every table behind a single mutex
type Store struct {
	mu sync.Mutex

	// Now is the clock used for expiry checks; tests may replace it
	Now func() time.Time

	accounts     map[uuid.UUID]model.Account
	links        map[linkKey]model.IdentityLink
	profiles     map[uuid.UUID]model.Profile
	profileLinks map[profileLink]time.Time
	sessions     map[string]model.AccountSession
	nonces       map[string]model.SiweNonce
	blacklist    map[string]model.BlacklistedToken
	refresh      map[string]model.RefreshRecord
	emailCodes   []model.EmailCode
	credentials  map[string]model.PasskeyCredential
	challenges   map[string]model.PasskeyChallenge
}

// New returns an empty store using the wall clock
func New() *Store {
	return &Store{
		Now:          time.Now,
		accounts:     map[uuid.UUID]model.Account{},
		links:        map[linkKey]model.IdentityLink{},
		profiles:     map[uuid.UUID]model.Profile{},
		profileLinks: map[profileLink]time.Time{},
		sessions:     map[string]model.AccountSession{},
		nonces:       map[string]model.SiweNonce{},
		blacklist:    map[string]model.BlacklistedToken{},
		refresh:      map[string]model.RefreshRecord{},
		credentials:  map[string]model.PasskeyCredential{},
		challenges:   map[string]model.PasskeyChallenge{},
	}
}

func (s *Store) Accounts() repo.AccountRepo     { return accountRepo{s} }
func (s *Store) Links() repo.LinkRepo           { return linkRepo{s} }
func (s *Store) Profiles() repo.ProfileRepo     { return profileRepo{s} }
func (s *Store) Sessions() repo.SessionRepo     { return sessionRepo{s} }
func (s *Store) Nonces() repo.NonceRepo         { return nonceRepo{s} }
func (s *Store) Blacklist() repo.BlacklistRepo  { return blacklistRepo{s} }
func (s *Store) Refresh() repo.RefreshRepo      { return refreshRepo{s} }
func (s *Store) EmailCodes() repo.EmailCodeRepo { return emailCodeRepo{s} }
func (s *Store) Passkeys() repo.PasskeyRepo     { return passkeyRepo{s} }

// AccountCount reports how many accounts exist
func (s *Store) AccountCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

// LinkCount reports how many identity links exist
func (s *Store) LinkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

// EmailCodeCount reports how many codes are stored for email
func (s *Store) EmailCodeCount(email string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.emailCodes {
		if c.Email == email {
			n++
		}
	}
	return n
}

func (s *Store) now() time.Time {
	return s.Now()
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
