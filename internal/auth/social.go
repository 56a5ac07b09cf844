package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/accountgraph/server/internal/model"
)

// SocialProvider describes how to turn a provider access token into a stable user ID
type SocialProvider struct {
	Name        string
	UserInfoURL string
	IDField     string
	EmailField  string
	// VerifiedField is empty when the provider never reports email verification
	VerifiedField string
}

// DefaultSocialProviders returns the userinfo endpoints of the providers enabled by default
func DefaultSocialProviders() []SocialProvider {
	return []SocialProvider{
		{
			Name:          "google",
			UserInfoURL:   "https://openidconnect.googleapis.com/v1/userinfo",
			IDField:       "sub",
			EmailField:    "email",
			VerifiedField: "email_verified",
		},
		{
			Name:          "discord",
			UserInfoURL:   "https://discord.com/api/users/@me",
			IDField:       "id",
			EmailField:    "email",
			VerifiedField: "verified",
		},
		{
			Name:        "github",
			UserInfoURL: "https://api.github.com/user",
			IDField:     "id",
			EmailField:  "email",
		},
	}
}

// SocialVerifier checks provider tokens by calling the provider's userinfo endpoint with them
type SocialVerifier struct {
	providers map[string]SocialProvider
	// base is the transport wrapped by the bearer-token client; nil means http.DefaultClient
	base *http.Client
}

func NewSocialVerifier(providers []SocialProvider, base *http.Client) *SocialVerifier {
	m := make(map[string]SocialProvider, len(providers))
	for _, p := range providers {
		m[strings.ToLower(p.Name)] = p
	}
	return &SocialVerifier{providers: m, base: base}
}

type socialUser struct {
	ID            string
	Email         string
	EmailVerified bool
}

func (v *SocialVerifier) Verify(ctx context.Context, r Request) (VerifiedIdentity, error) {
	req, ok := r.(SocialRequest)
	if !ok {
		return VerifiedIdentity{}, unexpectedRequest(StrategySocial, r)
	}
	name := strings.ToLower(strings.TrimSpace(req.Provider))
	provider, ok := v.providers[name]
	if !ok {
		return VerifiedIdentity{}, fmt.Errorf("%w: %q", ErrUnsupportedProvider, req.Provider)
	}
	if strings.TrimSpace(req.Token) == "" {
		return VerifiedIdentity{}, fmt.Errorf("%w: empty token", ErrInvalidSocialToken)
	}

	user, err := v.fetchUser(ctx, provider, req.Token)
	if err != nil {
		return VerifiedIdentity{}, err
	}

	meta := map[string]any{}
	if user.Email != "" {
		meta["email"] = strings.ToLower(user.Email)
		meta["emailVerified"] = user.EmailVerified
	}
	return VerifiedIdentity{
		Type:            model.AccountTypeSocial,
		Identifier:      user.ID,
		Provider:        strPtr(name),
		Metadata:        meta,
		ProvesOwnership: user.EmailVerified,
	}, nil
}

func (v *SocialVerifier) fetchUser(ctx context.Context, provider SocialProvider, token string) (socialUser, error) {
	if v.base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, v.base)
	}
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, provider.UserInfoURL, nil)
	if err != nil {
		return socialUser{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return socialUser{}, fmt.Errorf("%s userinfo request: %w", provider.Name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return socialUser{}, ErrInvalidSocialToken
	case resp.StatusCode != http.StatusOK:
		return socialUser{}, fmt.Errorf("%s userinfo returned %d", provider.Name, resp.StatusCode)
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, 1<<20))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return socialUser{}, fmt.Errorf("%s userinfo decode: %w", provider.Name, err)
	}

	user := socialUser{
		ID:    stringField(payload[provider.IDField]),
		Email: stringField(payload[provider.EmailField]),
	}
	if provider.VerifiedField != "" {
		user.EmailVerified = boolField(payload[provider.VerifiedField])
	}
	if user.ID == "" {
		return socialUser{}, fmt.Errorf("%w: missing %s", ErrInvalidSocialToken, provider.IDField)
	}
	return user, nil
}

func stringField(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	}
	return ""
}

// boolField accepts both JSON booleans and the "true" strings some providers send
func boolField(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	}
	return false
}
