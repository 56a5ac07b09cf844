package auth

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/accountgraph/server/internal/apperr"
	"github.com/accountgraph/server/internal/logging"
	"github.com/accountgraph/server/internal/model"
	"github.com/accountgraph/server/internal/repo/memrepo"
)

func TestWalletVerifier(t *testing.T) {
	mem := memrepo.New()
	nonces := NewNonceStore(mem.Nonces(), time.Minute)
	v := NewWalletVerifier(nonces, testDomain)
	ctx := context.Background()
	key := newKey(t)

	nonce, _, err := nonces.Issue(ctx)
	require.NoError(t, err)
	raw := siweText(addressOf(key), nonce)

	id, err := v.Verify(ctx, WalletRequest{Message: raw, Signature: sign(t, key, raw), Address: addressOf(key)})
	require.NoError(t, err)
	assert.Equal(t, model.AccountTypeWallet, id.Type)
	assert.Equal(t, strings.ToLower(addressOf(key)), id.Identifier)
	assert.True(t, id.ProvesOwnership)
	assert.False(t, id.MustExist)

	_, err = v.Verify(ctx, WalletRequest{Message: raw, Signature: sign(t, key, raw)})
	assert.ErrorIs(t, err, ErrNonceReplay)
}

func TestWalletVerifier_ClaimedAddressMismatch(t *testing.T) {
	mem := memrepo.New()
	nonces := NewNonceStore(mem.Nonces(), time.Minute)
	v := NewWalletVerifier(nonces, testDomain)
	ctx := context.Background()
	key := newKey(t)

	nonce, _, err := nonces.Issue(ctx)
	require.NoError(t, err)
	raw := siweText(addressOf(key), nonce)

	_, err = v.Verify(ctx, WalletRequest{Message: raw, Signature: sign(t, key, raw), Address: addressOf(newKey(t))})
	assert.ErrorIs(t, err, ErrInvalidSignature)

	// the nonce was not burned by the rejected attempt
	require.NoError(t, nonces.Consume(ctx, nonce))
}

func TestWalletVerifier_WrongRequest(t *testing.T) {
	v := NewWalletVerifier(NewNonceStore(memrepo.New().Nonces(), time.Minute), testDomain)
	_, err := v.Verify(context.Background(), GuestRequest{})
	assert.Error(t, err)
}

type captureSender struct {
	email, code string
}

func (s *captureSender) SendCode(_ context.Context, email, code string) error {
	s.email, s.code = email, code
	return nil
}

func newEmailVerifier(mem *memrepo.Store, sender CodeSender, dev bool) *EmailVerifier {
	v := NewEmailVerifier(mem.EmailCodes(), sender, time.Minute, dev)
	v.bcryptCost = bcrypt.MinCost
	return v
}

func TestEmailVerifier_SentCode(t *testing.T) {
	mem := memrepo.New()
	sender := &captureSender{}
	v := newEmailVerifier(mem, sender, false)
	ctx := context.Background()

	dev, err := v.RequestCode(ctx, " Alice@Example.com ", "10.0.0.1", "test")
	require.NoError(t, err)
	assert.Empty(t, dev)
	assert.Equal(t, "alice@example.com", sender.email)
	assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), sender.code)

	id, err := v.Verify(ctx, EmailRequest{Email: "ALICE@example.com", Code: sender.code})
	require.NoError(t, err)
	assert.Equal(t, model.AccountTypeEmail, id.Type)
	assert.Equal(t, "alice@example.com", id.Identifier)
	assert.True(t, id.ProvesOwnership)
	assert.Zero(t, mem.EmailCodeCount("alice@example.com"))
}

func TestEmailVerifier_DevCodeSingleUse(t *testing.T) {
	mem := memrepo.New()
	v := newEmailVerifier(mem, NewLogSender(logging.Discard()), true)
	ctx := context.Background()

	dev, err := v.RequestCode(ctx, "a@b.com", "", "")
	require.NoError(t, err)
	assert.Equal(t, "123456", dev)

	_, err = v.Verify(ctx, EmailRequest{Email: "a@b.com", Code: "123456"})
	require.NoError(t, err)
	assert.Zero(t, mem.EmailCodeCount("a@b.com"))

	_, err = v.Verify(ctx, EmailRequest{Email: "a@b.com", Code: "123456"})
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestEmailVerifier_Lockout(t *testing.T) {
	mem := memrepo.New()
	v := newEmailVerifier(mem, NewLogSender(logging.Discard()), true)
	ctx := context.Background()

	_, err := v.RequestCode(ctx, "a@b.com", "", "")
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		_, err := v.Verify(ctx, EmailRequest{Email: "a@b.com", Code: "000000"})
		if i < 5 {
			assert.ErrorIs(t, err, ErrInvalidCode)
			assert.NotErrorIs(t, err, ErrCodeExhausted)
		} else {
			assert.ErrorIs(t, err, ErrCodeExhausted)
		}
	}

	_, err = v.Verify(ctx, EmailRequest{Email: "a@b.com", Code: "123456"})
	assert.ErrorIs(t, err, ErrInvalidCode)

	// a fresh code resets the counter
	_, err = v.RequestCode(ctx, "a@b.com", "", "")
	require.NoError(t, err)
	_, err = v.Verify(ctx, EmailRequest{Email: "a@b.com", Code: "123456"})
	assert.NoError(t, err)
}

func TestEmailVerifier_RequestLimit(t *testing.T) {
	v := newEmailVerifier(memrepo.New(), NewLogSender(logging.Discard()), true)
	ctx := context.Background()

	for i := 0; i < maxRequestsPerWindow; i++ {
		_, err := v.RequestCode(ctx, "a@b.com", "", "")
		require.NoError(t, err)
	}
	_, err := v.RequestCode(ctx, "a@b.com", "", "")
	assert.True(t, apperr.IsKind(err, apperr.KindRateLimit))
}

func TestEmailVerifier_InvalidInput(t *testing.T) {
	v := newEmailVerifier(memrepo.New(), NewLogSender(logging.Discard()), true)
	ctx := context.Background()

	_, err := v.RequestCode(ctx, "not-an-email", "", "")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = v.RequestCode(ctx, "Alice <a@b.com>", "", "")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = v.Verify(ctx, EmailRequest{Email: "a@b.com", Code: "12ab56"})
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestGuestVerifier(t *testing.T) {
	v := NewGuestVerifier()
	a, err := v.Verify(context.Background(), GuestRequest{})
	require.NoError(t, err)
	b, err := v.Verify(context.Background(), GuestRequest{})
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^guest_\d+_[0-9a-f]{12}$`), a.Identifier)
	assert.NotEqual(t, a.Identifier, b.Identifier)
	assert.Equal(t, model.AccountTypeGuest, a.Type)
	assert.False(t, a.ProvesOwnership)
}

func userInfoServer(t *testing.T, token string, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSocialVerifier_Google(t *testing.T) {
	srv := userInfoServer(t, "good", `{"sub":"1098","email":"A@Gmail.com","email_verified":true}`)
	providers := DefaultSocialProviders()
	providers[0].UserInfoURL = srv.URL
	v := NewSocialVerifier(providers, srv.Client())

	id, err := v.Verify(context.Background(), SocialRequest{Provider: "Google", Token: "good"})
	require.NoError(t, err)
	assert.Equal(t, model.AccountTypeSocial, id.Type)
	assert.Equal(t, "1098", id.Identifier)
	require.NotNil(t, id.Provider)
	assert.Equal(t, "google", *id.Provider)
	assert.True(t, id.ProvesOwnership)
	assert.Equal(t, "a@gmail.com", id.Metadata["email"])

	_, err = v.Verify(context.Background(), SocialRequest{Provider: "google", Token: "stolen"})
	assert.ErrorIs(t, err, ErrInvalidSocialToken)
}

func TestSocialVerifier_NumericIDUnverified(t *testing.T) {
	srv := userInfoServer(t, "tok", `{"id":12345678901,"email":"dev@example.com"}`)
	v := NewSocialVerifier([]SocialProvider{{Name: "github", UserInfoURL: srv.URL, IDField: "id", EmailField: "email"}}, nil)

	id, err := v.Verify(context.Background(), SocialRequest{Provider: "github", Token: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "12345678901", id.Identifier)
	assert.False(t, id.ProvesOwnership)
}

func TestSocialVerifier_Rejects(t *testing.T) {
	srv := userInfoServer(t, "tok", `{"email":"x@example.com"}`)
	v := NewSocialVerifier([]SocialProvider{{Name: "google", UserInfoURL: srv.URL, IDField: "sub"}}, nil)
	ctx := context.Background()

	_, err := v.Verify(ctx, SocialRequest{Provider: "myspace", Token: "tok"})
	assert.ErrorIs(t, err, ErrUnsupportedProvider)

	_, err = v.Verify(ctx, SocialRequest{Provider: "google", Token: " "})
	assert.ErrorIs(t, err, ErrInvalidSocialToken)

	_, err = v.Verify(ctx, SocialRequest{Provider: "google", Token: "tok"})
	assert.ErrorIs(t, err, ErrInvalidSocialToken)
}

type fakeCustody struct {
	addr common.Address
	err  error
	fid  *big.Int
}

func (f *fakeCustody) CustodyOf(_ context.Context, fid *big.Int) (common.Address, error) {
	f.fid = fid
	return f.addr, f.err
}

func TestFarcasterVerifier(t *testing.T) {
	mem := memrepo.New()
	nonces := NewNonceStore(mem.Nonces(), time.Minute)
	key := newKey(t)
	custody := &fakeCustody{addr: common.HexToAddress(addressOf(key))}
	v := NewFarcasterVerifier(nonces, custody, testDomain)
	ctx := context.Background()

	nonce, _, err := nonces.Issue(ctx)
	require.NoError(t, err)
	raw := siweText(addressOf(key), nonce, "farcaster://fid/4242")

	id, err := v.Verify(ctx, FarcasterRequest{Message: raw, Signature: sign(t, key, raw)})
	require.NoError(t, err)
	assert.Equal(t, model.AccountTypeSocial, id.Type)
	assert.Equal(t, "4242", id.Identifier)
	assert.Equal(t, "farcaster", *id.Provider)
	assert.True(t, id.ProvesOwnership)
	assert.Equal(t, int64(4242), custody.fid.Int64())
}

func TestFarcasterVerifier_Rejects(t *testing.T) {
	key := newKey(t)
	ctx := context.Background()

	t.Run("custody mismatch keeps nonce", func(t *testing.T) {
		nonces := NewNonceStore(memrepo.New().Nonces(), time.Minute)
		v := NewFarcasterVerifier(nonces, &fakeCustody{addr: common.HexToAddress(addressOf(newKey(t)))}, testDomain)
		nonce, _, err := nonces.Issue(ctx)
		require.NoError(t, err)
		raw := siweText(addressOf(key), nonce, "farcaster://fid/1")

		_, err = v.Verify(ctx, FarcasterRequest{Message: raw, Signature: sign(t, key, raw)})
		assert.ErrorIs(t, err, ErrCustodyMismatch)
		assert.NoError(t, nonces.Consume(ctx, nonce))
	})

	t.Run("unregistered fid", func(t *testing.T) {
		nonces := NewNonceStore(memrepo.New().Nonces(), time.Minute)
		v := NewFarcasterVerifier(nonces, &fakeCustody{}, testDomain)
		nonce, _, err := nonces.Issue(ctx)
		require.NoError(t, err)
		raw := siweText(addressOf(key), nonce, "farcaster://fid/1")

		_, err = v.Verify(ctx, FarcasterRequest{Message: raw, Signature: sign(t, key, raw)})
		assert.ErrorIs(t, err, ErrCustodyMismatch)
	})

	t.Run("missing fid resource", func(t *testing.T) {
		v := NewFarcasterVerifier(NewNonceStore(memrepo.New().Nonces(), time.Minute), &fakeCustody{}, testDomain)
		raw := siweText(addressOf(key), "abcdef0123456789", "https://example.com")

		_, err := v.Verify(ctx, FarcasterRequest{Message: raw, Signature: sign(t, key, raw)})
		assert.ErrorIs(t, err, ErrInvalidFarcaster)
	})

	t.Run("rpc failure", func(t *testing.T) {
		v := NewFarcasterVerifier(NewNonceStore(memrepo.New().Nonces(), time.Minute), &fakeCustody{err: errors.New("dial tcp: refused")}, testDomain)
		raw := siweText(addressOf(key), "abcdef0123456789", "farcaster://fid/9")

		_, err := v.Verify(ctx, FarcasterRequest{Message: raw, Signature: sign(t, key, raw)})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCustodyMismatch)
	})
}

func TestFidFromResources(t *testing.T) {
	fid, err := fidFromResources([]string{"https://x", "farcaster://fid/77"})
	require.NoError(t, err)
	assert.Equal(t, "77", fid.String())

	for _, bad := range []string{"farcaster://fid/", "farcaster://fid/-3", "farcaster://fid/0", "farcaster://fid/abc"} {
		_, err := fidFromResources([]string{bad})
		assert.ErrorIs(t, err, ErrInvalidFarcaster, bad)
	}
}

type fakeCaller struct {
	out []byte
	msg ethereum.CallMsg
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.msg = msg
	return f.out, nil
}

func TestIDRegistry_CustodyOf(t *testing.T) {
	custody := common.HexToAddress("0x8773442740c17c9d0f0b87022c722f9a136206ed")
	caller := &fakeCaller{}
	reg, err := NewIDRegistry(caller, "0x00000000Fc6c5F01Fc30151999387Bb99A9f489b")
	require.NoError(t, err)

	method := reg.abi.Methods["custodyOf"]
	caller.out, err = method.Outputs.Pack(custody)
	require.NoError(t, err)

	got, err := reg.CustodyOf(context.Background(), big.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, custody, got)
	require.NotNil(t, caller.msg.To)
	assert.Equal(t, common.HexToAddress("0x00000000Fc6c5F01Fc30151999387Bb99A9f489b"), *caller.msg.To)
	assert.Equal(t, method.ID, caller.msg.Data[:4])

	_, err = NewIDRegistry(caller, "registry")
	assert.Error(t, err)
}

type fakeParser struct {
	assertion *protocol.ParsedCredentialAssertionData
	creation  *protocol.ParsedCredentialCreationData
}

func (p *fakeParser) ParseCredentialCreationResponseBytes([]byte) (*protocol.ParsedCredentialCreationData, error) {
	if p.creation == nil {
		return nil, errors.New("malformed")
	}
	return p.creation, nil
}

func (p *fakeParser) ParseCredentialRequestResponseBytes([]byte) (*protocol.ParsedCredentialAssertionData, error) {
	if p.assertion == nil {
		return nil, errors.New("malformed")
	}
	return p.assertion, nil
}

type fakeWebAuthn struct {
	credential *webauthn.Credential
	loginErr   error
}

func (f *fakeWebAuthn) BeginRegistration(user webauthn.User, _ ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	return &protocol.CredentialCreation{}, &webauthn.SessionData{Challenge: "register", UserID: user.WebAuthnID()}, nil
}

func (f *fakeWebAuthn) CreateCredential(webauthn.User, webauthn.SessionData, *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error) {
	return f.credential, nil
}

func (f *fakeWebAuthn) BeginDiscoverableLogin(...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	return &protocol.CredentialAssertion{}, &webauthn.SessionData{Challenge: "login"}, nil
}

func (f *fakeWebAuthn) ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, _ webauthn.SessionData, resp *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error) {
	if f.loginErr != nil {
		return nil, nil, f.loginErr
	}
	user, err := handler(resp.RawID, resp.Response.UserHandle)
	if err != nil {
		return nil, nil, err
	}
	return user, f.credential, nil
}

func assertionFor(rawID, userHandle []byte) *protocol.ParsedCredentialAssertionData {
	a := &protocol.ParsedCredentialAssertionData{}
	a.RawID = rawID
	a.Response.UserHandle = userHandle
	return a
}

func TestPasskeyVerifier_UnknownCredential(t *testing.T) {
	mem := memrepo.New()
	parser := &fakeParser{assertion: assertionFor([]byte("never-registered"), []byte("handle"))}
	v := newPasskeyVerifier(&fakeWebAuthn{}, parser, mem.Passkeys(), time.Minute)
	ctx := context.Background()

	ch, err := v.BeginLogin(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, ch.ChallengeID)
	assert.True(t, json.Valid(ch.Options))

	_, err = v.Verify(ctx, PasskeyRequest{ChallengeID: ch.ChallengeID, Credential: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrPasskeyNotRegistered)
}

func TestPasskeyVerifier_MalformedAssertion(t *testing.T) {
	v := newPasskeyVerifier(&fakeWebAuthn{}, &fakeParser{}, memrepo.New().Passkeys(), time.Minute)
	_, err := v.Verify(context.Background(), PasskeyRequest{ChallengeID: "x", Credential: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrInvalidPasskey)
}
