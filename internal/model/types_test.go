package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeIdentifier(t *testing.T) {
	assert.Equal(t, "0xabcdef", NormalizeIdentifier(AccountTypeWallet, " 0xABCdef "))
	assert.Equal(t, "a@b.com", NormalizeIdentifier(AccountTypeEmail, "A@B.com"))
	assert.Equal(t, "AbC-_x", NormalizeIdentifier(AccountTypePasskey, "AbC-_x"))
}

func TestCanonicalPair(t *testing.T) {
	lo := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	hi := uuid.MustParse("ffffffff-0000-0000-0000-000000000000")

	a, b := CanonicalPair(hi, lo)
	assert.Equal(t, lo, a)
	assert.Equal(t, hi, b)

	a, b = CanonicalPair(lo, hi)
	assert.Equal(t, lo, a)
	assert.Equal(t, hi, b)
}

func TestIdentityLinkOther(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	l := IdentityLink{AccountAID: a, AccountBID: b}
	assert.Equal(t, b, l.Other(a))
	assert.Equal(t, a, l.Other(b))
}
