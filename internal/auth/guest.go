package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/accountgraph/server/internal/model"
)

// GuestVerifier mints a throwaway identity for every call
type GuestVerifier struct {
	now func() time.Time
}

func NewGuestVerifier() *GuestVerifier {
	return &GuestVerifier{now: time.Now}
}

func (v *GuestVerifier) Verify(_ context.Context, r Request) (VerifiedIdentity, error) {
	if _, ok := r.(GuestRequest); !ok {
		return VerifiedIdentity{}, unexpectedRequest(StrategyGuest, r)
	}
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return VerifiedIdentity{}, fmt.Errorf("generate guest id: %w", err)
	}
	return VerifiedIdentity{
		Type:       model.AccountTypeGuest,
		Identifier: fmt.Sprintf("guest_%d_%s", v.now().UnixMilli(), hex.EncodeToString(b)),
	}, nil
}
