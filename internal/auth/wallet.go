package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/accountgraph/server/internal/model"
)

// WalletVerifier authenticates Sign-In with Ethereum messages
type WalletVerifier struct {
	nonces *NonceStore
	domain string
	now    func() time.Time
}

func NewWalletVerifier(nonces *NonceStore, domain string) *WalletVerifier {
	return &WalletVerifier{nonces: nonces, domain: domain, now: time.Now}
}

// Verify checks the signature before spending the nonce, so a forged message cannot burn it
func (v *WalletVerifier) Verify(ctx context.Context, r Request) (VerifiedIdentity, error) {
	req, ok := r.(WalletRequest)
	if !ok {
		return VerifiedIdentity{}, unexpectedRequest(StrategyWallet, r)
	}
	if req.Message == "" || req.Signature == "" {
		return VerifiedIdentity{}, fmt.Errorf("%w: message and signature are required", ErrInvalidMessage)
	}

	msg, err := verifySiwe(req.Message, req.Signature, v.domain, v.now())
	if err != nil {
		return VerifiedIdentity{}, err
	}
	if req.Address != "" && (!common.IsHexAddress(req.Address) || common.HexToAddress(req.Address) != msg.Address) {
		return VerifiedIdentity{}, fmt.Errorf("%w: claimed address differs from message", ErrInvalidSignature)
	}
	if err := v.nonces.Consume(ctx, msg.Nonce); err != nil {
		return VerifiedIdentity{}, err
	}

	return VerifiedIdentity{
		Type:            model.AccountTypeWallet,
		Identifier:      strings.ToLower(msg.Address.Hex()),
		Metadata:        map[string]any{"chainId": msg.ChainID},
		ProvesOwnership: true,
	}, nil
}
