package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spruceid/siwe-go"
)

// SiweMessage holds the fields of a verified EIP-4361 message the verifiers act on
type SiweMessage struct {
	Domain    string
	Address   common.Address
	ChainID   int64
	Nonce     string
	Resources []string
}

// ParseSiweMessage parses the EIP-4361 text form
func ParseSiweMessage(raw string) (*siwe.Message, error) {
	msg, err := siwe.ParseMessage(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return msg, nil
}

// validateSiwe checks version, domain binding and the validity window
func validateSiwe(msg *siwe.Message, domain string, now time.Time) error {
	if msg.GetVersion() != "1" {
		return fmt.Errorf("%w: unsupported version %q", ErrInvalidMessage, msg.GetVersion())
	}
	if domain != "" && !strings.EqualFold(msg.GetDomain(), domain) {
		return fmt.Errorf("%w: domain mismatch", ErrInvalidMessage)
	}
	if ok, err := msg.ValidAt(now); !ok || err != nil {
		return fmt.Errorf("%w: outside validity window: %v", ErrInvalidMessage, err)
	}
	return nil
}

// normalizeSignature decodes a personal_sign signature and rewrites a 0/1 recovery byte to 27/28
func normalizeSignature(signature string) (string, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return "", fmt.Errorf("%w: signature is not hex", ErrInvalidSignature)
	}
	if len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("%w: signature must be %d bytes", ErrInvalidSignature, crypto.SignatureLength)
	}
	if sig[crypto.RecoveryIDOffset] < 27 {
		sig[crypto.RecoveryIDOffset] += 27
	}
	return hexutil.Encode(sig), nil
}

// verifySiwe parses, validates and checks the signature of a SIWE message.
// The nonce is left for the caller to consume.
func verifySiwe(raw, signature, domain string, now time.Time) (*SiweMessage, error) {
	msg, err := ParseSiweMessage(raw)
	if err != nil {
		return nil, err
	}
	if err := validateSiwe(msg, domain, now); err != nil {
		return nil, err
	}
	sig, err := normalizeSignature(signature)
	if err != nil {
		return nil, err
	}
	if _, err := msg.VerifyEIP191(sig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	resources := make([]string, 0, len(msg.GetResources()))
	for _, res := range msg.GetResources() {
		resources = append(resources, res.String())
	}
	return &SiweMessage{
		Domain:    msg.GetDomain(),
		Address:   msg.GetAddress(),
		ChainID:   int64(msg.GetChainID()),
		Nonce:     msg.GetNonce(),
		Resources: resources,
	}, nil
}
