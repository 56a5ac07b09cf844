package auth

import (
	"errors"
	"fmt"
)

// Verification failures. Dispatcher.Authenticate turns these into apperr codes.
var (
	ErrInvalidMessage       = errors.New("malformed sign-in message")
	ErrInvalidSignature     = errors.New("signature does not match address")
	ErrNonceInvalid         = errors.New("nonce is unknown or expired")
	ErrNonceReplay          = errors.New("nonce already used")
	ErrInvalidCode          = errors.New("invalid verification code")
	ErrCodeExhausted        = fmt.Errorf("%w: too many attempts", ErrInvalidCode)
	ErrInvalidSocialToken   = errors.New("social token rejected by provider")
	ErrUnsupportedProvider  = errors.New("unsupported social provider")
	ErrPasskeyNotRegistered = errors.New("passkey is not registered")
	ErrInvalidPasskey       = errors.New("passkey assertion failed")
	ErrInvalidFarcaster     = errors.New("invalid farcaster sign-in")
	ErrCustodyMismatch      = errors.New("signer is not the custody address of the fid")
)
