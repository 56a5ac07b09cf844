// Package apperr defines the typed errors that cross the service/transport boundary.
// Each error carries a Kind (mapped to an HTTP status) and a stable Code clients can
// branch on without parsing messages.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an application error
type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindConflict
	KindRateLimit
)

// Stable error codes returned to clients.
const (
	CodeValidation              = "VALIDATION_ERROR"
	CodeInvalidVerificationCode = "INVALID_VERIFICATION_CODE"
	CodeInvalidWalletSignature  = "INVALID_WALLET_SIGNATURE"
	CodeInvalidNonce            = "INVALID_NONCE"
	CodeNonceAlreadyUsed        = "NONCE_ALREADY_USED"
	CodeInvalidSocialToken      = "INVALID_SOCIAL_TOKEN"
	CodeUnsupportedProvider     = "UNSUPPORTED_PROVIDER"
	CodePasskeyNotRegistered    = "PASSKEY_NOT_REGISTERED"
	CodeInvalidPasskey          = "INVALID_PASSKEY_ASSERTION"
	CodeInvalidFarcaster        = "INVALID_FARCASTER_SIGNATURE"
	CodeCustodyMismatch         = "FARCASTER_CUSTODY_MISMATCH"
	CodeInvalidToken            = "INVALID_TOKEN"
	CodeTokenRevoked            = "TOKEN_REVOKED"
	CodeSessionExpired          = "SESSION_EXPIRED"
	CodeProfileAccessDenied     = "PROFILE_ACCESS_DENIED"
	CodeNotFound                = "NOT_FOUND"
	CodeConflict                = "CONFLICT"
	CodeRateLimited             = "RATE_LIMITED"
)

// Error is an application error with a client-facing code and message
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the error kind onto a response status code
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimit:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// Validation reports malformed or missing input
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidation, Message: message}
}

// Authentication reports a rejected credential, signature, code or token
func Authentication(code, message string, err error) *Error {
	return &Error{Kind: KindAuthentication, Code: code, Message: message, Err: err}
}

// Authorization reports a resource the caller can see but may not act on
func Authorization(code, message string) *Error {
	return &Error{Kind: KindAuthorization, Code: code, Message: message}
}

// NotFound reports a missing resource
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: message}
}

// Conflict reports a duplicate resource
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Code: CodeConflict, Message: message}
}

// RateLimit reports a throttled caller
func RateLimit(message string) *Error {
	return &Error{Kind: KindRateLimit, Code: CodeRateLimited, Message: message}
}

// As extracts an *Error from err's chain
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err carries an *Error of the given kind
func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// HasCode reports whether err carries an *Error with the given code
func HasCode(err error, code string) bool {
	e, ok := As(err)
	return ok && e.Code == code
}
