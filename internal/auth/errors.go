package auth

import "errors"

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrAlreadyExists      = errors.New("auth: already exists")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrUnauthenticated    = errors.New("auth: unauthenticated")
	ErrForbidden          = errors.New("auth: forbidden")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrInvalidSignature   = errors.New("auth: invalid token signature")
	ErrWrongTokenKind     = errors.New("auth: wrong token kind")
	ErrSessionNotFound    = errors.New("auth: session not found")
	ErrSessionReuse       = errors.New("auth: session reuse detected")
	ErrRotationConflict   = errors.New("auth: session rotation conflict")
)

// Code maps a subsystem error to the stable machine-readable code returned
// to clients. Unknown errors map to INTERNAL so that store failures are
// never dressed up as client mistakes.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "INVALID_INPUT"
	case errors.Is(err, ErrInvalidCredentials):
		return "INVALID_CREDENTIALS"
	case errors.Is(err, ErrTokenExpired):
		return "TOKEN_EXPIRED"
	case errors.Is(err, ErrInvalidSignature):
		return "INVALID_SIGNATURE"
	case errors.Is(err, ErrWrongTokenKind):
		return "WRONG_TOKEN_KIND"
	case errors.Is(err, ErrSessionReuse):
		return "SESSION_REUSE_DETECTED"
	case errors.Is(err, ErrSessionNotFound):
		return "SESSION_NOT_FOUND"
	case errors.Is(err, ErrUnauthenticated):
		return "UNAUTHENTICATED"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrAlreadyExists):
		return "ALREADY_EXISTS"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	default:
		return "INTERNAL"
	}
}
