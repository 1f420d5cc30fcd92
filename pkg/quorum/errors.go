package quorum

import (
	"errors"

	"github.com/Mindburn-Labs/munin/pkg/audit"
)

var (
	ErrUnknownPacket          = errors.New("unknown packet")
	ErrDuplicatePacket        = errors.New("packet already submitted")
	ErrInvalidPacket          = errors.New("invalid packet")
	ErrAlreadyAuthorized      = errors.New("packet already authorized")
	ErrAlreadyRejected        = errors.New("packet already rejected")
	ErrSignerGroupNotRequired = errors.New("signer group not required for packet")
	ErrDuplicateSignature     = errors.New("signer group already signed")
	ErrRateLimited            = errors.New("signer submission rate exceeded")
	ErrInvalidSignature       = errors.New("invalid signature")
	ErrIdentityProofRequired  = errors.New("valid identity proof required")
	ErrNotAuthorized          = errors.New("packet not authorized")
	ErrAlreadyExecuted        = errors.New("packet already executed")
	ErrNotConfigured          = errors.New("quorum engine not configured")
	ErrInvalidPolicy          = errors.New("invalid quorum policy")
)

// Kind groups errors for callers that map them to transport status codes.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindForbidden
	KindRateLimited
	KindIntegrity
	KindResource
)

// KindOf classifies err.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrUnknownPacket):
		return KindNotFound
	case errors.Is(err, ErrInvalidPacket), errors.Is(err, ErrSignerGroupNotRequired):
		return KindValidation
	case errors.Is(err, ErrDuplicatePacket), errors.Is(err, ErrAlreadyAuthorized),
		errors.Is(err, ErrAlreadyRejected), errors.Is(err, ErrDuplicateSignature),
		errors.Is(err, ErrNotAuthorized), errors.Is(err, ErrAlreadyExecuted):
		return KindConflict
	case errors.Is(err, ErrInvalidSignature), errors.Is(err, ErrIdentityProofRequired):
		return KindForbidden
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, audit.ErrPersist), errors.Is(err, ErrNotConfigured):
		return KindResource
	default:
		return KindUnknown
	}
}
