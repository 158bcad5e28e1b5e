package service

import (
	"context"
	"errors"

	"github.com/digkill/medpost/internal/ledger"
	"github.com/digkill/medpost/internal/pipeline"
	"github.com/digkill/medpost/internal/provider"
	"github.com/digkill/medpost/internal/repository"
)

var (
	// ErrOperationInProgress means a paid action is already running for the
	// user's session.
	ErrOperationInProgress = errors.New("another operation is in progress")
	ErrForbidden           = errors.New("forbidden")
	ErrNotFound            = repository.ErrNotFound
	ErrUnauthenticated     = errors.New("sign in required")
)

type FailureKind string

const (
	KindValidation          FailureKind = "validation"
	KindInsufficientCredits FailureKind = "insufficient_credits"
	KindCredentialMissing   FailureKind = "credential_missing"
	KindProviderError       FailureKind = "provider_error"
	KindProviderTimeout     FailureKind = "provider_timeout"
	KindInProgress          FailureKind = "operation_in_progress"
	KindForbidden           FailureKind = "forbidden"
	KindNotFound            FailureKind = "not_found"
	KindUnauthenticated     FailureKind = "unauthenticated"
	KindInternal            FailureKind = "internal"
)

// Failure is the user-facing form of an error.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// Classify maps any error returned by this package to a Failure. Provider
// messages are passed through verbatim; unexpected errors are not.
func Classify(err error) Failure {
	var (
		ve *pipeline.ValidationError
		pe *provider.Error
	)
	switch {
	case err == nil:
		return Failure{}
	case errors.As(err, &ve):
		return Failure{Kind: KindValidation, Message: ve.Message}
	case errors.Is(err, ledger.ErrInsufficientCredits):
		return Failure{Kind: KindInsufficientCredits, Message: "insufficient credits for this operation"}
	case errors.Is(err, provider.ErrCredentialMissing):
		return Failure{Kind: KindCredentialMissing, Message: err.Error()}
	case errors.As(err, &pe):
		kind := KindProviderError
		if pe.Kind == provider.KindProviderTimeout {
			kind = KindProviderTimeout
		}
		return Failure{Kind: kind, Message: pe.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return Failure{Kind: KindProviderTimeout, Message: "the operation timed out"}
	case errors.Is(err, ErrOperationInProgress):
		return Failure{Kind: KindInProgress, Message: err.Error()}
	case errors.Is(err, ErrForbidden):
		return Failure{Kind: KindForbidden, Message: "only super-admins can do this"}
	case errors.Is(err, ErrNotFound):
		return Failure{Kind: KindNotFound, Message: "not found"}
	case errors.Is(err, ErrUnauthenticated):
		return Failure{Kind: KindUnauthenticated, Message: err.Error()}
	default:
		return Failure{Kind: KindInternal, Message: "internal error"}
	}
}
