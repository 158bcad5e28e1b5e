package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrCredentialMissing means no API key is configured for the model or its
// platform. It is never returned for a provider-side rejection.
var ErrCredentialMissing = errors.New("credential missing")

type ErrorKind string

const (
	KindProviderError   ErrorKind = "provider_error"
	KindProviderTimeout ErrorKind = "provider_timeout"
)

// Error is a failure reported by, or while talking to, an upstream provider.
type Error struct {
	Kind       ErrorKind
	Provider   string
	Model      string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s (%s): status=%d %s", e.Provider, e.Kind, e.Model, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s %s (%s): %s", e.Provider, e.Kind, e.Model, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a provider timeout.
func IsTimeout(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindProviderTimeout
}

// CredentialError wraps ErrCredentialMissing with what was looked up.
type CredentialError struct {
	Model    string
	Platform string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("API key for %s (platform %s) not found", e.Model, e.Platform)
}

func (e *CredentialError) Unwrap() error { return ErrCredentialMissing }

// wrapTransport classifies a transport-level failure.
func wrapTransport(provider, model string, err error) error {
	kind := KindProviderError
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		kind = KindProviderTimeout
	}
	return &Error{Kind: kind, Provider: provider, Model: model, Err: err}
}
