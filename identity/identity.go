// Package identity verifies bearer credentials issued by an external identity
// provider and maps them to a provider-neutral Identity.
package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/escritoresnogueira/backend/user"
)

// ErrInvalidCredential is returned for any credential that fails
// verification. The underlying cause is wrapped for logging only.
var ErrInvalidCredential = errors.New("invalid identity credential")

// Identity is the verified result of a credential check.
type Identity struct {
	Subject     string
	Email       string
	DisplayName string
	AvatarURL   string
	Provider    string
}

// Verifier validates a credential and returns the identity it asserts.
type Verifier interface {
	Verify(ctx context.Context, credential string) (*Identity, error)
}

// Deleter removes an identity from the provider. Verifiers that front a
// provider with account management implement it.
type Deleter interface {
	DeleteSubject(ctx context.Context, subject string) error
}

// ProviderFromSignIn maps a provider sign-in method to the provider name
// stored on the account.
func ProviderFromSignIn(signInProvider string) string {
	p := strings.ToLower(signInProvider)
	switch {
	case strings.Contains(p, "google"):
		return user.ProviderGoogle
	case strings.Contains(p, "facebook"):
		return user.ProviderFacebook
	default:
		return user.ProviderFirebase
	}
}
