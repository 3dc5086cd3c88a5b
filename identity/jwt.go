package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/golang-jwt/jwt/v5"

	"github.com/escritoresnogueira/backend/internal/util"
	"github.com/escritoresnogueira/backend/user"
)

// MinSecretLength is the shortest HMAC secret NewJWTVerifier accepts.
const MinSecretLength = 32

// Claims carried by locally issued credentials.
type devClaims struct {
	jwt.RegisteredClaims
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Picture  string `json:"picture,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// JWTVerifier verifies HS256 credentials signed with a shared secret. It
// stands in for Firebase in local development and tests, and can mint its
// own credentials with Issue.
type JWTVerifier struct {
	secret *memguard.Enclave
	issuer string
	now    func() time.Time
}

var _ Verifier = (*JWTVerifier)(nil)

// NewJWTVerifier seals a copy of secret in a memguard enclave. The caller's
// slice is left untouched.
func NewJWTVerifier(secret []byte, issuer string) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes, got %d", MinSecretLength, len(secret))
	}
	if issuer == "" {
		return nil, errors.New("jwt issuer is required")
	}
	return &JWTVerifier{
		secret: memguard.NewEnclave(util.CopyBytes(secret)),
		issuer: issuer,
		now:    time.Now,
	}, nil
}

// withSecret opens the enclave for the duration of fn.
func (v *JWTVerifier) withSecret(fn func(key []byte) error) error {
	buf, err := v.secret.Open()
	if err != nil {
		return fmt.Errorf("opening jwt secret: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

func (v *JWTVerifier) Verify(_ context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, ErrInvalidCredential
	}
	claims := &devClaims{}
	err := v.withSecret(func(key []byte) error {
		_, err := jwt.ParseWithClaims(credential, claims,
			func(*jwt.Token) (interface{}, error) { return key, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(v.issuer),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(v.now),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidCredential)
	}
	provider := claims.Provider
	if provider == "" {
		provider = user.ProviderLocal
	}
	return &Identity{
		Subject:     claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
		AvatarURL:   claims.Picture,
		Provider:    provider,
	}, nil
}

// Issue signs a credential asserting id, valid for ttl.
func (v *JWTVerifier) Issue(id Identity, ttl time.Duration) (string, error) {
	if id.Subject == "" {
		return "", errors.New("subject is required")
	}
	now := v.now()
	claims := devClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:    id.Email,
		Name:     id.DisplayName,
		Picture:  id.AvatarURL,
		Provider: id.Provider,
	}
	var signed string
	err := v.withSecret(func(key []byte) error {
		var err error
		signed, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
		return err
	})
	return signed, err
}
