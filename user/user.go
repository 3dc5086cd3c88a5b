// Package user defines the account entity that owns sessions and the storage
// contract used to find, create and delete accounts.
package user

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultCountry is applied to accounts created without an explicit country.
const DefaultCountry = "Portugal"

// RoleUser is granted to every account created through sign-in.
const RoleUser = "ROLE_USER"

// Identity provider names recorded on the account.
const (
	ProviderFirebase = "FIREBASE"
	ProviderGoogle   = "GOOGLE"
	ProviderFacebook = "FACEBOOK"
	ProviderLocal    = "LOCAL"
)

var (
	ErrNotFound    = errors.New("user not found")
	ErrDisabled    = errors.New("user is disabled")
	ErrHasSessions = errors.New("user still owns sessions")
	ErrDuplicate   = errors.New("user subject or email already registered")
)

// User is a registered account.
type User struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject,omitempty"`
	Provider   string    `json:"provider"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	FirstName  string    `json:"first_name,omitempty"`
	LastName   string    `json:"last_name,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Address    string    `json:"address,omitempty"`
	PostalCode string    `json:"postal_code,omitempty"`
	City       string    `json:"city,omitempty"`
	Country    string    `json:"country,omitempty"`
	PhotoURL   string    `json:"photo_url,omitempty"`
	Roles      []string  `json:"roles"`
	Enabled    bool      `json:"enabled"`
	LastLogin  time.Time `json:"last_login"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// New returns an enabled account with default role and country.
func New(email, name string, now time.Time) *User {
	return &User{
		ID:        uuid.NewString(),
		Provider:  ProviderLocal,
		Email:     email,
		Name:      name,
		Country:   DefaultCountry,
		Roles:     []string{RoleUser},
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasRole reports whether the account holds role.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// SplitName splits a display name into first name and the remainder.
func SplitName(name string) (first, last string) {
	fields := strings.Fields(name)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}

// Store persists accounts. Lookups that match nothing return ErrNotFound.
type Store interface {
	FindUserByID(ctx context.Context, id string) (*User, error)
	FindUserBySubject(ctx context.Context, subject string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	// SaveUser inserts or replaces the account keyed by ID.
	SaveUser(ctx context.Context, u *User) error
	// DeleteUser removes the account. It fails with ErrHasSessions while any
	// session row still references the account.
	DeleteUser(ctx context.Context, id string) error
}
