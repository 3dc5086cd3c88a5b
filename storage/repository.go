// Package storage defines the persistence contract shared by the user and
// session subsystems. Backends live in subpackages: memory, bbolt and
// postgres.
package storage

import (
	"github.com/escritoresnogueira/backend/session"
	"github.com/escritoresnogueira/backend/user"
)

// Repository stores users and their sessions in one database so that session
// rows can reference their owner.
type Repository interface {
	user.Store
	session.Store
	Close() error
}
