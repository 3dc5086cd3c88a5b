// Package bbolt provides a BBolt-backed storage repository for single-node
// deployments.
package bbolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/escritoresnogueira/backend/internal/util"
	"github.com/escritoresnogueira/backend/session"
	"github.com/escritoresnogueira/backend/storage"
	"github.com/escritoresnogueira/backend/user"
)

var (
	usersBucket    = []byte("users")
	sessionsBucket = []byte("sessions")
)

// errStop ends a cursor walk early without reporting an error.
var errStop = errors.New("stop")

// Store implements storage.Repository backed by a BBolt database. Users are
// keyed by ID and sessions by token, both JSON encoded. Each method runs in
// a single bbolt transaction.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{usersBucket, sessionsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s, err := NewRepository(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func getUser(tx *bbolt.Tx, id string) (*user.User, error) {
	data := tx.Bucket(usersBucket).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("%s: %w", id, user.ErrNotFound)
	}
	var u user.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decoding user %s: %w", id, err)
	}
	return &u, nil
}

func findUser(tx *bbolt.Tx, match func(*user.User) bool) (*user.User, error) {
	var found *user.User
	err := tx.Bucket(usersBucket).ForEach(func(_, v []byte) error {
		var u user.User
		if err := json.Unmarshal(v, &u); err != nil {
			return err
		}
		if match(&u) {
			found = &u
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	if found == nil {
		return nil, user.ErrNotFound
	}
	return found, nil
}

func (s *Store) FindUserByID(_ context.Context, id string) (*user.User, error) {
	var u *user.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		u, err = getUser(tx, id)
		return err
	})
	return u, err
}

func (s *Store) FindUserBySubject(_ context.Context, subject string) (*user.User, error) {
	if subject == "" {
		return nil, user.ErrNotFound
	}
	var u *user.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		u, err = findUser(tx, func(c *user.User) bool { return c.Subject == subject })
		return err
	})
	return u, err
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (*user.User, error) {
	email = util.NormalizeEmail(email)
	if email == "" {
		return nil, user.ErrNotFound
	}
	var u *user.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		u, err = findUser(tx, func(c *user.User) bool { return util.NormalizeEmail(c.Email) == email })
		return err
	})
	return u, err
}

func (s *Store) SaveUser(_ context.Context, u *user.User) error {
	if u == nil || u.ID == "" {
		return fmt.Errorf("saving user: missing id")
	}
	email := util.NormalizeEmail(u.Email)
	return s.db.Update(func(tx *bbolt.Tx) error {
		_, err := findUser(tx, func(c *user.User) bool {
			if c.ID == u.ID {
				return false
			}
			return (u.Subject != "" && c.Subject == u.Subject) ||
				(email != "" && util.NormalizeEmail(c.Email) == email)
		})
		if err == nil {
			return fmt.Errorf("saving user %s: %w", u.ID, user.ErrDuplicate)
		}
		if !errors.Is(err, user.ErrNotFound) {
			return err
		}
		data, err := json.Marshal(u)
		if err != nil {
			return err
		}
		return tx.Bucket(usersBucket).Put([]byte(u.ID), data)
	})
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		users := tx.Bucket(usersBucket)
		if users.Get([]byte(id)) == nil {
			return fmt.Errorf("%s: %w", id, user.ErrNotFound)
		}
		owned := false
		err := eachSession(tx, func(_ []byte, sess *session.Session) error {
			if sess.UserID == id {
				owned = true
				return errStop
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStop) {
			return err
		}
		if owned {
			return fmt.Errorf("%s: %w", id, user.ErrHasSessions)
		}
		return users.Delete([]byte(id))
	})
}

func eachSession(tx *bbolt.Tx, fn func(k []byte, s *session.Session) error) error {
	return tx.Bucket(sessionsBucket).ForEach(func(k, v []byte) error {
		var sess session.Session
		if err := json.Unmarshal(v, &sess); err != nil {
			return fmt.Errorf("decoding session: %w", err)
		}
		return fn(k, &sess)
	})
}

func putSession(tx *bbolt.Tx, sess *session.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return tx.Bucket(sessionsBucket).Put([]byte(sess.Token), data)
}

func getSession(tx *bbolt.Tx, token string) (*session.Session, error) {
	data := tx.Bucket(sessionsBucket).Get([]byte(token))
	if data == nil {
		return nil, session.ErrNotFound
	}
	var sess session.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &sess, nil
}

func (s *Store) CreateSession(_ context.Context, sess *session.Session) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(usersBucket).Get([]byte(sess.UserID)) == nil {
			return fmt.Errorf("%s: %w", sess.UserID, user.ErrNotFound)
		}
		if tx.Bucket(sessionsBucket).Get([]byte(sess.Token)) != nil {
			return session.ErrTokenConflict
		}
		return putSession(tx, sess)
	})
}

func (s *Store) GetSession(_ context.Context, token string) (*session.Session, error) {
	var sess *session.Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		sess, err = getSession(tx, token)
		if err != nil {
			return err
		}
		if u, err := getUser(tx, sess.UserID); err == nil {
			sess.OwnerEmail = u.Email
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Store) ListActiveSessions(_ context.Context, userID string, now time.Time) ([]session.Session, error) {
	var out []session.Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		return eachSession(tx, func(_ []byte, sess *session.Session) error {
			if sess.UserID == userID && sess.IsValid(now) {
				out = append(out, *sess)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CountActiveSessions(_ context.Context, userID string) (int, error) {
	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		return eachSession(tx, func(_ []byte, sess *session.Session) error {
			if sess.UserID == userID && sess.Active {
				n++
			}
			return nil
		})
	})
	return n, err
}

// updateSession applies fn to the stored session under a write transaction
// and persists it when fn reports a change.
func (s *Store) updateSession(token string, fn func(*session.Session) bool) (bool, error) {
	changed := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		sess, err := getSession(tx, token)
		if errors.Is(err, session.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !fn(sess) {
			return nil
		}
		changed = true
		return putSession(tx, sess)
	})
	return changed, err
}

func (s *Store) TouchSession(_ context.Context, token string, at time.Time) error {
	_, err := s.updateSession(token, func(sess *session.Session) bool {
		if !sess.Active {
			return false
		}
		sess.LastAccessedAt = at
		sess.UpdatedAt = at
		return true
	})
	return err
}

func (s *Store) ExtendSession(_ context.Context, token string, expiresAt, now time.Time) error {
	_, err := s.updateSession(token, func(sess *session.Session) bool {
		if !sess.Active || !expiresAt.After(sess.ExpiresAt) {
			return false
		}
		sess.ExpiresAt = expiresAt
		sess.UpdatedAt = now
		return true
	})
	return err
}

func (s *Store) DeactivateSession(_ context.Context, token string, now time.Time) (bool, error) {
	return s.updateSession(token, func(sess *session.Session) bool {
		if !sess.Active {
			return false
		}
		sess.Active = false
		sess.UpdatedAt = now
		return true
	})
}

func (s *Store) deactivateWhere(now time.Time, match func(*session.Session) bool) (int64, error) {
	var n int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var changed []*session.Session
		err := eachSession(tx, func(_ []byte, sess *session.Session) error {
			if sess.Active && match(sess) {
				sess.Active = false
				sess.UpdatedAt = now
				changed = append(changed, sess)
			}
			return nil
		})
		if err != nil {
			return err
		}
		// bbolt forbids mutating a bucket during ForEach.
		for _, sess := range changed {
			if err := putSession(tx, sess); err != nil {
				return err
			}
		}
		n = int64(len(changed))
		return nil
	})
	return n, err
}

func (s *Store) DeactivateUserSessions(_ context.Context, userID string, now time.Time) (int64, error) {
	return s.deactivateWhere(now, func(sess *session.Session) bool { return sess.UserID == userID })
}

func (s *Store) DeactivateSubjectSessions(_ context.Context, subject string, now time.Time) (int64, error) {
	if subject == "" {
		return 0, nil
	}
	return s.deactivateWhere(now, func(sess *session.Session) bool { return sess.Subject == subject })
}

func (s *Store) DeactivateExpired(_ context.Context, now time.Time) (int64, error) {
	return s.deactivateWhere(now, func(sess *session.Session) bool { return sess.ExpiresAt.Before(now) })
}

func (s *Store) deleteWhere(match func(*session.Session) bool) (int64, error) {
	var n int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var keys [][]byte
		err := eachSession(tx, func(k []byte, sess *session.Session) error {
			if match(sess) {
				keys = append(keys, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		b := tx.Bucket(sessionsBucket)
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		n = int64(len(keys))
		return nil
	})
	return n, err
}

func (s *Store) DeleteSessions(_ context.Context, userID, subject string) (int64, error) {
	return s.deleteWhere(func(sess *session.Session) bool {
		return (userID != "" && sess.UserID == userID) || (subject != "" && sess.Subject == subject)
	})
}

func (s *Store) DeleteInactive(_ context.Context, cutoff time.Time) (int64, error) {
	return s.deleteWhere(func(sess *session.Session) bool {
		return !sess.Active && sess.UpdatedAt.Before(cutoff)
	})
}
