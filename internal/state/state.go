package state

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.dashgate/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	credentialsBucket = []byte("credentials")
	metaBucket        = []byte("meta")
	saltKey           = []byte("seal_salt")
	checkKey          = []byte("seal_check")
)

// checkPlaintext is sealed under the derived key on first use so a wrong
// passphrase is detected at open time instead of reading as "logged out".
const checkPlaintext = "dashgate"

var (
	// ErrSealed is returned when the database holds sealed values but no
	// passphrase was supplied.
	ErrSealed = errors.New("state is sealed: a passphrase is required")

	// ErrWrongPassphrase is returned when the passphrase does not open the
	// sealed values.
	ErrWrongPassphrase = errors.New("state passphrase does not match")
)

// State wraps a bbolt database holding the session credentials. It
// implements tokens.Backend.
type State struct {
	db     *bolt.DB
	sealer *sealer
}

// Option configures LoadAt.
type Option func(*options)

type options struct {
	passphrase string
}

// WithPassphrase seals stored values under a key derived from passphrase.
// An empty passphrase leaves values in plaintext.
func WithPassphrase(passphrase string) Option {
	return func(o *options) {
		o.passphrase = passphrase
	}
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist.
func LoadAt(path string, opts ...Option) (*State, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(credentialsBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(metaBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	s := &State{db: db}

	if err := s.initSealing(o.passphrase); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// initSealing checks the passphrase against the stored check value, or
// sets sealing up on first use. Switching an unsealed database to sealed
// drops any plaintext values it held.
func (s *State) initSealing(passphrase string) error {
	var salt, check []byte

	_ = s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		salt = cloneBytes(meta.Get(saltKey))
		check = cloneBytes(meta.Get(checkKey))

		return nil
	})

	if passphrase == "" {
		if check != nil {
			return ErrSealed
		}

		return nil
	}

	if check != nil {
		sl, err := newSealer(passphrase, salt)
		if err != nil {
			return err
		}

		got, err := sl.open(checkKey, string(check))
		if err != nil || got != checkPlaintext {
			return ErrWrongPassphrase
		}

		s.sealer = sl

		return nil
	}

	salt, err := newSalt()
	if err != nil {
		return err
	}

	sl, err := newSealer(passphrase, salt)
	if err != nil {
		return err
	}

	sealedCheck, err := sl.seal(checkKey, checkPlaintext)
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(credentialsBucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}

		if _, err := tx.CreateBucket(credentialsBucket); err != nil {
			return err
		}

		meta := tx.Bucket(metaBucket)
		if err := meta.Put(saltKey, salt); err != nil {
			return err
		}

		return meta.Put(checkKey, []byte(sealedCheck))
	})
	if err != nil {
		return fmt.Errorf("initializing sealed state: %w", err)
	}

	s.sealer = sl

	return nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Sealed reports whether values are sealed at rest.
func (s *State) Sealed() bool {
	return s.sealer != nil
}

// Get returns the stored value for key. Missing keys and values that
// cannot be unsealed read as absent.
func (s *State) Get(key string) (string, bool) {
	var raw []byte

	_ = s.db.View(func(tx *bolt.Tx) error {
		raw = cloneBytes(tx.Bucket(credentialsBucket).Get([]byte(key)))
		return nil
	})

	if raw == nil {
		return "", false
	}

	if s.sealer == nil {
		return string(raw), true
	}

	v, err := s.sealer.open([]byte(key), string(raw))
	if err != nil {
		return "", false
	}

	return v, true
}

// Put persists value under key.
func (s *State) Put(key, value string) error {
	data := value

	if s.sealer != nil {
		sealed, err := s.sealer.seal([]byte(key), value)
		if err != nil {
			return err
		}

		data = sealed
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(credentialsBucket).Put([]byte(key), []byte(data))
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (s *State) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(credentialsBucket).Delete([]byte(key))
	})
}

// cloneBytes copies a value out of a bolt transaction, whose memory is
// only valid until the transaction ends.
func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}

	out := make([]byte, len(b))
	copy(out, b)

	return out
}
