package tokenstore

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/jrsteele09/safe-zone-client/internal/errors"
	"github.com/jrsteele09/safe-zone-client/session"
	bolt "go.etcd.io/bbolt"
)

const (
	stateDirPerm     = fs.FileMode(0o700)
	stateFilePerm    = fs.FileMode(0o600)
	stateOpenTimeout = 5 * time.Second
)

var (
	tokensBucket = []byte("tokens")
	metaBucket   = []byte("meta")

	saltKey  = []byte("salt")
	checkKey = []byte("check")

	checkPlaintext = []byte("safe-zone")
)

// Bolt stores token sets in a bbolt database keyed by issuer. With a
// passphrase every value is sealed; without one values are stored as JSON.
// The file is opened for each operation only, so several processes can share
// it.
type Bolt struct {
	path   string
	sealer *sealer
}

// LoadAt opens (or creates) the database at path. A database created with a
// passphrase can only be reopened with the same passphrase; anything else
// fails with errors.ErrStoreKey.
func LoadAt(path, passphrase string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	b := &Bolt{path: path}
	err := b.update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(tokensBucket); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		b.sealer, err = initSealer(meta, passphrase)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("initializing state db: %w", err)
	}
	return b, nil
}

func (b *Bolt) open(readOnly bool) (*bolt.DB, error) {
	db, err := bolt.Open(b.path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}
	return db, nil
}

func (b *Bolt) update(fn func(tx *bolt.Tx) error) error {
	db, err := b.open(false)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Update(fn)
}

func (b *Bolt) view(fn func(tx *bolt.Tx) error) error {
	db, err := b.open(true)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.View(fn)
}

// initSealer records the salt and a check value on first use and verifies
// the passphrase on every later open.
func initSealer(meta *bolt.Bucket, passphrase string) (*sealer, error) {
	salt := meta.Get(saltKey)
	check := meta.Get(checkKey)

	if salt == nil {
		if passphrase == "" {
			return nil, nil
		}
		newSaltBytes, err := newSalt()
		if err != nil {
			return nil, err
		}
		s, err := newSealer(passphrase, newSaltBytes)
		if err != nil {
			return nil, err
		}
		sealedCheck, err := s.seal(checkPlaintext, checkKey)
		if err != nil {
			return nil, err
		}
		if err := meta.Put(saltKey, newSaltBytes); err != nil {
			return nil, err
		}
		return s, meta.Put(checkKey, sealedCheck)
	}

	if passphrase == "" {
		return nil, apperrors.ErrStoreKey
	}
	s, err := newSealer(passphrase, salt)
	if err != nil {
		return nil, err
	}
	if _, err := s.open(check, checkKey); err != nil {
		return nil, apperrors.ErrStoreKey
	}
	return s, nil
}

// Close is a no-op; the database is never held open between operations.
func (b *Bolt) Close() error {
	return nil
}

// Sealed reports whether values are encrypted at rest.
func (b *Bolt) Sealed() bool {
	return b.sealer != nil
}

func (b *Bolt) Save(issuer string, tokens session.TokenSet) error {
	if issuer == "" {
		return apperrors.ErrEmptyIssuer
	}
	data, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("encoding tokens: %w", err)
	}
	if b.sealer != nil {
		if data, err = b.sealer.seal(data, []byte(issuer)); err != nil {
			return fmt.Errorf("sealing tokens: %w", err)
		}
	}
	return b.update(func(tx *bolt.Tx) error {
		return tx.Bucket(tokensBucket).Put([]byte(issuer), data)
	})
}

func (b *Bolt) Load(issuer string) (*session.TokenSet, error) {
	if issuer == "" {
		return nil, apperrors.ErrEmptyIssuer
	}

	var data []byte
	err := b.view(func(tx *bolt.Tx) error {
		if v := tx.Bucket(tokensBucket).Get([]byte(issuer)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, "tokens for %s", issuer)
	}

	if b.sealer != nil {
		plain, err := b.sealer.open(data, []byte(issuer))
		if err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrCorrupt, "opening tokens for %s: %v", issuer, err)
		}
		data = plain
	}

	var tokens session.TokenSet
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrCorrupt, "decoding tokens for %s: %v", issuer, err)
	}
	return &tokens, nil
}

func (b *Bolt) Delete(issuer string) error {
	if issuer == "" {
		return apperrors.ErrEmptyIssuer
	}
	return b.update(func(tx *bolt.Tx) error {
		return tx.Bucket(tokensBucket).Delete([]byte(issuer))
	})
}

// Issuers lists the issuers with stored tokens.
func (b *Bolt) Issuers() ([]string, error) {
	var issuers []string
	err := b.view(func(tx *bolt.Tx) error {
		return tx.Bucket(tokensBucket).ForEach(func(k, _ []byte) error {
			issuers = append(issuers, string(k))
			return nil
		})
	})
	return issuers, err
}
