package tokenstore_test

import (
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/jrsteele09/safe-zone-client/internal/errors"
	"github.com/jrsteele09/safe-zone-client/session"
	"github.com/jrsteele09/safe-zone-client/tokenstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

const issuer = "http://localhost/auth/realms/safe-zone"

func sampleTokens() session.TokenSet {
	return session.TokenSet{
		AccessToken:  "T1",
		RefreshToken: "refresh-secret-value",
		TokenType:    "Bearer",
		Expiry:       time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func runStoreContract(t *testing.T, store session.TokenStore) {
	t.Helper()

	_, err := store.Load(issuer)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	require.NoError(t, store.Save(issuer, sampleTokens()))
	got, err := store.Load(issuer)
	require.NoError(t, err)
	assert.Equal(t, sampleTokens().AccessToken, got.AccessToken)
	assert.Equal(t, sampleTokens().RefreshToken, got.RefreshToken)
	assert.True(t, got.Expiry.Equal(sampleTokens().Expiry))

	_, err = store.Load("http://other/auth/realms/safe-zone")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	require.NoError(t, store.Delete(issuer))
	require.NoError(t, store.Delete(issuer))
	_, err = store.Load(issuer)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	require.ErrorIs(t, store.Save("", sampleTokens()), apperrors.ErrEmptyIssuer)
	_, err = store.Load("")
	require.ErrorIs(t, err, apperrors.ErrEmptyIssuer)
}

func TestInMemory(t *testing.T) {
	runStoreContract(t, tokenstore.NewInMemory())
}

func TestBolt_Plain(t *testing.T) {
	store, err := tokenstore.LoadAt(filepath.Join(t.TempDir(), "state.db"), "")
	require.NoError(t, err)
	defer store.Close()

	assert.False(t, store.Sealed())
	runStoreContract(t, store)
}

func TestBolt_Sealed(t *testing.T) {
	store, err := tokenstore.LoadAt(filepath.Join(t.TempDir(), "state.db"), "correct horse")
	require.NoError(t, err)
	defer store.Close()

	assert.True(t, store.Sealed())
	runStoreContract(t, store)
}

func TestBolt_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")

	store, err := tokenstore.LoadAt(path, "correct horse")
	require.NoError(t, err)
	require.NoError(t, store.Save(issuer, sampleTokens()))
	require.NoError(t, store.Close())

	store, err = tokenstore.LoadAt(path, "correct horse")
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Load(issuer)
	require.NoError(t, err)
	assert.Equal(t, "T1", got.AccessToken)

	issuers, err := store.Issuers()
	require.NoError(t, err)
	assert.Equal(t, []string{issuer}, issuers)
}

func TestBolt_WrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	store, err := tokenstore.LoadAt(path, "correct horse")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = tokenstore.LoadAt(path, "battery staple")
	require.ErrorIs(t, err, apperrors.ErrStoreKey)

	_, err = tokenstore.LoadAt(path, "")
	require.ErrorIs(t, err, apperrors.ErrStoreKey)
}

func TestBolt_TokensNotReadableOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	store, err := tokenstore.LoadAt(path, "correct horse")
	require.NoError(t, err)
	require.NoError(t, store.Save(issuer, sampleTokens()))
	require.NoError(t, store.Close())

	db, err := bolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte("tokens")).Get([]byte(issuer))
		require.NotNil(t, raw)
		assert.NotContains(t, string(raw), "refresh-secret-value")
		assert.NotContains(t, string(raw), "access_token")
		return nil
	}))
}

func TestBolt_CorruptValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	store, err := tokenstore.LoadAt(path, "")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	db, err := bolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte("tokens")).Put([]byte(issuer), []byte("{not json"))
	}))
	require.NoError(t, db.Close())

	store, err = tokenstore.LoadAt(path, "")
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Load(issuer)
	require.ErrorIs(t, err, apperrors.ErrCorrupt)
}

func TestBolt_SharedBetweenStores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	first, err := tokenstore.LoadAt(path, "correct horse")
	require.NoError(t, err)
	second, err := tokenstore.LoadAt(path, "correct horse")
	require.NoError(t, err)

	require.NoError(t, first.Save(issuer, sampleTokens()))
	got, err := second.Load(issuer)
	require.NoError(t, err)
	assert.Equal(t, "T1", got.AccessToken)

	require.NoError(t, second.Delete(issuer))
	_, err = first.Load(issuer)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	require.NoError(t, first.Close())
	require.NoError(t, second.Save(issuer, sampleTokens()))
}
