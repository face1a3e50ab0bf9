package identity

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kcc-issuer/pkg/platform/sentinel"
	"kcc-issuer/pkg/testutil"
)

type failingStore struct {
	loadErr error
	saveErr error
}

func (s failingStore) Load(context.Context) (ed25519.PrivateKey, error) {
	return nil, s.loadErr
}

func (s failingStore) SaveIfAbsent(context.Context, ed25519.PrivateKey) (ed25519.PrivateKey, error) {
	return nil, s.saveErr
}

func TestProvider_ConnectReusesStoredKey(t *testing.T) {
	store := NewMemoryKeyStore()
	p := NewProvider(store)

	first, err := p.Connect(context.Background())
	require.NoError(t, err)
	second, err := p.Connect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.URI, second.URI)

	stored, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.PublicKey(), stored.Public())
}

func TestProvider_SeedIsDeterministic(t *testing.T) {
	a, err := NewProvider(NewMemoryKeyStore(), WithSeed("shared-secret")).Connect(context.Background())
	require.NoError(t, err)
	b, err := NewProvider(NewMemoryKeyStore(), WithSeed("shared-secret")).Connect(context.Background())
	require.NoError(t, err)
	c, err := NewProvider(NewMemoryKeyStore(), WithSeed("other-secret")).Connect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, a.URI, b.URI)
	assert.NotEqual(t, a.URI, c.URI)
}

func TestProvider_RandomKeysDiffer(t *testing.T) {
	a, err := NewProvider(NewMemoryKeyStore()).Connect(context.Background())
	require.NoError(t, err)
	b, err := NewProvider(NewMemoryKeyStore()).Connect(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, a.URI, b.URI)
}

func TestProvider_PropagatesStoreErrors(t *testing.T) {
	boom := errors.New("store down")

	_, err := NewProvider(failingStore{loadErr: boom}).Connect(context.Background())
	require.ErrorIs(t, err, boom)

	_, err = NewProvider(failingStore{loadErr: sentinel.ErrNotFound, saveErr: boom}).Connect(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestProvider_EntropyFailure(t *testing.T) {
	p := NewProvider(NewMemoryKeyStore(), WithRandom(bytes.NewReader(nil)))
	_, err := p.Connect(context.Background())
	require.Error(t, err)
}

func TestMemoryKeyStore_FirstSaveWins(t *testing.T) {
	store := NewMemoryKeyStore()
	_, err := store.Load(context.Background())
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	result := testutil.RunConcurrent(20, func(int) error {
		_, key, err := ed25519.GenerateKey(nil)
		if err != nil {
			return err
		}
		_, err = store.SaveIfAbsent(context.Background(), key)
		return err
	})
	assert.Equal(t, int32(20), result.Successes)

	stored, err := store.Load(context.Background())
	require.NoError(t, err)
	again, err := store.SaveIfAbsent(context.Background(), stored)
	require.NoError(t, err)
	assert.Equal(t, stored, again)
}

func TestDeriveKey_EmptySecret(t *testing.T) {
	_, err := DeriveKey("")
	require.Error(t, err)
}
