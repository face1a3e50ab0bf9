package identity

import (
	"context"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"kcc-issuer/pkg/platform/sentinel"
)

const (
	issuerKeySuffix = "issuer:key"
	sealedPrefix    = "sealed:v1:"
)

var sealingInfo = []byte("kcc-issuer/key-store/v1")

// KeyStore persists the issuer key so the DID survives restarts.
// Load returns sentinel.ErrNotFound when no key is stored. SaveIfAbsent stores
// the key unless one already exists and returns whichever key is stored.
type KeyStore interface {
	Load(ctx context.Context) (ed25519.PrivateKey, error)
	SaveIfAbsent(ctx context.Context, key ed25519.PrivateKey) (ed25519.PrivateKey, error)
}

// MemoryKeyStore holds the key for the life of the process.
type MemoryKeyStore struct {
	mu  sync.Mutex
	key ed25519.PrivateKey
}

func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{}
}

func (s *MemoryKeyStore) Load(_ context.Context) (ed25519.PrivateKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == nil {
		return nil, sentinel.ErrNotFound
	}
	return s.key, nil
}

func (s *MemoryKeyStore) SaveIfAbsent(_ context.Context, key ed25519.PrivateKey) (ed25519.PrivateKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == nil {
		s.key = key
	}
	return s.key, nil
}

// RedisKeyStore keeps the key seed in Redis. Instances sharing a Redis share one DID.
//
// With WithSealingSecret the seed is encrypted (XChaCha20-Poly1305, bound to the
// Redis key name). Without it the seed is stored as plain base64 and only Redis
// access controls protect the issuer key.
type RedisKeyStore struct {
	client *redis.Client
	key    string
	aead   cipher.AEAD
}

type RedisKeyStoreOption func(*RedisKeyStore)

// WithSealingSecret encrypts the stored seed under a key derived from secret.
// An empty secret leaves the store unsealed.
func WithSealingSecret(secret string) RedisKeyStoreOption {
	return func(s *RedisKeyStore) {
		if secret == "" {
			return
		}
		key := make([]byte, chacha20poly1305.KeySize)
		if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, sealingInfo), key); err != nil {
			panic(fmt.Sprintf("derive sealing key: %v", err))
		}
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			panic(fmt.Sprintf("sealing cipher: %v", err))
		}
		s.aead = aead
	}
}

// NewRedisKeyStore constructs a Redis-backed key store under the given key prefix.
func NewRedisKeyStore(client *redis.Client, prefix string, opts ...RedisKeyStoreOption) *RedisKeyStore {
	s := &RedisKeyStore{client: client, key: prefix + issuerKeySuffix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sealed reports whether seeds are encrypted at rest.
func (s *RedisKeyStore) Sealed() bool {
	return s.aead != nil
}

func (s *RedisKeyStore) Load(ctx context.Context) (ed25519.PrivateKey, error) {
	data, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load issuer key: %w", err)
	}
	return s.decodeSeed(data)
}

func (s *RedisKeyStore) SaveIfAbsent(ctx context.Context, key ed25519.PrivateKey) (ed25519.PrivateKey, error) {
	encoded, err := s.encodeSeed(key)
	if err != nil {
		return nil, err
	}
	// SETNX lets the first instance win; losers adopt the stored key.
	ok, err := s.client.SetNX(ctx, s.key, encoded, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("save issuer key: %w", err)
	}
	if ok {
		return key, nil
	}
	return s.Load(ctx)
}

func (s *RedisKeyStore) encodeSeed(key ed25519.PrivateKey) (string, error) {
	if s.aead == nil {
		return base64.StdEncoding.EncodeToString(key.Seed()), nil
	}
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+ed25519.SeedSize+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("seal issuer key: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, key.Seed(), []byte(s.key))
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *RedisKeyStore) decodeSeed(data string) (ed25519.PrivateKey, error) {
	raw, isSealed := strings.CutPrefix(data, sealedPrefix)
	switch {
	case isSealed && s.aead == nil:
		return nil, fmt.Errorf("stored issuer key is sealed and no sealing secret is configured")
	case !isSealed && s.aead != nil:
		return nil, fmt.Errorf("stored issuer key is not sealed but a sealing secret is configured")
	}

	seed, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("stored issuer key is malformed")
	}
	if isSealed {
		if len(seed) < s.aead.NonceSize() {
			return nil, fmt.Errorf("stored issuer key is malformed")
		}
		nonce, ciphertext := seed[:s.aead.NonceSize()], seed[s.aead.NonceSize():]
		if seed, err = s.aead.Open(nil, nonce, ciphertext, []byte(s.key)); err != nil {
			return nil, fmt.Errorf("stored issuer key cannot be unsealed: wrong secret or tampered value")
		}
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("stored issuer key is malformed")
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
