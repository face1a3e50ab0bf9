package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/crypto/hkdf"

	"kcc-issuer/pkg/platform/sentinel"
)

var hkdfInfo = []byte("kcc-issuer/issuer-key/v1")

// Provider establishes the issuer identity. Connect is safe to call repeatedly
// but callers are expected to serialize the first call themselves.
type Provider struct {
	store  KeyStore
	seed   string
	random io.Reader
	logger *slog.Logger
}

type Option func(*Provider)

// WithSeed derives the key deterministically from a secret instead of generating one.
func WithSeed(seed string) Option {
	return func(p *Provider) {
		p.seed = seed
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// WithRandom overrides the entropy source used to generate keys.
func WithRandom(r io.Reader) Option {
	return func(p *Provider) {
		p.random = r
	}
}

func NewProvider(store KeyStore, opts ...Option) *Provider {
	if store == nil {
		store = NewMemoryKeyStore()
	}
	p := &Provider{
		store:  store,
		random: rand.Reader,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Connect loads the stored issuer key, creating and storing one when absent.
func (p *Provider) Connect(ctx context.Context) (*Identity, error) {
	key, err := p.store.Load(ctx)
	switch {
	case err == nil:
		return New(key)
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, err
	}

	key, err = p.newKey()
	if err != nil {
		return nil, err
	}
	stored, err := p.store.SaveIfAbsent(ctx, key)
	if err != nil {
		return nil, err
	}
	id, err := New(stored)
	if err != nil {
		return nil, err
	}
	p.logger.InfoContext(ctx, "issuer key created", "issuer_did", id.URI, "derived", p.seed != "")
	return id, nil
}

func (p *Provider) newKey() (ed25519.PrivateKey, error) {
	if p.seed != "" {
		return DeriveKey(p.seed)
	}
	_, key, err := ed25519.GenerateKey(p.random)
	if err != nil {
		return nil, fmt.Errorf("generate issuer key: %w", err)
	}
	return key, nil
}

// DeriveKey expands a secret into an Ed25519 key with HKDF-SHA256.
func DeriveKey(secret string) (ed25519.PrivateKey, error) {
	if secret == "" {
		return nil, fmt.Errorf("key seed is empty")
	}
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, hkdfInfo), seed); err != nil {
		return nil, fmt.Errorf("derive issuer key: %w", err)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
