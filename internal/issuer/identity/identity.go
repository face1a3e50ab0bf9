// Package identity owns the issuer's decentralized identifier and signing key.
//
// The issuer DID uses the did:jwk method over an Ed25519 key, so the DID document
// is derivable from the identifier alone and verifiers need no resolver.
package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	dErrors "kcc-issuer/pkg/domain-errors"
)

const (
	jwkMethodPrefix = "did:jwk:"
	keyFragment     = "#0"
)

// Identity is the issuer's DID plus the key that signs on its behalf.
// It is immutable once constructed.
type Identity struct {
	URI   string
	KeyID string

	key ed25519.PrivateKey
}

// jwk is the public JWK encoded into a did:jwk identifier. Field order is
// fixed by the struct so the same key always yields the same DID.
type jwk struct {
	Crv string `json:"crv"`
	Kty string `json:"kty"`
	X   string `json:"x"`
}

// New builds an identity from an Ed25519 private key.
func New(key ed25519.PrivateKey) (*Identity, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid ed25519 private key length %d", len(key))
	}
	pub, ok := key.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unexpected public key type")
	}
	uri, err := DIDFromPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return &Identity{URI: uri, KeyID: uri + keyFragment, key: key}, nil
}

// PublicKey returns the verification key.
func (i *Identity) PublicKey() ed25519.PublicKey {
	if i == nil || i.key == nil {
		return nil
	}
	pub, _ := i.key.Public().(ed25519.PublicKey)
	return pub
}

// IsZero reports whether the identity carries no DID or key.
func (i *Identity) IsZero() bool {
	return i == nil || i.URI == "" || len(i.key) == 0
}

// Sign produces a compact EdDSA JWS over the claims with the key id in the header.
func (i *Identity) Sign(claims jwt.Claims) (string, error) {
	if i.IsZero() {
		return "", dErrors.New(dErrors.CodeSigning, "issuer identity has no signing key")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = i.KeyID
	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeSigning, "sign token")
	}
	return signed, nil
}

// DIDFromPublicKey encodes an Ed25519 public key as a did:jwk identifier.
func DIDFromPublicKey(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("invalid ed25519 public key length %d", len(pub))
	}
	raw, err := json.Marshal(jwk{
		Crv: "Ed25519",
		Kty: "OKP",
		X:   base64.RawURLEncoding.EncodeToString(pub),
	})
	if err != nil {
		return "", fmt.Errorf("marshal jwk: %w", err)
	}
	return jwkMethodPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// PublicKeyFromDID extracts the Ed25519 key from a did:jwk identifier or key id.
func PublicKeyFromDID(did string) (ed25519.PublicKey, error) {
	did, _, _ = strings.Cut(did, "#")
	encoded, ok := strings.CutPrefix(did, jwkMethodPrefix)
	if !ok || encoded == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unsupported DID method")
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "malformed did:jwk encoding")
	}
	var key jwk
	if err := json.Unmarshal(raw, &key); err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "malformed did:jwk key")
	}
	if key.Kty != "OKP" || key.Crv != "Ed25519" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "did:jwk key is not Ed25519")
	}
	x, err := base64.RawURLEncoding.DecodeString(key.X)
	if err != nil || len(x) != ed25519.PublicKeySize {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "malformed did:jwk public key")
	}
	return ed25519.PublicKey(x), nil
}
