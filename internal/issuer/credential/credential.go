// Package credential builds and verifies Known Customer Credentials as VC-JWTs.
package credential

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"kcc-issuer/internal/issuer/identity"
	"kcc-issuer/internal/issuer/models"
	dErrors "kcc-issuer/pkg/domain-errors"
	"kcc-issuer/pkg/requestcontext"
)

const (
	ContextV1      = "https://www.w3.org/2018/credentials/v1"
	TypeBase       = "VerifiableCredential"
	TypeKCC        = "KnownCustomerCredential"
	SchemaTypeJSON = "JsonSchema"
)

// VerifiableCredential is the W3C data model carried in the "vc" claim.
type VerifiableCredential struct {
	Context           []string                `json:"@context"`
	Type              []string                `json:"type"`
	ID                string                  `json:"id"`
	Issuer            string                  `json:"issuer"`
	IssuanceDate      string                  `json:"issuanceDate"`
	ExpirationDate    string                  `json:"expirationDate,omitempty"`
	CredentialSubject Subject                 `json:"credentialSubject"`
	CredentialSchema  models.CredentialSchema `json:"credentialSchema"`
	Evidence          []models.EvidenceCheck  `json:"evidence"`
}

// Subject is the customer DID alongside the caller-supplied data.
type Subject struct {
	ID string `json:"id"`
	models.CustomerCredential
}

// Claims are the VC-JWT claims.
type Claims struct {
	VC VerifiableCredential `json:"vc"`
	jwt.RegisteredClaims
}

// Builder assembles and signs credentials. The expiry is fixed by configuration,
// not relative to the issuance time.
type Builder struct {
	schemaURL string
	expiry    time.Time
}

func NewBuilder(schemaURL string, expiry time.Time) *Builder {
	return &Builder{schemaURL: schemaURL, expiry: expiry}
}

// BuildAndSign returns the compact VC-JWT for the subject.
func (b *Builder) BuildAndSign(ctx context.Context, issuer *identity.Identity, subjectDID string, data models.CustomerCredential) (string, error) {
	if issuer.IsZero() {
		return "", dErrors.New(dErrors.CodeSigning, "issuer identity is required")
	}
	if strings.TrimSpace(subjectDID) == "" {
		return "", dErrors.New(dErrors.CodeSigning, "subject DID is required")
	}

	now := requestcontext.Now(ctx).UTC().Truncate(time.Second)
	id := "urn:uuid:" + uuid.NewString()

	claims := Claims{
		VC: VerifiableCredential{
			Context:           []string{ContextV1},
			Type:              []string{TypeBase, TypeKCC},
			ID:                id,
			Issuer:            issuer.URI,
			IssuanceDate:      now.Format(time.RFC3339),
			CredentialSubject: Subject{ID: subjectDID, CustomerCredential: data},
			CredentialSchema:  models.CredentialSchema{ID: b.schemaURL, Type: SchemaTypeJSON},
			Evidence:          models.DefaultEvidence(),
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer.URI,
			Subject:   subjectDID,
			ID:        id,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if !b.expiry.IsZero() {
		claims.VC.ExpirationDate = b.expiry.UTC().Format(time.RFC3339)
		claims.ExpiresAt = jwt.NewNumericDate(b.expiry)
	}

	signed, err := issuer.Sign(claims)
	if err != nil {
		return "", dErrors.WrapAs(err, dErrors.CodeSigning, "sign credential")
	}
	return signed, nil
}

// Verify checks that the token is a credential signed by issuer. An expired
// credential still verifies; the result reports the expiry instead.
func (b *Builder) Verify(ctx context.Context, issuer *identity.Identity, token string) (*models.VerifiedCredential, error) {
	if issuer.IsZero() {
		return nil, dErrors.New(dErrors.CodeNotInitialized, "issuer identity is not established")
	}
	if strings.TrimSpace(token) == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "empty credential")
	}

	claims := new(Claims)
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			kid = claims.Issuer
		}
		did, _, _ := strings.Cut(kid, "#")
		if did != issuer.URI {
			return nil, errors.New("credential was not issued by this issuer")
		}
		return identity.PublicKeyFromDID(did)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid credential signature")
		}
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid credential: %v", err))
	}
	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid credential signature")
	}

	vc := claims.VC
	switch {
	case claims.Issuer != issuer.URI || vc.Issuer != issuer.URI:
		return nil, dErrors.New(dErrors.CodeInvalidInput, "credential issuer mismatch")
	case claims.Subject == "" || claims.Subject != vc.CredentialSubject.ID:
		return nil, dErrors.New(dErrors.CodeInvalidInput, "credential subject mismatch")
	case !slices.Contains(vc.Type, TypeKCC):
		return nil, dErrors.New(dErrors.CodeInvalidInput, "not a known customer credential")
	}

	out := &models.VerifiedCredential{
		ID:         vc.ID,
		IssuerDID:  vc.Issuer,
		SubjectDID: vc.CredentialSubject.ID,
		Subject:    vc.CredentialSubject.CustomerCredential,
		Schema:     vc.CredentialSchema,
		Evidence:   vc.Evidence,
	}
	if claims.IssuedAt != nil {
		out.IssuanceDate = claims.IssuedAt.UTC()
	}
	if claims.ExpiresAt != nil {
		out.ExpirationDate = claims.ExpiresAt.UTC()
		out.Expired = !requestcontext.Now(ctx).Before(out.ExpirationDate)
	}
	return out, nil
}
