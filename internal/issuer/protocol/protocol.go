// Package protocol installs the credential access-control protocol on the node.
package protocol

import (
	"context"
	"fmt"
	"net/http"

	"kcc-issuer/internal/issuer/dwn"
	"kcc-issuer/internal/issuer/identity"
	dErrors "kcc-issuer/pkg/domain-errors"
)

const (
	URI              = "https://identity.foundation/protocols/verifiable-credentials"
	CredentialPath   = "credential"
	CredentialSchema = "https://identity.foundation/schemas/verifiable-credential"
	VCJWTFormat      = "application/vc+jwt"
)

// Definition returns the protocol: anyone may read a credential, only its author may write one.
func Definition() dwn.ProtocolDefinition {
	return dwn.ProtocolDefinition{
		Protocol:  URI,
		Published: true,
		Types: map[string]dwn.ProtocolType{
			CredentialPath: {
				Schema:      CredentialSchema,
				DataFormats: []string{VCJWTFormat},
			},
		},
		Structure: map[string]dwn.ProtocolRule{
			CredentialPath: {
				Actions: []dwn.ActionRule{
					{Who: "anyone", Can: []string{"read"}},
					{Who: "author", Can: []string{"write"}},
				},
			},
		},
	}
}

// Provisioner submits the definition on every call. The node treats a repeated
// identical definition as a fresh install, so no local "installed" flag is kept.
type Provisioner struct {
	node         dwn.Node
	acceptedCode int
}

// NewProvisioner returns a provisioner that requires exactly acceptedCode from the node.
func NewProvisioner(node dwn.Node, acceptedCode int) *Provisioner {
	if acceptedCode == 0 {
		acceptedCode = http.StatusAccepted
	}
	return &Provisioner{node: node, acceptedCode: acceptedCode}
}

func (p *Provisioner) EnsureInstalled(ctx context.Context, issuer *identity.Identity) error {
	reply, err := p.node.ConfigureProtocol(ctx, issuer, Definition())
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeProvisioning, "protocol installation failed")
	}
	if !reply.Accepted(p.acceptedCode) {
		return dErrors.New(dErrors.CodeProvisioning,
			fmt.Sprintf("protocol installation not accepted: %d %s", reply.Status.Code, reply.Status.Detail))
	}
	return nil
}
