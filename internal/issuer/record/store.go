// Package record writes issued credentials to the node.
package record

import (
	"context"
	"fmt"

	"kcc-issuer/internal/issuer/dwn"
	"kcc-issuer/internal/issuer/identity"
	"kcc-issuer/internal/issuer/protocol"
	dErrors "kcc-issuer/pkg/domain-errors"
)

// Schema tags stored credentials for queries by record type.
const Schema = "KnownCustomerCredential"

// Store persists credentials as unpublished records addressed to the subject.
type Store struct {
	node dwn.Node
}

func NewStore(node dwn.Node) *Store {
	return &Store{node: node}
}

// Persist stores the VC-JWT and returns the node-assigned record id.
func (s *Store) Persist(ctx context.Context, issuer *identity.Identity, token, subjectDID string) (string, error) {
	reply, err := s.node.CreateRecord(ctx, issuer, dwn.RecordWrite{
		Data:         []byte(token),
		Schema:       Schema,
		DataFormat:   protocol.VCJWTFormat,
		Published:    false,
		Protocol:     protocol.URI,
		ProtocolPath: protocol.CredentialPath,
		Recipient:    subjectDID,
	})
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeStorage, "store credential")
	}
	id, ok := reply.RecordID()
	if !ok {
		return "", dErrors.New(dErrors.CodeStorage,
			fmt.Sprintf("failed to create record: %d %s", reply.Status.Code, reply.Status.Detail))
	}
	return id, nil
}
