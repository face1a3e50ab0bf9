package dwn

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"kcc-issuer/internal/issuer/identity"
)

// StoredRecord is a record held by the MemoryNode.
type StoredRecord struct {
	ID          string
	Author      string
	Write       RecordWrite
	DateCreated time.Time
}

// RecordFilter narrows QueryRecords. Empty fields match everything.
type RecordFilter struct {
	Protocol  string
	Schema    string
	Recipient string
}

// MemoryNode is an in-process node with per-author tenancy. It accepts protocol
// installs with 202 and rejects writes to protocols the author never installed.
type MemoryNode struct {
	mu        sync.RWMutex
	protocols map[string]map[string]ProtocolDefinition
	records   map[string][]StoredRecord
	now       func() time.Time
}

func NewMemoryNode() *MemoryNode {
	return &MemoryNode{
		protocols: make(map[string]map[string]ProtocolDefinition),
		records:   make(map[string][]StoredRecord),
		now:       time.Now,
	}
}

func (n *MemoryNode) ConfigureProtocol(ctx context.Context, author *identity.Identity, def ProtocolDefinition) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	if author.IsZero() {
		return Reply{Status: Status{Code: http.StatusUnauthorized, Detail: "missing author"}}, nil
	}
	if def.Protocol == "" {
		return Reply{Status: Status{Code: http.StatusBadRequest, Detail: "protocol URI is required"}}, nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	installed, ok := n.protocols[author.URI]
	if !ok {
		installed = make(map[string]ProtocolDefinition)
		n.protocols[author.URI] = installed
	}
	installed[def.Protocol] = def
	return Reply{Status: Status{Code: http.StatusAccepted, Detail: "Accepted"}}, nil
}

func (n *MemoryNode) CreateRecord(ctx context.Context, author *identity.Identity, rec RecordWrite) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	if author.IsZero() {
		return Reply{Status: Status{Code: http.StatusUnauthorized, Detail: "missing author"}}, nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if rec.Protocol != "" {
		def, ok := n.protocols[author.URI][rec.Protocol]
		if !ok {
			return Reply{Status: Status{
				Code:   http.StatusBadRequest,
				Detail: fmt.Sprintf("protocol %s is not installed", rec.Protocol),
			}}, nil
		}
		if _, ok := def.Structure[rec.ProtocolPath]; !ok {
			return Reply{Status: Status{
				Code:   http.StatusBadRequest,
				Detail: fmt.Sprintf("protocol path %q is not defined", rec.ProtocolPath),
			}}, nil
		}
	}

	stored := StoredRecord{
		ID:          uuid.NewString(),
		Author:      author.URI,
		Write:       rec,
		DateCreated: n.now().UTC(),
	}
	stored.Write.Data = append([]byte(nil), rec.Data...)
	n.records[author.URI] = append(n.records[author.URI], stored)

	return Reply{
		Status: Status{Code: http.StatusAccepted, Detail: "Accepted"},
		Record: &RecordHandle{ID: stored.ID},
	}, nil
}

// Protocol returns the definition an author installed.
func (n *MemoryNode) Protocol(authorDID, protocol string) (ProtocolDefinition, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	def, ok := n.protocols[authorDID][protocol]
	return def, ok
}

// QueryRecords returns an author's records matching the filter, oldest first.
func (n *MemoryNode) QueryRecords(authorDID string, filter RecordFilter) []StoredRecord {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var out []StoredRecord
	for _, r := range n.records[authorDID] {
		if filter.Protocol != "" && r.Write.Protocol != filter.Protocol {
			continue
		}
		if filter.Schema != "" && r.Write.Schema != filter.Schema {
			continue
		}
		if filter.Recipient != "" && r.Write.Recipient != filter.Recipient {
			continue
		}
		out = append(out, r)
	}
	return out
}
