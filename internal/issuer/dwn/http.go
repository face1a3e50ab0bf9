package dwn

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"kcc-issuer/internal/issuer/identity"
	"kcc-issuer/pkg/platform/sentinel"
)

const (
	rpcVersion        = "2.0"
	rpcProcessMessage = "dwn.processMessage"
	requestHeader     = "dwn-request"

	// maxReplyBytes bounds the reply body read from the node.
	maxReplyBytes = 1 << 20
)

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPNode speaks JSON-RPC to a remote node. The RPC envelope travels in the
// dwn-request header and record data in the body.
//
// Messages are authorized by a compact JWS over the SHA-256 digest of the JSON
// descriptor, and record ids are derived from that digest. Nodes that require
// CID-addressed messages with general-JWS authorization, including the public
// node at the default DWN_ENDPOINT, reject these messages. Point DWN_ENDPOINT at
// a node or gateway that accepts this envelope, or use the in-process node.
type HTTPNode struct {
	endpoint string
	client   HTTPDoer
	now      func() time.Time
}

type HTTPNodeOption func(*HTTPNode)

// WithHTTPClient sets a custom HTTP client (for testing).
func WithHTTPClient(client HTTPDoer) HTTPNodeOption {
	return func(n *HTTPNode) {
		n.client = client
	}
}

// WithClock overrides the message timestamp source.
func WithClock(now func() time.Time) HTTPNodeOption {
	return func(n *HTTPNode) {
		n.now = now
	}
}

func NewHTTPNode(endpoint string, opts ...HTTPNodeOption) *HTTPNode {
	n := &HTTPNode{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      string    `json:"id"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
}

type rpcParams struct {
	Target  string  `json:"target"`
	Message message `json:"message"`
}

type message struct {
	RecordID      string         `json:"recordId,omitempty"`
	Descriptor    map[string]any `json:"descriptor"`
	Authorization authorization  `json:"authorization"`
}

type authorization struct {
	Signature string `json:"signature"`
}

type rpcResponse struct {
	Result *struct {
		Reply rpcReply `json:"reply"`
	} `json:"result"`
	Error *rpcError `json:"error"`
}

type rpcReply struct {
	Status Status        `json:"status"`
	Record *RecordHandle `json:"record,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (n *HTTPNode) ConfigureProtocol(ctx context.Context, author *identity.Identity, def ProtocolDefinition) (Reply, error) {
	descriptor := map[string]any{
		"interface":        "Protocols",
		"method":           "Configure",
		"messageTimestamp": n.timestamp(),
		"definition":       def,
	}
	msg, err := signMessage(author, descriptor)
	if err != nil {
		return Reply{}, err
	}
	reply, err := n.send(ctx, author.URI, msg, nil)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Status: reply.Status}, nil
}

func (n *HTTPNode) CreateRecord(ctx context.Context, author *identity.Identity, rec RecordWrite) (Reply, error) {
	ts := n.timestamp()
	descriptor := map[string]any{
		"interface":        "Records",
		"method":           "Write",
		"messageTimestamp": ts,
		"dateCreated":      ts,
		"protocol":         rec.Protocol,
		"protocolPath":     rec.ProtocolPath,
		"schema":           rec.Schema,
		"dataFormat":       rec.DataFormat,
		"recipient":        rec.Recipient,
		"published":        rec.Published,
		"dataSize":         len(rec.Data),
		"dataDigest":       digest(rec.Data),
	}
	msg, err := signMessage(author, descriptor)
	if err != nil {
		return Reply{}, err
	}
	msg.RecordID, err = entryID(author.URI, descriptor)
	if err != nil {
		return Reply{}, err
	}

	reply, err := n.send(ctx, author.URI, msg, rec.Data)
	if err != nil {
		return Reply{}, err
	}
	out := Reply{Status: reply.Status, Record: reply.Record}
	if out.Record == nil && out.Succeeded() {
		out.Record = &RecordHandle{ID: msg.RecordID}
	}
	if !out.Succeeded() {
		out.Record = nil
	}
	return out, nil
}

func (n *HTTPNode) send(ctx context.Context, target string, msg message, data []byte) (rpcReply, error) {
	envelope, err := json.Marshal(rpcRequest{
		JSONRPC: rpcVersion,
		ID:      uuid.NewString(),
		Method:  rpcProcessMessage,
		Params:  rpcParams{Target: target, Message: msg},
	})
	if err != nil {
		return rpcReply{}, fmt.Errorf("marshal dwn request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(data))
	if err != nil {
		return rpcReply{}, fmt.Errorf("create dwn request: %w", err)
	}
	req.Header.Set(requestHeader, string(envelope))
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := n.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return rpcReply{}, ctxErr
		}
		return rpcReply{}, fmt.Errorf("%w: dwn request failed: %w", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return rpcReply{}, fmt.Errorf("%w: read dwn reply: %w", sentinel.ErrUnavailable, err)
	}

	var decoded rpcResponse
	if err := json.Unmarshal(body, &decoded); err != nil || (decoded.Result == nil && decoded.Error == nil) {
		if resp.StatusCode >= http.StatusInternalServerError {
			return rpcReply{}, fmt.Errorf("%w: dwn returned %s", sentinel.ErrUnavailable, resp.Status)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return rpcReply{Status: Status{Code: resp.StatusCode, Detail: http.StatusText(resp.StatusCode)}}, nil
		}
		return rpcReply{}, fmt.Errorf("malformed dwn reply (HTTP %d)", resp.StatusCode)
	}
	if decoded.Error != nil {
		return rpcReply{}, fmt.Errorf("dwn rpc error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	return decoded.Result.Reply, nil
}

func (n *HTTPNode) timestamp() string {
	return n.now().UTC().Format("2006-01-02T15:04:05.000000Z")
}

// signMessage authorizes a descriptor with a compact JWS over its digest.
func signMessage(author *identity.Identity, descriptor map[string]any) (message, error) {
	if author.IsZero() {
		return message{}, fmt.Errorf("dwn message requires an author identity")
	}
	raw, err := json.Marshal(descriptor)
	if err != nil {
		return message{}, fmt.Errorf("marshal descriptor: %w", err)
	}
	sig, err := author.Sign(jwt.MapClaims{
		"iss":              author.URI,
		"descriptorDigest": digest(raw),
	})
	if err != nil {
		return message{}, err
	}
	return message{Descriptor: descriptor, Authorization: authorization{Signature: sig}}, nil
}

// entryID derives the record id from the author and descriptor.
func entryID(author string, descriptor map[string]any) (string, error) {
	raw, err := json.Marshal(struct {
		Author     string         `json:"author"`
		Descriptor map[string]any `json:"descriptor"`
	}{author, descriptor})
	if err != nil {
		return "", fmt.Errorf("marshal entry: %w", err)
	}
	return digest(raw), nil
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
