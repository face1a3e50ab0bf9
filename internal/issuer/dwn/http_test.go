package dwn

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kcc-issuer/internal/issuer/identity"
	"kcc-issuer/pkg/platform/sentinel"
)

type capturedRequest struct {
	envelope rpcRequest
	body     []byte
}

func replyServer(t *testing.T, status int, reply string, captured *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			assert.NoError(t, json.Unmarshal([]byte(r.Header.Get(requestHeader)), &captured.envelope))
			captured.body, _ = io.ReadAll(r.Body)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func fixedClock() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

func TestHTTPNode_ConfigureProtocol(t *testing.T) {
	author := testAuthor(t, "author")
	var captured capturedRequest
	srv := replyServer(t, http.StatusOK, `{"jsonrpc":"2.0","id":"1","result":{"reply":{"status":{"code":202,"detail":"Accepted"}}}}`, &captured)

	node := NewHTTPNode(srv.URL, WithClock(fixedClock))
	reply, err := node.ConfigureProtocol(context.Background(), author, testDefinition())
	require.NoError(t, err)

	assert.Equal(t, Status{Code: 202, Detail: "Accepted"}, reply.Status)
	assert.Nil(t, reply.Record)

	assert.Equal(t, rpcVersion, captured.envelope.JSONRPC)
	assert.Equal(t, rpcProcessMessage, captured.envelope.Method)
	assert.Equal(t, author.URI, captured.envelope.Params.Target)
	assert.Equal(t, "Protocols", captured.envelope.Params.Message.Descriptor["interface"])
	assert.Equal(t, "Configure", captured.envelope.Params.Message.Descriptor["method"])

	// The authorization signature verifies against the author's DID.
	sig := captured.envelope.Params.Message.Authorization.Signature
	token, err := jwt.Parse(sig, func(*jwt.Token) (any, error) {
		return identity.PublicKeyFromDID(author.URI)
	}, jwt.WithValidMethods([]string{"EdDSA"}))
	require.NoError(t, err)
	assert.True(t, token.Valid)
}

func TestHTTPNode_CreateRecord(t *testing.T) {
	author := testAuthor(t, "author")
	write := RecordWrite{
		Data:         []byte("header.payload.sig"),
		Schema:       "KnownCustomerCredential",
		DataFormat:   "application/vc+jwt",
		Protocol:     "https://example.com/protocol",
		ProtocolPath: "credential",
		Recipient:    "did:example:alice",
	}

	t.Run("accepted reply uses the computed entry id", func(t *testing.T) {
		var captured capturedRequest
		srv := replyServer(t, http.StatusOK, `{"jsonrpc":"2.0","id":"1","result":{"reply":{"status":{"code":202,"detail":"Accepted"}}}}`, &captured)

		reply, err := NewHTTPNode(srv.URL, WithClock(fixedClock)).CreateRecord(context.Background(), author, write)
		require.NoError(t, err)

		id, ok := reply.RecordID()
		require.True(t, ok)
		assert.Equal(t, captured.envelope.Params.Message.RecordID, id)
		assert.Equal(t, write.Data, captured.body)
		desc := captured.envelope.Params.Message.Descriptor
		assert.Equal(t, "did:example:alice", desc["recipient"])
		assert.Equal(t, false, desc["published"])
		assert.Equal(t, "credential", desc["protocolPath"])
	})

	t.Run("record id from the reply wins", func(t *testing.T) {
		srv := replyServer(t, http.StatusOK, `{"result":{"reply":{"status":{"code":202,"detail":"Accepted"},"record":{"recordId":"node-id"}}}}`, nil)
		reply, err := NewHTTPNode(srv.URL).CreateRecord(context.Background(), author, write)
		require.NoError(t, err)
		id, ok := reply.RecordID()
		require.True(t, ok)
		assert.Equal(t, "node-id", id)
	})

	t.Run("rejected write has no record", func(t *testing.T) {
		srv := replyServer(t, http.StatusOK, `{"result":{"reply":{"status":{"code":401,"detail":"not allowed"}}}}`, nil)
		reply, err := NewHTTPNode(srv.URL).CreateRecord(context.Background(), author, write)
		require.NoError(t, err)
		assert.Equal(t, 401, reply.Status.Code)
		assert.Nil(t, reply.Record)
	})
}

func TestHTTPNode_Failures(t *testing.T) {
	author := testAuthor(t, "author")

	t.Run("server error is unavailable", func(t *testing.T) {
		srv := replyServer(t, http.StatusBadGateway, "bad gateway", nil)
		_, err := NewHTTPNode(srv.URL).ConfigureProtocol(context.Background(), author, testDefinition())
		require.ErrorIs(t, err, sentinel.ErrUnavailable)
	})

	t.Run("client error without rpc body becomes a reply", func(t *testing.T) {
		srv := replyServer(t, http.StatusNotFound, "nope", nil)
		reply, err := NewHTTPNode(srv.URL).ConfigureProtocol(context.Background(), author, testDefinition())
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, reply.Status.Code)
	})

	t.Run("rpc error", func(t *testing.T) {
		srv := replyServer(t, http.StatusOK, `{"error":{"code":-32602,"message":"invalid params"}}`, nil)
		_, err := NewHTTPNode(srv.URL).ConfigureProtocol(context.Background(), author, testDefinition())
		require.ErrorContains(t, err, "invalid params")
		assert.False(t, errors.Is(err, sentinel.ErrUnavailable))
	})

	t.Run("transport failure is unavailable", func(t *testing.T) {
		srv := replyServer(t, http.StatusOK, "", nil)
		srv.Close()
		_, err := NewHTTPNode(srv.URL).ConfigureProtocol(context.Background(), author, testDefinition())
		require.ErrorIs(t, err, sentinel.ErrUnavailable)
	})

	t.Run("missing author", func(t *testing.T) {
		_, err := NewHTTPNode("http://unused").ConfigureProtocol(context.Background(), nil, testDefinition())
		require.Error(t, err)
	})
}
