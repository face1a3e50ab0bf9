// Package authorization asks the external authority to let the issuer write to a node.
package authorization

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	dErrors "kcc-issuer/pkg/domain-errors"
	"kcc-issuer/pkg/platform/sentinel"
)

const maxGrantBytes = 1 << 20

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Grant is the authority's JSON answer. Its shape is owned by the authority;
// the issuer only checks that it decodes.
type Grant struct {
	StatusCode int
	Body       json.RawMessage
}

// Client calls the authorization endpoint.
type Client struct {
	endpoint string
	client   HTTPDoer
}

type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (for testing).
func WithHTTPClient(client HTTPDoer) Option {
	return func(c *Client) {
		c.client = client
	}
}

func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authorize requests write authorization for issuerDID. Any non-2xx answer is an
// authorization failure; 5xx, 429 and transport failures are also marked unavailable
// so callers may retry them.
func (c *Client) Authorize(ctx context.Context, issuerDID string) (*Grant, error) {
	target, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeAuthorization, "invalid authorization endpoint")
	}
	q := target.Query()
	q.Set("issuerDid", issuerDID)
	target.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeAuthorization, "create authorization request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, dErrors.Wrap(fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err),
			dErrors.CodeAuthorization, "authorization request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := "authorization failed: " + statusText(resp)
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return nil, dErrors.Wrap(sentinel.ErrUnavailable, dErrors.CodeAuthorization, msg)
		}
		return nil, dErrors.New(dErrors.CodeAuthorization, msg)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxGrantBytes))
	if err != nil {
		return nil, dErrors.Wrap(fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err),
			dErrors.CodeAuthorization, "read authorization response")
	}
	var probe any
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeAuthorization, "authorization response is not JSON")
	}
	return &Grant{StatusCode: resp.StatusCode, Body: json.RawMessage(body)}, nil
}

// statusText returns the reason phrase the server sent, e.g. "Forbidden".
func statusText(resp *http.Response) string {
	if text := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode))); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
