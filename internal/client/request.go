package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/studiowebux/restcall/internal/auth"
	"github.com/studiowebux/restcall/internal/routes"
)

// payload is a request body that can be reopened for a replay
type payload struct {
	data        []byte
	contentType string
	encoding    string
	open        func(ctx context.Context) (io.Reader, string, error)
}

func (p *payload) body(ctx context.Context) (io.Reader, string, error) {
	if p == nil {
		return nil, "", nil
	}
	if p.open != nil {
		return p.open(ctx)
	}
	if p.data == nil {
		return nil, p.contentType, nil
	}
	return bytes.NewReader(p.data), p.contentType, nil
}

// stampVersion hands Config.Version to a Versioned request. It runs before the URL is
// resolved so the version reaches route variables and query strings too.
func (c *Client) stampVersion(request any) {
	if v, ok := request.(Versioned); ok && c.cfg.Version != 0 {
		v.SetVersion(c.cfg.Version)
	}
}

// encodeRequest serializes request for method. Bodyless verbs carry no payload since
// the request was folded into the query string.
func (c *Client) encodeRequest(method string, request any) (*payload, error) {
	if routes.IsBodyless(method) || request == nil {
		return nil, nil
	}

	p := &payload{contentType: c.codec.ContentType()}
	switch body := request.(type) {
	case string:
		p.data = []byte(body)
	case []byte:
		p.data = body
	case io.Reader:
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		p.data = data
	default:
		data, err := c.codec.Marshal(request)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize %s: %w", routes.OperationName(request), err)
		}
		p.data = data
	}

	if enc := c.cfg.RequestCompressionType; enc != "" && len(p.data) > 0 {
		compressed, err := c.compress.Compress(enc, p.data)
		if err != nil {
			return nil, err
		}
		p.data = compressed
		p.encoding = enc
	}
	return p, nil
}

// newRequest builds one attempt of a call. Headers are applied in a fixed order:
// content negotiation, user headers, auth, request id, then instance and global filters.
func (c *Client) newRequest(ctx context.Context, method, url string, p *payload) (*http.Request, error) {
	body, contentType, err := p.body(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		if closer, ok := body.(io.Closer); ok {
			closer.Close()
		}
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", c.codec.ContentType())
	if body != nil && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if !c.cfg.DisableAutoCompression {
		req.Header.Set("Accept-Encoding", strings.Join(c.compress.Encodings(), ", "))
	}
	if p != nil && p.encoding != "" {
		req.Header.Set("Content-Encoding", p.encoding)
	}

	for key, values := range c.cfg.Headers {
		req.Header.Del(key)
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	c.addAuth(req)

	if h := c.cfg.RequestIDHeader; h != "" && req.Header.Get(h) == "" {
		req.Header.Set(h, uuid.NewString())
	}

	if c.cfg.RequestFilter != nil {
		c.cfg.RequestFilter(req)
	}
	for _, filter := range c.cfg.GlobalFilters.requestFilters() {
		filter(req)
	}
	return req, nil
}

// addAuth attaches one Authorization scheme. A bearer token wins over credentials;
// credentials are sent once a challenge was seen or when AlwaysSendBasicAuth is set.
func (c *Client) addAuth(req *http.Request) {
	if req.Header.Get("Authorization") != "" {
		return
	}
	if token := c.BearerToken(); token != "" {
		req.Header.Set("Authorization", auth.BearerHeader(token))
		return
	}

	user, password := c.credentials()
	if user == "" {
		return
	}
	if info := c.storedAuthInfo(); info != nil {
		req.Header.Set("Authorization", info.Header(req.Method, req.URL.RequestURI(), user, password))
		return
	}
	if c.cfg.AlwaysSendBasicAuth {
		req.Header.Set("Authorization", auth.BasicHeader(user, password))
	}
}
