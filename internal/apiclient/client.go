// Package apiclient is the data and storage client used by the dashboard
// pages.  It carries the signed-in user's bearer token, which the auth
// contexts install and clear through auth.CredentialSink.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/marketplace-auth/internal/auth"
)

// Client talks to the data API under /rest/v1 and the object store under
// /storage/v1.  It is safe for concurrent use.
type Client struct {
	base string
	http *http.Client
	log  *slog.Logger

	mu     sync.RWMutex
	bearer string
}

var _ auth.CredentialSink = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }
func WithLogger(l *slog.Logger) Option      { return func(c *Client) { c.log = l } }

// New returns a client for the API at baseURL.  Requests are anonymous
// until SetBearer is called.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
		log:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With("component", "api-client")
	return c
}

func (c *Client) SetBearer(token string) {
	c.mu.Lock()
	c.bearer = token
	c.mu.Unlock()
}

func (c *Client) ClearBearer() {
	c.mu.Lock()
	c.bearer = ""
	c.mu.Unlock()
}

// Authenticated reports whether requests currently carry a bearer token.
func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bearer != ""
}

// Error is a non-2xx API response.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api: %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Status == http.StatusNotFound
}

// IsUnauthorized reports whether err is a 401 or 403 response.
func IsUnauthorized(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && (ae.Status == http.StatusUnauthorized || ae.Status == http.StatusForbidden)
}

// ----- collections -----

func collectionPath(collection string, id ...string) string {
	p := "/rest/v1/" + url.PathEscape(collection)
	if len(id) > 0 {
		p += "/" + url.PathEscape(id[0])
	}
	return p
}

// List decodes the rows of collection matching query into out, which
// should point to a slice.
func (c *Client) List(ctx context.Context, collection string, query url.Values, out any) error {
	p := collectionPath(collection)
	if len(query) > 0 {
		p += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, p, jsonBody(nil), out)
}

func (c *Client) Get(ctx context.Context, collection, id string, out any) error {
	return c.do(ctx, http.MethodGet, collectionPath(collection, id), jsonBody(nil), out)
}

// Create inserts row and decodes the stored row into out.  out may be nil.
func (c *Client) Create(ctx context.Context, collection string, row, out any) error {
	return c.do(ctx, http.MethodPost, collectionPath(collection), jsonBody(row), out)
}

// Update applies patch to the row with id.
func (c *Client) Update(ctx context.Context, collection, id string, patch, out any) error {
	return c.do(ctx, http.MethodPatch, collectionPath(collection, id), jsonBody(patch), out)
}

func (c *Client) Delete(ctx context.Context, collection, id string) error {
	return c.do(ctx, http.MethodDelete, collectionPath(collection, id), jsonBody(nil), nil)
}

// ----- storage -----

func objectPath(bucket, object string) string {
	parts := strings.Split(strings.Trim(object, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return url.PathEscape(bucket) + "/" + strings.Join(parts, "/")
}

// Upload stores r under bucket/object, replacing any existing object.
func (c *Client) Upload(ctx context.Context, bucket, object, contentType string, r io.Reader) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	b := body{r: r, contentType: contentType}
	return c.do(ctx, http.MethodPut, "/storage/v1/object/"+objectPath(bucket, object), b, nil)
}

func (c *Client) Remove(ctx context.Context, bucket, object string) error {
	return c.do(ctx, http.MethodDelete, "/storage/v1/object/"+objectPath(bucket, object), jsonBody(nil), nil)
}

// PublicURL returns the unauthenticated download URL of an object in a
// public bucket.
func (c *Client) PublicURL(bucket, object string) string {
	return c.base + "/storage/v1/object/public/" + objectPath(bucket, object)
}

// ----- transport -----

type body struct {
	r           io.Reader
	contentType string
	err         error
}

func jsonBody(v any) body {
	if v == nil {
		return body{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return body{err: fmt.Errorf("encode request: %w", err)}
	}
	return body{r: bytes.NewReader(b), contentType: "application/json"}
}

func (c *Client) do(ctx context.Context, method, path string, in body, out any) error {
	if in.err != nil {
		return in.err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, in.r)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in.contentType != "" {
		req.Header.Set("Content-Type", in.contentType)
	}
	c.mu.RLock()
	bearer := c.bearer
	c.mu.RUnlock()
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.log.Debug("api request failed", "method", method, "path", path, "status", resp.StatusCode)
		return readError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func readError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var eb struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	_ = json.Unmarshal(raw, &eb)
	msg := eb.Error
	if msg == "" {
		msg = eb.Message
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &Error{Status: resp.StatusCode, Code: eb.Code, Message: msg}
}
