// Package gateway implements auth.Gateway over the gateway service's HTTP
// API.  The client keeps its own token pair in an auth.Cache so a session
// survives restarts, refreshes the access token when it expires, and
// reports every session change to its subscribers.
package gateway

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
	"github.com/iliyamo/marketplace-auth/internal/model"
)

// SessionKey is the cache key holding the client's token pair.
const SessionKey = "gateway:session"

// refreshSkew renews access tokens this long before they expire.
const refreshSkew = 30 * time.Second

// Client talks to the gateway service.  It is safe for concurrent use.
type Client struct {
	base  string
	http  *http.Client
	store auth.Cache
	log   *slog.Logger
	now   func() time.Time

	mu     sync.Mutex
	sess   *model.Session
	loaded bool

	refreshMu sync.Mutex

	smu      sync.Mutex
	subs     map[int]func(auth.Event)
	nextSub  int
	pending  []auth.Event
	draining bool
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }
func WithLogger(l *slog.Logger) Option      { return func(c *Client) { c.log = l } }
func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// New returns a client for the gateway at baseURL persisting its session
// in store.
func New(baseURL string, store auth.Cache, opts ...Option) *Client {
	c := &Client{
		base:  strings.TrimRight(baseURL, "/"),
		http:  &http.Client{Timeout: 10 * time.Second},
		store: store,
		log:   slog.Default(),
		now:   time.Now,
		subs:  make(map[int]func(auth.Event)),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With("component", "gateway-client")
	return c
}

var _ auth.Gateway = (*Client)(nil)

// ----- wire types -----

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

type userPart struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	UserType model.UserType `json:"user_type"`
}

type authResp struct {
	User    userPart  `json:"user"`
	Access  tokenPart `json:"access"`
	Refresh tokenPart `json:"refresh"`
}

func (r authResp) session() *model.Session {
	return &model.Session{
		UserID:       r.User.ID,
		UserType:     r.User.UserType,
		Email:        r.User.Email,
		AccessToken:  r.Access.Token,
		RefreshToken: r.Refresh.Token,
		ExpiresAt:    r.Access.Expires,
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ----- session state -----

// Current returns the locally held session without contacting the
// gateway, or nil.
func (c *Client) Current(ctx context.Context) *model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLocked(ctx)
	return copySession(c.sess)
}

func (c *Client) loadLocked(ctx context.Context) {
	if c.loaded {
		return
	}
	c.loaded = true
	c.sess = c.readStore(ctx)
}

func (c *Client) readStore(ctx context.Context) *model.Session {
	raw, ok, err := c.store.Get(ctx, SessionKey)
	if err != nil {
		c.log.Warn("read stored session failed", "err", err)
		return nil
	}
	if !ok || raw == "" {
		return nil
	}
	var s model.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil || s.UserID == "" || s.AccessToken == "" {
		c.log.Warn("discarding unreadable stored session")
		_ = c.store.Remove(ctx, SessionKey)
		return nil
	}
	return &s
}

// save replaces the held session and persists it.  A nil session clears.
func (c *Client) save(ctx context.Context, s *model.Session) {
	c.mu.Lock()
	c.loaded = true
	c.sess = copySession(s)
	c.mu.Unlock()

	if s == nil {
		if err := c.store.Remove(ctx, SessionKey); err != nil {
			c.log.Warn("clear stored session failed", "err", err)
		}
		return
	}
	b, _ := json.Marshal(s)
	if err := c.store.Set(ctx, SessionKey, string(b)); err != nil {
		c.log.Warn("persist session failed", "err", err)
	}
}

// drop clears the session of uid if it is still the held one and reports
// the sign-out.
func (c *Client) drop(ctx context.Context, uid string) {
	c.mu.Lock()
	held := c.sess != nil && c.sess.UserID == uid
	c.mu.Unlock()
	if !held {
		return
	}
	c.save(ctx, nil)
	c.emit(auth.Event{Kind: auth.EventSignedOut, Session: &model.Session{UserID: uid}})
}

func copySession(s *model.Session) *model.Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

// ----- auth.Gateway -----

// GetSession returns the held session after confirming it with the
// gateway.  An expired access token is refreshed first.  A session the
// gateway no longer accepts is dropped and (nil, nil) returned.
func (c *Client) GetSession(ctx context.Context) (*model.Session, error) {
	sess, err := c.fresh(ctx)
	if err != nil || sess == nil {
		return nil, err
	}
	var body struct {
		User userPart `json:"user"`
	}
	err = c.authed(ctx, http.MethodGet, "/v1/auth/session", nil, &body)
	if err != nil {
		if errors.Is(err, errSessionGone) {
			return nil, nil
		}
		return nil, err
	}
	cur := c.Current(ctx)
	if cur == nil || cur.UserID != body.User.ID {
		return nil, nil
	}
	return cur, nil
}

func profilePath(userID string, ut model.UserType) (string, error) {
	switch ut {
	case model.UserTypeCustomer:
		return "/v1/profiles/customers/" + url.PathEscape(userID), nil
	case model.UserTypeProvider:
		return "/v1/profiles/providers/" + url.PathEscape(userID), nil
	}
	return "", auth.NewError(auth.KindUnknown, fmt.Sprintf("unknown user type %q", ut), nil)
}

func newProfile(ut model.UserType) model.Identity {
	if ut == model.UserTypeProvider {
		return &model.Provider{}
	}
	return &model.Customer{}
}

// GetProfile returns (nil, nil) when the user has no profile of type ut.
func (c *Client) GetProfile(ctx context.Context, userID string, ut model.UserType) (model.Identity, error) {
	path, err := profilePath(userID, ut)
	if err != nil {
		return nil, err
	}
	p := newProfile(ut)
	if err := c.authed(ctx, http.MethodGet, path, nil, p); err != nil {
		if auth.IsKind(err, auth.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func (c *Client) UpdateProfile(ctx context.Context, userID string, ut model.UserType, upd model.ProfileUpdate) (model.Identity, error) {
	path, err := profilePath(userID, ut)
	if err != nil {
		return nil, err
	}
	p := newProfile(ut)
	if err := c.authed(ctx, http.MethodPut, path, upd, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, creds model.Credentials) (*model.Session, error) {
	return c.signIn(ctx, "/v1/auth/login", creds)
}

func (c *Client) SignInWithOAuthToken(ctx context.Context, creds model.OAuthCredentials) (*model.Session, error) {
	return c.signIn(ctx, "/v1/auth/oauth", creds)
}

func (c *Client) SignUp(ctx context.Context, reg model.Registration) (*model.Session, error) {
	return c.signIn(ctx, "/v1/auth/signup", reg)
}

func (c *Client) signIn(ctx context.Context, path string, body any) (*model.Session, error) {
	var resp authResp
	if err := c.call(ctx, http.MethodPost, path, "", body, &resp); err != nil {
		return nil, err
	}
	sess := resp.session()
	if sess.UserID == "" || sess.AccessToken == "" {
		return nil, auth.NewError(auth.KindUnknown, "gateway returned no session", nil)
	}
	c.save(ctx, sess)
	c.emit(auth.Event{Kind: auth.EventSignedIn, Session: copySession(sess)})
	return copySession(sess), nil
}

// SignOut forgets the local session and revokes it at the gateway.  The
// local session is gone even when the remote call fails.
func (c *Client) SignOut(ctx context.Context) error {
	sess := c.Current(ctx)
	if sess == nil {
		return nil
	}
	c.save(ctx, nil)
	c.emit(auth.Event{Kind: auth.EventSignedOut, Session: &model.Session{UserID: sess.UserID}})

	body := map[string]string{"refresh_token": sess.RefreshToken}
	err := c.call(ctx, http.MethodPost, "/v1/auth/logout", sess.AccessToken, body, nil)
	if err != nil && !auth.IsKind(err, auth.KindNetwork) {
		// the token was already revoked or expired; the session is gone either way
		c.log.Debug("remote logout rejected", "err", err)
		return nil
	}
	return err
}

// Subscribe registers fn for session changes.  Events are delivered in
// order on a dispatch goroutine.
func (c *Client) Subscribe(fn func(auth.Event)) func() {
	c.smu.Lock()
	defer c.smu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.smu.Lock()
		delete(c.subs, id)
		c.smu.Unlock()
	}
}

func (c *Client) emit(ev auth.Event) {
	c.smu.Lock()
	defer c.smu.Unlock()
	c.pending = append(c.pending, ev)
	if !c.draining {
		c.draining = true
		go c.drain()
	}
}

func (c *Client) drain() {
	for {
		c.smu.Lock()
		if len(c.pending) == 0 {
			c.draining = false
			c.smu.Unlock()
			return
		}
		ev := c.pending[0]
		c.pending = c.pending[1:]
		fns := make([]func(auth.Event), 0, len(c.subs))
		for _, fn := range c.subs {
			fns = append(fns, fn)
		}
		c.smu.Unlock()
		for _, fn := range fns {
			fn(ev)
		}
	}
}

// ----- refresh -----

var errSessionGone = auth.NewError(auth.KindUnknown, "not signed in", nil)

// fresh returns the held session, refreshing an access token that is
// about to expire.  (nil, nil) means nobody is signed in.
func (c *Client) fresh(ctx context.Context) (*model.Session, error) {
	sess := c.Current(ctx)
	if sess == nil {
		return nil, nil
	}
	if c.now().Add(refreshSkew).Before(sess.ExpiresAt) {
		return sess, nil
	}
	return c.refresh(ctx, sess.AccessToken)
}

// Refresh rotates the token pair now.
func (c *Client) Refresh(ctx context.Context) (*model.Session, error) {
	sess := c.Current(ctx)
	if sess == nil {
		return nil, nil
	}
	return c.refresh(ctx, sess.AccessToken)
}

// refresh rotates the pair unless another caller already replaced the
// stale access token.  A rejected refresh token drops the session.
func (c *Client) refresh(ctx context.Context, stale string) (*model.Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	sess := c.Current(ctx)
	if sess == nil {
		return nil, nil
	}
	if sess.AccessToken != stale {
		return sess, nil
	}
	var resp authResp
	err := c.call(ctx, http.MethodPost, "/v1/auth/refresh", "",
		map[string]string{"refresh_token": sess.RefreshToken}, &resp)
	if err != nil {
		var ae *auth.Error
		if errors.As(err, &ae) && ae.Kind != auth.KindNetwork {
			c.log.Info("refresh rejected, dropping session", "user_id", sess.UserID, "err", err)
			c.drop(ctx, sess.UserID)
			return nil, nil
		}
		return nil, err
	}
	next := resp.session()
	c.save(ctx, next)
	c.emit(auth.Event{Kind: auth.EventTokenRefreshed, Session: copySession(next)})
	return copySession(next), nil
}

// ----- transport -----

// authed performs a bearer request with the held session, refreshing and
// retrying once on 401.  It returns errSessionGone when no valid session
// remains.
func (c *Client) authed(ctx context.Context, method, path string, body, out any) error {
	sess, err := c.fresh(ctx)
	if err != nil {
		return err
	}
	if sess == nil {
		return errSessionGone
	}
	err = c.call(ctx, method, path, sess.AccessToken, body, out)
	if !isUnauthorized(err) {
		return err
	}
	if sess, err = c.refresh(ctx, sess.AccessToken); err != nil {
		return err
	}
	if sess == nil {
		return errSessionGone
	}
	err = c.call(ctx, method, path, sess.AccessToken, body, out)
	if isUnauthorized(err) {
		c.drop(ctx, sess.UserID)
		return errSessionGone
	}
	return err
}

// statusError keeps the HTTP status next to the classified error.
type statusError struct {
	status int
	err    *auth.Error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

func isUnauthorized(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.status == http.StatusUnauthorized
}

// call sends one JSON request and decodes a 2xx response into out.
func (c *Client) call(ctx context.Context, method, path, bearer string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return auth.NewError(auth.KindUnknown, "encode request", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return auth.NewError(auth.KindUnknown, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return auth.NewError(auth.KindNetwork, method+" "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return auth.NewError(auth.KindUnknown, "decode response", err)
	}
	return nil
}

// decodeError maps a gateway error response onto an auth.Error.
func decodeError(resp *http.Response) error {
	var eb errorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &eb)
	msg := eb.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	kind := auth.KindUnknown
	switch {
	case resp.StatusCode >= 500 && eb.Code != "not_configured":
		kind = auth.KindNetwork
	case eb.Code == "invalid_credentials":
		kind = auth.KindInvalidCredentials
	case resp.StatusCode == http.StatusNotFound || eb.Code == "not_found":
		kind = auth.KindNotFound
	}
	return &statusError{status: resp.StatusCode, err: auth.NewError(kind, msg, nil)}
}
