package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/iliyamo/marketplace-auth/internal/model"
)

// Snapshot is the published state of a role context.  Identity is the
// zero value whenever Authenticated is false.
type Snapshot[T model.Identity] struct {
	Identity      T
	Authenticated bool
	Loading       bool
}

// Deps are the collaborators injected into a role context.  Gateway and
// Cache are required.  Credential may be shared between contexts; a nil
// Credential disables bearer propagation.
type Deps struct {
	Gateway    Gateway
	Cache      Cache
	Credential *SharedCredential
	Notifier   Notifier
	Logger     *slog.Logger
}

type reconcileMode int

const (
	// passive reconciliations (mount, events) fail closed and never return errors.
	passive reconcileMode = iota
	// explicit reconciliations (sign-in, sign-up) leave state untouched on failure.
	explicit
)

// Context owns the session state machine for one user type.  It restores
// from the cache, validates against the gateway, fetches the profile, and
// keeps all of it converged with the gateway's notifications.
//
// All methods are safe for concurrent use.  Listeners registered with
// Subscribe run on the goroutine that changed the state and must not
// block.
type Context[T model.Identity] struct {
	role     model.UserType
	gw       Gateway
	cache    *SessionCache
	cred     *SharedCredential
	notifier Notifier
	log      *slog.Logger
	guard    *ProcessingGuard

	mu       sync.Mutex
	identity T
	held     bool
	token    string
	busy     int    // in-flight resolutions; Loading is busy > 0
	mounted  bool   // the mount-time resolution has settled
	epoch    uint64 // bumped by every sign-out
	started  bool
	closed   bool
	baseCtx  context.Context
	cancel   context.CancelFunc
	unsub    func()
	wg       sync.WaitGroup

	lmu       sync.Mutex
	listeners []listener[T]
	nextID    int
}

type listener[T model.Identity] struct {
	id int
	fn func(Snapshot[T])
}

// NewContext builds an unstarted context for role.  Loading reports true
// until Start has settled.
func NewContext[T model.Identity](role model.UserType, deps Deps) *Context[T] {
	lg := deps.Logger
	if lg == nil {
		lg = slog.Default()
	}
	n := deps.Notifier
	if n == nil {
		n = LogNotifier{Logger: lg}
	}
	return &Context[T]{
		role:     role,
		gw:       deps.Gateway,
		cache:    NewSessionCache(deps.Cache, role),
		cred:     deps.Credential,
		notifier: n,
		log:      lg.With("component", "auth", "role", string(role)),
		guard:    NewProcessingGuard(),
		busy:     1,
		baseCtx:  context.Background(),
	}
}

// Role returns the user type this context resolves.
func (c *Context[T]) Role() model.UserType { return c.role }

// Snapshot returns the current published state.
func (c *Context[T]) Snapshot() Snapshot[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot[T]{Identity: c.identity, Authenticated: c.held, Loading: c.busy > 0}
}

// Identity returns the resolved identity, if any.
func (c *Context[T]) Identity() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity, c.held
}

func (c *Context[T]) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held
}

func (c *Context[T]) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy > 0
}

// Subscribe registers fn to receive every state change.
func (c *Context[T]) Subscribe(fn func(Snapshot[T])) (unsubscribe func()) {
	c.lmu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners = append(c.listeners, listener[T]{id: id, fn: fn})
	c.lmu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.lmu.Lock()
			defer c.lmu.Unlock()
			for i, l := range c.listeners {
				if l.id == id {
					c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (c *Context[T]) emit() {
	snap := c.Snapshot()
	c.lmu.Lock()
	fns := make([]func(Snapshot[T]), len(c.listeners))
	for i, l := range c.listeners {
		fns[i] = l.fn
	}
	c.lmu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

// Start subscribes to gateway notifications and runs the mount-time
// resolution.  It returns once the resolution has settled; Loading turns
// false exactly once, whatever the outcome.  Calling Start again is a
// no-op.
func (c *Context[T]) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.baseCtx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Unlock()

	unsub := c.gw.Subscribe(c.onEvent)
	c.mu.Lock()
	c.unsub = unsub
	c.mu.Unlock()

	defer c.settleMount()
	c.resolve(ctx)
}

func (c *Context[T]) settleMount() {
	c.mu.Lock()
	if c.mounted {
		c.mu.Unlock()
		return
	}
	c.mounted = true
	c.busy--
	c.mu.Unlock()
	c.emit()
}

// Close unsubscribes from the gateway and waits for event handlers that
// are still running.
func (c *Context[T]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsub, cancel := c.unsub, c.cancel
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

func (c *Context[T]) onEvent(ev Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	ctx := c.baseCtx
	if ev.Kind == EventSignedOut {
		c.mu.Unlock()
		c.HandleEvent(ctx, ev)
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()
	go func() {
		defer c.wg.Done()
		c.HandleEvent(ctx, ev)
	}()
}

// resolve is the mount-time algorithm: validate the cache against the
// gateway session, otherwise reconcile whatever session the gateway
// reports.  It never returns errors; every failure resolves as signed
// out.
func (c *Context[T]) resolve(ctx context.Context) {
	var (
		sess  *model.Session
		known bool
	)
	if cached, ok := c.loadCached(ctx); ok {
		s, err := c.gw.GetSession(ctx)
		switch {
		case err != nil:
			c.log.Warn("session check failed, discarding cached identity", "error", err)
		case s == nil:
			c.log.Info("no active session, discarding cached identity", "user_id", cached.GetUserID())
			known = true
		case s.UserID != cached.GetUserID():
			c.log.Info("session belongs to another user, discarding cached identity",
				"cached_user_id", cached.GetUserID(), "session_user_id", s.UserID)
			sess, known = s, true
		default:
			c.restore(ctx, cached, s.AccessToken)
			return
		}
		c.clearCache(ctx)
	}
	if !known {
		s, err := c.gw.GetSession(ctx)
		if err != nil {
			c.log.Warn("session lookup failed", "error", err)
			c.failClosed(ctx)
			return
		}
		sess = s
	}
	if sess == nil || sess.UserID == "" {
		c.failClosed(ctx)
		return
	}
	_ = c.reconcile(ctx, *sess, passive)
}

func (c *Context[T]) loadCached(ctx context.Context) (T, bool) {
	var zero T
	cs, ok, err := c.cache.Load(ctx)
	if err != nil {
		c.log.Warn("read session cache", "error", err)
		return zero, false
	}
	if !ok {
		return zero, false
	}
	var id T
	if err := json.Unmarshal(cs.Identity, &id); err != nil || id.GetUserID() == "" {
		c.log.Info("discarding malformed cached identity")
		c.clearCache(ctx)
		return zero, false
	}
	return id, true
}

// restore commits a cached identity the gateway has just confirmed.  No
// profile is fetched.
func (c *Context[T]) restore(ctx context.Context, id T, token string) {
	uid := id.GetUserID()
	c.mu.Lock()
	if !c.guard.TryBegin(uid) {
		pending := c.guard.Pending(uid)
		c.mu.Unlock()
		if pending != nil {
			select {
			case <-pending:
			case <-ctx.Done():
			}
		}
		return
	}
	c.commitLocked(ctx, id, token)
	c.guard.Complete(uid, true)
	c.mu.Unlock()
	c.log.Debug("restored cached identity", "user_id", uid)
	c.emit()
}

// reconcile fetches the profile for sess and commits it under the
// processing guard.  A passive reconciliation that finds the user already
// in flight waits for it and returns; an explicit one then confirms the
// outcome and retries once if the other attempt failed.
func (c *Context[T]) reconcile(ctx context.Context, sess model.Session, mode reconcileMode) error {
	uid := sess.UserID
	for attempt := 0; attempt < 3; attempt++ {
		c.mu.Lock()
		if c.guard.TryBegin(uid) {
			epoch := c.epoch
			c.busy++
			c.mu.Unlock()
			c.emit()
			return c.run(ctx, sess, epoch, mode)
		}
		pending := c.guard.Pending(uid)
		if pending == nil {
			// uid is the last processed user, which is the held identity.
			current := c.held && c.identity.GetUserID() == uid
			if current && mode == explicit {
				c.setTokenLocked(ctx, sess.AccessToken)
			}
			c.mu.Unlock()
			if current || mode == passive {
				return nil
			}
			return NewError(KindUnknown, "session is already reconciled for another identity", nil)
		}
		c.mu.Unlock()
		select {
		case <-pending:
		case <-ctx.Done():
			if mode == passive {
				return nil
			}
			return NewError(KindNetwork, "waiting for session reconciliation", ctx.Err())
		}
		if mode == passive {
			return nil
		}
	}
	return NewError(KindUnknown, "session reconciliation did not settle", nil)
}

func (c *Context[T]) run(ctx context.Context, sess model.Session, epoch uint64, mode reconcileMode) error {
	uid := sess.UserID
	id, err := c.fetch(ctx, uid)

	c.mu.Lock()
	c.busy--
	if c.epoch != epoch {
		// Signed out meanwhile: the guard was reset, so uid is no longer ours to complete.
		c.mu.Unlock()
		c.log.Info("discarding reconciliation superseded by sign-out", "user_id", uid)
		c.emit()
		if mode == explicit {
			return NewError(KindUnknown, "signed out while signing in", nil)
		}
		return nil
	}
	if err != nil {
		c.guard.Complete(uid, false)
		if mode == explicit {
			c.mu.Unlock()
			c.emit()
			return err
		}
		if IsKind(err, KindNotFound) {
			c.log.Info("session has no matching profile", "user_id", uid)
		} else {
			c.log.Warn("profile fetch failed", "user_id", uid, "kind", KindOf(err).String(), "error", err)
		}
		c.clearLocked(ctx)
		c.mu.Unlock()
		c.emit()
		return nil
	}
	c.commitLocked(ctx, id, sess.AccessToken)
	c.guard.Complete(uid, true)
	c.mu.Unlock()
	c.log.Debug("identity committed", "user_id", uid)
	c.emit()
	return nil
}

func (c *Context[T]) fetch(ctx context.Context, uid string) (T, error) {
	var zero T
	p, err := c.gw.GetProfile(ctx, uid, c.role)
	if err != nil {
		return zero, err
	}
	if p == nil {
		return zero, errProfileNotFound
	}
	id, ok := p.(T)
	if !ok || id.GetUserID() == "" {
		return zero, errProfileNotFound
	}
	if id.GetUserID() != uid {
		return zero, NewError(KindUnknown, "gateway returned a profile for another user", nil)
	}
	return id, nil
}

// commitLocked replaces the identity wholesale and persists it.
func (c *Context[T]) commitLocked(ctx context.Context, id T, token string) {
	c.identity = id
	c.held = true
	c.token = token
	if err := c.cache.Save(ctx, id, token); err != nil {
		c.log.Warn("write session cache", "error", err)
	}
	c.cred.set(c.role, token)
}

func (c *Context[T]) setTokenLocked(ctx context.Context, token string) {
	if token == "" || token == c.token {
		return
	}
	c.token = token
	if err := c.cache.SaveToken(ctx, token); err != nil {
		c.log.Warn("write session cache", "error", err)
	}
	c.cred.refresh(c.role, token)
}

// clearLocked drops the identity, the cached keys and the credential
// this context owns.
func (c *Context[T]) clearLocked(ctx context.Context) {
	var zero T
	c.identity = zero
	c.held = false
	c.token = ""
	c.guard.Forget()
	c.clearCache(ctx)
	c.cred.clear(c.role)
}

// signOutLocked clears state and invalidates every in-flight
// reconciliation.
func (c *Context[T]) signOutLocked(ctx context.Context) {
	c.epoch++
	c.guard.Reset()
	c.clearLocked(ctx)
}

func (c *Context[T]) clearCache(ctx context.Context) {
	if err := c.cache.Clear(context.WithoutCancel(ctx)); err != nil {
		c.log.Warn("clear session cache", "error", err)
	}
}

func (c *Context[T]) failClosed(ctx context.Context) {
	c.mu.Lock()
	c.clearLocked(ctx)
	c.mu.Unlock()
	c.emit()
}

// HandleEvent applies one gateway notification.  Sign-out is applied
// immediately, whoever it names, and wins over any reconciliation in flight; sign-in runs a
// guarded reconciliation; a token refresh only reconciles when nothing is
// held yet.
func (c *Context[T]) HandleEvent(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventSignedOut:
		c.mu.Lock()
		c.signOutLocked(ctx)
		c.mu.Unlock()
		c.emit()
	case EventSignedIn:
		if ev.UserID() == "" {
			return
		}
		_ = c.reconcile(ctx, *ev.Session, passive)
	case EventTokenRefreshed:
		if ev.UserID() == "" {
			return
		}
		c.mu.Lock()
		if c.held {
			if c.identity.GetUserID() == ev.Session.UserID {
				c.setTokenLocked(ctx, ev.Session.AccessToken)
			}
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		_ = c.reconcile(ctx, *ev.Session, passive)
	default:
		c.log.Debug("ignoring unknown auth event", "kind", string(ev.Kind))
	}
}

// SignIn signs in with email and password.  Errors are returned to the
// caller and leave the current state untouched.
func (c *Context[T]) SignIn(ctx context.Context, creds model.Credentials) error {
	sess, err := c.gw.SignInWithPassword(ctx, creds)
	if err != nil {
		return err
	}
	return c.adopt(ctx, sess)
}

// SignInWithOAuth signs in with an ID token from a federated provider.
func (c *Context[T]) SignInWithOAuth(ctx context.Context, creds model.OAuthCredentials) error {
	if creds.UserType == "" {
		creds.UserType = c.role
	}
	sess, err := c.gw.SignInWithOAuthToken(ctx, creds)
	if err != nil {
		return err
	}
	return c.adopt(ctx, sess)
}

// SignUp registers a new account of this context's user type, signs it in
// and notifies the user.
func (c *Context[T]) SignUp(ctx context.Context, reg model.Registration) error {
	reg.UserType = c.role
	sess, err := c.gw.SignUp(ctx, reg)
	if err != nil {
		return err
	}
	if err := c.adopt(ctx, sess); err != nil {
		return err
	}
	c.notifier.Notify(ctx, Notification{
		Level:   LevelSuccess,
		Title:   "Welcome",
		Message: "Your account has been created.",
	})
	return nil
}

func (c *Context[T]) adopt(ctx context.Context, sess *model.Session) error {
	if sess == nil || sess.UserID == "" {
		return NewError(KindUnknown, "gateway returned no session", nil)
	}
	return c.reconcile(ctx, *sess, explicit)
}

// SignOut clears local state first, then asks the gateway to end the
// remote session.  A remote failure is only logged.
func (c *Context[T]) SignOut(ctx context.Context) {
	c.mu.Lock()
	c.signOutLocked(ctx)
	c.mu.Unlock()
	c.emit()
	if err := c.gw.SignOut(ctx); err != nil {
		c.log.Warn("remote sign-out failed", "error", err)
	}
}

// RefreshUser re-fetches the held profile and replaces it.  A profile
// that no longer exists signs the user out; other failures are logged.
func (c *Context[T]) RefreshUser(ctx context.Context) {
	c.mu.Lock()
	if !c.held {
		c.mu.Unlock()
		return
	}
	uid, epoch, token := c.identity.GetUserID(), c.epoch, c.token
	c.mu.Unlock()

	id, err := c.fetch(ctx, uid)
	if err != nil {
		if IsKind(err, KindNotFound) {
			c.mu.Lock()
			same := c.epoch == epoch && c.held && c.identity.GetUserID() == uid
			c.mu.Unlock()
			if same {
				c.log.Info("profile no longer exists, signing out", "user_id", uid)
				c.SignOut(ctx)
			}
			return
		}
		c.log.Warn("refresh profile failed", "user_id", uid, "error", err)
		return
	}
	c.mu.Lock()
	if c.epoch != epoch || !c.held || c.identity.GetUserID() != uid {
		c.mu.Unlock()
		return
	}
	c.commitLocked(ctx, id, token)
	c.mu.Unlock()
	c.emit()
}

// UpdateProfile saves upd at the gateway and replaces the identity with
// the full profile it returns.
func (c *Context[T]) UpdateProfile(ctx context.Context, upd model.ProfileUpdate) error {
	c.mu.Lock()
	if !c.held {
		c.mu.Unlock()
		return NewError(KindUnknown, "not signed in", nil)
	}
	uid, epoch, token := c.identity.GetUserID(), c.epoch, c.token
	c.mu.Unlock()

	p, err := c.gw.UpdateProfile(ctx, uid, c.role, upd)
	if err != nil {
		return err
	}
	id, ok := p.(T)
	if !ok || id.GetUserID() != uid {
		return NewError(KindUnknown, "unexpected profile in update response", nil)
	}
	c.mu.Lock()
	if c.epoch != epoch || !c.held || c.identity.GetUserID() != uid {
		c.mu.Unlock()
		return NewError(KindUnknown, "signed out during profile update", nil)
	}
	c.commitLocked(ctx, id, token)
	c.mu.Unlock()
	c.emit()
	return nil
}
