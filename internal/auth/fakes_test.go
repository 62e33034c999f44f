package auth

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/marketplace-auth/internal/model"
)

// memCache is an in-memory Cache that counts writes per key.
type memCache struct {
	mu     sync.Mutex
	data   map[string]string
	sets   map[string]int
	getErr error
}

func newMemCache() *memCache {
	return &memCache{data: map[string]string{}, sets: map[string]int{}}
}

func (m *memCache) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return "", false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.sets[key]++
	return nil
}

func (m *memCache) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memCache) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func (m *memCache) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

func (m *memCache) setCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets[key]
}

// fakeGateway serves sessions and profiles from memory.  A gate installed
// for a user id holds GetProfile for that user until the gate is closed.
type fakeGateway struct {
	mu           sync.Mutex
	session      *model.Session
	sessionErr   error
	profiles     map[string]model.Identity
	profileErr   error
	profileCalls map[string]int
	gates        map[string]chan struct{}
	entered      chan string
	signInErr    error
	signOutErr   error
	signOutCalls int
	subs         map[int]func(Event)
	nextSub      int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		profiles:     map[string]model.Identity{},
		profileCalls: map[string]int{},
		gates:        map[string]chan struct{}{},
		entered:      make(chan string, 16),
		subs:         map[int]func(Event){},
	}
}

func (g *fakeGateway) addProfile(id model.Identity) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.profiles[id.GetUserID()] = id
}

func (g *fakeGateway) removeProfile(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.profiles, userID)
}

func (g *fakeGateway) setSession(s *model.Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.session = s
}

func (g *fakeGateway) gate(userID string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch := make(chan struct{})
	g.gates[userID] = ch
	return ch
}

func (g *fakeGateway) calls(userID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.profileCalls[userID]
}

func (g *fakeGateway) GetSession(context.Context) (*model.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sessionErr != nil {
		return nil, g.sessionErr
	}
	if g.session == nil {
		return nil, nil
	}
	s := *g.session
	return &s, nil
}

func (g *fakeGateway) GetProfile(ctx context.Context, userID string, userType model.UserType) (model.Identity, error) {
	g.mu.Lock()
	g.profileCalls[userID]++
	gate := g.gates[userID]
	g.mu.Unlock()
	select {
	case g.entered <- userID:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.profileErr != nil {
		return nil, g.profileErr
	}
	p, ok := g.profiles[userID]
	if !ok || p.Type() != userType {
		return nil, nil
	}
	return p, nil
}

func (g *fakeGateway) UpdateProfile(_ context.Context, userID string, userType model.UserType, upd model.ProfileUpdate) (model.Identity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.profiles[userID]
	if !ok || p.Type() != userType {
		return nil, NewError(KindNotFound, "profile not found", nil)
	}
	switch v := p.(type) {
	case *model.Customer:
		cp := *v
		if upd.FirstName != nil {
			cp.FirstName = *upd.FirstName
		}
		g.profiles[userID] = &cp
		return &cp, nil
	case *model.Provider:
		cp := *v
		if upd.FirstName != nil {
			cp.FirstName = *upd.FirstName
		}
		g.profiles[userID] = &cp
		return &cp, nil
	}
	return nil, NewError(KindUnknown, "unsupported profile", nil)
}

func (g *fakeGateway) signIn(email string) (*model.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.signInErr != nil {
		return nil, g.signInErr
	}
	for uid, p := range g.profiles {
		if p.GetEmail() == email {
			s := &model.Session{UserID: uid, AccessToken: "token-" + uid}
			g.session = s
			return s, nil
		}
	}
	return nil, NewError(KindInvalidCredentials, "invalid credentials", nil)
}

func (g *fakeGateway) SignInWithPassword(_ context.Context, creds model.Credentials) (*model.Session, error) {
	return g.signIn(creds.Email)
}

func (g *fakeGateway) SignInWithOAuthToken(_ context.Context, creds model.OAuthCredentials) (*model.Session, error) {
	return g.signIn(creds.IDToken)
}

func (g *fakeGateway) SignUp(_ context.Context, reg model.Registration) (*model.Session, error) {
	uid := "new-" + reg.Email
	var id model.Identity
	if reg.UserType == model.UserTypeProvider {
		id = &model.Provider{ID: "p-" + uid, UserID: uid, Email: reg.Email, Role: reg.Role}
	} else {
		id = &model.Customer{ID: "c-" + uid, UserID: uid, Email: reg.Email}
	}
	g.addProfile(id)
	return g.signIn(reg.Email)
}

func (g *fakeGateway) SignOut(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.signOutCalls++
	g.session = nil
	return g.signOutErr
}

func (g *fakeGateway) Subscribe(fn func(Event)) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextSub
	g.nextSub++
	g.subs[id] = fn
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.subs, id)
	}
}

func (g *fakeGateway) subscribers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

// emit delivers ev to every subscriber on the calling goroutine.
func (g *fakeGateway) emit(ev Event) {
	g.mu.Lock()
	fns := make([]func(Event), 0, len(g.subs))
	for _, fn := range g.subs {
		fns = append(fns, fn)
	}
	g.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// bearerSink records the outbound credential.
type bearerSink struct {
	mu     sync.Mutex
	bearer string
	clears int
}

func (b *bearerSink) SetBearer(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bearer = token
}

func (b *bearerSink) ClearBearer() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bearer = ""
	b.clears++
}

func (b *bearerSink) get() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bearer
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
}

type harness struct {
	gw       *fakeGateway
	cache    *memCache
	sink     *bearerSink
	notifier *recordingNotifier
	deps     Deps
}

func newHarness() *harness {
	h := &harness{
		gw:       newFakeGateway(),
		cache:    newMemCache(),
		sink:     &bearerSink{},
		notifier: &recordingNotifier{},
	}
	h.deps = Deps{
		Gateway:    h.gw,
		Cache:      h.cache,
		Credential: NewSharedCredential(h.sink),
		Notifier:   h.notifier,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return h
}

func customer(uid string) *model.Customer {
	return &model.Customer{ID: "cust-" + uid, UserID: uid, Email: uid + "@example.com", FirstName: "C" + uid}
}

func provider(uid string, role model.ProviderRole) *model.Provider {
	biz := "biz-1"
	return &model.Provider{
		ID: "prov-" + uid, UserID: uid, Email: uid + "@example.com",
		Role: role, BusinessID: &biz, VerificationStatus: "verified", IsActive: true,
	}
}

func session(uid string) *model.Session {
	return &model.Session{UserID: uid, AccessToken: "token-" + uid}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitEntered(t *testing.T, gw *fakeGateway, uid string) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case got := <-gw.entered:
			if got == uid {
				return
			}
		case <-timeout:
			t.Fatalf("profile fetch for %s never started", uid)
		}
	}
}
