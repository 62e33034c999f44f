package handler_test

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/marketplace-auth/internal/config"
	"github.com/iliyamo/marketplace-auth/internal/handler"
	"github.com/iliyamo/marketplace-auth/internal/model"
	"github.com/iliyamo/marketplace-auth/internal/queue"
	"github.com/iliyamo/marketplace-auth/internal/repository"
	"github.com/iliyamo/marketplace-auth/internal/router"
	"github.com/iliyamo/marketplace-auth/internal/utils"
)

const jwtSecret = "handler-secret"

// ----- fakes -----

type store struct {
	mu        sync.Mutex
	accounts  map[string]model.Account // by id
	tokens    map[string]string        // hash -> user id
	revoked   map[string]bool
	customers map[string]*model.Customer
	providers map[string]*model.Provider
	seq       int
}

func newStore() *store {
	return &store{
		accounts:  map[string]model.Account{},
		tokens:    map[string]string{},
		revoked:   map[string]bool{},
		customers: map[string]*model.Customer{},
		providers: map[string]*model.Provider{},
	}
}

func (s *store) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s%d", prefix, s.seq)
}

func (s *store) Register(_ context.Context, reg model.Registration, cost int) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Email == reg.Email {
			return model.Account{}, repository.ErrEmailExists
		}
	}
	hash, _ := utils.HashPassword(reg.Password, bcrypt.MinCost)
	acc := model.Account{ID: s.nextID("u"), Email: reg.Email, PasswordHash: hash, UserType: reg.UserType, IsActive: true}
	s.accounts[acc.ID] = acc
	if reg.UserType == model.UserTypeCustomer {
		s.customers[acc.ID] = &model.Customer{ID: s.nextID("c"), UserID: acc.ID, Email: acc.Email, FirstName: reg.FirstName}
	} else {
		s.providers[acc.ID] = &model.Provider{ID: s.nextID("p"), UserID: acc.ID, Email: acc.Email, Role: reg.Role}
	}
	return acc, nil
}

func (s *store) FindOrCreateFederated(_ context.Context, email string, ut model.UserType) (model.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Email == email {
			return a, false, nil
		}
	}
	if ut == "" {
		ut = model.UserTypeCustomer
	}
	acc := model.Account{ID: s.nextID("u"), Email: email, UserType: ut, IsActive: true}
	s.accounts[acc.ID] = acc
	return acc, true, nil
}

func (s *store) GetByEmail(_ context.Context, email string) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Email == email {
			return a, nil
		}
	}
	return model.Account{}, repository.ErrNotFound
}

func (s *store) GetByID(_ context.Context, id string) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return model.Account{}, repository.ErrNotFound
	}
	return a, nil
}

func (s *store) StoreRefresh(_ context.Context, userID, hash string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[hash] = userID
	return nil
}

func (s *store) Rotate(_ context.Context, oldHash, newHash string, _ time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uid, ok := s.tokens[oldHash]
	if !ok || s.revoked[oldHash] {
		return "", repository.ErrNotFound
	}
	s.revoked[oldHash] = true
	s.tokens[newHash] = uid
	return uid, nil
}

func (s *store) RevokeByHash(_ context.Context, hash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uid, ok := s.tokens[hash]
	if !ok || s.revoked[hash] {
		return "", repository.ErrNotFound
	}
	s.revoked[hash] = true
	return uid, nil
}

func (s *store) RevokeAllForUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, uid := range s.tokens {
		if uid == userID {
			s.revoked[h] = true
		}
	}
	return nil
}

func (s *store) GetCustomer(_ context.Context, uid string) (*model.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.customers[uid]; ok {
		return c, nil
	}
	return nil, repository.ErrNotFound
}

func (s *store) GetProvider(_ context.Context, uid string) (*model.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.providers[uid]; ok {
		return p, nil
	}
	return nil, repository.ErrNotFound
}

func (s *store) UpdateCustomer(_ context.Context, uid string, upd model.ProfileUpdate) (*model.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[uid]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if upd.FirstName != nil {
		c.FirstName = *upd.FirstName
	}
	return c, nil
}

func (s *store) UpdateProvider(_ context.Context, uid string, upd model.ProfileUpdate) (*model.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.providers[uid]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if upd.Phone != nil {
		p.Phone = *upd.Phone
	}
	return p, nil
}

type publisher struct {
	mu     sync.Mutex
	events []queue.AuthEvent
}

func (p *publisher) Publish(_ context.Context, ev queue.AuthEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *publisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, ev := range p.events {
		out = append(out, ev.Kind)
	}
	return out
}

type pingErr struct{}

func (pingErr) PingContext(context.Context) error { return errors.New("down") }

// ----- harness -----

type server struct {
	e      *echo.Echo
	store  *store
	events *publisher
}

func newServer(t *testing.T, verifier handler.IDTokenVerifier) *server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := &server{e: echo.New(), store: newStore(), events: &publisher{}}
	cfg := config.Config{JWTSecret: jwtSecret, AccessTTLMin: 15, RefreshTTLDays: 7, BcryptCost: bcrypt.MinCost}
	auth := &handler.AuthHandler{
		Cfg: cfg, Accounts: s.store, Tokens: s.store, Events: s.events, OIDC: verifier, Log: log,
	}
	router.RegisterRoutes(s.e, nil, nil)
	router.RegisterAuth(s.e, auth, jwtSecret, nil)
	router.RegisterProfiles(s.e, &handler.ProfileHandler{Profiles: s.store, Log: log}, jwtSecret, nil)
	return s
}

func (s *server) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = strings.NewReader(string(b))
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

type tokens struct {
	User struct {
		ID       string `json:"id"`
		Email    string `json:"email"`
		UserType string `json:"user_type"`
	} `json:"user"`
	Access  struct{ Token string } `json:"access"`
	Refresh struct{ Token string } `json:"refresh"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body, err)
	}
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	return decode[map[string]string](t, rec)["code"]
}

func (s *server) signup(t *testing.T, email string, ut model.UserType) tokens {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/v1/auth/signup", "", model.Registration{
		Email: email, Password: "pw-123456", UserType: ut, FirstName: "Ann",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: %d %s", rec.Code, rec.Body)
	}
	return decode[tokens](t, rec)
}

// ----- tests -----

func TestSignupAndLogin(t *testing.T) {
	s := newServer(t, nil)
	tok := s.signup(t, " Ann@Example.com", model.UserTypeCustomer)
	if tok.User.Email != "ann@example.com" || tok.User.UserType != "customer" || tok.Access.Token == "" {
		t.Fatalf("signup response = %+v", tok)
	}

	rec := s.do(t, http.MethodPost, "/v1/auth/signup", "", model.Registration{
		Email: "ann@example.com", Password: "x", UserType: model.UserTypeCustomer,
	})
	if rec.Code != http.StatusConflict || errorCode(t, rec) != handler.CodeEmailExists {
		t.Fatalf("duplicate signup: %d %s", rec.Code, rec.Body)
	}

	rec = s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "ann@example.com", "password": "nope"})
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != handler.CodeInvalidCredentials {
		t.Fatalf("bad password: %d %s", rec.Code, rec.Body)
	}
	rec = s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "ANN@example.com", "password": "pw-123456"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rec.Code, rec.Body)
	}
	if diff := cmp.Diff([]string{"signed_in", "signed_in"}, s.events.kinds()); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestSignupValidation(t *testing.T) {
	s := newServer(t, nil)
	tests := []struct {
		name string
		reg  model.Registration
	}{
		{"missing password", model.Registration{Email: "a@b.c", UserType: model.UserTypeCustomer}},
		{"unknown user type", model.Registration{Email: "a@b.c", Password: "pw", UserType: "admin"}},
		{"unknown role", model.Registration{Email: "a@b.c", Password: "pw", UserType: model.UserTypeProvider, Role: "boss"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/v1/auth/signup", "", tt.reg)
			if rec.Code != http.StatusBadRequest || errorCode(t, rec) != handler.CodeInvalidRequest {
				t.Fatalf("got %d %s", rec.Code, rec.Body)
			}
		})
	}
}

func TestLoginInactiveAccount(t *testing.T) {
	s := newServer(t, nil)
	tok := s.signup(t, "off@example.com", model.UserTypeCustomer)
	acc := s.store.accounts[tok.User.ID]
	acc.IsActive = false
	s.store.accounts[tok.User.ID] = acc

	rec := s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "off@example.com", "password": "pw-123456"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("got %d %s", rec.Code, rec.Body)
	}
	if rec := s.do(t, http.MethodGet, "/v1/auth/session", tok.Access.Token, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("session of inactive account: %d", rec.Code)
	}
}

func TestRefreshRotates(t *testing.T) {
	s := newServer(t, nil)
	tok := s.signup(t, "r@example.com", model.UserTypeProvider)

	rec := s.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": tok.Refresh.Token})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: %d %s", rec.Code, rec.Body)
	}
	next := decode[tokens](t, rec)
	if next.Refresh.Token == tok.Refresh.Token || next.User.UserType != "provider" {
		t.Fatalf("refresh response = %+v", next)
	}
	rec = s.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": tok.Refresh.Token})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replayed refresh: %d", rec.Code)
	}
	if got := s.events.kinds(); got[len(got)-1] != queue.KindTokenRefreshed {
		t.Fatalf("events = %v", got)
	}
}

func TestLogout(t *testing.T) {
	s := newServer(t, nil)
	tok := s.signup(t, "l@example.com", model.UserTypeCustomer)

	if rec := s.do(t, http.MethodPost, "/v1/auth/logout", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("anonymous logout: %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/v1/auth/logout", tok.Access.Token, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("bearer logout: %d %s", rec.Code, rec.Body)
	}
	last := s.events.events[len(s.events.events)-1]
	if last.Kind != queue.KindSignedOut || last.UserID != tok.User.ID || !last.AllSessions {
		t.Fatalf("last event = %+v", last)
	}
	rec := s.do(t, http.MethodPost, "/v1/auth/logout", "", map[string]string{"refresh_token": tok.Refresh.Token})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("revoked refresh logout: %d", rec.Code)
	}
}

func TestSession(t *testing.T) {
	s := newServer(t, nil)
	tok := s.signup(t, "s@example.com", model.UserTypeCustomer)
	rec := s.do(t, http.MethodGet, "/v1/auth/session", tok.Access.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("session: %d %s", rec.Code, rec.Body)
	}
	got := decode[tokens](t, rec)
	if got.User.ID != tok.User.ID {
		t.Fatalf("session user = %+v", got.User)
	}
	if rec := s.do(t, http.MethodGet, "/v1/auth/session", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no bearer: %d", rec.Code)
	}
}

func TestProfiles(t *testing.T) {
	s := newServer(t, nil)
	cust := s.signup(t, "c@example.com", model.UserTypeCustomer)
	other := s.signup(t, "o@example.com", model.UserTypeCustomer)

	rec := s.do(t, http.MethodGet, "/v1/profiles/customers/"+cust.User.ID, cust.Access.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("own profile: %d %s", rec.Code, rec.Body)
	}
	if c := decode[model.Customer](t, rec); c.UserID != cust.User.ID || c.FirstName != "Ann" {
		t.Fatalf("profile = %+v", c)
	}

	rec = s.do(t, http.MethodGet, "/v1/profiles/providers/"+cust.User.ID, cust.Access.Token, nil)
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != handler.CodeNotFound {
		t.Fatalf("missing provider profile: %d %s", rec.Code, rec.Body)
	}

	rec = s.do(t, http.MethodGet, "/v1/profiles/customers/"+other.User.ID, cust.Access.Token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("someone else's profile: %d", rec.Code)
	}

	name := "Anna"
	rec = s.do(t, http.MethodPut, "/v1/profiles/customers/"+cust.User.ID, cust.Access.Token, model.ProfileUpdate{FirstName: &name})
	if rec.Code != http.StatusOK || decode[model.Customer](t, rec).FirstName != "Anna" {
		t.Fatalf("update: %d %s", rec.Code, rec.Body)
	}
	rec = s.do(t, http.MethodPut, "/v1/profiles/providers/"+cust.User.ID, cust.Access.Token, model.ProfileUpdate{FirstName: &name})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("customer updating provider profile: %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	e := echo.New()
	e.GET("/healthz", handler.Health(pingErr{}))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}

	s := newServer(t, nil)
	if rec := s.do(t, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("liveness: %d", rec.Code)
	}
}

func TestOAuthNotConfigured(t *testing.T) {
	s := newServer(t, nil)
	rec := s.do(t, http.MethodPost, "/v1/auth/oauth", "", map[string]string{"provider": "google", "id_token": "x"})
	if rec.Code != http.StatusNotImplemented || errorCode(t, rec) != handler.CodeNotConfigured {
		t.Fatalf("got %d %s", rec.Code, rec.Body)
	}
}

func TestOAuthWithOIDCVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	const issuer, clientID = "https://id.example.com", "marketplace"
	verifier := handler.NewOIDCVerifier(oidc.NewVerifier(issuer,
		&oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}},
		&oidc.Config{ClientID: clientID}))
	s := newServer(t, verifier)

	sign := func(claims jwt.MapClaims) string {
		raw, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
		if err != nil {
			t.Fatal(err)
		}
		return raw
	}
	base := func() jwt.MapClaims {
		return jwt.MapClaims{
			"iss": issuer, "aud": clientID, "sub": "fed-1",
			"iat": time.Now().Unix(), "exp": time.Now().Add(time.Hour).Unix(),
			"email": "fed@example.com", "email_verified": true,
		}
	}

	rec := s.do(t, http.MethodPost, "/v1/auth/oauth", "", map[string]string{"provider": "google", "id_token": sign(base())})
	if rec.Code != http.StatusCreated {
		t.Fatalf("first federated sign-in: %d %s", rec.Code, rec.Body)
	}
	tok := decode[tokens](t, rec)
	if tok.User.Email != "fed@example.com" || tok.User.UserType != "customer" {
		t.Fatalf("user = %+v", tok.User)
	}
	// the account exists but has no profile yet
	rec = s.do(t, http.MethodGet, "/v1/profiles/customers/"+tok.User.ID, tok.Access.Token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("profile of federated account: %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/v1/auth/oauth", "", map[string]string{"id_token": sign(base())})
	if rec.Code != http.StatusOK {
		t.Fatalf("second federated sign-in: %d", rec.Code)
	}

	unverified := base()
	unverified["email_verified"] = false
	wrongAud := base()
	wrongAud["aud"] = "someone-else"
	for name, claims := range map[string]jwt.MapClaims{"unverified": unverified, "wrong audience": wrongAud} {
		rec := s.do(t, http.MethodPost, "/v1/auth/oauth", "", map[string]string{"id_token": sign(claims)})
		if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != handler.CodeInvalidCredentials {
			t.Errorf("%s: %d %s", name, rec.Code, rec.Body)
		}
	}
}
