package handler

import (
    "context"  // provides context with cancellation for DB calls
    "errors"   // sentinel comparisons against repository errors
    "log/slog" // structured logging
    "net/http" // HTTP status codes and primitives
    "strings"  // string manipulation utilities
    "time"     // timeouts for DB calls

    "github.com/labstack/echo/v4" // Echo framework for HTTP routing

    "github.com/iliyamo/marketplace-auth/internal/config"     // app configuration
    "github.com/iliyamo/marketplace-auth/internal/middleware" // caller identity and metrics
    "github.com/iliyamo/marketplace-auth/internal/model"      // accounts and registrations
    "github.com/iliyamo/marketplace-auth/internal/queue"      // auth events
    "github.com/iliyamo/marketplace-auth/internal/repository" // sentinel errors
    "github.com/iliyamo/marketplace-auth/internal/utils"      // hashing and token issuing
)

// AccountStore is implemented by *repository.AccountRepo.
type AccountStore interface {
    Register(ctx context.Context, reg model.Registration, cost int) (model.Account, error)
    FindOrCreateFederated(ctx context.Context, email string, userType model.UserType) (model.Account, bool, error)
    GetByEmail(ctx context.Context, email string) (model.Account, error)
    GetByID(ctx context.Context, id string) (model.Account, error)
}

// TokenStore is implemented by *repository.TokenRepo.
type TokenStore interface {
    StoreRefresh(ctx context.Context, userID, tokenHash string, exp time.Time) error
    Rotate(ctx context.Context, oldHash, newHash string, exp time.Time) (string, error)
    RevokeByHash(ctx context.Context, tokenHash string) (string, error)
    RevokeAllForUser(ctx context.Context, userID string) error
}

// EventPublisher is implemented by *service.Publisher.
type EventPublisher interface {
    Publish(ctx context.Context, ev queue.AuthEvent) error
}

// AuthHandler bundles dependencies for auth endpoints.  Events, OIDC and
// Metrics are optional.
type AuthHandler struct {
    Cfg      config.Config
    Accounts AccountStore
    Tokens   TokenStore
    Events   EventPublisher
    OIDC     IDTokenVerifier
    Metrics  *middleware.Metrics
    Log      *slog.Logger
}

// ----- DTOs -----

type loginReq struct {
    Email    string `json:"email"`
    Password string `json:"password"`
}
type refreshReq struct {
    RefreshToken string `json:"refresh_token"`
}

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

func dbCtx(c echo.Context) (context.Context, context.CancelFunc) {
    return context.WithTimeout(c.Request().Context(), 5*time.Second)
}

// Signup creates the account with its profile and returns tokens immediately.
func (h *AuthHandler) Signup(c echo.Context) error {
    var req model.Registration
    if err := c.Bind(&req); err != nil {
        return fail(c, http.StatusBadRequest, CodeInvalidRequest, "invalid body")
    }
    req.Email = repository.NormalizeEmail(req.Email)
    req.FirstName = strings.TrimSpace(req.FirstName)
    req.LastName = strings.TrimSpace(req.LastName)
    if req.Email == "" || req.Password == "" {
        return fail(c, http.StatusBadRequest, CodeInvalidRequest, "email/password required")
    }
    if !req.UserType.Valid() {
        return fail(c, http.StatusBadRequest, CodeInvalidRequest, "user_type must be customer or provider")
    }
    if req.Role != "" && !req.Role.Valid() {
        return fail(c, http.StatusBadRequest, CodeInvalidRequest, "unknown provider role")
    }

    ctx, cancel := dbCtx(c)
    defer cancel()

    acc, err := h.Accounts.Register(ctx, req, h.Cfg.BcryptCost)
    if err != nil {
        h.Metrics.Action("signup", "error")
        if errors.Is(err, repository.ErrEmailExists) {
            return fail(c, http.StatusConflict, CodeEmailExists, "email already exists")
        }
        h.Log.Error("signup failed", "err", err)
        return internal(c, "create account failed")
    }
    resp, err := h.issue(ctx, acc)
    if err != nil {
        h.Log.Error("issue tokens failed", "user_id", acc.ID, "err", err)
        return internal(c, "issue tokens failed")
    }
    h.Metrics.Action("signup", "ok")
    h.publish(ctx, queue.KindSignedIn, acc, false)
    return c.JSON(http.StatusCreated, resp)
}

// Login verifies a password and returns a new token pair.
func (h *AuthHandler) Login(c echo.Context) error {
    var req loginReq
    if err := c.Bind(&req); err != nil {
        return fail(c, http.StatusBadRequest, CodeInvalidRequest, "invalid body")
    }
    req.Email = repository.NormalizeEmail(req.Email)
    if req.Email == "" || req.Password == "" {
        return fail(c, http.StatusBadRequest, CodeInvalidRequest, "email/password required")
    }

    ctx, cancel := dbCtx(c)
    defer cancel()

    acc, err := h.Accounts.GetByEmail(ctx, req.Email)
    if err != nil && !errors.Is(err, repository.ErrNotFound) {
        h.Log.Error("login lookup failed", "err", err)
        return internal(c, "query failed")
    }
    if err != nil || !utils.VerifyPassword(acc.PasswordHash, req.Password) {
        h.Metrics.Action("login", "invalid_credentials")
        return fail(c, http.StatusUnauthorized, CodeInvalidCredentials, "invalid credentials")
    }
    if !acc.IsActive {
        h.Metrics.Action("login", "inactive")
        return fail(c, http.StatusForbidden, CodeForbidden, "account disabled")
    }
    resp, err := h.issue(ctx, acc)
    if err != nil {
        h.Log.Error("issue tokens failed", "user_id", acc.ID, "err", err)
        return internal(c, "issue tokens failed")
    }
    h.Metrics.Action("login", "ok")
    h.publish(ctx, queue.KindSignedIn, acc, false)
    return c.JSON(http.StatusOK, resp)
}

type oauthReq struct {
    Provider string         `json:"provider"`
    IDToken  string         `json:"id_token"`
    UserType model.UserType `json:"user_type"`
}

// OAuth signs in with an ID token of the configured identity provider.
// Unknown verified emails get a fresh account without a profile.
func (h *AuthHandler) OAuth(c echo.Context) error {
    if h.OIDC == nil {
        return fail(c, http.StatusNotImplemented, CodeNotConfigured, "federated sign-in is not configured")
    }
    var req oauthReq
    if err := c.Bind(&req); err != nil || strings.TrimSpace(req.IDToken) == "" {
        return fail(c, http.StatusBadRequest, CodeInvalidRequest, "id_token required")
    }
    if req.UserType != "" && !req.UserType.Valid() {
        return fail(c, http.StatusBadRequest, CodeInvalidRequest, "user_type must be customer or provider")
    }

    ctx, cancel := dbCtx(c)
    defer cancel()

    id, err := h.OIDC.Verify(ctx, strings.TrimSpace(req.IDToken))
    if err != nil || !id.EmailVerified {
        h.Metrics.Action("oauth", "invalid_credentials")
        h.Log.Info("id token rejected", "provider", req.Provider, "err", err)
        return fail(c, http.StatusUnauthorized, CodeInvalidCredentials, "invalid id token")
    }
    acc, created, err := h.Accounts.FindOrCreateFederated(ctx, id.Email, req.UserType)
    if err != nil {
        h.Log.Error("federated account failed", "err", err)
        return internal(c, "load account failed")
    }
    if !acc.IsActive {
        h.Metrics.Action("oauth", "inactive")
        return fail(c, http.StatusForbidden, CodeForbidden, "account disabled")
    }
    resp, err := h.issue(ctx, acc)
    if err != nil {
        h.Log.Error("issue tokens failed", "user_id", acc.ID, "err", err)
        return internal(c, "issue tokens failed")
    }
    h.Metrics.Action("oauth", "ok")
    h.publish(ctx, queue.KindSignedIn, acc, false)
    status := http.StatusOK
    if created {
        status = http.StatusCreated
    }
    return c.JSON(status, resp)
}

// Refresh exchanges a refresh token for a new pair.  The presented token
// is revoked, so replaying it fails.
func (h *AuthHandler) Refresh(c echo.Context) error {
    var req refreshReq
    if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
        return fail(c, http.StatusBadRequest, CodeInvalidRequest, "refresh_token required")
    }
    hash := utils.HashRefreshRaw(strings.TrimSpace(req.RefreshToken))

    ctx, cancel := dbCtx(c)
    defer cancel()

    newRef, err := utils.NewRefreshToken(h.refreshTTL())
    if err != nil {
        return internal(c, "issue refresh failed")
    }
    userID, err := h.Tokens.Rotate(ctx, hash, utils.HashRefreshRaw(newRef.Raw), newRef.Exp)
    if err != nil {
        if errors.Is(err, repository.ErrNotFound) {
            h.Metrics.Action("refresh", "invalid")
            return fail(c, http.StatusUnauthorized, CodeUnauthorized, "invalid refresh")
        }
        h.Log.Error("rotate refresh failed", "err", err)
        return internal(c, "rotate refresh failed")
    }
    acc, err := h.Accounts.GetByID(ctx, userID)
    if err != nil || !acc.IsActive {
        _ = h.Tokens.RevokeAllForUser(ctx, userID)
        return fail(c, http.StatusUnauthorized, CodeUnauthorized, "invalid refresh")
    }
    access, err := utils.NewAccessToken(h.Cfg.JWTSecret, acc.ID, string(acc.UserType), acc.Email, h.accessTTL())
    if err != nil {
        return internal(c, "issue access failed")
    }
    h.Metrics.Action("refresh", "ok")
    h.publish(ctx, queue.KindTokenRefreshed, acc, false)
    return c.JSON(http.StatusOK, authResp{
        User:    userPart{ID: acc.ID, Email: acc.Email, UserType: acc.UserType},
        Access:  tokenPart{Token: access.Token, Expires: access.Exp},
        Refresh: tokenPart{Token: newRef.Raw, Expires: newRef.Exp},
    })
}

// Logout revokes one session when a refresh_token is posted, or every
// session of the bearer otherwise.
func (h *AuthHandler) Logout(c echo.Context) error {
    var uid string
    if raw, ok := middleware.BearerToken(c); ok {
        if claims, err := utils.ParseAccessToken(h.Cfg.JWTSecret, raw); err == nil {
            uid = claims.Subject
        }
    }
    var req refreshReq
    _ = c.Bind(&req)
    refreshToken := strings.TrimSpace(req.RefreshToken)

    ctx, cancel := dbCtx(c)
    defer cancel()

    switch {
    case refreshToken != "":
        owner, err := h.Tokens.RevokeByHash(ctx, utils.HashRefreshRaw(refreshToken))
        if err != nil {
            if errors.Is(err, repository.ErrNotFound) {
                return fail(c, http.StatusUnauthorized, CodeUnauthorized, "invalid refresh token")
            }
            return internal(c, "logout failed")
        }
        h.Metrics.Action("logout", "ok")
        h.publish(ctx, queue.KindSignedOut, model.Account{ID: owner}, false)
        return c.NoContent(http.StatusNoContent)
    case uid != "":
        if err := h.Tokens.RevokeAllForUser(ctx, uid); err != nil {
            return internal(c, "logout failed")
        }
        h.Metrics.Action("logout", "ok")
        h.publish(ctx, queue.KindSignedOut, model.Account{ID: uid}, true)
        return c.NoContent(http.StatusNoContent)
    }
    return fail(c, http.StatusBadRequest, CodeInvalidRequest, "provide Authorization header or refresh_token")
}

// Session returns the account behind the bearer token while it is active.
func (h *AuthHandler) Session(c echo.Context) error {
    ctx, cancel := dbCtx(c)
    defer cancel()

    acc, err := h.Accounts.GetByID(ctx, middleware.UserID(c))
    if err != nil && !errors.Is(err, repository.ErrNotFound) {
        return internal(c, "load account failed")
    }
    if err != nil || !acc.IsActive {
        return fail(c, http.StatusUnauthorized, CodeUnauthorized, "session revoked")
    }
    return c.JSON(http.StatusOK, echo.Map{
        "user": userPart{ID: acc.ID, Email: acc.Email, UserType: acc.UserType},
    })
}

// issue mints an access/refresh pair for acc and stores the refresh hash.
func (h *AuthHandler) issue(ctx context.Context, acc model.Account) (authResp, error) {
    access, err := utils.NewAccessToken(h.Cfg.JWTSecret, acc.ID, string(acc.UserType), acc.Email, h.accessTTL())
    if err != nil {
        return authResp{}, err
    }
    refresh, err := utils.NewRefreshToken(h.refreshTTL())
    if err != nil {
        return authResp{}, err
    }
    if err := h.Tokens.StoreRefresh(ctx, acc.ID, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
        return authResp{}, err
    }
    return authResp{
        User:    userPart{ID: acc.ID, Email: acc.Email, UserType: acc.UserType},
        Access:  tokenPart{Token: access.Token, Expires: access.Exp},
        Refresh: tokenPart{Token: refresh.Raw, Expires: refresh.Exp},
    }, nil
}

// publish announces an auth event.  Failures are logged only; the request
// has already succeeded.
func (h *AuthHandler) publish(ctx context.Context, kind string, acc model.Account, all bool) {
    if h.Events == nil {
        return
    }
    ev := queue.AuthEvent{
        Kind:        kind,
        UserID:      acc.ID,
        UserType:    string(acc.UserType),
        Email:       acc.Email,
        AllSessions: all,
        OccurredAt:  time.Now().UTC(),
    }
    if err := h.Events.Publish(ctx, ev); err != nil {
        h.Log.Warn("publish auth event failed", "kind", kind, "user_id", acc.ID, "err", err)
    }
}

func (h *AuthHandler) accessTTL() time.Duration {
    return time.Duration(h.Cfg.AccessTTLMin) * time.Minute
}

func (h *AuthHandler) refreshTTL() time.Duration {
    return time.Duration(h.Cfg.RefreshTTLDays) * 24 * time.Hour
}
