package command

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/marketplace-auth/internal/apiclient"
	"github.com/iliyamo/marketplace-auth/internal/auth"
	"github.com/iliyamo/marketplace-auth/internal/cache"
	"github.com/iliyamo/marketplace-auth/internal/config"
	"github.com/iliyamo/marketplace-auth/internal/gateway"
	"github.com/iliyamo/marketplace-auth/internal/logger"
	"github.com/iliyamo/marketplace-auth/internal/model"
)

// App is the client stack one command runs against.
type App struct {
	Config  config.ClientConfig
	Log     *slog.Logger
	Store   auth.Cache
	Gateway *gateway.Client
	API     *apiclient.Client
	Facade  *auth.Facade

	rdb *redis.Client
}

// roleContext is the action surface shared by both role contexts.
type roleContext interface {
	SignIn(ctx context.Context, creds model.Credentials) error
	SignInWithOAuth(ctx context.Context, creds model.OAuthCredentials) error
	SignUp(ctx context.Context, reg model.Registration) error
	SignOut(ctx context.Context)
	RefreshUser(ctx context.Context)
	UpdateProfile(ctx context.Context, upd model.ProfileUpdate) error
	IsAuthenticated() bool
}

var (
	_ roleContext = (*auth.CustomerContext)(nil)
	_ roleContext = (*auth.ProviderContext)(nil)
)

// open builds the stack and runs the mount-time resolution of both
// contexts.  errOut receives logs and notifications.
func open(ctx context.Context, o *Options, errOut io.Writer) (*App, error) {
	cfg := config.LoadClient()
	if o.GatewayURL != "" {
		cfg.GatewayURL = o.GatewayURL
	}
	if o.APIURL != "" {
		cfg.APIURL = o.APIURL
	}
	if o.Cache != "" {
		cfg.Cache.Backend = o.Cache
	}

	logCfg := config.LoadLogConfig()
	if o.LogLevel != "" {
		logCfg.Level = o.LogLevel
	}
	var log *slog.Logger
	if logCfg.File != "" {
		log = logger.New(logCfg)
	} else {
		logCfg.Format = "text"
		log = logger.NewWithWriter(errOut, logCfg)
	}

	a := &App{Config: cfg, Log: log}
	store, err := a.openCache(cfg.Cache)
	if err != nil {
		return nil, err
	}
	a.Store = store

	hc := &http.Client{Timeout: cfg.HTTPTimeout}
	a.Gateway = gateway.New(cfg.GatewayURL, store, gateway.WithHTTPClient(hc), gateway.WithLogger(log))
	a.API = apiclient.New(cfg.APIURL, apiclient.WithHTTPClient(hc), apiclient.WithLogger(log))
	a.Facade = auth.Compose(auth.Deps{
		Gateway:    a.Gateway,
		Cache:      store,
		Credential: auth.NewSharedCredential(a.API),
		Notifier:   printNotifier(errOut),
		Logger:     log,
	})
	a.Facade.Start(ctx)
	return a, nil
}

// openCache selects the session cache backend.  An unreachable Redis
// falls back to the OS keyring.
func (a *App) openCache(cfg config.CacheConfig) (auth.Cache, error) {
	switch cfg.Backend {
	case "memory":
		return cache.NewMemory(), nil
	case "redis":
		rdb := config.NewRedisClient()
		if rdb == nil {
			a.Log.Warn("redis unavailable, using the keyring session cache")
			return cache.NewKeyring(cfg.KeyringService), nil
		}
		a.rdb = rdb
		return cache.NewRedis(rdb, cache.WithPrefix(cfg.Prefix), cache.WithTTL(cfg.TTL)), nil
	case "keyring", "":
		return cache.NewKeyring(cfg.KeyringService), nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}

// Close stops both contexts and releases the cache connection.
func (a *App) Close() {
	a.Facade.Close()
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}

// Role returns the context of ut.
func (a *App) Role(ut model.UserType) roleContext {
	if ut == model.UserTypeProvider {
		return a.Facade.Provider()
	}
	return a.Facade.Customer()
}

// Identity returns the identity the façade currently exposes.
func (a *App) Identity() (model.Identity, bool) {
	switch a.Facade.UserType() {
	case model.UserTypeCustomer:
		if id, ok := a.Facade.Customer().Identity(); ok {
			return id, true
		}
	case model.UserTypeProvider:
		if id, ok := a.Facade.Provider().Identity(); ok {
			return id, true
		}
	}
	return nil, false
}

func printNotifier(w io.Writer) auth.Notifier {
	return auth.NotifierFunc(func(_ context.Context, n auth.Notification) {
		fmt.Fprintf(w, "[%s] %s: %s\n", n.Level, n.Title, n.Message)
	})
}

// explain turns an action error into a message for the terminal.
func explain(err error, ut model.UserType) error {
	switch auth.KindOf(err) {
	case auth.KindInvalidCredentials:
		return fmt.Errorf("invalid email or password")
	case auth.KindNotFound:
		return fmt.Errorf("this account has no %s profile", ut)
	case auth.KindNetwork:
		return fmt.Errorf("auth gateway unreachable: %w", err)
	}
	return err
}
