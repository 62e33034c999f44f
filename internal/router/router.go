package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/iliyamo/marketplace-auth/internal/handler"    // handlers implementing each endpoint
	"github.com/iliyamo/marketplace-auth/internal/middleware" // JWT authentication, guards and metrics
	"github.com/iliyamo/marketplace-auth/internal/model"
)

// RegisterRoutes registers routes that do not require authentication: the
// health check and, when m is set, the Prometheus scrape endpoint.
func RegisterRoutes(e *echo.Echo, db handler.Pinger, m *middleware.Metrics) {
	e.GET("/healthz", handler.Health(db))
	if m != nil {
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}
}

// RegisterAuth registers the session endpoints under /v1/auth.  limiter
// guards the credential-accepting routes; pass nil to disable it.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1/auth")
	var limited []echo.MiddlewareFunc
	if limiter != nil {
		limited = append(limited, limiter)
	}
	g.POST("/signup", a.Signup, limited...)
	g.POST("/login", a.Login, limited...)
	g.POST("/oauth", a.OAuth, limited...)
	// Refresh rotates the refresh token.
	g.POST("/refresh", a.Refresh, limited...)
	// Logout accepts a refresh_token body, a bearer, or both, so it is not
	// behind JWTAuth.
	g.POST("/logout", a.Logout)
	g.GET("/session", a.Session, middleware.JWTAuth(jwtSecret))
}

// RegisterProfiles registers the role profile endpoints.  Profiles are
// readable by their owner only; updates additionally require the matching
// user type.  cache runs after the ownership check; pass nil to disable it.
func RegisterProfiles(e *echo.Echo, p *handler.ProfileHandler, jwtSecret string, cache echo.MiddlewareFunc) {
	g := e.Group("/v1/profiles", middleware.JWTAuth(jwtSecret), middleware.RequireSelf("user_id"))
	if cache != nil {
		g.Use(cache)
	}

	g.GET("/customers/:user_id", p.GetCustomer)
	g.PUT("/customers/:user_id", p.UpdateCustomer, middleware.RequireUserType(model.UserTypeCustomer))

	g.GET("/providers/:user_id", p.GetProvider)
	g.PUT("/providers/:user_id", p.UpdateProvider, middleware.RequireUserType(model.UserTypeProvider))
}
