package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
    "net/http" // HTTP status codes for responses
    "strings"  // string utilities for prefix checking and trimming

    "github.com/labstack/echo/v4" // Echo framework used for defining middleware and handlers

    "github.com/iliyamo/marketplace-auth/internal/utils" // access token validation
)

// Context keys set by JWTAuth.
const (
    ctxUserID   = "user_id"
    ctxUserType = "user_type"
    ctxEmail    = "email"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// injects the token's subject, user type and email into the request context.
// The provided secret must match the one used when issuing tokens.  Handlers
// read the values back with UserID and UserType.
func JWTAuth(secret string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            raw, ok := BearerToken(c)
            if !ok {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token", "code": "unauthorized"})
            }
            claims, err := utils.ParseAccessToken(secret, raw)
            if err != nil {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token", "code": "unauthorized"})
            }
            c.Set(ctxUserID, claims.Subject)
            c.Set(ctxUserType, claims.UserType)
            c.Set(ctxEmail, claims.Email)
            return next(c)
        }
    }
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(c echo.Context) (string, bool) {
    auth := c.Request().Header.Get("Authorization")
    if !strings.HasPrefix(auth, "Bearer ") {
        return "", false
    }
    raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
    return raw, raw != ""
}
