package middleware

// identity.go holds the accessors for the caller identity JWTAuth stores
// in the Echo context.

import (
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/marketplace-auth/internal/model"
)

// UserID returns the authenticated account id, or "" on anonymous requests.
func UserID(c echo.Context) string {
    s, _ := c.Get(ctxUserID).(string)
    return s
}

// UserType returns the user type claim of the caller.
func UserType(c echo.Context) model.UserType {
    s, _ := c.Get(ctxUserType).(string)
    return model.UserType(s)
}

// Email returns the email claim of the caller.
func Email(c echo.Context) string {
    s, _ := c.Get(ctxEmail).(string)
    return s
}

// currentUserID is UserID with an "anon" placeholder for rate-limit keys.
func currentUserID(c echo.Context) string {
    if id := UserID(c); id != "" {
        return id
    }
    return "anon"
}
