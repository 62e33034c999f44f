package middleware // middleware provides shared request processing for handlers

import (
    "net/http" // http package defines standard HTTP status codes

    "github.com/labstack/echo/v4" // echo provides middleware chaining and context

    "github.com/iliyamo/marketplace-auth/internal/model"
)

// RequireUserType returns a middleware function that enforces that the
// authenticated account was issued one of the given user types.  It
// assumes JWTAuth has already run.  Other callers get 403 Forbidden.
func RequireUserType(types ...model.UserType) echo.MiddlewareFunc {
    allowed := make(map[model.UserType]bool, len(types))
    for _, t := range types {
        allowed[t] = true
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            if !allowed[UserType(c)] {
                return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden", "code": "forbidden"})
            }
            return next(c)
        }
    }
}

// RequireSelf rejects requests whose path parameter param names another
// account than the caller's.  Profiles are only readable and editable by
// their owner.
func RequireSelf(param string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            uid := UserID(c)
            if uid == "" || c.Param(param) != uid {
                return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden", "code": "forbidden"})
            }
            return next(c)
        }
    }
}
