package handler

import (
    "net/http"

    "github.com/labstack/echo/v4"
)

// Error codes of the structured error body {"error": msg, "code": code}.
const (
    CodeInvalidRequest     = "invalid_request"
    CodeInvalidCredentials = "invalid_credentials"
    CodeEmailExists        = "email_exists"
    CodeNotFound           = "not_found"
    CodeForbidden          = "forbidden"
    CodeUnauthorized       = "unauthorized"
    CodeNotConfigured      = "not_configured"
    CodeInternal           = "internal"
)

// fail writes the structured error body.
func fail(c echo.Context, status int, code, msg string) error {
    return c.JSON(status, echo.Map{"error": msg, "code": code})
}

func internal(c echo.Context, msg string) error {
    return fail(c, http.StatusInternalServerError, CodeInternal, msg)
}
