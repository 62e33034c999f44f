package handler

import (
    "context"
    "errors"
    "log/slog"
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/marketplace-auth/internal/model"
    "github.com/iliyamo/marketplace-auth/internal/repository"
)

// ProfileStore is implemented by *repository.ProfileRepo.
type ProfileStore interface {
    GetCustomer(ctx context.Context, userID string) (*model.Customer, error)
    GetProvider(ctx context.Context, userID string) (*model.Provider, error)
    UpdateCustomer(ctx context.Context, userID string, upd model.ProfileUpdate) (*model.Customer, error)
    UpdateProvider(ctx context.Context, userID string, upd model.ProfileUpdate) (*model.Provider, error)
}

// ProfileHandler serves the role profiles.  Routes are guarded so the
// :user_id parameter always equals the caller.
type ProfileHandler struct {
    Profiles ProfileStore
    Log      *slog.Logger
}

func (h *ProfileHandler) GetCustomer(c echo.Context) error {
    ctx, cancel := dbCtx(c)
    defer cancel()
    p, err := h.Profiles.GetCustomer(ctx, c.Param("user_id"))
    return h.respond(c, p, err)
}

// GetProvider returns the provider profile with its business and locations.
func (h *ProfileHandler) GetProvider(c echo.Context) error {
    ctx, cancel := dbCtx(c)
    defer cancel()
    p, err := h.Profiles.GetProvider(ctx, c.Param("user_id"))
    return h.respond(c, p, err)
}

func (h *ProfileHandler) UpdateCustomer(c echo.Context) error {
    var upd model.ProfileUpdate
    if err := c.Bind(&upd); err != nil {
        return fail(c, http.StatusBadRequest, CodeInvalidRequest, "invalid body")
    }
    ctx, cancel := dbCtx(c)
    defer cancel()
    p, err := h.Profiles.UpdateCustomer(ctx, c.Param("user_id"), upd)
    return h.respond(c, p, err)
}

func (h *ProfileHandler) UpdateProvider(c echo.Context) error {
    var upd model.ProfileUpdate
    if err := c.Bind(&upd); err != nil {
        return fail(c, http.StatusBadRequest, CodeInvalidRequest, "invalid body")
    }
    ctx, cancel := dbCtx(c)
    defer cancel()
    p, err := h.Profiles.UpdateProvider(ctx, c.Param("user_id"), upd)
    return h.respond(c, p, err)
}

func (h *ProfileHandler) respond(c echo.Context, profile any, err error) error {
    switch {
    case err == nil:
        return c.JSON(http.StatusOK, profile)
    case errors.Is(err, repository.ErrNotFound):
        return fail(c, http.StatusNotFound, CodeNotFound, "profile not found")
    }
    h.Log.Error("profile request failed", "path", c.Path(), "user_id", c.Param("user_id"), "err", err)
    return internal(c, "profile request failed")
}
