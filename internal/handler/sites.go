package handler

import (
    "errors"
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/brick-focus/internal/middleware"
    "github.com/iliyamo/brick-focus/internal/model"
    "github.com/iliyamo/brick-focus/internal/repository"
    "github.com/iliyamo/brick-focus/internal/utils"
)

// ListSites handles GET /v1/sites.
func (h *API) ListSites(c echo.Context) error {
    sites, err := h.Sites.List(c.Request().Context(), middleware.AccountID(c))
    if err != nil {
        return serverError(c, h.Log, "could not list sites", err)
    }
    return c.JSON(http.StatusOK, sites)
}

// AddSite handles POST /v1/sites.
func (h *API) AddSite(c echo.Context) error {
    acct := middleware.AccountID(c)
    var body struct {
        Domain string `json:"domain"`
        Icon   string `json:"icon"`
    }
    if err := c.Bind(&body); err != nil {
        return errJSON(c, http.StatusBadRequest, "invalid request body")
    }
    domain, err := utils.NormalizeDomain(body.Domain)
    if err != nil {
        return errJSON(c, http.StatusBadRequest, err.Error())
    }

    ctx := c.Request().Context()
    site, err := h.Sites.Add(ctx, acct, domain, body.Icon)
    if errors.Is(err, repository.ErrConflict) {
        return errJSON(c, http.StatusConflict, "domain already blocked")
    }
    if err != nil {
        return serverError(c, h.Log, "could not add site", err)
    }
    h.announce(ctx, model.EventInsert, model.TableSites, acct, site)
    return c.JSON(http.StatusCreated, site)
}

// RemoveSite handles DELETE /v1/sites/:domain.
func (h *API) RemoveSite(c echo.Context) error {
    acct := middleware.AccountID(c)
    domain, err := utils.NormalizeDomain(c.Param("domain"))
    if err != nil {
        return errJSON(c, http.StatusBadRequest, err.Error())
    }

    ctx := c.Request().Context()
    site, err := h.Sites.Remove(ctx, acct, domain)
    if errors.Is(err, repository.ErrNotFound) {
        return errJSON(c, http.StatusNotFound, "site not found")
    }
    if err != nil {
        return serverError(c, h.Log, "could not remove site", err)
    }
    h.announce(ctx, model.EventDelete, model.TableSites, acct, site)
    return c.NoContent(http.StatusNoContent)
}
