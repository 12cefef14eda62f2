package handler

import (
    "errors"
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/brick-focus/internal/middleware"
    "github.com/iliyamo/brick-focus/internal/model"
    "github.com/iliyamo/brick-focus/internal/repository"
    "github.com/iliyamo/brick-focus/internal/utils"
)

// issueAttempts bounds redraws when a random code collides with another
// account's live code.
const issueAttempts = 5

// IssueLinkCode handles POST /v1/link-codes.  Any previous code of the
// account is invalidated.
func (h *API) IssueLinkCode(c echo.Context) error {
    acct := middleware.AccountID(c)
    ctx := c.Request().Context()
    for i := 0; i < issueAttempts; i++ {
        code, err := utils.NewLinkCode()
        if err != nil {
            return serverError(c, h.Log, "could not generate code", err)
        }
        lc, err := h.Codes.Issue(ctx, acct, code, h.now())
        if errors.Is(err, repository.ErrConflict) {
            continue
        }
        if err != nil {
            return serverError(c, h.Log, "could not store code", err)
        }
        return c.JSON(http.StatusCreated, lc)
    }
    return errJSON(c, http.StatusServiceUnavailable, "no free link code, retry")
}

// VerifyLinkCode handles POST /link-codes/verify.  It is unauthenticated:
// the code is the credential, and a valid one yields a token scoped to the
// issuing account.  Unknown and expired codes are reported separately.
func (h *API) VerifyLinkCode(c echo.Context) error {
    var body struct {
        Code string `json:"code"`
    }
    if err := c.Bind(&body); err != nil {
        return errJSON(c, http.StatusBadRequest, "invalid request body")
    }
    code := strings.TrimSpace(body.Code)
    if !utils.ValidLinkCode(code) {
        return c.JSON(http.StatusOK, model.LinkVerification{Error: model.LinkErrInvalid})
    }

    lc, err := h.Codes.Find(c.Request().Context(), code)
    if errors.Is(err, repository.ErrNotFound) {
        return c.JSON(http.StatusOK, model.LinkVerification{Error: model.LinkErrNotFound})
    }
    if err != nil {
        return serverError(c, h.Log, "could not verify code", err)
    }
    if lc.Expired(h.now()) {
        return c.JSON(http.StatusOK, model.LinkVerification{Error: model.LinkErrExpired})
    }

    tok, err := utils.NewAccessToken(h.JWTSecret, lc.AccountID, "linked", h.AccessTTL)
    if err != nil {
        return serverError(c, h.Log, "could not sign token", err)
    }
    return c.JSON(http.StatusOK, model.LinkVerification{Valid: true, AccountID: lc.AccountID, Token: tok.Token})
}
