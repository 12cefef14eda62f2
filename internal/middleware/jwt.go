package middleware // reusable HTTP middleware for the record store

import (
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/brick-focus/internal/utils"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token
// and stores the account it is scoped to under "account_id".  Browsers
// cannot set headers on a WebSocket handshake, so when allowQuery is true a
// "token" query parameter is accepted as well.
func JWTAuth(secret string, allowQuery bool) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            raw := ""
            if auth := c.Request().Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
                raw = strings.TrimPrefix(auth, "Bearer ")
            } else if allowQuery {
                raw = c.QueryParam("token")
            }
            if raw == "" {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
            }

            accountID, err := utils.ParseAccessToken(secret, raw)
            if err != nil {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
            }
            c.Set(AccountKey, accountID)
            return next(c)
        }
    }
}
