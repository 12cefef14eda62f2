package middleware

import "github.com/labstack/echo/v4"

// AccountKey is the context key JWTAuth stores the token's account under.
const AccountKey = "account_id"

// AccountID returns the authenticated account, or "" on public routes.
func AccountID(c echo.Context) string {
    if s, ok := c.Get(AccountKey).(string); ok {
        return s
    }
    return ""
}

// accountOrAnon is AccountID for key building, where an empty segment
// would collapse distinct buckets.
func accountOrAnon(c echo.Context) string {
    if s := AccountID(c); s != "" {
        return s
    }
    return "anon"
}
