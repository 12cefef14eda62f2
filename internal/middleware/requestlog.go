package middleware

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// RequestLog writes one structured line per request.  Probes are logged at
// debug so they do not drown the rest.
func RequestLog(lg *zap.SugaredLogger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			kv := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"ip", v.RemoteIP,
			}
			if acct, ok := c.Get(AccountKey).(string); ok && acct != "" {
				kv = append(kv, "account_id", acct)
			}
			switch {
			case v.Error != nil:
				lg.Warnw("request failed", append(kv, "err", v.Error)...)
			case v.URI == "/healthz" || v.URI == "/readyz":
				lg.Debugw("request", kv...)
			default:
				lg.Infow("request", kv...)
			}
			return nil
		},
	})
}
