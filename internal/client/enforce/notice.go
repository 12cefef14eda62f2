package enforce

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// AttemptSink receives a blocked navigation.  The agent forwards it onto
// its event loop, so the call must not block.
type AttemptSink interface {
	BlockedAttempt(domain string)
}

// Matcher answers whether a host is blocked right now.
type Matcher interface {
	Blocked(host string) (string, bool)
}

var noticePage = template.Must(template.New("blocked").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>Blocked</title></head>
<body style="font-family:sans-serif;text-align:center;margin-top:15vh">
<h1>🧱 {{.}} is blocked</h1>
<p>Focus mode is on. Unlock it from any of your devices to continue.</p>
</body></html>`))

// NewNoticeServer returns the local surface every redirect rule points to.
//
//	GET /blocked?domain=  the notice page
//	GET /check?host=      {"blocked", "domain"}; a blocked host is reported
//	                      to sink as an attempt
func NewNoticeServer(m Matcher, sink AttemptSink, log *zap.SugaredLogger) *echo.Echo {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.GET("/blocked", func(c echo.Context) error {
		domain := strings.TrimSpace(c.QueryParam("domain"))
		if domain == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "domain is required"})
		}
		var sb strings.Builder
		if err := noticePage.Execute(&sb, domain); err != nil {
			return err
		}
		return c.HTML(http.StatusOK, sb.String())
	})

	e.GET("/check", func(c echo.Context) error {
		host := strings.TrimSpace(c.QueryParam("host"))
		if host == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "host is required"})
		}
		domain, blocked := m.Blocked(host)
		if blocked && sink != nil {
			sink.BlockedAttempt(domain)
			log.Debugw("blocked navigation", "host", host, "domain", domain)
		}
		return c.JSON(http.StatusOK, map[string]any{"blocked": blocked, "domain": domain})
	})
	return e
}

// Serve runs srv on addr until ctx ends.
func Serve(ctx context.Context, srv *echo.Echo, addr string) error {
	errc := make(chan error, 1)
	go func() { errc <- srv.Start(addr) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
