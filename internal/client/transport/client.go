// Package transport is the client's only path to the record store: typed
// request/response calls over HTTP, a WebSocket push subscription per
// watched table, and a poll timer that re-reads watched tables as a safety
// net.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iliyamo/brick-focus/internal/model"
)

// API performs the store's REST calls.  Every call is bounded by the
// request timeout; a call that times out is reported as unavailable.
type API struct {
	base    string
	timeout time.Duration
	hc      *http.Client

	scope *scope
}

// NewAPI returns an API for baseURL.  hc may be nil.
func NewAPI(baseURL string, timeout time.Duration, hc *http.Client, accountID, token string) *API {
	if hc == nil {
		hc = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &API{
		base:    strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		hc:      hc,
		scope:   newScope(accountID, token),
	}
}

// BaseURL returns the store address without a trailing slash.
func (a *API) BaseURL() string { return a.base }

// AccountID returns the account the API is currently scoped to.
func (a *API) AccountID() string {
	id, _ := a.scope.get()
	return id
}

// SetScope rebinds the API to another account, typically after a link
// code was redeemed.
func (a *API) SetScope(accountID, token string) { a.scope.set(accountID, token) }

type errorBody struct {
	Error  string             `json:"error"`
	Record *model.FocusRecord `json:"record"`
}

func (a *API) do(ctx context.Context, op, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if _, tok := a.scope.get(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := a.hc.Do(req)
	if err != nil {
		return &UnavailableError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &UnavailableError{Op: op, Err: err}
	}

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return &UnavailableError{Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		if resp.StatusCode == http.StatusConflict && eb.Error == "stale_write" && eb.Record != nil {
			return &StaleWriteError{Current: *eb.Record}
		}
		msg := eb.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &RejectedError{Op: op, Status: resp.StatusCode, Message: msg}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}

// IsNotFound reports a 404 rejection.
func IsNotFound(err error) bool {
	var re *RejectedError
	return errors.As(err, &re) && re.Status == http.StatusNotFound
}

// IsConflict reports a 409 rejection other than a stale write.
func IsConflict(err error) bool {
	var re *RejectedError
	return errors.As(err, &re) && re.Status == http.StatusConflict
}

func (a *API) GetFocus(ctx context.Context) (model.FocusRecord, error) {
	var f model.FocusRecord
	err := a.do(ctx, "get focus", http.MethodGet, "/v1/focus", nil, &f)
	return f, err
}

// PatchFocus sends a (possibly conditional) focus mutation.  A lost race
// returns a *StaleWriteError holding the store's record.
func (a *API) PatchFocus(ctx context.Context, p model.FocusPatch) (model.FocusResult, error) {
	var res model.FocusResult
	err := a.do(ctx, "patch focus", http.MethodPatch, "/v1/focus", p, &res)
	return res, err
}

func (a *API) ListSites(ctx context.Context) ([]model.BlockedSite, error) {
	var out []model.BlockedSite
	err := a.do(ctx, "list sites", http.MethodGet, "/v1/sites", nil, &out)
	return out, err
}

func (a *API) AddSite(ctx context.Context, domain, icon string) (model.BlockedSite, error) {
	var s model.BlockedSite
	err := a.do(ctx, "add site", http.MethodPost, "/v1/sites", map[string]string{"domain": domain, "icon": icon}, &s)
	return s, err
}

func (a *API) RemoveSite(ctx context.Context, domain string) error {
	return a.do(ctx, "remove site", http.MethodDelete, "/v1/sites/"+url.PathEscape(domain), nil, nil)
}

func (a *API) OpenSession(ctx context.Context, src model.Source) (model.Session, error) {
	var s model.Session
	err := a.do(ctx, "open session", http.MethodPost, "/v1/sessions", map[string]model.Source{"source": src}, &s)
	return s, err
}

func (a *API) CloseSession(ctx context.Context, id string, endedAt time.Time) (model.Session, error) {
	var s model.Session
	body := map[string]time.Time{"endedAt": endedAt.UTC()}
	err := a.do(ctx, "close session", http.MethodPatch, "/v1/sessions/"+url.PathEscape(id)+"/close", body, &s)
	return s, err
}

func (a *API) ListSessions(ctx context.Context, since time.Time, limit int) ([]model.Session, error) {
	q := url.Values{}
	q.Set("since", since.UTC().Format(time.RFC3339))
	q.Set("limit", fmt.Sprint(limit))
	var out []model.Session
	err := a.do(ctx, "list sessions", http.MethodGet, "/v1/sessions?"+q.Encode(), nil, &out)
	return out, err
}

func (a *API) LogAttempt(ctx context.Context, domain string, sessionID *string, src model.Source) (model.BlockedAttempt, error) {
	body := struct {
		Domain    string       `json:"domain"`
		SessionID *string      `json:"sessionId"`
		Source    model.Source `json:"source"`
	}{domain, sessionID, src}
	var out model.BlockedAttempt
	err := a.do(ctx, "log attempt", http.MethodPost, "/v1/attempts", body, &out)
	return out, err
}

func (a *API) ListAttempts(ctx context.Context, since time.Time) ([]model.BlockedAttempt, error) {
	var out []model.BlockedAttempt
	err := a.do(ctx, "list attempts", http.MethodGet, "/v1/attempts?since="+url.QueryEscape(since.UTC().Format(time.RFC3339)), nil, &out)
	return out, err
}

func (a *API) IssueLinkCode(ctx context.Context) (model.LinkCode, error) {
	var lc model.LinkCode
	err := a.do(ctx, "issue link code", http.MethodPost, "/v1/link-codes", nil, &lc)
	return lc, err
}

// VerifyLinkCode is unauthenticated on the store side; the current token,
// if any, is still sent and ignored.
func (a *API) VerifyLinkCode(ctx context.Context, code string) (model.LinkVerification, error) {
	var v model.LinkVerification
	err := a.do(ctx, "verify link code", http.MethodPost, "/link-codes/verify", map[string]string{"code": code}, &v)
	return v, err
}

// Poll re-reads a watched table in its list or row form.
func (a *API) Poll(ctx context.Context, table string) (json.RawMessage, error) {
	var path string
	switch table {
	case model.TableFocus:
		path = "/v1/focus"
	case model.TableSites:
		path = "/v1/sites"
	case model.TableSessions:
		path = "/v1/sessions?limit=50"
	case model.TableAttempts:
		path = "/v1/attempts?since=" + url.QueryEscape(time.Now().AddDate(0, 0, -1).UTC().Format(time.RFC3339))
	default:
		return nil, fmt.Errorf("poll: unknown table %q", table)
	}
	var raw json.RawMessage
	err := a.do(ctx, "poll "+table, http.MethodGet, path, nil, &raw)
	return raw, err
}
