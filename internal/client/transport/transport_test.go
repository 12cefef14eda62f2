package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iliyamo/brick-focus/internal/config"
	"github.com/iliyamo/brick-focus/internal/model"
	"github.com/iliyamo/brick-focus/internal/realtime"
)

func TestBackoffSequence(t *testing.T) {
	want := []time.Duration{1, 2, 4, 8, 16, 32, 60, 60}
	for i, w := range want {
		assert.Equal(t, w*time.Second, Backoff(i+1), "attempt %d", i+1)
	}
	assert.Equal(t, time.Second, Backoff(0))
	assert.Equal(t, 60*time.Second, Backoff(40))
}

func TestErrorClassification(t *testing.T) {
	current := model.Unlocked("acct", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/focus":
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "stale_write", "record": current})
		case "/v1/sites":
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"domain already blocked"}`))
		case "/v1/sessions":
			w.WriteHeader(http.StatusBadGateway)
		case "/v1/attempts":
			w.WriteHeader(http.StatusTooManyRequests)
		case "/v1/link-codes":
			time.Sleep(200 * time.Millisecond)
		}
	}))
	defer srv.Close()
	api := NewAPI(srv.URL, 50*time.Millisecond, nil, "acct", "tok")
	ctx := context.Background()

	_, err := api.PatchFocus(ctx, model.FocusPatch{Locked: true})
	require.ErrorIs(t, err, ErrStaleWrite)
	var stale *StaleWriteError
	require.True(t, errors.As(err, &stale))
	assert.Equal(t, "acct", stale.Current.AccountID)

	_, err = api.AddSite(ctx, "x.com", "")
	assert.ErrorIs(t, err, ErrMutationRejected)
	assert.True(t, IsConflict(err))
	assert.NotErrorIs(t, err, ErrStaleWrite)

	_, err = api.OpenSession(ctx, model.SourceAPI)
	assert.ErrorIs(t, err, ErrTransportUnavailable)

	_, err = api.LogAttempt(ctx, "x.com", nil, model.SourceAPI)
	assert.ErrorIs(t, err, ErrTransportUnavailable, "rate limited")

	_, err = api.IssueLinkCode(ctx)
	assert.ErrorIs(t, err, ErrTransportUnavailable, "a timed out request is a failure")
}

func TestBearerTokenSent(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	api := NewAPI(srv.URL, time.Second, nil, "a1", "t1")
	_, err := api.ListSites(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer t1", got.Load())

	api.SetScope("a2", "t2")
	_, err = api.ListSites(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer t2", got.Load())
	assert.Equal(t, "a2", api.AccountID())
}

func TestPollDeliversEveryRead(t *testing.T) {
	var locked atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := model.Unlocked("acct", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
		rec.Locked = locked.Load()
		_ = json.NewEncoder(w).Encode(rec)
	}))
	defer srv.Close()

	tr := New(Options{API: NewAPI(srv.URL, time.Second, nil, "acct", "tok")})
	var got []model.Change
	tr.OnChange(model.TableFocus, "", func(c model.Change) { got = append(got, c) })

	ctx := context.Background()
	tr.PollOnce(ctx)
	tr.PollOnce(ctx)
	require.Len(t, got, 2, "an unchanged read is still delivered")

	locked.Store(true)
	tr.PollOnce(ctx)
	require.Len(t, got, 3)
	var f model.FocusRecord
	require.NoError(t, json.Unmarshal(got[2].Record, &f))
	assert.True(t, f.Locked)
	assert.Equal(t, model.EventUpdate, got[2].Event)
}

func TestPollAndMutateStayInScope(t *testing.T) {
	var hits atomic.Int32
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/v1/focus" && r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(model.Unlocked("acct", start))
		case r.URL.Path == "/v1/focus" && r.Method == http.MethodPatch:
			rec := model.FocusRecord{AccountID: "acct", Locked: true, LockStartedAt: &start, LastUpdated: start}
			_ = json.NewEncoder(w).Encode(model.FocusResult{Record: rec, Transitioned: true})
		case r.URL.Path == "/v1/sites" && r.Method == http.MethodPost:
			var body struct{ Domain, Icon string }
			_ = json.NewDecoder(r.Body).Decode(&body)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(model.BlockedSite{ID: "s1", AccountID: "acct", Domain: body.Domain, Icon: body.Icon})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tr := New(Options{API: NewAPI(srv.URL, time.Second, nil, "acct", "tok")})
	ctx := context.Background()

	_, err := tr.Poll(ctx, model.TableFocus, model.AccountFilter("other"))
	assert.ErrorIs(t, err, ErrMutationRejected)
	_, err = tr.Mutate(ctx, model.TableFocus, model.AccountFilter("other"), model.FocusPatch{Locked: true})
	assert.ErrorIs(t, err, ErrMutationRejected)
	assert.Zero(t, hits.Load(), "foreign filters never reach the store")

	raw, err := tr.Poll(ctx, model.TableFocus, model.AccountFilter("acct"))
	require.NoError(t, err)
	var f model.FocusRecord
	require.NoError(t, json.Unmarshal(raw, &f))
	assert.False(t, f.Locked)

	raw, err = tr.Mutate(ctx, model.TableFocus, "", model.FocusPatch{Locked: true})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &f))
	assert.True(t, f.Locked, "a focus write answers with the record")

	raw, err = tr.Mutate(ctx, model.TableSites, "", model.BlockedSite{Domain: "x.com", Icon: "x"})
	require.NoError(t, err)
	var site model.BlockedSite
	require.NoError(t, json.Unmarshal(raw, &site))
	assert.Equal(t, "x.com", site.Domain)

	_, err = tr.Mutate(ctx, model.TableSites, "", model.FocusPatch{Locked: true})
	assert.Error(t, err)
	_, err = tr.Mutate(ctx, model.TableFocus, "", "locked")
	assert.Error(t, err)
}

type pushServer struct {
	hub      *realtime.Hub
	srv      *httptest.Server
	upgrades atomic.Int32
	dropNext atomic.Bool
	auth     atomic.Value
}

func newPushServer(t *testing.T, extraTables ...string) *pushServer {
	ps := &pushServer{hub: realtime.NewHub(config.RealtimeConfig{
		Heartbeat: time.Minute, WriteTimeout: time.Second, SendBuffer: 16,
	}, zap.NewNop().Sugar())}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/realtime", func(w http.ResponseWriter, r *http.Request) {
		ws, err := realtime.Upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ps.upgrades.Add(1)
		ps.auth.Store(r.Header.Get("Authorization"))
		if ps.dropNext.CompareAndSwap(true, false) {
			_ = ws.Close()
			return
		}
		ps.hub.Serve(ws, "acct", extraTables...)
	})
	mux.HandleFunc("/v1/focus", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(model.Unlocked("acct", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	})
	ps.srv = httptest.NewServer(mux)
	t.Cleanup(func() {
		ps.hub.Close()
		ps.srv.Close()
	})
	return ps
}

type collector struct {
	mu  sync.Mutex
	got []model.Change
}

func (c *collector) add(ch model.Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, ch)
}

func (c *collector) lockedSeen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.got {
		var f model.FocusRecord
		if json.Unmarshal(ch.Record, &f) == nil && f.Locked {
			return true
		}
	}
	return false
}

func (c *collector) tables() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[string]int{}
	for _, ch := range c.got {
		out[ch.Table]++
	}
	return out
}

func lockedChange(t *testing.T) model.Change {
	now := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	rec := model.FocusRecord{AccountID: "acct", Locked: true, LockStartedAt: &now, LastUpdated: now}
	ch, err := model.NewChange(model.EventUpdate, model.TableFocus, "acct", rec)
	require.NoError(t, err)
	return ch
}

func TestPushSubscribeAndIgnoreUnwatched(t *testing.T) {
	ps := newPushServer(t, model.TableSites)
	tr := New(Options{
		API:   NewAPI(ps.srv.URL, time.Second, nil, "acct", "tok"),
		Clock: clock.NewMock(),
	})
	var c collector
	tr.OnChange(model.TableFocus, "", c.add)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tr.Run(ctx) }()
	require.Eventually(t, tr.Connected, 2*time.Second, 10*time.Millisecond)

	sites, err := model.NewChange(model.EventInsert, model.TableSites, "acct", model.BlockedSite{Domain: "x.com"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return ps.hub.Dispatch(sites) == 1 }, 2*time.Second, 10*time.Millisecond)

	ch := lockedChange(t)
	require.Eventually(t, func() bool { return ps.hub.Dispatch(ch) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, c.lockedSeen, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, c.tables()[model.TableSites], "pushes for unwatched tables are ignored")
}

func TestReconnectResubscribes(t *testing.T) {
	ps := newPushServer(t)
	ps.dropNext.Store(true)
	mock := clock.NewMock()
	tr := New(Options{
		API:   NewAPI(ps.srv.URL, time.Second, nil, "acct", "tok"),
		Clock: mock,
	})
	var c collector
	tr.OnChange(model.TableFocus, "", c.add)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tr.Run(ctx) }()

	require.Eventually(t, func() bool { return ps.upgrades.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	// the first socket is dropped; advancing past the 1s backoff redials
	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		return tr.Connected()
	}, 3*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, ps.upgrades.Load(), int32(2))

	ch := lockedChange(t)
	require.Eventually(t, func() bool { return ps.hub.Dispatch(ch) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, c.lockedSeen, 2*time.Second, 10*time.Millisecond)
}

func TestConnectResubscribesUnderNewScope(t *testing.T) {
	ps := newPushServer(t)
	tr := New(Options{
		API:   NewAPI(ps.srv.URL, time.Second, nil, "acct", "tok"),
		Clock: clock.NewMock(),
	})
	tr.OnChange(model.TableFocus, "", func(model.Change) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tr.Run(ctx) }()
	require.Eventually(t, tr.Connected, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Bearer tok", ps.auth.Load())

	tr.Connect("acct2", "tok2")
	assert.Equal(t, "acct2", tr.API().AccountID())
	// the reconnect skips the backoff wait
	require.Eventually(t, func() bool {
		return ps.upgrades.Load() >= 2 && tr.Connected()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Bearer tok2", ps.auth.Load())
}

func TestBackoffResetsAfterSuccessfulConnect(t *testing.T) {
	var dials atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/realtime", func(w http.ResponseWriter, r *http.Request) {
		n := dials.Add(1)
		if n <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		ws, err := realtime.Upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
			if n == 4 {
				// the first good socket drops right after subscribing
				return
			}
		}
	})
	mux.HandleFunc("/v1/focus", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(model.Unlocked("acct", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	core, logs := observer.New(zap.InfoLevel)
	mock := clock.NewMock()
	tr := New(Options{
		API:   NewAPI(srv.URL, time.Second, nil, "acct", "tok"),
		Clock: mock,
		Log:   zap.New(core).Sugar(),
	})
	tr.OnChange(model.TableFocus, "", func(model.Change) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tr.Run(ctx) }()

	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		return dials.Load() >= 5 && tr.Connected()
	}, 5*time.Second, 20*time.Millisecond)

	var waits []time.Duration
	for _, e := range logs.FilterMessage("push channel down, polling only").All() {
		waits = append(waits, e.ContextMap()["retry_in"].(time.Duration))
	}
	require.GreaterOrEqual(t, len(waits), 4)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, time.Second}, waits[:4],
		"three failed dials back off, one established socket starts over")
}
