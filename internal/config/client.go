package config

import (
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "time"

    "github.com/iliyamo/brick-focus/internal/model"
)

// Poll interval bounds for the transport's safety-net re-read.
const (
    MinPollInterval = 10 * time.Second
    MaxPollInterval = 30 * time.Second
)

// ClientConfig configures a brickctl client.  AccountID and Token may be
// overridden by the scope persisted in StateFile after a link-code
// redemption.
type ClientConfig struct {
    APIURL         string
    Token          string
    AccountID      string
    Source         model.Source
    PollInterval   time.Duration
    RequestTimeout time.Duration
    Heartbeat      time.Duration
    StateFile      string
    NoticeAddr     string
    Env            string
}

// LoadClient reads BRICK_* variables.  Unlike the server it never exits:
// the CLI reports missing values per command.
func LoadClient() ClientConfig {
    home, _ := os.UserHomeDir()
    cfg := ClientConfig{
        APIURL:         envStr("BRICK_API_URL", "http://localhost:8080"),
        Token:          os.Getenv("BRICK_TOKEN"),
        AccountID:      os.Getenv("BRICK_ACCOUNT_ID"),
        Source:         model.Source(envStr("BRICK_SOURCE", string(model.SourceExtension))),
        PollInterval:   ClampPoll(envDur("BRICK_POLL_INTERVAL", MinPollInterval)),
        RequestTimeout: envDur("BRICK_REQUEST_TIMEOUT", 10*time.Second),
        Heartbeat:      envDur("BRICK_HEARTBEAT", 30*time.Second),
        StateFile:      envStr("BRICK_STATE_FILE", filepath.Join(home, ".brick", "scope.json")),
        NoticeAddr:     envStr("BRICK_NOTICE_ADDR", "127.0.0.1:8787"),
        Env:            envStr("APP_ENV", "dev"),
    }
    if !cfg.Source.Valid() {
        cfg.Source = model.SourceExtension
    }
    if cfg.RequestTimeout <= 0 { cfg.RequestTimeout = 10 * time.Second }
    if cfg.Heartbeat <= 0 { cfg.Heartbeat = 30 * time.Second }
    return cfg
}

// ClampPoll keeps a poll interval inside [MinPollInterval, MaxPollInterval].
func ClampPoll(d time.Duration) time.Duration {
    if d < MinPollInterval { return MinPollInterval }
    if d > MaxPollInterval { return MaxPollInterval }
    return d
}

// Scope is the account binding a client persists locally.  It is written
// after a successful link-code redemption and read back on startup.
type Scope struct {
    AccountID string `json:"accountId"`
    Token     string `json:"token"`
}

// LoadScope reads the persisted scope.  A missing file is not an error.
func LoadScope(path string) (Scope, bool, error) {
    b, err := os.ReadFile(path)
    if errors.Is(err, os.ErrNotExist) {
        return Scope{}, false, nil
    }
    if err != nil {
        return Scope{}, false, err
    }
    var s Scope
    if err := json.Unmarshal(b, &s); err != nil {
        return Scope{}, false, fmt.Errorf("decode scope %s: %w", path, err)
    }
    return s, s.AccountID != "", nil
}

// SaveScope writes s atomically with user-only permissions.
func SaveScope(path string, s Scope) error {
    if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
        return err
    }
    b, err := json.MarshalIndent(s, "", "  ")
    if err != nil {
        return err
    }
    tmp := path + ".tmp"
    if err := os.WriteFile(tmp, b, 0o600); err != nil {
        return err
    }
    return os.Rename(tmp, path)
}

// ApplyScope overlays a persisted scope on the environment configuration.
func (c ClientConfig) ApplyScope(s Scope) ClientConfig {
    if s.AccountID != "" { c.AccountID = s.AccountID }
    if s.Token != "" { c.Token = s.Token }
    return c
}
