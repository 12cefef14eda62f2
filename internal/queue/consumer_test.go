package queue

import (
    "encoding/json"
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "go.uber.org/zap"
)

func TestFormatLine(t *testing.T) {
    at := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

    line, err := FormatLine(Envelope{
        Type: TypeSessionClosed, AccountID: "acct", OccurredAt: at,
        Session: &SessionClosedEvent{SessionID: "s1", Source: "nfc", DurationSeconds: 125, Completed: true},
    })
    require.NoError(t, err)
    assert.Equal(t, "[2026-04-02T09:30:00Z] Session closed | account=acct | session=s1 | source=nfc | duration=125s | completed=true\n", line)

    line, err = FormatLine(Envelope{
        Type: TypeBlockedAttempt, AccountID: "acct", OccurredAt: at,
        Attempt: &BlockedAttemptEvent{Domain: "x.com", Source: "extension"},
    })
    require.NoError(t, err)
    assert.Contains(t, line, "domain=x.com | session=- | source=extension")

    _, err = FormatLine(Envelope{Type: TypeSessionClosed})
    assert.Error(t, err)
    _, err = FormatLine(Envelope{Type: "nope"})
    assert.Error(t, err)
}

func TestHandleAppendsToLog(t *testing.T) {
    dir := t.TempDir()
    c := &Consumer{Dir: dir, Log: zap.NewNop().Sugar()}

    body, err := json.Marshal(Envelope{
        Type: TypeFocusChanged, AccountID: "acct", OccurredAt: time.Now(),
        Focus: &FocusChangedEvent{Locked: true, Source: "mobile"},
    })
    require.NoError(t, err)
    require.NoError(t, c.handle(body))
    require.NoError(t, c.handle(body))

    b, err := os.ReadFile(filepath.Join(dir, "focus.log"))
    require.NoError(t, err)
    assert.Equal(t, 2, countLines(string(b)))

    assert.Error(t, c.handle([]byte("{")))
}

func countLines(s string) int {
    n := 0
    for _, r := range s {
        if r == '\n' {
            n++
        }
    }
    return n
}
