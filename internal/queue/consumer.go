package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "strings"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"
)

// Consumer listens to the focus.events queue and appends one line per
// event to <dir>/focus.log.
type Consumer struct {
    URL string
    Dir string
    Log *zap.SugaredLogger
}

// Run dials the broker, declares the queue (durable) and consumes until ctx
// is cancelled.  Dial failures back off from one second, doubling up to
// thirty; a broken consume loop reconnects after two seconds.  Messages that
// cannot be handled are rejected without requeue so the loop never spins.
func (c *Consumer) Run(ctx context.Context) error {
    backoff := time.Second
    for {
        conn, err := amqp.Dial(c.URL)
        if err != nil {
            c.Log.Warnw("events consumer: dial failed", "err", err, "retry_in", backoff)
            if !sleepCtx(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second // reset after successful connect

        err = c.consumeLoop(ctx, conn)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        c.Log.Warnw("events consumer: consume loop ended, reconnecting", "err", err)
        if !sleepCtx(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        c.Log.Warnw("events consumer: set QoS failed", "err", err)
    }
    if _, err := ch.QueueDeclare(EventsQueue, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.Consume(EventsQueue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            if err := c.handle(d.Body); err != nil {
                c.Log.Warnw("events consumer: handle message failed", "err", err)
                _ = d.Nack(false, false)
                continue
            }
            _ = d.Ack(false)
        }
    }
}

func (c *Consumer) handle(body []byte) error {
    var ev Envelope
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    line, err := FormatLine(ev)
    if err != nil {
        return err
    }
    if err := os.MkdirAll(c.Dir, 0o755); err != nil {
        return fmt.Errorf("mkdir logs: %w", err)
    }
    f, err := os.OpenFile(filepath.Join(c.Dir, "focus.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return fmt.Errorf("open log file: %w", err)
    }
    defer f.Close()
    if _, err := f.WriteString(line); err != nil {
        return fmt.Errorf("write log: %w", err)
    }
    return nil
}

// FormatLine renders ev as a single human-friendly log line.
func FormatLine(ev Envelope) (string, error) {
    at := ev.OccurredAt.UTC().Format(time.RFC3339)
    switch ev.Type {
    case TypeSessionClosed:
        if ev.Session == nil {
            return "", errors.New("session.closed without payload")
        }
        s := ev.Session
        return fmt.Sprintf("[%s] Session closed | account=%s | session=%s | source=%s | duration=%ds | completed=%t\n",
            at, ev.AccountID, s.SessionID, s.Source, s.DurationSeconds, s.Completed), nil
    case TypeBlockedAttempt:
        if ev.Attempt == nil {
            return "", errors.New("blocked.attempt without payload")
        }
        a := ev.Attempt
        session := "-"
        if a.SessionID != nil {
            session = *a.SessionID
        }
        return fmt.Sprintf("[%s] Blocked attempt | account=%s | domain=%s | session=%s | source=%s\n",
            at, ev.AccountID, a.Domain, session, a.Source), nil
    case TypeFocusChanged:
        if ev.Focus == nil {
            return "", errors.New("focus.changed without payload")
        }
        state := "UNLOCKED"
        if ev.Focus.Locked {
            state = "LOCKED"
        }
        timer := ""
        if ev.Focus.TimerDurationSeconds != nil {
            timer = fmt.Sprintf(" | timer=%ds", *ev.Focus.TimerDurationSeconds)
        }
        return fmt.Sprintf("[%s] Focus %s | account=%s | source=%s%s\n",
            at, state, ev.AccountID, strings.TrimSpace(ev.Focus.Source), timer), nil
    }
    return "", fmt.Errorf("unknown event type %q", ev.Type)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}
