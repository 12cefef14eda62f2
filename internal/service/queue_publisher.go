// Package queue_publisher publishes focus audit events to RabbitMQ.  Errors
// are logged and returned so callers can ignore failures without
// interrupting the request that produced the event.
package queue_publisher

import (
    "context"
    "encoding/json"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"

    q "github.com/iliyamo/brick-focus/internal/queue"
)

// Publisher keeps one broker connection and channel open and redials on the
// next publish after any failure.
type Publisher struct {
    url string
    log *zap.SugaredLogger

    mu   sync.Mutex
    conn *amqp.Connection
    ch   *amqp.Channel
}

// New returns a Publisher for url.  No connection is made until the first
// Publish.
func New(url string, log *zap.SugaredLogger) *Publisher {
    return &Publisher{url: url, log: log}
}

func (p *Publisher) channel() (*amqp.Channel, error) {
    if p.ch != nil && !p.ch.IsClosed() {
        return p.ch, nil
    }
    p.reset()
    conn, err := amqp.Dial(p.url)
    if err != nil {
        return nil, err
    }
    ch, err := conn.Channel()
    if err != nil {
        _ = conn.Close()
        return nil, err
    }
    // Ensure the queue exists (idempotent). Durable so events survive broker restarts.
    if _, err := ch.QueueDeclare(q.EventsQueue, true, false, false, false, nil); err != nil {
        _ = ch.Close()
        _ = conn.Close()
        return nil, err
    }
    p.conn, p.ch = conn, ch
    return ch, nil
}

func (p *Publisher) reset() {
    if p.ch != nil {
        _ = p.ch.Close()
    }
    if p.conn != nil {
        _ = p.conn.Close()
    }
    p.conn, p.ch = nil, nil
}

// Publish sends ev to the focus.events queue as a persistent message.
func (p *Publisher) Publish(ctx context.Context, ev q.Envelope) error {
    if ev.OccurredAt.IsZero() {
        ev.OccurredAt = time.Now().UTC()
    }
    body, err := json.Marshal(ev)
    if err != nil {
        p.log.Warnw("rabbitmq: marshal event failed", "type", ev.Type, "err", err)
        return err
    }

    p.mu.Lock()
    defer p.mu.Unlock()

    ch, err := p.channel()
    if err != nil {
        p.log.Warnw("rabbitmq: channel unavailable", "err", err)
        return err
    }
    err = ch.PublishWithContext(ctx,
        "",            // default exchange
        q.EventsQueue, // routing key = queue name
        false,         // mandatory
        false,         // immediate
        amqp.Publishing{
            ContentType:  "application/json",
            DeliveryMode: amqp.Persistent,
            Timestamp:    ev.OccurredAt,
            Type:         ev.Type,
            Body:         body,
        })
    if err != nil {
        p.log.Warnw("rabbitmq: publish failed", "type", ev.Type, "err", err)
        p.reset()
        return err
    }
    return nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    p.reset()
    return nil
}
