// Package service holds the gateway's outbound integrations.  Publisher
// announces auth events on the broker so other sessions of the same user
// can react to sign-outs and token rotations.
package service

import (
    "context"
    "encoding/json"
    "log/slog"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"

    "github.com/iliyamo/marketplace-auth/internal/queue"
)

// Publisher publishes AuthEvents to a fanout exchange over a lazily
// opened connection.  A failed publish drops the connection so the next
// call dials again.  Errors are logged and returned; callers treat them
// as non-fatal.
type Publisher struct {
    url      string
    exchange string
    log      *slog.Logger

    mu   sync.Mutex
    conn *amqp.Connection
    ch   *amqp.Channel
}

// NewPublisher returns a Publisher for the given broker.  Nothing is
// dialled until the first Publish.
func NewPublisher(url string, log *slog.Logger) *Publisher {
    return &Publisher{url: url, exchange: queue.Exchange, log: log}
}

// Publish sends ev as a persistent JSON message.  A zero OccurredAt is
// set to now.
func (p *Publisher) Publish(ctx context.Context, ev queue.AuthEvent) error {
    if ev.OccurredAt.IsZero() {
        ev.OccurredAt = time.Now().UTC()
    }
    body, err := json.Marshal(ev)
    if err != nil {
        return err
    }

    p.mu.Lock()
    defer p.mu.Unlock()
    ch, err := p.channelLocked()
    if err != nil {
        p.log.Warn("rabbitmq: connect failed", "err", err)
        return err
    }
    err = ch.PublishWithContext(ctx, p.exchange, "", false, false, amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        Timestamp:    ev.OccurredAt,
        Type:         ev.Kind,
        Body:         body,
    })
    if err != nil {
        p.log.Warn("rabbitmq: publish failed", "kind", ev.Kind, "err", err)
        p.resetLocked()
        return err
    }
    return nil
}

func (p *Publisher) channelLocked() (*amqp.Channel, error) {
    if p.ch != nil && !p.ch.IsClosed() {
        return p.ch, nil
    }
    p.resetLocked()
    conn, err := amqp.Dial(p.url)
    if err != nil {
        return nil, err
    }
    ch, err := conn.Channel()
    if err != nil {
        _ = conn.Close()
        return nil, err
    }
    if err := queue.DeclareExchange(ch, p.exchange); err != nil {
        _ = conn.Close()
        return nil, err
    }
    p.conn, p.ch = conn, ch
    return ch, nil
}

func (p *Publisher) resetLocked() {
    if p.ch != nil {
        _ = p.ch.Close()
    }
    if p.conn != nil {
        _ = p.conn.Close()
    }
    p.conn, p.ch = nil, nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    p.resetLocked()
    return nil
}
