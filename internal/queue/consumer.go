package queue

import (
    "context"
    "errors"
    "fmt"
    "log/slog"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one decoded event.  A returned error rejects the
// delivery without requeueing it.
type Handler func(ctx context.Context, ev AuthEvent) error

// Consumer binds an exclusive, auto-deleted queue to the auth exchange and
// feeds every delivery to Handle.  It reconnects with exponential backoff
// until its context is cancelled.
type Consumer struct {
    URL      string
    Exchange string // defaults to Exchange
    Handle   Handler
    Log      *slog.Logger
}

// Run blocks until ctx is done and returns ctx.Err().
func (c *Consumer) Run(ctx context.Context) error {
    log := c.Log
    if log == nil {
        log = slog.Default()
    }
    backoff := time.Second
    for {
        conn, err := amqp.Dial(c.URL)
        if err != nil {
            log.Warn("auth-events: dial failed", "err", err, "retry_in", backoff)
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second

        err = c.consume(ctx, conn, log)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        log.Warn("auth-events: consume loop ended; reconnecting", "err", err)
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection, log *slog.Logger) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    exchange := c.Exchange
    if exchange == "" {
        exchange = Exchange
    }
    if err := DeclareExchange(ch, exchange); err != nil {
        return err
    }
    q, err := ch.QueueDeclare("", false, true, true, false, nil)
    if err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    if err := ch.QueueBind(q.Name, "", exchange, false, nil); err != nil {
        return fmt.Errorf("queue bind: %w", err)
    }
    if err := ch.Qos(50, 0, false); err != nil {
        log.Warn("auth-events: set QoS failed", "err", err)
    }
    msgs, err := ch.Consume(q.Name, "", false, true, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }
    log.Info("auth-events: consuming", "exchange", exchange, "queue", q.Name)

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            if err := c.deliver(ctx, d.Body); err != nil {
                log.Warn("auth-events: handle message failed", "err", err)
                _ = d.Nack(false, false)
                continue
            }
            _ = d.Ack(false)
        }
    }
}

func (c *Consumer) deliver(ctx context.Context, body []byte) error {
    ev, err := Decode(body)
    if err != nil {
        return err
    }
    if c.Handle == nil {
        return nil
    }
    return c.Handle(ctx, ev)
}

// DeclareExchange declares the durable fanout exchange events travel on.
func DeclareExchange(ch *amqp.Channel, name string) error {
    if err := ch.ExchangeDeclare(name, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
        return fmt.Errorf("exchange declare: %w", err)
    }
    return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}
