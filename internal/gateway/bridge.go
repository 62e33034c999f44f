package gateway

import (
	"context"
	"log/slog"

	"github.com/iliyamo/marketplace-auth/internal/auth"
	"github.com/iliyamo/marketplace-auth/internal/model"
	"github.com/iliyamo/marketplace-auth/internal/queue"
)

// Bridge forwards broker-delivered auth events into a Client so sessions
// changed elsewhere converge here: a sign-out of all sessions, or a
// sign-in, refresh or sign-out made by another process sharing the same
// session store.
type Bridge struct {
	client   *Client
	consumer *queue.Consumer
}

// NewBridge returns a bridge consuming the auth exchange at amqpURL.
func NewBridge(amqpURL string, client *Client, log *slog.Logger) *Bridge {
	b := &Bridge{client: client}
	b.consumer = &queue.Consumer{
		URL:    amqpURL,
		Handle: b.handle,
		Log:    log,
	}
	return b
}

// Run consumes until ctx is done.
func (b *Bridge) Run(ctx context.Context) error { return b.consumer.Run(ctx) }

func (b *Bridge) handle(ctx context.Context, ev queue.AuthEvent) error {
	b.client.Apply(ctx, ev)
	return nil
}

// Apply reconciles the client with a remote auth event.  Events about
// users other than the held one are ignored, except sign-ins, which may
// come from another process writing the shared store.
func (c *Client) Apply(ctx context.Context, ev queue.AuthEvent) {
	cur := c.Current(ctx)
	mine := cur != nil && cur.UserID == ev.UserID
	if !mine && ev.Kind != queue.KindSignedIn {
		return
	}
	if mine && ev.Kind == queue.KindSignedOut && ev.AllSessions {
		c.log.Info("all sessions revoked remotely", "user_id", ev.UserID)
		c.drop(ctx, ev.UserID)
		return
	}
	c.Resync(ctx)
}

// Resync re-reads the stored session and reports how it differs from the
// held one.  The store is read before taking the lock so Current callers
// never wait on it.
func (c *Client) Resync(ctx context.Context) {
	stored := c.readStore(ctx)

	c.mu.Lock()
	old := copySession(c.sess)
	c.sess, c.loaded = copySession(stored), true
	c.mu.Unlock()

	switch {
	case stored == nil && old == nil:
	case stored == nil:
		c.emit(auth.Event{Kind: auth.EventSignedOut, Session: &model.Session{UserID: old.UserID}})
	case old == nil || old.UserID != stored.UserID:
		c.emit(auth.Event{Kind: auth.EventSignedIn, Session: copySession(stored)})
	case old.AccessToken != stored.AccessToken:
		c.emit(auth.Event{Kind: auth.EventTokenRefreshed, Session: copySession(stored)})
	}
}
