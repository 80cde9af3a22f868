// Package messaging provides a NATS client wrapper for pub/sub messaging
// across FlickPick services. It handles connection lifecycle, room-scoped
// subject subscriptions, and convenience methods for the vote, match, and
// expiry channels.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns used across FlickPick services. All core subjects
// are scoped by room code so cross-room traffic never interleaves.
const (
	SubjectRoomVote    = "room.vote"    // + .<code>  (vote recorded, UI feedback)
	SubjectRoomMatch   = "room.match"   // + .<code>  (match declared, terminal)
	SubjectRoomExpired = "room.expired" // + .<code>  (idle eviction by the janitor)
	SubjectRoomJoined  = "room.joined"  // + .<code>  (second party arrived)
	SubjectRoomLeft    = "room.left"    // + .<code>  (party left or disconnected)
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "flickpick",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// subscribe registers a handler under an explicit key so the same subject
// can be held by several sessions on one server without overwriting.
func (c *NATSClient) subscribe(key, subject string, handler func(data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	if old, ok := c.subs[key]; ok {
		_ = old.Unsubscribe()
	}
	c.subs[key] = sub
	c.mu.Unlock()
	return nil
}

// PublishRoomVote publishes a vote-recorded event to the room's subscribers.
func (c *NATSClient) PublishRoomVote(code string, data []byte) error {
	return c.Publish(SubjectRoomVote+"."+code, data)
}

// SubscribeRoomVotes subscribes a session to the room's vote feed. The
// subscription is keyed by session id so both parties on the same server can
// hold one each.
func (c *NATSClient) SubscribeRoomVotes(code, sessionID string, handler func(data []byte)) error {
	return c.subscribe("votesub:"+sessionID, SubjectRoomVote+"."+code, handler)
}

// PublishRoomMatch publishes the declared match to the room's subscribers.
func (c *NATSClient) PublishRoomMatch(code string, data []byte) error {
	return c.Publish(SubjectRoomMatch+"."+code, data)
}

// SubscribeRoomMatch subscribes a session to the room's match declaration.
func (c *NATSClient) SubscribeRoomMatch(code, sessionID string, handler func(data []byte)) error {
	return c.subscribe("matchsub:"+sessionID, SubjectRoomMatch+"."+code, handler)
}

// PublishRoomJoined announces that a party joined the room.
func (c *NATSClient) PublishRoomJoined(code string, data []byte) error {
	return c.Publish(SubjectRoomJoined+"."+code, data)
}

// SubscribeRoomJoined subscribes a session to join announcements for a room.
func (c *NATSClient) SubscribeRoomJoined(code, sessionID string, handler func(data []byte)) error {
	return c.subscribe("joinsub:"+sessionID, SubjectRoomJoined+"."+code, handler)
}

// PublishRoomLeft announces that a party left the room or disconnected.
func (c *NATSClient) PublishRoomLeft(code string, data []byte) error {
	return c.Publish(SubjectRoomLeft+"."+code, data)
}

// SubscribeRoomLeft subscribes a session to departure announcements for a room.
func (c *NATSClient) SubscribeRoomLeft(code, sessionID string, handler func(data []byte)) error {
	return c.subscribe("leftsub:"+sessionID, SubjectRoomLeft+"."+code, handler)
}

// PublishRoomExpired announces idle eviction of a room.
func (c *NATSClient) PublishRoomExpired(code string, data []byte) error {
	return c.Publish(SubjectRoomExpired+"."+code, data)
}

// SubscribeRoomExpired subscribes a session to the room's eviction notice.
func (c *NATSClient) SubscribeRoomExpired(code, sessionID string, handler func(data []byte)) error {
	return c.subscribe("expiresub:"+sessionID, SubjectRoomExpired+"."+code, handler)
}

// UnsubscribeRoom drops all of a session's room subscriptions (vote, match,
// joined, left, expired). Called when the session leaves the room or
// disconnects.
func (c *NATSClient) UnsubscribeRoom(sessionID string) {
	for _, prefix := range []string{"votesub:", "matchsub:", "joinsub:", "leftsub:", "expiresub:"} {
		_ = c.unsubscribe(prefix + sessionID)
	}
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", key, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// unsubscribe removes and unsubscribes a keyed subscription.
func (c *NATSClient) unsubscribe(key string) error {
	c.mu.Lock()
	sub, ok := c.subs[key]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for key %s", key)
	}
	delete(c.subs, key)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", key, err)
	}
	return nil
}
